package config

import "strings"

// 默认值常量
const (
	defaultAppEnv          = "dev"
	defaultAppLogLevel     = "info"
	defaultAppHTTPAddr     = ":9991"
	defaultAppLogPath      = "/data/logs/cerro.log"
	defaultDataRoot        = "/data/candles"
	defaultResultsDB       = "/data/db/backtest_runs.db"
	defaultSource          = "binance"
	defaultBinanceREST     = "https://fapi.binance.com"
	defaultBinanceRateMin  = 480
	defaultBinanceBatch    = 1000
	defaultFMPBaseURL      = "https://financialmodelingprep.com"
	defaultCSVDir          = "/data/csv"
	defaultMaxConcurrent   = 2
	defaultInitialBalance  = 10000
	defaultFeeRate         = 0.0004
	defaultSlippageBps     = 2
	defaultPositionPct     = 0.2
	defaultProfilesPath    = "configs/strategies.yaml"
)

// applyDefaults 为所有子配置应用默认值。
func (c *Config) applyDefaults(keys keySet) {
	c.App.applyDefaults(keys)
	c.Data.applyDefaults(keys)
	c.Sources.applyDefaults(keys)
	c.Backtest.applyDefaults(keys)
	c.Strategies.applyDefaults(keys)
}

func (a *AppConfig) applyDefaults(keys keySet) {
	if a == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("app.env", &a.Env, defaultAppEnv),
		stringFieldDefault("app.log_level", &a.LogLevel, defaultAppLogLevel),
		stringFieldDefault("app.http_addr", &a.HTTPAddr, defaultAppHTTPAddr),
		stringFieldDefault("app.log_path", &a.LogPath, defaultAppLogPath),
	)
}

func (d *DataConfig) applyDefaults(keys keySet) {
	if d == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("data.root", &d.Root, defaultDataRoot),
		stringFieldDefault("data.results_db", &d.ResultsDB, defaultResultsDB),
	)
}

func (s *SourcesConfig) applyDefaults(keys keySet) {
	if s == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("sources.default", &s.Default, defaultSource),
		boolFieldDefault("sources.binance.enabled", &s.Binance.Enabled, true),
		stringFieldDefault("sources.binance.rest_base_url", &s.Binance.RESTBaseURL, defaultBinanceREST),
		fieldDefault{
			key:   "sources.binance.rate_limit_per_min",
			need:  func() bool { return s.Binance.RateLimitPerMin <= 0 },
			apply: func() { s.Binance.RateLimitPerMin = defaultBinanceRateMin },
		},
		fieldDefault{
			key:   "sources.binance.max_batch",
			need:  func() bool { return s.Binance.MaxBatch <= 0 },
			apply: func() { s.Binance.MaxBatch = defaultBinanceBatch },
		},
		stringFieldDefault("sources.fmp.base_url", &s.FMP.BaseURL, defaultFMPBaseURL),
		stringFieldDefault("sources.csv.dir", &s.CSV.Dir, defaultCSVDir),
	)
}

func (b *BacktestConfig) applyDefaults(keys keySet) {
	if b == nil {
		return
	}
	applyFieldDefaults(keys,
		fieldDefault{
			key:   "backtest.max_concurrent",
			need:  func() bool { return b.MaxConcurrent <= 0 },
			apply: func() { b.MaxConcurrent = defaultMaxConcurrent },
		},
		fieldDefault{
			key:   "backtest.initial_balance",
			need:  func() bool { return b.InitialBalance <= 0 },
			apply: func() { b.InitialBalance = defaultInitialBalance },
		},
		fieldDefault{
			key:   "backtest.fee_rate",
			need:  func() bool { return b.FeeRate == 0 },
			apply: func() { b.FeeRate = defaultFeeRate },
		},
		fieldDefault{
			key:   "backtest.slippage_bps",
			need:  func() bool { return b.SlippageBps == 0 },
			apply: func() { b.SlippageBps = defaultSlippageBps },
		},
		fieldDefault{
			key:   "backtest.position_pct",
			need:  func() bool { return b.PositionPct <= 0 },
			apply: func() { b.PositionPct = defaultPositionPct },
		},
	)
}

func (s *StrategiesConfig) applyDefaults(keys keySet) {
	if s == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("strategies.profiles_path", &s.ProfilesPath, defaultProfilesPath),
	)
}

// Helper functions

func applyFieldDefaults(keys keySet, defs ...fieldDefault) {
	for _, def := range defs {
		if def.apply == nil {
			continue
		}
		if def.key != "" && keys.isSet(def.key) {
			continue
		}
		if def.need != nil && !def.need() {
			continue
		}
		def.apply()
	}
}

func stringFieldDefault(key string, target *string, def string) fieldDefault {
	return fieldDefault{
		key: key,
		need: func() bool {
			return target != nil && strings.TrimSpace(*target) == ""
		},
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func boolFieldDefault(key string, target *bool, def bool) fieldDefault {
	return fieldDefault{
		key:  key,
		need: func() bool { return target != nil },
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}
