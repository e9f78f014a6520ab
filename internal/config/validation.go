package config

import (
	"fmt"
	"strings"
)

// validate 对配置进行基础校验。
func validate(c *Config) error {
	if err := c.Data.validate(); err != nil {
		return err
	}
	if err := c.Sources.validate(); err != nil {
		return err
	}
	if err := c.Backtest.validate(); err != nil {
		return err
	}
	return nil
}

func (d *DataConfig) validate() error {
	if strings.TrimSpace(d.Root) == "" {
		return fmt.Errorf("data.root cannot be empty")
	}
	if strings.TrimSpace(d.ResultsDB) == "" {
		return fmt.Errorf("data.results_db cannot be empty")
	}
	return nil
}

func (s *SourcesConfig) validate() error {
	if !s.Binance.Enabled && !s.FMP.Enabled && !s.CSV.Enabled {
		return fmt.Errorf("sources requires at least one enabled source")
	}
	def := strings.ToLower(strings.TrimSpace(s.Default))
	switch def {
	case "binance":
		if !s.Binance.Enabled {
			return fmt.Errorf("sources.default=binance but sources.binance.enabled=false")
		}
	case "fmp":
		if !s.FMP.Enabled {
			return fmt.Errorf("sources.default=fmp but sources.fmp.enabled=false")
		}
		if strings.TrimSpace(s.FMP.APIKey) == "" {
			return fmt.Errorf("sources.fmp.api_key is required when fmp is the default source")
		}
	case "csv":
		if !s.CSV.Enabled {
			return fmt.Errorf("sources.default=csv but sources.csv.enabled=false")
		}
	default:
		return fmt.Errorf("sources.default must be binance/fmp/csv, got %q", s.Default)
	}
	return nil
}

func (b *BacktestConfig) validate() error {
	if b.FeeRate < 0 {
		return fmt.Errorf("backtest.fee_rate must be >= 0")
	}
	if b.SlippageBps < 0 {
		return fmt.Errorf("backtest.slippage_bps must be >= 0")
	}
	if b.PositionPct <= 0 || b.PositionPct > 1 {
		return fmt.Errorf("backtest.position_pct must be in (0,1]")
	}
	if b.InitialBalance <= 0 {
		return fmt.Errorf("backtest.initial_balance must be > 0")
	}
	return nil
}
