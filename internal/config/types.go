package config

import "strings"

// Config 是 Cerro 的主配置载体。
type Config struct {
	App        AppConfig        `toml:"app"`
	Data       DataConfig       `toml:"data"`
	Sources    SourcesConfig    `toml:"sources"`
	Backtest   BacktestConfig   `toml:"backtest"`
	Strategies StrategiesConfig `toml:"strategies"`
}

type AppConfig struct {
	Env      string `toml:"env"`
	LogLevel string `toml:"log_level"`
	HTTPAddr string `toml:"http_addr"`
	LogPath  string `toml:"log_path"`
}

// DataConfig 描述本地数据的落盘位置。
type DataConfig struct {
	Root      string `toml:"root"`       // K 线缓存目录，每 symbol@timeframe 一个 sqlite 文件
	ResultsDB string `toml:"results_db"` // 回测结果库
}

// SourcesConfig 描述可用数据源及其连接参数。
type SourcesConfig struct {
	Default string          `toml:"default"`
	Binance BinanceSource   `toml:"binance"`
	FMP     FMPSourceConfig `toml:"fmp"`
	CSV     CSVSourceConfig `toml:"csv"`
}

type BinanceSource struct {
	Enabled         bool   `toml:"enabled"`
	RESTBaseURL     string `toml:"rest_base_url"`
	RateLimitPerMin int    `toml:"rate_limit_per_min"`
	MaxBatch        int    `toml:"max_batch"`
}

type FMPSourceConfig struct {
	Enabled bool   `toml:"enabled"`
	BaseURL string `toml:"base_url"`
	APIKey  string `toml:"api_key"`
}

type CSVSourceConfig struct {
	Enabled bool   `toml:"enabled"`
	Dir     string `toml:"dir"`
}

// BacktestConfig 控制回测默认参数与并发度。
type BacktestConfig struct {
	MaxConcurrent  int     `toml:"max_concurrent"`
	InitialBalance float64 `toml:"initial_balance"`
	FeeRate        float64 `toml:"fee_rate"`
	SlippageBps    float64 `toml:"slippage_bps"`
	PositionPct    float64 `toml:"position_pct"`
	CloseOnFinish  bool    `toml:"close_on_finish"`
}

// StrategiesConfig 描述策略参数档案文件。
type StrategiesConfig struct {
	ProfilesPath string `toml:"profiles_path"`
	WatchReload  bool   `toml:"watch_reload"`
}

// keySet 用于追踪配置文件中显式设置的字段路径。
type keySet map[string]struct{}

func (k keySet) mark(path string) {
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return
	}
	k[path] = struct{}{}
}

func (k keySet) isSet(path string) bool {
	if len(k) == 0 {
		return false
	}
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return false
	}
	_, ok := k[path]
	return ok
}

type fieldDefault struct {
	key   string
	need  func() bool
	apply func()
}
