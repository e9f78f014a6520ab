package app

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"cerro/internal/backtest"
	"cerro/internal/config"
	cfgloader "cerro/internal/config/loader"
	"cerro/internal/logger"
)

// AppBuilder 按配置装配回测栈；各构造函数可被测试替换。
type AppBuilder struct {
	cfg *config.Config

	candleStoreFn func(config.DataConfig) (*backtest.Store, error)
	runStoreFn    func(config.DataConfig) (*backtest.RunStore, error)
	sourcesFn     func(config.SourcesConfig) (map[string]backtest.CandleSource, error)
	registryFn    func() (*backtest.Registry, error)
	profilesFn    func(config.StrategiesConfig, *backtest.Registry) (*cfgloader.ProfileLoader, error)
}

type AppBuilderOption func(*AppBuilder)

func NewAppBuilder(cfg *config.Config, opts ...AppBuilderOption) *AppBuilder {
	b := &AppBuilder{
		cfg:           cfg,
		candleStoreFn: buildCandleStore,
		runStoreFn:    buildRunStore,
		sourcesFn:     buildSources,
		registryFn:    backtest.DefaultRegistry,
		profilesFn:    buildProfileLoader,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

// WithSources 覆盖数据源构造（测试用）。
func WithSources(fn func(config.SourcesConfig) (map[string]backtest.CandleSource, error)) AppBuilderOption {
	return func(b *AppBuilder) { b.sourcesFn = fn }
}

// Build 装配完整应用。
func (b *AppBuilder) Build(ctx context.Context) (*App, error) {
	if b == nil || b.cfg == nil {
		return nil, fmt.Errorf("nil builder config")
	}
	cfg := b.cfg

	store, err := b.candleStoreFn(cfg.Data)
	if err != nil {
		return nil, fmt.Errorf("候选数据仓库初始化失败: %w", err)
	}
	results, err := b.runStoreFn(cfg.Data)
	if err != nil {
		return nil, fmt.Errorf("结果仓库初始化失败: %w", err)
	}
	sources, err := b.sourcesFn(cfg.Sources)
	if err != nil {
		return nil, err
	}
	registry, err := b.registryFn()
	if err != nil {
		return nil, fmt.Errorf("策略注册失败: %w", err)
	}

	svc, err := backtest.NewService(backtest.ServiceConfig{
		Store:           store,
		Sources:         sources,
		DefaultSource:   cfg.Sources.Default,
		RateLimitPerMin: cfg.Sources.Binance.RateLimitPerMin,
		MaxBatch:        cfg.Sources.Binance.MaxBatch,
		MaxConcurrent:   cfg.Backtest.MaxConcurrent,
	})
	if err != nil {
		return nil, err
	}
	sim, err := backtest.NewSimulator(backtest.SimulatorConfig{
		Candles:       store,
		Results:       results,
		Fetcher:       svc,
		Registry:      registry,
		DefaultSource: cfg.Sources.Default,
		MaxConcurrent: cfg.Backtest.MaxConcurrent,
	})
	if err != nil {
		return nil, err
	}
	server, err := backtest.NewHTTPServer(backtest.HTTPConfig{
		Addr:      cfg.App.HTTPAddr,
		Svc:       svc,
		Simulator: sim,
		Charts:    backtest.NewChartRenderer(),
	})
	if err != nil {
		return nil, err
	}

	var profiles *cfgloader.ProfileLoader
	if cfg.Strategies.ProfilesPath != "" {
		profiles, err = b.profilesFn(cfg.Strategies, registry)
		if err != nil {
			return nil, err
		}
	}

	service := &BacktestService{
		store:    store,
		results:  results,
		svc:      svc,
		sim:      sim,
		server:   server,
		profiles: profiles,
		defaults: cfg.Backtest,
	}
	return &App{cfg: cfg, backtest: service}, nil
}

func buildCandleStore(cfg config.DataConfig) (*backtest.Store, error) {
	return backtest.NewStore(cfg.Root)
}

func buildRunStore(cfg config.DataConfig) (*backtest.RunStore, error) {
	return backtest.NewRunStore(cfg.ResultsDB)
}

func buildSources(cfg config.SourcesConfig) (map[string]backtest.CandleSource, error) {
	sources := make(map[string]backtest.CandleSource)
	if cfg.Binance.Enabled {
		sources["binance"] = backtest.NewBinanceSource(cfg.Binance.RESTBaseURL)
	}
	if cfg.FMP.Enabled {
		sources["fmp"] = backtest.NewFMPSource(cfg.FMP.BaseURL, cfg.FMP.APIKey)
	}
	if cfg.CSV.Enabled {
		sources["csv"] = backtest.NewCSVSource(cfg.CSV.Dir)
	}
	if len(sources) == 0 {
		return nil, fmt.Errorf("没有启用任何数据源")
	}
	names := make([]string, 0, len(sources))
	for name := range sources {
		names = append(names, name)
	}
	logger.Infof("数据源已启用: %s", strings.Join(names, ", "))
	return sources, nil
}

func buildProfileLoader(cfg config.StrategiesConfig, registry *backtest.Registry) (*cfgloader.ProfileLoader, error) {
	if _, err := os.Stat(cfg.ProfilesPath); err != nil {
		if os.IsNotExist(err) {
			logger.Warnf("策略档案 %s 不存在，跳过加载", cfg.ProfilesPath)
			return nil, nil
		}
		return nil, err
	}
	validate := func(strategy string, params map[string]any) error {
		raw, err := json.Marshal(params)
		if err != nil {
			return err
		}
		_, err = registry.ValidateParams(strategy, raw)
		return err
	}
	loader, err := cfgloader.NewProfileLoader(cfg.ProfilesPath, validate)
	if err != nil {
		return nil, err
	}
	if cfg.WatchReload {
		loader.Subscribe(func(snap cfgloader.ProfileSnapshot) {
			logger.Infof("策略档案更新至 v%d（%d 个 profile）", snap.Version, len(snap.Profiles))
		})
	}
	return loader, nil
}
