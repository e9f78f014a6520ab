package app

import (
	"context"
	"fmt"

	"cerro/internal/config"
	"cerro/internal/logger"

	"golang.org/x/sync/errgroup"
)

// App 负责应用级编排：加载配置→初始化依赖→启动数据与回测服务。
type App struct {
	cfg      *config.Config
	backtest *BacktestService
}

// NewApp 根据配置构建应用对象（不启动）。
func NewApp(cfg *config.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.App.LogLevel)
	return buildAppWithWire(context.Background(), cfg)
}

// Run 启动回测服务，阻塞直到 ctx 取消或出现错误。
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.cfg == nil {
		return fmt.Errorf("app not initialized")
	}
	if a.backtest == nil {
		return fmt.Errorf("backtest service not initialized")
	}
	group, ctx := errgroup.WithContext(ctx)

	a.backtest.Bind(ctx)
	group.Go(func() error {
		defer a.backtest.Close()
		if err := a.backtest.Serve(ctx); err != nil {
			return fmt.Errorf("backtest http server error: %w", err)
		}
		return nil
	})

	logger.Infof("cerro 启动完成，HTTP 监听 %s", a.cfg.App.HTTPAddr)
	return group.Wait()
}

// Backtest 暴露回测服务实例（测试与脚本用）。
func (a *App) Backtest() *BacktestService {
	if a == nil {
		return nil
	}
	return a.backtest
}
