package app

import (
	"context"
	"fmt"

	"cerro/internal/backtest"
	"cerro/internal/config"
	cfgloader "cerro/internal/config/loader"
)

// BacktestService 管理回测数据、服务与 HTTP 暴露。
type BacktestService struct {
	store    *backtest.Store
	results  *backtest.RunStore
	svc      *backtest.Service
	sim      *backtest.Simulator
	server   *backtest.HTTPServer
	profiles *cfgloader.ProfileLoader
	defaults config.BacktestConfig
}

// Bind 将宿主 ctx 注入后台任务，用于取消传播。
func (b *BacktestService) Bind(ctx context.Context) {
	if b == nil {
		return
	}
	if b.svc != nil {
		b.svc.SetContext(ctx)
	}
	if b.sim != nil {
		b.sim.SetContext(ctx)
	}
}

// Serve 启动 HTTP 服务并阻塞。
func (b *BacktestService) Serve(ctx context.Context) error {
	if b == nil || b.server == nil {
		return fmt.Errorf("http server not initialized")
	}
	return b.server.Start(ctx)
}

// Close 释放回测相关资源。
func (b *BacktestService) Close() {
	if b == nil {
		return
	}
	if b.results != nil {
		_ = b.results.Close()
	}
	if b.store != nil {
		_ = b.store.Close()
	}
}

// Simulator 暴露模拟器（脚本与测试用）。
func (b *BacktestService) Simulator() *backtest.Simulator {
	if b == nil {
		return nil
	}
	return b.sim
}

// StartProfileRuns 对指定档案的每个标的各提交一次回测。
func (b *BacktestService) StartProfileRuns(name string, startTS, endTS int64) ([]backtest.Run, error) {
	if b == nil || b.sim == nil {
		return nil, fmt.Errorf("simulator not initialized")
	}
	if b.profiles == nil {
		return nil, fmt.Errorf("策略档案未加载")
	}
	def, ok := b.profiles.Profile(name)
	if !ok {
		return nil, fmt.Errorf("profile %q 不存在", name)
	}
	params, err := def.ParamsJSON()
	if err != nil {
		return nil, err
	}

	runs := make([]backtest.Run, 0, len(def.SymbolsUpper()))
	for _, symbol := range def.SymbolsUpper() {
		fee := pick(def.FeeRate, b.defaults.FeeRate)
		slip := pick(def.SlippageBps, b.defaults.SlippageBps)
		req := backtest.RunRequest{
			Symbol:         symbol,
			Timeframe:      def.Timeframe,
			StartTS:        startTS,
			EndTS:          endTS,
			Strategy:       def.Strategy,
			Params:         params,
			InitialBalance: pick(def.InitialBalance, b.defaults.InitialBalance),
			FeeRate:        &fee,
			SlippageBps:    &slip,
			PositionPct:    pick(def.PositionPct, b.defaults.PositionPct),
			CloseOnFinish:  def.CloseOnFinish || b.defaults.CloseOnFinish,
		}
		run, err := b.sim.StartRun(req)
		if err != nil {
			return runs, fmt.Errorf("profile %s 提交 %s 失败: %w", name, symbol, err)
		}
		runs = append(runs, run)
	}
	return runs, nil
}

func pick(v, fallback float64) float64 {
	if v > 0 {
		return v
	}
	return fallback
}
