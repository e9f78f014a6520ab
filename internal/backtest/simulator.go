package backtest

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"cerro/internal/logger"
	"cerro/internal/market"
)

// SimulatorConfig 组装模拟器依赖。
type SimulatorConfig struct {
	Candles       *Store
	Results       *RunStore
	Fetcher       *Service
	Registry      *Registry
	DefaultSource string
	MaxConcurrent int
}

// Simulator 将回测任务异步化：提交即返回 run id，
// 后台完成补数、信号计算、回放与落库。
type Simulator struct {
	candles       *Store
	results       *RunStore
	fetcher       *Service
	registry      *Registry
	defaultSource string
	sem           chan struct{}
	baseCtx       context.Context
}

func NewSimulator(cfg SimulatorConfig) (*Simulator, error) {
	if cfg.Candles == nil || cfg.Results == nil || cfg.Registry == nil {
		return nil, fmt.Errorf("candles/results/registry 均不能为空")
	}
	maxConcurrent := cfg.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 2
	}
	return &Simulator{
		candles:       cfg.Candles,
		results:       cfg.Results,
		fetcher:       cfg.Fetcher,
		registry:      cfg.Registry,
		defaultSource: cfg.DefaultSource,
		sem:           make(chan struct{}, maxConcurrent),
		baseCtx:       context.Background(),
	}, nil
}

// SetContext 注入宿主 ctx，用于后台任务取消。
func (s *Simulator) SetContext(ctx context.Context) {
	if ctx != nil {
		s.baseCtx = ctx
	}
}

func (s *Simulator) ctx() context.Context {
	if s.baseCtx == nil {
		return context.Background()
	}
	return s.baseCtx
}

// StartRun 校验请求、落库 pending 任务并启动后台回放。
func (s *Simulator) StartRun(req RunRequest) (Run, error) {
	cfg, tf, _, err := s.normalize(req)
	if err != nil {
		return Run{}, err
	}

	now := time.Now()
	run := Run{
		ID:             uuid.NewString(),
		Symbol:         cfg.Symbol,
		Strategy:       cfg.Strategy,
		Status:         RunStatusPending,
		StartTS:        cfg.StartTS,
		EndTS:          cfg.EndTS,
		Timeframe:      cfg.Timeframe,
		InitialBalance: cfg.InitialBalance,
		Config:         cfg,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.results.InsertRun(run); err != nil {
		return Run{}, err
	}
	logger.Infof("[backtest] run %s 提交：%s %s %s [%d,%d]",
		run.ID, cfg.Symbol, cfg.Timeframe, cfg.Strategy, cfg.StartTS, cfg.EndTS)

	go s.runLoop(run.ID, cfg, tf)
	return run, nil
}

func (s *Simulator) normalize(req RunRequest) (RunConfig, Timeframe, Params, error) {
	if strings.TrimSpace(req.Symbol) == "" {
		return RunConfig{}, Timeframe{}, nil, fmt.Errorf("symbol 不能为空: %w", ErrInvalidParameter)
	}
	timeframe := req.Timeframe
	if timeframe == "" {
		timeframe = "1h"
	}
	tf, err := ParseTimeframe(timeframe)
	if err != nil {
		return RunConfig{}, Timeframe{}, nil, err
	}
	start, end := tf.AlignRange(req.StartTS, req.EndTS)
	if start == end {
		return RunConfig{}, Timeframe{}, nil, fmt.Errorf("start 与 end 需要构成区间: %w", ErrInvalidParameter)
	}

	strategy := req.Strategy
	if strategy == "" {
		strategy = "crossover"
	}
	params, err := s.registry.ValidateParams(strategy, req.Params)
	if err != nil {
		return RunConfig{}, Timeframe{}, nil, err
	}

	if req.InitialBalance < 0 {
		return RunConfig{}, Timeframe{}, nil, fmt.Errorf("初始资金不能为负，得到 %v: %w", req.InitialBalance, ErrInvalidParameter)
	}
	cfg := RunConfig{
		Symbol:         strings.ToUpper(strings.TrimSpace(req.Symbol)),
		Timeframe:      tf.Key,
		StartTS:        start,
		EndTS:          end,
		Strategy:       strategy,
		Params:         req.Params,
		InitialBalance: req.InitialBalance,
		FeeRate:        0.0004,
		SlippageBps:    2,
		PositionPct:    req.PositionPct,
		Leverage:       req.Leverage,
		AllowLeverage:  req.AllowLeverage,
		CloseOnFinish:  req.CloseOnFinish,
	}
	if cfg.InitialBalance == 0 {
		cfg.InitialBalance = 10000
	}
	// 费率与滑点通过指针区分「未填」与「显式 0」：显式 0 必须原样生效。
	if req.FeeRate != nil {
		if *req.FeeRate < 0 {
			return RunConfig{}, Timeframe{}, nil, fmt.Errorf("费率不能为负: %w", ErrInvalidParameter)
		}
		cfg.FeeRate = *req.FeeRate
	}
	if req.SlippageBps != nil {
		if *req.SlippageBps < 0 {
			return RunConfig{}, Timeframe{}, nil, fmt.Errorf("滑点不能为负: %w", ErrInvalidParameter)
		}
		cfg.SlippageBps = *req.SlippageBps
	}
	if cfg.PositionPct == 0 {
		cfg.PositionPct = 0.2
	}
	if cfg.PositionPct < 0 || cfg.PositionPct > 1 {
		return RunConfig{}, Timeframe{}, nil, fmt.Errorf("仓位比例需在 (0,1]: %w", ErrInvalidParameter)
	}
	if cfg.Leverage < 1 {
		cfg.Leverage = 1
	}
	return cfg, tf, params, nil
}

func (s *Simulator) runLoop(runID string, cfg RunConfig, tf Timeframe) {
	select {
	case s.sem <- struct{}{}:
	case <-s.ctx().Done():
		_ = s.results.UpdateRunStatus(runID, RunStatusFailed, "服务已关闭")
		return
	}
	defer func() { <-s.sem }()

	ctx := s.ctx()
	if err := s.results.UpdateRunStatus(runID, RunStatusRunning, ""); err != nil {
		logger.Warnf("[backtest] run %s 状态更新失败: %v", runID, err)
	}

	result, err := s.execute(ctx, cfg, tf)
	if err != nil {
		logger.Errorf("[backtest] run %s 失败: %v", runID, err)
		_ = s.results.UpdateRunStatus(runID, RunStatusFailed, err.Error())
		return
	}
	if err := s.results.SaveArtifacts(runID, result); err != nil {
		_ = s.results.UpdateRunStatus(runID, RunStatusFailed, "结果落库失败: "+err.Error())
		return
	}
	result.Stats.FinishedAt = time.Now()
	if err := s.results.UpdateRunSummary(runID, result.Stats, RunStatusDone, "回放完成"); err != nil {
		logger.Errorf("[backtest] run %s 汇总写入失败: %v", runID, err)
		return
	}
	logger.Infof("[backtest] run %s 完成：收益率=%.4f 最大回撤=%.4f 订单=%d",
		runID, result.Stats.ReturnPct, result.Stats.MaxDrawdownPct, result.Stats.Orders)
}

func (s *Simulator) execute(ctx context.Context, cfg RunConfig, tf Timeframe) (*ReplayResult, error) {
	candles, err := s.loadCandles(ctx, cfg, tf)
	if err != nil {
		return nil, err
	}
	strategy, ok := s.registry.Get(cfg.Strategy)
	if !ok {
		return nil, fmt.Errorf("未知策略 %q: %w", cfg.Strategy, ErrInvalidParameter)
	}
	params, err := s.registry.ValidateParams(cfg.Strategy, cfg.Params)
	if err != nil {
		return nil, err
	}
	signals, err := strategy.Signals(candles, params)
	if err != nil {
		return nil, err
	}
	return Replay(candles, signals, ReplayConfig{
		Symbol:         cfg.Symbol,
		Timeframe:      tf,
		InitialBalance: cfg.InitialBalance,
		FeeRate:        cfg.FeeRate,
		SlippageBps:    cfg.SlippageBps,
		PositionPct:    cfg.PositionPct,
		Leverage:       cfg.Leverage,
		AllowLeverage:  cfg.AllowLeverage,
		CloseOnFinish:  cfg.CloseOnFinish,
	})
}

// loadCandles 优先使用本地缓存；有缺口且配置了 Fetcher 时先补数再读。
func (s *Simulator) loadCandles(ctx context.Context, cfg RunConfig, tf Timeframe) ([]market.Candle, error) {
	report, err := s.candles.CheckIntegrity(ctx, cfg.Symbol, cfg.Timeframe, tf, cfg.StartTS, cfg.EndTS)
	if err != nil {
		return nil, err
	}
	if !report.Complete() && s.fetcher != nil {
		job, err := s.fetcher.SubmitFetch(FetchParams{
			Source:    s.defaultSource,
			Symbol:    cfg.Symbol,
			Timeframe: cfg.Timeframe,
			Start:     cfg.StartTS,
			End:       cfg.EndTS,
		})
		if err != nil {
			return nil, fmt.Errorf("补数提交失败: %w", err)
		}
		if err := s.waitJob(ctx, job.ID); err != nil {
			return nil, err
		}
	}
	candles, err := s.candles.RangeCandles(ctx, cfg.Symbol, cfg.Timeframe, cfg.StartTS, cfg.EndTS)
	if err != nil {
		return nil, err
	}
	if len(candles) == 0 {
		return nil, fmt.Errorf("%s %s 区间内无 K 线: %w", cfg.Symbol, cfg.Timeframe, ErrDataUnavailable)
	}
	if err := market.EnsureAscending(candles); err != nil {
		return nil, err
	}
	return candles, nil
}

func (s *Simulator) waitJob(ctx context.Context, jobID string) error {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		job, ok := s.fetcher.JobSnapshot(jobID)
		if !ok {
			return fmt.Errorf("补数任务 %s 丢失", jobID)
		}
		switch job.Status {
		case JobStatusDone:
			return nil
		case JobStatusPartial:
			// 缺口可能来自交易对上线之前，继续用已有数据回放。
			logger.Warnf("[backtest] 补数任务 %s 存在缺口，按现有数据继续", jobID)
			return nil
		case JobStatusFailed:
			return fmt.Errorf("补数失败: %s", job.Message)
		}
	}
}

// RunDetail 聚合任务及其产物，供 HTTP 查询。
type RunDetail struct {
	Run       Run        `json:"run"`
	Orders    []Order    `json:"orders"`
	Positions []Position `json:"positions"`
	Snapshots []Snapshot `json:"snapshots"`
}

// GetRun 读取任务记录。
func (s *Simulator) GetRun(runID string) (Run, error) {
	return s.results.GetRun(runID)
}

// ListRuns 列出最近任务。
func (s *Simulator) ListRuns(limit int) ([]Run, error) {
	return s.results.ListRuns(limit)
}

// DeleteRun 删除任务及产物；运行中的任务拒绝删除。
func (s *Simulator) DeleteRun(runID string) error {
	run, err := s.results.GetRun(runID)
	if err != nil {
		return err
	}
	if run.Status == RunStatusRunning {
		return fmt.Errorf("run %s 正在运行，不能删除: %w", runID, ErrInvalidParameter)
	}
	return s.results.DeleteRun(runID)
}

// RunDetail 返回任务完整产物。
func (s *Simulator) RunDetail(runID string) (RunDetail, error) {
	run, err := s.results.GetRun(runID)
	if err != nil {
		return RunDetail{}, err
	}
	orders, err := s.results.Orders(runID)
	if err != nil {
		return RunDetail{}, err
	}
	positions, err := s.results.Positions(runID)
	if err != nil {
		return RunDetail{}, err
	}
	snapshots, err := s.results.Snapshots(runID)
	if err != nil {
		return RunDetail{}, err
	}
	return RunDetail{Run: run, Orders: orders, Positions: positions, Snapshots: snapshots}, nil
}

// RunReport 按资金曲线重算绩效报告。
func (s *Simulator) RunReport(runID string) (Report, error) {
	run, err := s.results.GetRun(runID)
	if err != nil {
		return Report{}, err
	}
	tf, err := ParseTimeframe(run.Timeframe)
	if err != nil {
		return Report{}, err
	}
	snapshots, err := s.results.Snapshots(runID)
	if err != nil {
		return Report{}, err
	}
	if len(snapshots) == 0 {
		return Report{}, fmt.Errorf("run %s 没有资金曲线: %w", runID, ErrDataUnavailable)
	}
	return Summarize(snapshots, tf), nil
}

// Replay 在内存中同步执行一次回测，不落库；供扫参与测试使用。
func (s *Simulator) Replay(ctx context.Context, req RunRequest) (*ReplayResult, error) {
	cfg, tf, _, err := s.normalize(req)
	if err != nil {
		return nil, err
	}
	return s.execute(ctx, cfg, tf)
}
