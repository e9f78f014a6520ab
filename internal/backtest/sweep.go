package backtest

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"golang.org/x/sync/errgroup"
)

// SweepRequest 在同一区间上对策略单个整型参数做网格扫描。
type SweepRequest struct {
	Base      RunRequest `json:"base" binding:"required"`
	ParamName string     `json:"param_name"`
	Values    []int      `json:"values" binding:"required"`
	Parallel  int        `json:"parallel"`
}

// SweepEntry 为网格中一个取值的回放摘要。
type SweepEntry struct {
	Value       int     `json:"value"`
	ReturnPct   float64 `json:"return_pct"`
	MaxDrawdown float64 `json:"max_drawdown"`
	AnnualVol   float64 `json:"annual_vol"`
	WinRate     float64 `json:"win_rate"`
	Orders      int     `json:"orders"`
	Error       string  `json:"error,omitempty"`
}

// SweepResult 按收益率降序排列各取值。
type SweepResult struct {
	ParamName string       `json:"param_name"`
	Entries   []SweepEntry `json:"entries"`
}

// Sweep 并发回放参数网格；单个取值失败不会中断整个扫描。
// 每次回放彼此独立（纯函数 Replay），结果不落库。
func (s *Simulator) Sweep(ctx context.Context, req SweepRequest) (SweepResult, error) {
	if len(req.Values) == 0 {
		return SweepResult{}, fmt.Errorf("扫参网格为空: %w", ErrInvalidParameter)
	}
	paramName := req.ParamName
	if paramName == "" {
		paramName = "window"
	}
	parallel := req.Parallel
	if parallel <= 0 || parallel > 8 {
		parallel = 4
	}

	entries := make([]SweepEntry, len(req.Values))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(parallel)
	for i, value := range req.Values {
		g.Go(func() error {
			entry := SweepEntry{Value: value}
			runReq, err := overrideParam(req.Base, paramName, value)
			if err != nil {
				entry.Error = err.Error()
				entries[i] = entry
				return nil
			}
			result, err := s.Replay(gctx, runReq)
			if err != nil {
				entry.Error = err.Error()
				entries[i] = entry
				return nil
			}
			entry.ReturnPct = result.Stats.ReturnPct
			entry.MaxDrawdown = result.Stats.MaxDrawdownPct
			entry.AnnualVol = result.Stats.AnnualVolPct
			entry.WinRate = result.Stats.WinRate
			entry.Orders = result.Stats.Orders
			entries[i] = entry
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return SweepResult{}, err
	}

	sort.SliceStable(entries, func(a, b int) bool {
		if (entries[a].Error == "") != (entries[b].Error == "") {
			return entries[a].Error == ""
		}
		return entries[a].ReturnPct > entries[b].ReturnPct
	})
	return SweepResult{ParamName: paramName, Entries: entries}, nil
}

func overrideParam(base RunRequest, name string, value int) (RunRequest, error) {
	params := map[string]any{}
	if len(base.Params) > 0 {
		if err := json.Unmarshal(base.Params, &params); err != nil {
			return RunRequest{}, fmt.Errorf("参数不是合法 JSON 对象: %w", ErrInvalidParameter)
		}
	}
	params[name] = value
	raw, err := json.Marshal(params)
	if err != nil {
		return RunRequest{}, err
	}
	base.Params = raw
	return base, nil
}
