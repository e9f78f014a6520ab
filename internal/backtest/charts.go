package backtest

import (
	"context"
	"fmt"

	"github.com/tidwall/gjson"

	"cerro/internal/analysis/indicator"
	"cerro/internal/analysis/visual"
	"cerro/internal/logger"
	"cerro/internal/market"
)

// ChartRenderer 把一次回测的产物渲染为结果页或 PNG。
type ChartRenderer struct{}

func NewChartRenderer() *ChartRenderer {
	return &ChartRenderer{}
}

// RenderRunHTML 生成 K 线 + 成交标记 + 资金曲线的 HTML 页面。
func (r *ChartRenderer) RenderRunHTML(detail RunDetail, candles []market.Candle) ([]byte, error) {
	input, err := buildRunPageInput(detail, candles)
	if err != nil {
		return nil, err
	}
	return visual.BuildRunPage(input)
}

// RenderRunPNG 通过 headless Chrome 截图；环境里没有 Chrome 时返回错误。
func (r *ChartRenderer) RenderRunPNG(ctx context.Context, detail RunDetail, candles []market.Candle) (visual.ImageResult, error) {
	input, err := buildRunPageInput(detail, candles)
	if err != nil {
		return visual.ImageResult{}, err
	}
	return visual.RenderRunPNG(ctx, input)
}

func buildRunPageInput(detail RunDetail, candles []market.Candle) (visual.RunPageInput, error) {
	if len(candles) == 0 {
		return visual.RunPageInput{}, fmt.Errorf("渲染区间没有 K 线: %w", ErrDataUnavailable)
	}
	run := detail.Run

	// 均线窗口跟随策略参数，保证图上画的就是信号用的那条线。
	smaWindow := 20
	if w := gjson.GetBytes(run.Config.Params, "window"); w.Exists() {
		smaWindow = int(w.Int())
	}
	rep, err := indicator.ComputeAll(candles, indicator.Settings{
		Symbol:   run.Symbol,
		Interval: run.Timeframe,
		SMA:      smaWindow,
	})
	if err != nil {
		// 序列太短时指标可能缺层，页面照常渲染，仅记录一条告警。
		logger.Warnf("[backtest] run %s 指标计算不完整: %v", run.ID, err)
	}

	indexByCloseTime := make(map[int64]int, len(candles))
	for i, c := range candles {
		indexByCloseTime[c.CloseTime] = i
	}
	markers := make([]visual.Marker, 0, len(detail.Orders))
	for _, order := range detail.Orders {
		idx, ok := indexByCloseTime[order.ExecutedAt.UnixMilli()]
		if !ok {
			continue
		}
		markers = append(markers, visual.Marker{
			Index: idx,
			Price: order.Price,
			Kind:  order.Action,
		})
	}

	equity := make([]visual.EquityPoint, 0, len(detail.Snapshots))
	for _, snap := range detail.Snapshots {
		equity = append(equity, visual.EquityPoint{
			TS:       snap.TS,
			Equity:   snap.Equity,
			Drawdown: snap.Drawdown,
		})
	}

	return visual.RunPageInput{
		Title: fmt.Sprintf("%s %s %s", run.Symbol, run.Timeframe, run.Strategy),
		Subtitle: fmt.Sprintf("收益率 %.2f%% | 最大回撤 %.2f%% | 订单 %d",
			run.Stats.ReturnPct*100, run.Stats.MaxDrawdownPct*100, run.Stats.Orders),
		Candles:    candles,
		Indicators: rep,
		Markers:    markers,
		Equity:     equity,
	}, nil
}
