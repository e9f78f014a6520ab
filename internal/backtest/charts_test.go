package backtest

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChartRendererRenderRunHTML(t *testing.T) {
	base := int64(1_800_000_000_000)
	candles := hourlyCandles(base, []float64{10, 11, 12, 11, 10})
	detail := RunDetail{
		Run: Run{
			ID:        "run-html",
			Symbol:    "BTCUSDT",
			Timeframe: "1h",
			Strategy:  "crossover",
			Config:    RunConfig{Params: json.RawMessage(`{"window": 2}`)},
		},
		Orders: []Order{{
			Action:     "open_long",
			Side:       "long",
			Price:      12,
			ExecutedAt: time.UnixMilli(candles[2].CloseTime),
		}},
		Snapshots: []Snapshot{
			{TS: candles[0].CloseTime, Equity: 1000},
			{TS: candles[4].CloseTime, Equity: 950, Drawdown: 0.05},
		},
	}

	html, err := NewChartRenderer().RenderRunHTML(detail, candles)
	require.NoError(t, err)
	assert.Contains(t, string(html), "BTCUSDT")
}

func TestChartRendererShortSeries(t *testing.T) {
	base := int64(1_800_000_000_000)
	detail := RunDetail{
		Run: Run{
			ID:        "run-short",
			Symbol:    "ETHUSDT",
			Timeframe: "1h",
			Strategy:  "crossover",
			Config:    RunConfig{Params: json.RawMessage(`{"window": 50}`)},
		},
	}

	// 窗口大于 K 线数时没有均线层，但页面照常渲染。
	html, err := NewChartRenderer().RenderRunHTML(detail, hourlyCandles(base, []float64{10, 11}))
	require.NoError(t, err)
	assert.NotEmpty(t, html)

	_, err = NewChartRenderer().RenderRunHTML(detail, nil)
	assert.ErrorIs(t, err, ErrDataUnavailable)
}
