package backtest

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func snapshotsFromEquity(equities []float64) []Snapshot {
	out := make([]Snapshot, len(equities))
	for i, e := range equities {
		out[i] = Snapshot{TS: int64(i+1) * 3_600_000, Equity: e}
	}
	return out
}

func TestSummarizeEmpty(t *testing.T) {
	rep := Summarize(nil, mustTimeframe(t, "1h"))
	assert.Equal(t, Report{}, rep)
}

func TestSummarizeMonotonicRise(t *testing.T) {
	rep := Summarize(snapshotsFromEquity([]float64{100, 110, 120, 130}), mustTimeframe(t, "1h"))
	assert.InDelta(t, 0.0, rep.MaxDrawdown, 1e-9, "单调上涨曲线回撤为 0")
	assert.InDelta(t, 0.3, rep.TotalReturn, 1e-9)
	assert.InDelta(t, 100.0, rep.InitialEquity, 1e-9)
	assert.InDelta(t, 130.0, rep.FinalEquity, 1e-9)
	assert.InDelta(t, 130.0, rep.EquityPeak, 1e-9)
	assert.InDelta(t, 100.0, rep.EquityValley, 1e-9)
}

func TestSummarizeMaxDrawdown(t *testing.T) {
	// 峰值 120 → 谷底 90：回撤 30/120 = 25%
	rep := Summarize(snapshotsFromEquity([]float64{100, 120, 90, 100}), mustTimeframe(t, "1h"))
	assert.InDelta(t, 0.25, rep.MaxDrawdown, 1e-9)
	assert.InDelta(t, 0.0, rep.TotalReturn, 1e-9)
	assert.InDelta(t, 90.0, rep.EquityValley, 1e-9)
}

func TestSummarizeConstantCurveZeroVol(t *testing.T) {
	rep := Summarize(snapshotsFromEquity([]float64{500, 500, 500, 500}), mustTimeframe(t, "1h"))
	assert.InDelta(t, 0.0, rep.AnnualizedVol, 1e-9)
	assert.InDelta(t, 0.0, rep.MaxDrawdown, 1e-9)
}

func TestSummarizeAnnualizedVol(t *testing.T) {
	// 收益率 [+10%, -10%]：均值 0，样本标准差 sqrt(0.02/1)
	tf := mustTimeframe(t, "1h")
	rep := Summarize(snapshotsFromEquity([]float64{100, 110, 99}), tf)

	std := math.Sqrt(0.02)
	want := std * math.Sqrt(tf.PeriodsPerYear())
	assert.InDelta(t, want, rep.AnnualizedVol, 1e-9)
}

func TestSummarizeVolNeedsEnoughPoints(t *testing.T) {
	rep := Summarize(snapshotsFromEquity([]float64{100, 120}), mustTimeframe(t, "1h"))
	assert.InDelta(t, 0.0, rep.AnnualizedVol, 1e-9, "不足 3 个点时不计波动率")
	require.InDelta(t, 0.2, rep.TotalReturn, 1e-9)
}
