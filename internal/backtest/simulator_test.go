package backtest

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSimulator(t *testing.T) (*Simulator, *Store) {
	t.Helper()
	store := newTestStore(t)
	results, err := NewRunStore(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = results.Close() })
	registry, err := DefaultRegistry()
	require.NoError(t, err)
	sim, err := NewSimulator(SimulatorConfig{
		Candles:  store,
		Results:  results,
		Registry: registry,
	})
	require.NoError(t, err)
	return sim, store
}

func TestSimulatorReplaySync(t *testing.T) {
	sim, store := newTestSimulator(t)
	base := int64(1_800_000_000_000)
	_, err := store.InsertCandles(context.Background(), "BTCUSDT", "1h",
		hourlyCandles(base, []float64{10, 11, 12, 11, 10}))
	require.NoError(t, err)

	result, err := sim.Replay(context.Background(), RunRequest{
		Symbol:         "btcusdt",
		Timeframe:      "1h",
		StartTS:        base,
		EndTS:          base + 4*hourMs,
		Strategy:       "crossover",
		Params:         json.RawMessage(`{"window": 2, "long_only": true}`),
		InitialBalance: 1000,
	})
	require.NoError(t, err)
	require.Len(t, result.Snapshots, 5, "每根 K 线一个资金点")
	assert.Len(t, result.Orders, 2)
	assert.Len(t, result.Positions, 1)
}

func TestSimulatorStartRunPersists(t *testing.T) {
	sim, store := newTestSimulator(t)
	base := int64(1_800_000_000_000)
	_, err := store.InsertCandles(context.Background(), "ETHUSDT", "1h",
		hourlyCandles(base, []float64{10, 11, 12, 11, 10}))
	require.NoError(t, err)

	run, err := sim.StartRun(RunRequest{
		Symbol:         "ETHUSDT",
		Timeframe:      "1h",
		StartTS:        base,
		EndTS:          base + 4*hourMs,
		Strategy:       "crossover",
		Params:         json.RawMessage(`{"window": 2}`),
		InitialBalance: 1000,
	})
	require.NoError(t, err)
	assert.Equal(t, RunStatusPending, run.Status)

	require.Eventually(t, func() bool {
		got, err := sim.GetRun(run.ID)
		return err == nil && got.Status == RunStatusDone
	}, 10*time.Second, 50*time.Millisecond)

	detail, err := sim.RunDetail(run.ID)
	require.NoError(t, err)
	assert.Len(t, detail.Snapshots, 5)
	assert.NotEmpty(t, detail.Orders)

	report, err := sim.RunReport(run.ID)
	require.NoError(t, err)
	assert.InDelta(t, detail.Run.Stats.MaxDrawdownPct, report.MaxDrawdown, 1e-9)

	runs, err := sim.ListRuns(10)
	require.NoError(t, err)
	require.Len(t, runs, 1)

	require.NoError(t, sim.DeleteRun(run.ID))
	_, err = sim.GetRun(run.ID)
	assert.ErrorIs(t, err, ErrDataUnavailable)
}

func TestSimulatorStartRunNoData(t *testing.T) {
	sim, _ := newTestSimulator(t)
	base := int64(1_800_000_000_000)

	run, err := sim.StartRun(RunRequest{
		Symbol:    "BTCUSDT",
		Timeframe: "1h",
		StartTS:   base,
		EndTS:     base + 4*hourMs,
	})
	require.NoError(t, err, "提交阶段不校验数据")

	require.Eventually(t, func() bool {
		got, err := sim.GetRun(run.ID)
		return err == nil && got.Status == RunStatusFailed
	}, 10*time.Second, 50*time.Millisecond)
}

func TestSimulatorNormalizeValidation(t *testing.T) {
	sim, _ := newTestSimulator(t)
	base := int64(1_800_000_000_000)

	_, err := sim.Replay(context.Background(), RunRequest{
		Timeframe: "1h", StartTS: base, EndTS: base + hourMs,
	})
	assert.ErrorIs(t, err, ErrInvalidParameter, "缺 symbol")

	_, err = sim.Replay(context.Background(), RunRequest{
		Symbol: "BTCUSDT", Timeframe: "1h", StartTS: base, EndTS: base + hourMs,
		PositionPct: 1.5,
	})
	assert.ErrorIs(t, err, ErrInvalidParameter, "仓位比例越界")

	_, err = sim.Replay(context.Background(), RunRequest{
		Symbol: "BTCUSDT", Timeframe: "1h", StartTS: base, EndTS: base + hourMs,
		Strategy: "missing",
	})
	assert.ErrorIs(t, err, ErrInvalidParameter, "未注册策略")
}

func TestSimulatorRejectsNegativeBalance(t *testing.T) {
	sim, store := newTestSimulator(t)
	base := int64(1_800_000_000_000)
	_, err := store.InsertCandles(context.Background(), "BTCUSDT", "1h",
		hourlyCandles(base, []float64{10, 11, 12, 11, 10}))
	require.NoError(t, err)

	_, err = sim.Replay(context.Background(), RunRequest{
		Symbol:         "BTCUSDT",
		Timeframe:      "1h",
		StartTS:        base,
		EndTS:          base + 4*hourMs,
		InitialBalance: -500,
	})
	assert.ErrorIs(t, err, ErrInvalidParameter, "负初始资金不能落到默认值")

	_, err = sim.StartRun(RunRequest{
		Symbol:         "BTCUSDT",
		Timeframe:      "1h",
		StartTS:        base,
		EndTS:          base + 4*hourMs,
		InitialBalance: -500,
	})
	assert.ErrorIs(t, err, ErrInvalidParameter)
}

func TestSimulatorExplicitZeroFees(t *testing.T) {
	sim, store := newTestSimulator(t)
	base := int64(1_800_000_000_000)
	_, err := store.InsertCandles(context.Background(), "BTCUSDT", "1h",
		hourlyCandles(base, []float64{10, 11, 12, 11, 10}))
	require.NoError(t, err)

	req := RunRequest{
		Symbol:         "BTCUSDT",
		Timeframe:      "1h",
		StartTS:        base,
		EndTS:          base + 4*hourMs,
		Strategy:       "crossover",
		Params:         json.RawMessage(`{"window": 2, "long_only": true}`),
		InitialBalance: 1000,
		PositionPct:    1,
		FeeRate:        floatPtr(0),
		SlippageBps:    floatPtr(0),
	}
	result, err := sim.Replay(context.Background(), req)
	require.NoError(t, err)
	for _, order := range result.Orders {
		assert.Zero(t, order.Fee, "显式零费率下订单不应计费")
	}
	// 12 开多、11 平多，全仓 1000：亏 1000/12，无手续费与滑点。
	assert.InDelta(t, 1000-1000.0/12, result.Stats.FinalEquity, 1e-6)

	req.FeeRate = floatPtr(-0.01)
	_, err = sim.Replay(context.Background(), req)
	assert.ErrorIs(t, err, ErrInvalidParameter, "负费率")

	req.FeeRate = floatPtr(0)
	req.SlippageBps = floatPtr(-1)
	_, err = sim.Replay(context.Background(), req)
	assert.ErrorIs(t, err, ErrInvalidParameter, "负滑点")
}

func floatPtr(v float64) *float64 { return &v }

func TestSimulatorSweep(t *testing.T) {
	sim, store := newTestSimulator(t)
	base := int64(1_800_000_000_000)
	closes := []float64{10, 11, 12, 13, 12, 11, 12, 13, 14, 13}
	_, err := store.InsertCandles(context.Background(), "BTCUSDT", "1h",
		hourlyCandles(base, closes))
	require.NoError(t, err)

	result, err := sim.Sweep(context.Background(), SweepRequest{
		Base: RunRequest{
			Symbol:         "BTCUSDT",
			Timeframe:      "1h",
			StartTS:        base,
			EndTS:          base + int64(len(closes)-1)*hourMs,
			Strategy:       "crossover",
			InitialBalance: 1000,
		},
		ParamName: "window",
		Values:    []int{2, 3},
	})
	require.NoError(t, err)
	require.Len(t, result.Entries, 2)
	assert.Equal(t, "window", result.ParamName)
	values := make([]int, 0, 2)
	for _, entry := range result.Entries {
		assert.Empty(t, entry.Error)
		values = append(values, entry.Value)
	}
	assert.ElementsMatch(t, []int{2, 3}, values)

	_, err = sim.Sweep(context.Background(), SweepRequest{Base: RunRequest{Symbol: "BTCUSDT"}})
	assert.ErrorIs(t, err, ErrInvalidParameter, "空扫参网格")
}
