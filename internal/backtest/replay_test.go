package backtest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustTimeframe(t *testing.T, key string) Timeframe {
	t.Helper()
	tf, err := ParseTimeframe(key)
	require.NoError(t, err)
	return tf
}

// 全流程手算场景：收盘 [10,11,12,11,10]，窗口 2，只做多，零费用零滑点，
// 全仓。idx2 开多（12 > 11.5），idx3 平仓（11 < 11.5），亏 1/12。
func TestReplayHandScenario(t *testing.T) {
	candles := candlesFromCloses([]float64{10, 11, 12, 11, 10})
	strategy := &CrossoverStrategy{}
	signals, err := strategy.Signals(candles, Params{"window": 2, "long_only": true})
	require.NoError(t, err)
	require.Equal(t, []Signal{SignalFlat, SignalFlat, SignalLong, SignalFlat, SignalFlat}, signals)

	res, err := Replay(candles, signals, ReplayConfig{
		Symbol:         "TESTUSDT",
		Timeframe:      mustTimeframe(t, "1h"),
		InitialBalance: 1000,
		FeeRate:        0,
		SlippageBps:    0,
		PositionPct:    1,
	})
	require.NoError(t, err)

	require.Len(t, res.Snapshots, len(candles), "资金曲线长度必须等于 K 线数量")
	require.Len(t, res.Orders, 2)
	require.Len(t, res.Positions, 1)

	entry := res.Orders[0]
	assert.Equal(t, "open_long", entry.Action)
	assert.InDelta(t, 12.0, entry.Price, 1e-9)
	assert.InDelta(t, 1000.0/12.0, entry.Quantity, 1e-9)

	exit := res.Orders[1]
	assert.Equal(t, "close_long", exit.Action)
	assert.InDelta(t, 11.0, exit.Price, 1e-9)

	pos := res.Positions[0]
	assert.InDelta(t, (11.0-12.0)*(1000.0/12.0), pos.PnL, 1e-9)

	wantEquity := []float64{1000, 1000, 1000, 1000 - 1000.0/12.0, 1000 - 1000.0/12.0}
	for i, snap := range res.Snapshots {
		assert.InDelta(t, wantEquity[i], snap.Equity, 1e-9, "idx=%d", i)
	}
	assert.InDelta(t, 916.6666667, res.Report.FinalEquity, 1e-6)
	assert.InDelta(t, (916.6666667-1000)/1000, res.Report.TotalReturn, 1e-6)
	assert.Equal(t, 1, res.Stats.Losses)
	assert.Equal(t, 0, res.Stats.Wins)
}

func TestReplayAllFlatKeepsCash(t *testing.T) {
	candles := candlesFromCloses([]float64{10, 20, 5, 40, 1})
	signals := make([]Signal, len(candles))

	res, err := Replay(candles, signals, ReplayConfig{
		Timeframe:      mustTimeframe(t, "1h"),
		InitialBalance: 500,
		PositionPct:    0.5,
	})
	require.NoError(t, err)
	require.Len(t, res.Snapshots, len(candles))
	for _, snap := range res.Snapshots {
		assert.InDelta(t, 500.0, snap.Equity, 1e-9)
	}
	assert.Zero(t, res.Stats.Orders)
	assert.InDelta(t, 0.0, res.Report.MaxDrawdown, 1e-9)
}

func TestReplayDeterministic(t *testing.T) {
	candles := candlesFromCloses([]float64{10, 12, 9, 14, 13, 8, 15, 16, 11, 10})
	signals, err := CrossoverSignals(candles, 3)
	require.NoError(t, err)

	cfg := ReplayConfig{
		Timeframe:      mustTimeframe(t, "1h"),
		InitialBalance: 10000,
		FeeRate:        0.0004,
		SlippageBps:    2,
		PositionPct:    0.2,
	}
	first, err := Replay(candles, signals, cfg)
	require.NoError(t, err)
	second, err := Replay(candles, signals, cfg)
	require.NoError(t, err)
	assert.Equal(t, first.Snapshots, second.Snapshots)
	assert.Equal(t, first.Stats, second.Stats)
}

func TestReplayInputValidation(t *testing.T) {
	candles := candlesFromCloses([]float64{10, 11})
	tf := mustTimeframe(t, "1h")

	_, err := Replay(nil, nil, ReplayConfig{Timeframe: tf, InitialBalance: 100, PositionPct: 1})
	assert.ErrorIs(t, err, ErrDataUnavailable)

	_, err = Replay(candles, make([]Signal, 1), ReplayConfig{Timeframe: tf, InitialBalance: 100, PositionPct: 1})
	assert.ErrorIs(t, err, ErrInvalidParameter)

	_, err = Replay(candles, make([]Signal, 2), ReplayConfig{Timeframe: tf, InitialBalance: 0, PositionPct: 1})
	assert.ErrorIs(t, err, ErrInvalidParameter)

	_, err = Replay(candles, make([]Signal, 2), ReplayConfig{Timeframe: tf, InitialBalance: 100, PositionPct: 1.5})
	assert.ErrorIs(t, err, ErrInvalidParameter)
}

// 全仓 + 手续费：notional+fee 超出余额时必须拒绝开仓。
func TestReplayInsufficientCash(t *testing.T) {
	candles := candlesFromCloses([]float64{10, 11, 12, 11, 10})
	signals, err := CrossoverSignals(candles, 2)
	require.NoError(t, err)

	_, err = Replay(candles, signals, ReplayConfig{
		Timeframe:      mustTimeframe(t, "1h"),
		InitialBalance: 1000,
		FeeRate:        0.001,
		PositionPct:    1,
	})
	assert.ErrorIs(t, err, ErrInsufficientCash)
}

func TestReplayCloseOnFinish(t *testing.T) {
	candles := candlesFromCloses([]float64{10, 11, 12, 13, 14})
	signals, err := CrossoverSignals(candles, 2)
	require.NoError(t, err)

	open, err := Replay(candles, signals, ReplayConfig{
		Timeframe:      mustTimeframe(t, "1h"),
		InitialBalance: 1000,
		PositionPct:    0.5,
	})
	require.NoError(t, err)
	closed, err := Replay(candles, signals, ReplayConfig{
		Timeframe:      mustTimeframe(t, "1h"),
		InitialBalance: 1000,
		PositionPct:    0.5,
		CloseOnFinish:  true,
	})
	require.NoError(t, err)

	assert.Equal(t, len(open.Orders)+1, len(closed.Orders))
	assert.Equal(t, len(open.Positions)+1, len(closed.Positions))
	// 零费用下按收盘价强平不改变权益
	assert.InDelta(t, open.Report.FinalEquity, closed.Stats.FinalBalance, 1e-9)
}
