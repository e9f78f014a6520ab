package backtest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cerro/internal/market"
)

func candlesFromCloses(closes []float64) []market.Candle {
	const step = int64(60 * 60 * 1000)
	base := int64(1_800_000_000_000) // 对齐到 1h 网格
	out := make([]market.Candle, len(closes))
	for i, c := range closes {
		open := base + int64(i)*step
		out[i] = market.Candle{
			OpenTime:  open,
			CloseTime: open + step - 1,
			Open:      c,
			High:      c,
			Low:       c,
			Close:     c,
			Volume:    1,
		}
	}
	return out
}

func TestCrossoverSignalsHandScenario(t *testing.T) {
	candles := candlesFromCloses([]float64{10, 11, 12, 11, 10})

	signals, err := CrossoverSignals(candles, 2)
	require.NoError(t, err)
	require.Len(t, signals, len(candles))

	// idx2: close 12 > SMA(11,12)=11.5；idx3: close 11 < SMA(12,11)=11.5
	assert.Equal(t, []Signal{SignalFlat, SignalFlat, SignalLong, SignalShort, SignalShort}, signals)
}

func TestCrossoverSignalsWindowTooLarge(t *testing.T) {
	candles := candlesFromCloses([]float64{10, 11, 12})

	signals, err := CrossoverSignals(candles, 3)
	require.NoError(t, err)
	for _, s := range signals {
		assert.Equal(t, SignalFlat, s)
	}

	signals, err = CrossoverSignals(candles, 10)
	require.NoError(t, err)
	for _, s := range signals {
		assert.Equal(t, SignalFlat, s)
	}
}

func TestCrossoverSignalsInvalidWindow(t *testing.T) {
	candles := candlesFromCloses([]float64{10, 11})
	_, err := CrossoverSignals(candles, 0)
	assert.ErrorIs(t, err, ErrInvalidParameter)
	_, err = CrossoverSignals(candles, -3)
	assert.ErrorIs(t, err, ErrInvalidParameter)
}

func TestCrossoverSignalsDeterministic(t *testing.T) {
	candles := candlesFromCloses([]float64{10, 12, 9, 14, 13, 8, 15, 16, 11, 10})
	first, err := CrossoverSignals(candles, 3)
	require.NoError(t, err)
	second, err := CrossoverSignals(candles, 3)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

// 任意前缀上的信号必须与全量计算一致：idx 处不允许依赖未来数据。
func TestCrossoverSignalsPrefixStable(t *testing.T) {
	candles := candlesFromCloses([]float64{10, 12, 9, 14, 13, 8, 15, 16, 11, 10, 17, 12})
	full, err := CrossoverSignals(candles, 3)
	require.NoError(t, err)

	for cut := 4; cut <= len(candles); cut++ {
		partial, err := CrossoverSignals(candles[:cut], 3)
		require.NoError(t, err)
		assert.Equal(t, full[:cut], partial, "前缀长度 %d", cut)
	}
}

func TestPrevDayLevelSignals(t *testing.T) {
	const hour = int64(60 * 60 * 1000)
	const day = 24 * hour
	base := int64(1_800_000_000_000)
	base -= base % day

	mk := func(openTime int64, high, low, close float64) market.Candle {
		return market.Candle{
			OpenTime:  openTime,
			CloseTime: openTime + hour - 1,
			Open:      close,
			High:      high,
			Low:       low,
			Close:     close,
			Volume:    1,
		}
	}
	candles := []market.Candle{
		// 第一天：高 105 低 95，没有前日参照
		mk(base, 105, 95, 100),
		mk(base+hour, 104, 96, 103),
		// 第二天：先在区间内，再上破 105，最后下破 95
		mk(base+day, 104, 97, 101),
		mk(base+day+hour, 107, 100, 106),
		mk(base+day+2*hour, 106, 92, 93),
	}

	signals := PrevDayLevelSignals(candles)
	require.Len(t, signals, 5)
	assert.Equal(t, SignalFlat, signals[0])
	assert.Equal(t, SignalFlat, signals[1])
	assert.Equal(t, SignalFlat, signals[2], "close 101 在 [95,105] 区间内")
	assert.Equal(t, SignalLong, signals[3], "close 106 上破前日高 105")
	assert.Equal(t, SignalShort, signals[4], "close 93 下破前日低 95")
}

func TestPrevDayLevelSignalsCloseEqualLevelIsFlat(t *testing.T) {
	const hour = int64(60 * 60 * 1000)
	const day = 24 * hour
	base := int64(1_800_000_000_000)
	base -= base % day

	candles := []market.Candle{
		{OpenTime: base, CloseTime: base + hour - 1, High: 105, Low: 95, Close: 100},
		{OpenTime: base + day, CloseTime: base + day + hour - 1, High: 105, Low: 100, Close: 105},
	}
	signals := PrevDayLevelSignals(candles)
	assert.Equal(t, SignalFlat, signals[1], "触及但未突破")
}
