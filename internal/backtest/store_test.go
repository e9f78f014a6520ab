package backtest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cerro/internal/market"
)

const hourMs = int64(3_600_000)

func hourlyCandles(base int64, closes []float64) []market.Candle {
	out := make([]market.Candle, len(closes))
	for i, c := range closes {
		open := base + int64(i)*hourMs
		out[i] = market.Candle{
			OpenTime:  open,
			CloseTime: open + hourMs - 1,
			Open:      c,
			High:      c + 1,
			Low:       c - 1,
			Close:     c,
			Volume:    1,
		}
	}
	return out
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestStoreInsertAndQuery(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	base := int64(1_800_000_000_000)
	candles := hourlyCandles(base, []float64{10, 11, 12, 13})

	n, err := store.InsertCandles(ctx, "BTCUSDT", "1h", candles)
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	got, err := store.RangeCandles(ctx, "BTCUSDT", "1h", base, base+3*hourMs)
	require.NoError(t, err)
	require.Len(t, got, 4)
	assert.Equal(t, candles, got)

	// 重复写入幂等覆盖
	n, err = store.InsertCandles(ctx, "BTCUSDT", "1h", candles[:2])
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	got, err = store.RangeCandles(ctx, "BTCUSDT", "1h", base, base+3*hourMs)
	require.NoError(t, err)
	assert.Len(t, got, 4)
}

func TestStoreManifest(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	base := int64(1_800_000_000_000)

	_, err := store.InsertCandles(ctx, "ethusdt", "1h", hourlyCandles(base, []float64{10, 11, 12}))
	require.NoError(t, err)

	m, err := store.Manifest(ctx, "ETHUSDT", "1h")
	require.NoError(t, err)
	assert.Equal(t, "ETHUSDT", m.Symbol)
	assert.Equal(t, "1h", m.Timeframe)
	assert.Equal(t, base, m.MinTime)
	assert.Equal(t, base+2*hourMs, m.MaxTime)
	assert.Equal(t, int64(3), m.Rows)
}

func TestStoreQueryCandlesLatest(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	base := int64(1_800_000_000_000)
	candles := hourlyCandles(base, []float64{10, 11, 12, 13, 14})
	_, err := store.InsertCandles(ctx, "BTCUSDT", "1h", candles)
	require.NoError(t, err)

	latest, err := store.QueryCandles(ctx, "BTCUSDT", "1h", 0, 0, 2)
	require.NoError(t, err)
	require.Len(t, latest, 2)
	// 最新两根，升序返回
	assert.Equal(t, candles[3].OpenTime, latest[0].OpenTime)
	assert.Equal(t, candles[4].OpenTime, latest[1].OpenTime)
}

func TestCheckIntegrity(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	tf, err := ParseTimeframe("1h")
	require.NoError(t, err)
	base := int64(1_800_000_000_000)

	full := hourlyCandles(base, []float64{10, 11, 12, 13, 14})
	// 留出 idx 1、2 两根缺口
	withGap := []market.Candle{full[0], full[3], full[4]}
	_, err = store.InsertCandles(ctx, "BTCUSDT", "1h", withGap)
	require.NoError(t, err)

	report, err := store.CheckIntegrity(ctx, "BTCUSDT", "1h", tf, base, base+4*hourMs)
	require.NoError(t, err)
	assert.Equal(t, int64(5), report.Expected)
	assert.Equal(t, int64(3), report.Present)
	assert.False(t, report.Complete())
	require.Len(t, report.Gaps, 1)
	assert.Equal(t, Gap{From: base + hourMs, To: base + 2*hourMs}, report.Gaps[0])

	_, err = store.InsertCandles(ctx, "BTCUSDT", "1h", full[1:3])
	require.NoError(t, err)
	report, err = store.CheckIntegrity(ctx, "BTCUSDT", "1h", tf, base, base+4*hourMs)
	require.NoError(t, err)
	assert.True(t, report.Complete())
	assert.Empty(t, report.Gaps)
}
