package backtest

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cerro/internal/market"
)

func writeCSVFixture(t *testing.T, dir, symbol, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, symbol+".csv"), []byte(content), 0o644))
}

func TestCSVSourceFetch(t *testing.T) {
	dir := t.TempDir()
	writeCSVFixture(t, dir, "BTCUSDT",
		"datetime,open,high,low,close,volume\n"+
			"2024-01-01 00:00:00,100,110,90,105,12\n"+
			"2024-01-01 01:00:00,105,115,100,110,8\n"+
			"2024-01-01 02:00:00,110,120,105,95,9\n")

	src := NewCSVSource(dir)
	assert.Equal(t, "csv", src.Name())

	candles, err := src.Fetch(context.Background(), FetchRequest{Symbol: "btcusdt", Interval: "1h"})
	require.NoError(t, err)
	require.Len(t, candles, 3)
	require.NoError(t, market.EnsureAscending(candles))
	assert.InDelta(t, 105.0, candles[0].Close, 1e-9)
	assert.InDelta(t, 95.0, candles[2].Close, 1e-9)
	assert.Equal(t, candles[0].OpenTime+3_600_000-1, candles[0].CloseTime)
}

func TestCSVSourceRangeFilter(t *testing.T) {
	dir := t.TempDir()
	writeCSVFixture(t, dir, "ETHUSDT",
		"datetime,open,high,low,close,volume\n"+
			"2024-01-01 00:00:00,100,110,90,105,12\n"+
			"2024-01-01 01:00:00,105,115,100,110,8\n"+
			"2024-01-01 02:00:00,110,120,105,95,9\n")

	src := NewCSVSource(dir)
	all, err := src.Fetch(context.Background(), FetchRequest{Symbol: "ETHUSDT", Interval: "1h"})
	require.NoError(t, err)

	mid, err := src.Fetch(context.Background(), FetchRequest{
		Symbol:   "ETHUSDT",
		Interval: "1h",
		Start:    all[1].OpenTime,
		End:      all[1].OpenTime,
	})
	require.NoError(t, err)
	require.Len(t, mid, 1)
	assert.Equal(t, all[1].OpenTime, mid[0].OpenTime)

	_, err = src.Fetch(context.Background(), FetchRequest{
		Symbol:   "ETHUSDT",
		Interval: "1h",
		Start:    all[2].OpenTime + 3_600_000,
		End:      all[2].OpenTime + 7_200_000,
	})
	assert.ErrorIs(t, err, ErrDataUnavailable, "区间外没有数据")
}

func TestCSVSourceUnixMillisTimestamps(t *testing.T) {
	dir := t.TempDir()
	writeCSVFixture(t, dir, "SOLUSDT",
		"1700000000000,10,11,9,10.5,3\n"+
			"1700003600000,10.5,12,10,11,4\n")

	src := NewCSVSource(dir)
	candles, err := src.Fetch(context.Background(), FetchRequest{Symbol: "SOLUSDT", Interval: "1h"})
	require.NoError(t, err)
	require.Len(t, candles, 2)
	assert.Equal(t, int64(1700000000000), candles[0].OpenTime)
}

func TestCSVSourceMissingFile(t *testing.T) {
	src := NewCSVSource(t.TempDir())
	_, err := src.Fetch(context.Background(), FetchRequest{Symbol: "NOPE", Interval: "1h"})
	assert.ErrorIs(t, err, ErrDataUnavailable)
}

func TestCSVSourceEmptySymbol(t *testing.T) {
	src := NewCSVSource(t.TempDir())
	_, err := src.Fetch(context.Background(), FetchRequest{Interval: "1h"})
	assert.ErrorIs(t, err, ErrInvalidParameter)
}
