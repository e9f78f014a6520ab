package backtest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTimeframe(t *testing.T) {
	tf, err := ParseTimeframe("1h")
	require.NoError(t, err)
	assert.Equal(t, time.Hour, tf.Duration)
	assert.Equal(t, "1h", tf.SourceInterval)

	tf, err = ParseTimeframe(" 4H ")
	require.NoError(t, err)
	assert.Equal(t, 4*time.Hour, tf.Duration)

	tf, err = ParseTimeframe("7d")
	require.NoError(t, err)
	assert.Equal(t, "1w", tf.SourceInterval)

	_, err = ParseTimeframe("2m")
	assert.ErrorIs(t, err, ErrInvalidParameter)
	_, err = ParseTimeframe("")
	assert.ErrorIs(t, err, ErrInvalidParameter)
}

func TestPeriodsPerYear(t *testing.T) {
	tf := Timeframe{Duration: time.Hour}
	assert.InDelta(t, 365*24.0, tf.PeriodsPerYear(), 1e-9)

	tf = Timeframe{Duration: 24 * time.Hour}
	assert.InDelta(t, 365.0, tf.PeriodsPerYear(), 1e-9)

	assert.Zero(t, Timeframe{}.PeriodsPerYear())
}

func TestAlignRange(t *testing.T) {
	tf, err := ParseTimeframe("1h")
	require.NoError(t, err)
	const hour = int64(3_600_000)

	start, end := tf.AlignRange(hour+5, 3*hour+10)
	assert.Equal(t, hour, start)
	assert.Equal(t, 3*hour, end)

	// 交换乱序的区间
	start, end = tf.AlignRange(3*hour, hour)
	assert.Equal(t, hour, start)
	assert.Equal(t, 3*hour, end)
}

func TestExpectedCandles(t *testing.T) {
	tf, err := ParseTimeframe("1h")
	require.NoError(t, err)
	const hour = int64(3_600_000)

	assert.Equal(t, int64(1), tf.ExpectedCandles(hour, hour))
	assert.Equal(t, int64(4), tf.ExpectedCandles(hour, 4*hour))
	assert.Equal(t, int64(0), tf.ExpectedCandles(4*hour, hour))
}

func TestSupportedTimeframesSorted(t *testing.T) {
	keys := SupportedTimeframes()
	assert.Contains(t, keys, "1h")
	assert.Contains(t, keys, "1d")
	assert.Len(t, keys, 8)
}
