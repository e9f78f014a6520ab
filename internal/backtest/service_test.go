package backtest

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cerro/internal/market"
)

// stubSource 从内存切片按区间返回 K 线。
type stubSource struct {
	name    string
	candles []market.Candle
	calls   atomic.Int64
}

func (s *stubSource) Name() string { return s.name }

func (s *stubSource) Fetch(ctx context.Context, req FetchRequest) ([]market.Candle, error) {
	s.calls.Add(1)
	var out []market.Candle
	for _, c := range s.candles {
		if req.Start > 0 && c.OpenTime < req.Start {
			continue
		}
		if req.End > 0 && c.OpenTime > req.End {
			continue
		}
		out = append(out, c)
		if req.Limit > 0 && len(out) >= req.Limit {
			break
		}
	}
	if len(out) == 0 {
		return nil, ErrDataUnavailable
	}
	return out, nil
}

func newTestService(t *testing.T, src CandleSource) (*Service, *Store) {
	t.Helper()
	store := newTestStore(t)
	svc, err := NewService(ServiceConfig{
		Store:         store,
		Sources:       map[string]CandleSource{src.Name(): src},
		DefaultSource: src.Name(),
	})
	require.NoError(t, err)
	return svc, store
}

func TestSubmitFetchFillsGaps(t *testing.T) {
	base := int64(1_800_000_000_000)
	src := &stubSource{name: "stub", candles: hourlyCandles(base, []float64{10, 11, 12, 13, 14})}
	svc, store := newTestService(t, src)

	job, err := svc.SubmitFetch(FetchParams{
		Symbol:    "BTCUSDT",
		Timeframe: "1h",
		Start:     base,
		End:       base + 4*hourMs,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(5), job.Total)

	require.Eventually(t, func() bool {
		snap, ok := svc.JobSnapshot(job.ID)
		return ok && snap.Status == JobStatusDone
	}, 5*time.Second, 20*time.Millisecond)

	got, err := store.RangeCandles(context.Background(), "BTCUSDT", "1h", base, base+4*hourMs)
	require.NoError(t, err)
	assert.Len(t, got, 5)
}

func TestSubmitFetchAlreadyComplete(t *testing.T) {
	base := int64(1_800_000_000_000)
	src := &stubSource{name: "stub", candles: hourlyCandles(base, []float64{10, 11, 12})}
	svc, store := newTestService(t, src)

	_, err := store.InsertCandles(context.Background(), "BTCUSDT", "1h", src.candles)
	require.NoError(t, err)

	job, err := svc.SubmitFetch(FetchParams{
		Symbol:    "BTCUSDT",
		Timeframe: "1h",
		Start:     base,
		End:       base + 2*hourMs,
	})
	require.NoError(t, err)
	assert.Equal(t, JobStatusDone, job.Status)
	assert.Equal(t, int64(0), src.calls.Load(), "数据完整时不触发拉取")
}

func TestSubmitFetchPartialWhenSourceLacksData(t *testing.T) {
	base := int64(1_800_000_000_000)
	// 数据源只有前两根，区间却要 5 根
	src := &stubSource{name: "stub", candles: hourlyCandles(base, []float64{10, 11})}
	svc, _ := newTestService(t, src)

	job, err := svc.SubmitFetch(FetchParams{
		Symbol:    "BTCUSDT",
		Timeframe: "1h",
		Start:     base,
		End:       base + 4*hourMs,
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		snap, ok := svc.JobSnapshot(job.ID)
		return ok && snap.Status == JobStatusPartial
	}, 5*time.Second, 20*time.Millisecond)

	snap, _ := svc.JobSnapshot(job.ID)
	assert.NotEmpty(t, snap.Missing)
}

func TestSubmitFetchValidation(t *testing.T) {
	base := int64(1_800_000_000_000)
	src := &stubSource{name: "stub"}
	svc, _ := newTestService(t, src)

	_, err := svc.SubmitFetch(FetchParams{Timeframe: "1h", Start: base, End: base + hourMs})
	assert.ErrorIs(t, err, ErrInvalidParameter)

	_, err = svc.SubmitFetch(FetchParams{Symbol: "BTCUSDT", Timeframe: "2m", Start: base, End: base + hourMs})
	assert.ErrorIs(t, err, ErrInvalidParameter)

	_, err = svc.SubmitFetch(FetchParams{Symbol: "BTCUSDT", Timeframe: "1h", Source: "nope", Start: base, End: base + hourMs})
	assert.ErrorIs(t, err, ErrInvalidParameter)

	_, err = svc.SubmitFetch(FetchParams{Symbol: "BTCUSDT", Timeframe: "1h", Start: base, End: base})
	assert.ErrorIs(t, err, ErrInvalidParameter)
}
