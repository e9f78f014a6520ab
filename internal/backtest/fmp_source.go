package backtest

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/tidwall/gjson"

	"cerro/internal/market"
)

// FMPSource 从 financialmodelingprep 拉取股票日线；仅支持 1d interval。
type FMPSource struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func NewFMPSource(base, apiKey string) *FMPSource {
	if base == "" {
		base = "https://financialmodelingprep.com"
	}
	return &FMPSource{
		baseURL: base,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 15 * time.Second},
	}
}

func (f *FMPSource) Name() string { return "fmp" }

func (f *FMPSource) Fetch(ctx context.Context, req FetchRequest) ([]market.Candle, error) {
	if req.Symbol == "" {
		return nil, fmt.Errorf("symbol 不能为空: %w", ErrInvalidParameter)
	}
	if req.Interval != "1d" {
		return nil, fmt.Errorf("fmp 仅提供日线，收到 %q: %w", req.Interval, ErrInvalidParameter)
	}
	u, err := url.Parse(f.baseURL)
	if err != nil {
		return nil, err
	}
	u.Path = "/api/v3/historical-price-full/" + req.Symbol
	q := u.Query()
	if req.Start > 0 {
		q.Set("from", time.UnixMilli(req.Start).UTC().Format("2006-01-02"))
	}
	if req.End > 0 {
		q.Set("to", time.UnixMilli(req.End).UTC().Format("2006-01-02"))
	}
	if f.apiKey != "" {
		q.Set("apikey", f.apiKey)
	}
	u.RawQuery = q.Encode()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := f.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("fmp 返回状态码 %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	rows := gjson.GetBytes(body, "historical")
	if !rows.Exists() || len(rows.Array()) == 0 {
		return nil, fmt.Errorf("fmp %s 无数据: %w", req.Symbol, ErrDataUnavailable)
	}

	const dayMs = int64(24 * time.Hour / time.Millisecond)
	out := make([]market.Candle, 0, len(rows.Array()))
	rows.ForEach(func(_, row gjson.Result) bool {
		day, err := time.ParseInLocation("2006-01-02", row.Get("date").String(), time.UTC)
		if err != nil {
			return true
		}
		openTime := day.UnixMilli()
		out = append(out, market.Candle{
			OpenTime:  openTime,
			CloseTime: openTime + dayMs - 1,
			Open:      row.Get("open").Float(),
			High:      row.Get("high").Float(),
			Low:       row.Get("low").Float(),
			Close:     row.Get("close").Float(),
			Volume:    row.Get("volume").Float(),
		})
		return true
	})
	// fmp 按日期倒序返回。
	return market.SortAscending(out), nil
}
