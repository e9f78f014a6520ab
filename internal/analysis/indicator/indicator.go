package indicator

import (
	"fmt"
	"math"

	"github.com/markcheno/go-talib"

	"cerro/internal/market"
)

// Settings 描述计算指标所需的最小配置。
type Settings struct {
	Symbol   string
	Interval string
	SMA      int
	EMA      int
	RSI      RSISettings
}

// RSISettings 描述 RSI 指标参数。
type RSISettings struct {
	Period     int     `json:"period,omitempty"`
	Oversold   float64 `json:"oversold,omitempty"`
	Overbought float64 `json:"overbought,omitempty"`
}

// Value 保存单个指标的最新值、序列与状态。
type Value struct {
	Latest float64   `json:"latest"`
	Series []float64 `json:"series,omitempty"`
	State  string    `json:"state,omitempty"`
	Note   string    `json:"note,omitempty"`
}

// Report 汇总单个 symbol+interval 的指标输出。
type Report struct {
	Symbol   string           `json:"symbol"`
	Interval string           `json:"interval"`
	Count    int              `json:"count"`
	Values   map[string]Value `json:"values"`
}

// ComputeAll 计算 SMA/EMA/RSI 并返回结构化报告。
func ComputeAll(candles []market.Candle, cfg Settings) (Report, error) {
	rep := Report{
		Symbol:   cfg.Symbol,
		Interval: cfg.Interval,
		Count:    len(candles),
		Values:   make(map[string]Value),
	}
	if len(candles) == 0 {
		return rep, fmt.Errorf("no candles")
	}
	closes := make([]float64, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
	}
	lastClose := closes[len(closes)-1]

	if cfg.SMA <= 0 {
		cfg.SMA = 20
	}
	if cfg.SMA < len(closes) {
		sma := sanitizeSeries(talib.Sma(closes, cfg.SMA))
		rep.Values["sma"] = Value{
			Latest: lastValid(sma),
			Series: sma,
			State:  relativeState(lastClose, lastValid(sma)),
			Note:   fmt.Sprintf("SMA%d vs price", cfg.SMA),
		}
	}

	if cfg.EMA <= 0 {
		cfg.EMA = 50
	}
	if cfg.EMA < len(closes) {
		ema := sanitizeSeries(talib.Ema(closes, cfg.EMA))
		rep.Values["ema"] = Value{
			Latest: lastValid(ema),
			Series: ema,
			State:  relativeState(lastClose, lastValid(ema)),
			Note:   fmt.Sprintf("EMA%d vs price", cfg.EMA),
		}
	}

	if cfg.RSI.Period <= 0 {
		cfg.RSI.Period = 14
	}
	if cfg.RSI.Overbought == 0 {
		cfg.RSI.Overbought = 70
	}
	if cfg.RSI.Oversold == 0 {
		cfg.RSI.Oversold = 30
	}
	if cfg.RSI.Period < len(closes) {
		rsi := sanitizeSeries(talib.Rsi(closes, cfg.RSI.Period))
		latest := lastValid(rsi)
		state := "neutral"
		switch {
		case latest >= cfg.RSI.Overbought:
			state = "overbought"
		case latest <= cfg.RSI.Oversold:
			state = "oversold"
		}
		rep.Values["rsi"] = Value{
			Latest: latest,
			Series: rsi,
			State:  state,
			Note:   fmt.Sprintf("RSI%d", cfg.RSI.Period),
		}
	}
	return rep, nil
}

// sanitizeSeries 将前导零值替换为 NaN，避免画图时把 warmup 段画成折线。
func sanitizeSeries(series []float64) []float64 {
	out := make([]float64, len(series))
	leading := true
	for i, v := range series {
		if leading && v == 0 {
			out[i] = math.NaN()
			continue
		}
		leading = false
		out[i] = v
	}
	return out
}

func lastValid(series []float64) float64 {
	for i := len(series) - 1; i >= 0; i-- {
		if !math.IsNaN(series[i]) {
			return series[i]
		}
	}
	return 0
}

func relativeState(price, ref float64) string {
	switch {
	case ref == 0 || math.IsNaN(ref):
		return "unknown"
	case price > ref:
		return "above"
	case price < ref:
		return "below"
	default:
		return "at"
	}
}
