package market

import (
	"fmt"
	"sort"
)

// Candle 表示单根 K 线（毫秒时间戳，OHLCV）。
// 一旦生成即视为不可变；序列约定按 OpenTime 严格递增且无重复。
type Candle struct {
	OpenTime  int64   `json:"open_time"`
	CloseTime int64   `json:"close_time"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
	Trades    int64   `json:"trades"`
}

// Closes 提取收盘价序列。
func Closes(candles []Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Close
	}
	return out
}

// EnsureAscending 校验序列按 OpenTime 严格递增（无重复）。
func EnsureAscending(candles []Candle) error {
	for i := 1; i < len(candles); i++ {
		if candles[i].OpenTime <= candles[i-1].OpenTime {
			return fmt.Errorf("K 线序列在 idx=%d 处乱序或重复（%d <= %d）", i, candles[i].OpenTime, candles[i-1].OpenTime)
		}
	}
	return nil
}

// SortAscending 原地按 OpenTime 升序排序并去重，供数据源在返回前整理。
func SortAscending(candles []Candle) []Candle {
	sort.Slice(candles, func(i, j int) bool { return candles[i].OpenTime < candles[j].OpenTime })
	out := candles[:0]
	var last int64 = -1
	for _, c := range candles {
		if c.OpenTime == last {
			continue
		}
		out = append(out, c)
		last = c.OpenTime
	}
	return out
}
