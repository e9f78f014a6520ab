package backtest

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Timeframe 描述回测使用的周期：内部 duration 与数据源侧的 interval 名。
type Timeframe struct {
	Key            string
	Duration       time.Duration
	SourceInterval string
}

func tfEntry(key string, d time.Duration, source string) Timeframe {
	return Timeframe{Key: key, Duration: d, SourceInterval: source}
}

var supportedTimeframes = map[string]Timeframe{
	"5m":  tfEntry("5m", 5*time.Minute, "5m"),
	"15m": tfEntry("15m", 15*time.Minute, "15m"),
	"30m": tfEntry("30m", 30*time.Minute, "30m"),
	"1h":  tfEntry("1h", time.Hour, "1h"),
	"4h":  tfEntry("4h", 4*time.Hour, "4h"),
	"1d":  tfEntry("1d", 24*time.Hour, "1d"),
	"3d":  tfEntry("3d", 72*time.Hour, "3d"),
	"7d":  tfEntry("7d", 7*24*time.Hour, "1w"),
}

// ParseTimeframe 返回标准化周期定义；大小写与首尾空白不敏感。
func ParseTimeframe(input string) (Timeframe, error) {
	key := strings.ToLower(strings.TrimSpace(input))
	tf, ok := supportedTimeframes[key]
	if !ok {
		return Timeframe{}, fmt.Errorf("不支持的周期 %q: %w", input, ErrInvalidParameter)
	}
	return tf, nil
}

// SupportedTimeframes 返回所有支持的 key（排序后）。
func SupportedTimeframes() []string {
	keys := make([]string, 0, len(supportedTimeframes))
	for k := range supportedTimeframes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (tf Timeframe) durationMillis() int64 {
	return tf.Duration.Milliseconds()
}

// PeriodsPerYear 返回年化缩放用的周期数；数据按 24/7 市场计。
func (tf Timeframe) PeriodsPerYear() float64 {
	if tf.Duration <= 0 {
		return 0
	}
	return float64(365*24*time.Hour) / float64(tf.Duration)
}

func alignDown(ts, step int64) int64 {
	if step <= 0 {
		return ts
	}
	rem := ts % step
	if rem < 0 {
		rem += step
	}
	return ts - rem
}

// AlignRange 将毫秒时间戳对齐到周期网格并保证 start <= end。
func (tf Timeframe) AlignRange(start, end int64) (int64, int64) {
	if end < start {
		start, end = end, start
	}
	step := tf.durationMillis()
	start, end = alignDown(start, step), alignDown(end, step)
	if end < start {
		end = start
	}
	return start, end
}

// ExpectedCandles 计算对齐后 start~end（闭区间）应有的 K 线根数。
func (tf Timeframe) ExpectedCandles(start, end int64) int64 {
	step := tf.durationMillis()
	if step <= 0 || end < start {
		return 0
	}
	return (end-start)/step + 1
}
