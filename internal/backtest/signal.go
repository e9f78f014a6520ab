package backtest

import (
	"fmt"

	talib "github.com/markcheno/go-talib"

	"cerro/internal/market"
)

// Signal 表示某根 K 线上的方向指令。
type Signal int

const (
	SignalFlat Signal = iota
	SignalLong
	SignalShort
)

func (s Signal) String() string {
	switch s {
	case SignalLong:
		return "long"
	case SignalShort:
		return "short"
	default:
		return "flat"
	}
}

// CrossoverSignals 基于收盘价与 SMA(window) 的相对位置生成信号。
// 纯函数：相同输入恒产出相同输出；idx < window 一律 FLAT；
// window >= 序列长度时全 FLAT。idx 处的信号只依赖 candles[0..idx]。
func CrossoverSignals(candles []market.Candle, window int) ([]Signal, error) {
	if window <= 0 {
		return nil, fmt.Errorf("窗口必须为正整数，得到 %d: %w", window, ErrInvalidParameter)
	}
	signals := make([]Signal, len(candles))
	if window >= len(candles) {
		return signals, nil
	}
	closes := market.Closes(candles)
	// talib.Sma 在 idx >= window-1 处给出覆盖 [idx-window+1, idx] 的均值，
	// 不引入任何未来数据。
	sma := talib.Sma(closes, window)
	for i := window; i < len(candles); i++ {
		switch {
		case closes[i] > sma[i]:
			signals[i] = SignalLong
		case closes[i] < sma[i]:
			signals[i] = SignalShort
		default:
			signals[i] = SignalFlat
		}
	}
	return signals, nil
}

// PrevDayLevelSignals 按前一 UTC 交易日的最高/最低价生成突破信号：
// 收盘上破 PDH 做多、下破 PDL 做空，区间内 FLAT。
// 第一天没有前日参照，整日 FLAT；同样不依赖任何未来数据。
func PrevDayLevelSignals(candles []market.Candle) []Signal {
	signals := make([]Signal, len(candles))
	const dayMs = int64(24 * 60 * 60 * 1000)

	var (
		curDay     int64 = -1
		curHigh    float64
		curLow     float64
		prevHigh   float64
		prevLow    float64
		hasPrevDay bool
	)
	for i, c := range candles {
		day := c.OpenTime / dayMs
		if day != curDay {
			if curDay >= 0 {
				prevHigh, prevLow = curHigh, curLow
				hasPrevDay = true
			}
			curDay = day
			curHigh, curLow = c.High, c.Low
		} else {
			if c.High > curHigh {
				curHigh = c.High
			}
			if c.Low < curLow {
				curLow = c.Low
			}
		}
		if !hasPrevDay {
			continue
		}
		switch {
		case decimalGT(c.Close, prevHigh):
			signals[i] = SignalLong
		case decimalLT(c.Close, prevLow):
			signals[i] = SignalShort
		}
	}
	return signals
}
