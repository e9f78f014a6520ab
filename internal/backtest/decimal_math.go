package backtest

import (
	"math"

	"github.com/shopspring/decimal"
)

var decimalZero = decimal.Zero

func decFromFloat(val float64) decimal.Decimal {
	if math.IsNaN(val) || math.IsInf(val, 0) {
		return decimalZero
	}
	return decimal.NewFromFloat(val)
}

func decimalCompare(a, b float64) int {
	return decFromFloat(a).Cmp(decFromFloat(b))
}

func decimalLT(a, b float64) bool { return decimalCompare(a, b) < 0 }
func decimalGT(a, b float64) bool { return decimalCompare(a, b) > 0 }

// applyFee 以 decimal 计算 notional*rate，避免长序列上的二进制误差累积。
func applyFee(notional, rate float64) float64 {
	if notional <= 0 || rate <= 0 {
		return 0
	}
	f, _ := decFromFloat(notional).Mul(decFromFloat(rate)).Float64()
	return f
}

// slippageAdjust 按 bps 对成交价做方向性调整：买入加价、卖出减价。
func slippageAdjust(price, bps float64, buy bool) float64 {
	if price <= 0 || bps <= 0 {
		return price
	}
	slip := decFromFloat(price).Mul(decFromFloat(bps)).Div(decimal.NewFromInt(10000))
	var out decimal.Decimal
	if buy {
		out = decFromFloat(price).Add(slip)
	} else {
		out = decFromFloat(price).Sub(slip)
	}
	f, _ := out.Float64()
	return f
}
