package backtest

import (
	"context"
	"errors"

	"cerro/internal/market"
)

// 回测运行的终态错误；调用方据此区分失败原因，核心不做自动重试。
var (
	// ErrDataUnavailable 表示请求的 symbol/区间没有任何数据。
	ErrDataUnavailable = errors.New("data unavailable")
	// ErrInvalidParameter 表示窗口、本金等入参非法。
	ErrInvalidParameter = errors.New("invalid parameter")
	// ErrInsufficientCash 仅在禁用杠杆时出现：转换所需资金超过可用余额。
	ErrInsufficientCash = errors.New("insufficient cash")
)

// Candle 为 market.Candle 的包内别名，回测内部统一使用。
type Candle = market.Candle

// FetchRequest 描述一次远端 K 线请求。
type FetchRequest struct {
	Symbol   string
	Interval string
	Start    int64 // Unix ms
	End      int64 // Unix ms（可选；0 表示不限制）
	Limit    int
}

// CandleSource 统一不同交易所/数据源的拉取行为。
// 实现须返回按 OpenTime 升序、有限且可重放的序列；
// symbol/区间无数据时返回 ErrDataUnavailable。
type CandleSource interface {
	Fetch(ctx context.Context, req FetchRequest) ([]market.Candle, error)
	Name() string
}
