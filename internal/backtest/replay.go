package backtest

import (
	"fmt"
	"time"
)

// ReplayConfig 描述一次同步回放所需的全部参数。
type ReplayConfig struct {
	Symbol         string
	Timeframe      Timeframe
	InitialBalance float64
	FeeRate        float64
	SlippageBps    float64
	PositionPct    float64
	Leverage       int
	AllowLeverage  bool
	CloseOnFinish  bool
}

// ReplayResult 为一次回放的完整产物；资金曲线长度恒等于 K 线数量。
type ReplayResult struct {
	Snapshots []Snapshot
	Orders    []Order
	Positions []Position
	Stats     RunStats
	Report    Report
}

type positionState struct {
	side        string
	entryPrice  float64
	qty         float64
	entryTime   int64
	entryOrder  int
	entryNotion float64
}

type portfolioState struct {
	initialBalance float64
	balance        float64
	feeRate        float64
	slippageBps    float64
	position       *positionState
	wins           int
	losses         int
	peakEquity     float64
	maxDrawdown    float64
}

func (p *portfolioState) unrealizedPnL(price float64) float64 {
	if p.position == nil {
		return 0
	}
	if p.position.side == "long" {
		return (price - p.position.entryPrice) * p.position.qty
	}
	return (p.position.entryPrice - price) * p.position.qty
}

func (p *portfolioState) equity(price float64) float64 {
	return p.balance + p.unrealizedPnL(price)
}

// Replay 将信号序列逐根推演为资金曲线。确定性：相同输入恒产出相同结果。
// 状态机 {FLAT, LONG, SHORT} 由当根信号驱动；每次转换按成交名义金额收取
// 费率与滑点；末根 K 线上未平仓位默认按市价计值，CloseOnFinish 时强制平仓。
func Replay(candles []Candle, signals []Signal, cfg ReplayConfig) (*ReplayResult, error) {
	if len(candles) == 0 {
		return nil, fmt.Errorf("回放区间没有 K 线: %w", ErrDataUnavailable)
	}
	if len(signals) != len(candles) {
		return nil, fmt.Errorf("信号数 %d 与 K 线数 %d 不一致: %w", len(signals), len(candles), ErrInvalidParameter)
	}
	if cfg.InitialBalance <= 0 {
		return nil, fmt.Errorf("初始资金必须为正，得到 %v: %w", cfg.InitialBalance, ErrInvalidParameter)
	}
	if cfg.PositionPct <= 0 || cfg.PositionPct > 1 {
		return nil, fmt.Errorf("仓位比例需在 (0,1]，得到 %v: %w", cfg.PositionPct, ErrInvalidParameter)
	}
	if cfg.Leverage < 1 {
		cfg.Leverage = 1
	}

	state := &portfolioState{
		initialBalance: cfg.InitialBalance,
		balance:        cfg.InitialBalance,
		feeRate:        cfg.FeeRate,
		slippageBps:    cfg.SlippageBps,
		peakEquity:     cfg.InitialBalance,
	}
	res := &ReplayResult{
		Snapshots: make([]Snapshot, 0, len(candles)),
	}

	for i, candle := range candles {
		target := sideOf(signals[i])
		if state.position != nil && state.position.side != target {
			closePosition(state, res, cfg, candle)
		}
		if target != "" && state.position == nil {
			if err := openPosition(state, res, cfg, candle, target); err != nil {
				return nil, err
			}
		}
		recordSnapshot(state, res, candle)
	}

	if state.position != nil && cfg.CloseOnFinish {
		closePosition(state, res, cfg, candles[len(candles)-1])
	}

	res.Report = Summarize(res.Snapshots, cfg.Timeframe)
	res.Stats = summarizeStats(state, res)
	return res, nil
}

func sideOf(s Signal) string {
	switch s {
	case SignalLong:
		return "long"
	case SignalShort:
		return "short"
	default:
		return ""
	}
}

func openPosition(state *portfolioState, res *ReplayResult, cfg ReplayConfig, candle Candle, side string) error {
	price := slippageAdjust(candle.Close, cfg.SlippageBps, side == "long")
	if price <= 0 {
		return nil
	}
	notional := state.balance * cfg.PositionPct * float64(cfg.Leverage)
	if notional <= 0 {
		return nil
	}
	fee := applyFee(notional, state.feeRate)
	if !cfg.AllowLeverage && notional+fee > state.balance {
		return fmt.Errorf("开仓需要 %.2f，可用 %.2f（ts=%d）: %w",
			notional+fee, state.balance, candle.CloseTime, ErrInsufficientCash)
	}
	state.balance -= fee

	order := Order{
		Action:     "open_" + side,
		Side:       side,
		Type:       "market",
		Price:      price,
		Quantity:   notional / price,
		Notional:   notional,
		Fee:        fee,
		Timeframe:  cfg.Timeframe.Key,
		ExecutedAt: time.UnixMilli(candle.CloseTime),
	}
	res.Orders = append(res.Orders, order)
	state.position = &positionState{
		side:        side,
		entryPrice:  price,
		qty:         order.Quantity,
		entryTime:   candle.CloseTime,
		entryOrder:  len(res.Orders) - 1,
		entryNotion: notional,
	}
	return nil
}

func closePosition(state *portfolioState, res *ReplayResult, cfg ReplayConfig, candle Candle) {
	pos := state.position
	if pos == nil {
		return
	}
	price := slippageAdjust(candle.Close, cfg.SlippageBps, pos.side != "long")
	fee := applyFee(pos.qty*price, state.feeRate)
	pnl := state.unrealizedPnL(price)
	state.balance += pnl - fee

	order := Order{
		Action:     "close_" + pos.side,
		Side:       pos.side,
		Type:       "market",
		Price:      price,
		Quantity:   pos.qty,
		Notional:   pos.qty * price,
		Fee:        fee,
		Timeframe:  cfg.Timeframe.Key,
		ExecutedAt: time.UnixMilli(candle.CloseTime),
	}
	res.Orders = append(res.Orders, order)

	position := Position{
		Symbol:       cfg.Symbol,
		Side:         pos.side,
		EntryOrderID: int64(pos.entryOrder),
		ExitOrderID:  int64(len(res.Orders) - 1),
		EntryPrice:   pos.entryPrice,
		ExitPrice:    price,
		Quantity:     pos.qty,
		PnL:          pnl - fee,
		HoldingMs:    candle.CloseTime - pos.entryTime,
		OpenedAt:     time.UnixMilli(pos.entryTime),
		ClosedAt:     time.UnixMilli(candle.CloseTime),
	}
	if pos.entryNotion > 0 {
		position.PnLPct = position.PnL / pos.entryNotion
	}
	if position.PnL >= 0 {
		state.wins++
	} else {
		state.losses++
	}
	res.Positions = append(res.Positions, position)
	state.position = nil
}

func recordSnapshot(state *portfolioState, res *ReplayResult, candle Candle) {
	equity := state.equity(candle.Close)
	if equity > state.peakEquity {
		state.peakEquity = equity
	}
	if state.peakEquity > 0 {
		dd := (state.peakEquity - equity) / state.peakEquity
		if dd > state.maxDrawdown {
			state.maxDrawdown = dd
		}
	}
	exposure := 0.0
	if state.position != nil && state.initialBalance > 0 {
		exposure = state.position.entryNotion / state.initialBalance
	}
	res.Snapshots = append(res.Snapshots, Snapshot{
		TS:       candle.CloseTime,
		Equity:   equity,
		Balance:  state.balance,
		Drawdown: state.maxDrawdown,
		Exposure: exposure,
	})
}

func summarizeStats(state *portfolioState, res *ReplayResult) RunStats {
	total := len(res.Positions)
	winRate := 0.0
	if total > 0 {
		winRate = float64(state.wins) / float64(total)
	}
	return RunStats{
		FinalBalance:   state.balance,
		FinalEquity:    res.Report.FinalEquity,
		Profit:         res.Report.FinalEquity - state.initialBalance,
		ReturnPct:      res.Report.TotalReturn,
		AnnualVolPct:   res.Report.AnnualizedVol,
		WinRate:        winRate,
		MaxDrawdownPct: res.Report.MaxDrawdown,
		Orders:         len(res.Orders),
		Positions:      total,
		Wins:           state.wins,
		Losses:         state.losses,
		Snapshots:      len(res.Snapshots),
		EquityPeak:     res.Report.EquityPeak,
		EquityValley:   res.Report.EquityValley,
	}
}
