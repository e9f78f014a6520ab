package backtest

import (
	"encoding/json"
	"time"
)

const (
	RunStatusPending = "pending"
	RunStatusRunning = "running"
	RunStatusDone    = "done"
	RunStatusFailed  = "failed"
)

// RunConfig 记录本次模拟的参数快照，便于重放。
type RunConfig struct {
	Symbol         string          `json:"symbol"`
	Timeframe      string          `json:"timeframe"`
	StartTS        int64           `json:"start_ts"`
	EndTS          int64           `json:"end_ts"`
	Strategy       string          `json:"strategy"`
	Params         json.RawMessage `json:"params,omitempty"`
	InitialBalance float64         `json:"initial_balance"`
	FeeRate        float64         `json:"fee_rate"`
	SlippageBps    float64         `json:"slippage_bps"`
	PositionPct    float64         `json:"position_pct"`
	Leverage       int             `json:"leverage"`
	AllowLeverage  bool            `json:"allow_leverage"`
	CloseOnFinish  bool            `json:"close_on_finish"`
	Notes          string          `json:"notes,omitempty"`
}

// RunStats 汇总收益、风控指标，供前端展示。
type RunStats struct {
	FinalBalance   float64   `json:"final_balance"`
	FinalEquity    float64   `json:"final_equity"`
	Profit         float64   `json:"profit"`
	ReturnPct      float64   `json:"return_pct"`
	AnnualVolPct   float64   `json:"annual_vol_pct"`
	WinRate        float64   `json:"win_rate"`
	MaxDrawdownPct float64   `json:"max_drawdown_pct"`
	Orders         int       `json:"orders"`
	Positions      int       `json:"positions"`
	Wins           int       `json:"wins"`
	Losses         int       `json:"losses"`
	Snapshots      int       `json:"snapshots"`
	EquityPeak     float64   `json:"equity_peak"`
	EquityValley   float64   `json:"equity_valley"`
	FinishedAt     time.Time `json:"finished_at"`
}

// Run 表示一次模拟任务。
type Run struct {
	ID             string    `json:"id"`
	Symbol         string    `json:"symbol"`
	Strategy       string    `json:"strategy"`
	Status         string    `json:"status"`
	StartTS        int64     `json:"start_ts"`
	EndTS          int64     `json:"end_ts"`
	Timeframe      string    `json:"timeframe"`
	InitialBalance float64   `json:"initial_balance"`
	FinalBalance   float64   `json:"final_balance"`
	Profit         float64   `json:"profit"`
	ReturnPct      float64   `json:"return_pct"`
	WinRate        float64   `json:"win_rate"`
	MaxDrawdownPct float64   `json:"max_drawdown_pct"`
	Message        string    `json:"message"`
	Config         RunConfig `json:"config"`
	Stats          RunStats  `json:"stats"`
	Orders         int       `json:"orders"`
	Positions      int       `json:"positions"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
	CompletedAt    time.Time `json:"completed_at"`
}

// Order 记录一次模拟下单行为（开仓/平仓）。
type Order struct {
	ID         int64     `json:"id"`
	RunID      string    `json:"run_id"`
	Action     string    `json:"action"` // open_long/close_long/open_short/close_short
	Side       string    `json:"side"`   // long/short
	Type       string    `json:"type"`   // 目前仅支持市价
	Price      float64   `json:"price"`
	Quantity   float64   `json:"quantity"`
	Notional   float64   `json:"notional"`
	Fee        float64   `json:"fee"`
	Timeframe  string    `json:"timeframe"`
	ExecutedAt time.Time `json:"executed_at"`
}

// Position 记录一次完整持仓的盈亏。
type Position struct {
	ID           int64     `json:"id"`
	RunID        string    `json:"run_id"`
	Symbol       string    `json:"symbol"`
	Side         string    `json:"side"`
	EntryOrderID int64     `json:"entry_order_id"`
	ExitOrderID  int64     `json:"exit_order_id"`
	EntryPrice   float64   `json:"entry_price"`
	ExitPrice    float64   `json:"exit_price"`
	Quantity     float64   `json:"quantity"`
	PnL          float64   `json:"pnl"`
	PnLPct       float64   `json:"pnl_pct"`
	HoldingMs    int64     `json:"holding_ms"`
	OpenedAt     time.Time `json:"opened_at"`
	ClosedAt     time.Time `json:"closed_at"`
}

// Snapshot 保存资金曲线上的一个点；每根 K 线恰好一条。
type Snapshot struct {
	ID       int64   `json:"id"`
	RunID    string  `json:"run_id"`
	TS       int64   `json:"ts"`
	Equity   float64 `json:"equity"`
	Balance  float64 `json:"balance"`
	Drawdown float64 `json:"drawdown"`
	Exposure float64 `json:"exposure"`
}

// RunRequest 为 HTTP 提交使用。
// FeeRate/SlippageBps 用指针承载：nil 表示未填（走默认），显式 0 表示零费率/零滑点。
type RunRequest struct {
	Symbol         string          `json:"symbol" binding:"required"`
	Timeframe      string          `json:"timeframe"`
	StartTS        int64           `json:"start_ts" binding:"required"`
	EndTS          int64           `json:"end_ts" binding:"required"`
	Strategy       string          `json:"strategy"`
	Params         json.RawMessage `json:"params"`
	InitialBalance float64         `json:"initial_balance"`
	FeeRate        *float64        `json:"fee_rate,omitempty"`
	SlippageBps    *float64        `json:"slippage_bps,omitempty"`
	PositionPct    float64         `json:"position_pct"`
	Leverage       int             `json:"leverage"`
	AllowLeverage  bool            `json:"allow_leverage"`
	CloseOnFinish  bool            `json:"close_on_finish"`
}
