package backtest

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

type runModel struct {
	ID             string         `gorm:"column:id;primaryKey"`
	Symbol         string         `gorm:"column:symbol;index"`
	Strategy       string         `gorm:"column:strategy;index"`
	Status         string         `gorm:"column:status;index"`
	StartTS        int64          `gorm:"column:start_ts"`
	EndTS          int64          `gorm:"column:end_ts"`
	Timeframe      string         `gorm:"column:timeframe"`
	InitialBalance float64        `gorm:"column:initial_balance"`
	FinalBalance   float64        `gorm:"column:final_balance"`
	Profit         float64        `gorm:"column:profit"`
	ReturnPct      float64        `gorm:"column:return_pct"`
	WinRate        float64        `gorm:"column:win_rate"`
	MaxDrawdownPct float64        `gorm:"column:max_drawdown_pct"`
	Message        string         `gorm:"column:message"`
	ConfigJSON     datatypes.JSON `gorm:"column:config_json;type:TEXT"`
	StatsJSON      datatypes.JSON `gorm:"column:stats_json;type:TEXT"`
	Orders         int            `gorm:"column:orders"`
	Positions      int            `gorm:"column:positions"`
	CreatedAtUnix  int64          `gorm:"column:created_at"`
	UpdatedAtUnix  int64          `gorm:"column:updated_at"`
	CompletedUnix  int64          `gorm:"column:completed_at"`
}

func (runModel) TableName() string { return "backtest_runs" }

type orderModel struct {
	ID         int64   `gorm:"column:id;primaryKey;autoIncrement"`
	RunID      string  `gorm:"column:run_id;index"`
	Action     string  `gorm:"column:action"`
	Side       string  `gorm:"column:side"`
	Type       string  `gorm:"column:type"`
	Price      float64 `gorm:"column:price"`
	Quantity   float64 `gorm:"column:quantity"`
	Notional   float64 `gorm:"column:notional"`
	Fee        float64 `gorm:"column:fee"`
	Timeframe  string  `gorm:"column:timeframe"`
	ExecutedAt int64   `gorm:"column:executed_at"`
}

func (orderModel) TableName() string { return "backtest_orders" }

type positionModel struct {
	ID           int64   `gorm:"column:id;primaryKey;autoIncrement"`
	RunID        string  `gorm:"column:run_id;index"`
	Symbol       string  `gorm:"column:symbol"`
	Side         string  `gorm:"column:side"`
	EntryOrderID int64   `gorm:"column:entry_order_id"`
	ExitOrderID  int64   `gorm:"column:exit_order_id"`
	EntryPrice   float64 `gorm:"column:entry_price"`
	ExitPrice    float64 `gorm:"column:exit_price"`
	Quantity     float64 `gorm:"column:quantity"`
	PnL          float64 `gorm:"column:pnl"`
	PnLPct       float64 `gorm:"column:pnl_pct"`
	HoldingMs    int64   `gorm:"column:holding_ms"`
	OpenedAt     int64   `gorm:"column:opened_at"`
	ClosedAt     int64   `gorm:"column:closed_at"`
}

func (positionModel) TableName() string { return "backtest_positions" }

type snapshotModel struct {
	ID       int64   `gorm:"column:id;primaryKey;autoIncrement"`
	RunID    string  `gorm:"column:run_id;index:idx_snapshot_run_ts,priority:1"`
	TS       int64   `gorm:"column:ts;index:idx_snapshot_run_ts,priority:2"`
	Equity   float64 `gorm:"column:equity"`
	Balance  float64 `gorm:"column:balance"`
	Drawdown float64 `gorm:"column:drawdown"`
	Exposure float64 `gorm:"column:exposure"`
}

func (snapshotModel) TableName() string { return "backtest_snapshots" }

// RunStore 持久化回测任务与产物（订单、持仓、资金曲线）。
type RunStore struct {
	db *gorm.DB
}

func NewRunStore(path string) (*RunStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("run store 路径不能为空")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                                   gormlogger.Default.LogMode(gormlogger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&runModel{}, &orderModel{}, &positionModel{}, &snapshotModel{}); err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// SQLite + WAL：允许 HTTP 读与写回有限并发。
	sqlDB.SetMaxOpenConns(2)
	sqlDB.SetMaxIdleConns(2)
	return &RunStore{db: db}, nil
}

func (s *RunStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// InsertRun 落库一条新任务记录。
func (s *RunStore) InsertRun(run Run) error {
	model, err := runToModel(run)
	if err != nil {
		return err
	}
	return s.db.Create(&model).Error
}

// UpdateRunStatus 仅更新状态与提示信息。
func (s *RunStore) UpdateRunStatus(runID, status, message string) error {
	return s.db.Model(&runModel{}).
		Where("id = ?", runID).
		Updates(map[string]any{
			"status":     status,
			"message":    message,
			"updated_at": time.Now().Unix(),
		}).Error
}

// UpdateRunSummary 在回放完成后写入汇总指标。
func (s *RunStore) UpdateRunSummary(runID string, stats RunStats, status, message string) error {
	statsJSON, err := json.Marshal(stats)
	if err != nil {
		return err
	}
	now := time.Now().Unix()
	return s.db.Model(&runModel{}).
		Where("id = ?", runID).
		Updates(map[string]any{
			"status":           status,
			"message":          message,
			"final_balance":    stats.FinalBalance,
			"profit":           stats.Profit,
			"return_pct":       stats.ReturnPct,
			"win_rate":         stats.WinRate,
			"max_drawdown_pct": stats.MaxDrawdownPct,
			"orders":           stats.Orders,
			"positions":        stats.Positions,
			"stats_json":       datatypes.JSON(statsJSON),
			"updated_at":       now,
			"completed_at":     now,
		}).Error
}

// SaveArtifacts 原子写入一次回放的订单、持仓与资金曲线。
func (s *RunStore) SaveArtifacts(runID string, result *ReplayResult) error {
	if result == nil {
		return fmt.Errorf("result 不能为空")
	}
	return s.db.Transaction(func(tx *gorm.DB) error {
		orderIDs := make([]int64, len(result.Orders))
		for i, o := range result.Orders {
			m := orderModel{
				RunID:      runID,
				Action:     o.Action,
				Side:       o.Side,
				Type:       o.Type,
				Price:      o.Price,
				Quantity:   o.Quantity,
				Notional:   o.Notional,
				Fee:        o.Fee,
				Timeframe:  o.Timeframe,
				ExecutedAt: o.ExecutedAt.UnixMilli(),
			}
			if err := tx.Create(&m).Error; err != nil {
				return err
			}
			orderIDs[i] = m.ID
		}
		for _, p := range result.Positions {
			m := positionModel{
				RunID:      runID,
				Symbol:     p.Symbol,
				Side:       p.Side,
				EntryPrice: p.EntryPrice,
				ExitPrice:  p.ExitPrice,
				Quantity:   p.Quantity,
				PnL:        p.PnL,
				PnLPct:     p.PnLPct,
				HoldingMs:  p.HoldingMs,
				OpenedAt:   p.OpenedAt.UnixMilli(),
				ClosedAt:   p.ClosedAt.UnixMilli(),
			}
			// Replay 产出的 order id 是切片下标，这里换成数据库自增 id。
			if int(p.EntryOrderID) < len(orderIDs) {
				m.EntryOrderID = orderIDs[p.EntryOrderID]
			}
			if int(p.ExitOrderID) < len(orderIDs) {
				m.ExitOrderID = orderIDs[p.ExitOrderID]
			}
			if err := tx.Create(&m).Error; err != nil {
				return err
			}
		}
		if len(result.Snapshots) > 0 {
			models := make([]snapshotModel, 0, len(result.Snapshots))
			for _, snap := range result.Snapshots {
				models = append(models, snapshotModel{
					RunID:    runID,
					TS:       snap.TS,
					Equity:   snap.Equity,
					Balance:  snap.Balance,
					Drawdown: snap.Drawdown,
					Exposure: snap.Exposure,
				})
			}
			if err := tx.CreateInBatches(models, 500).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// GetRun 按 id 读取任务；不存在返回 ErrDataUnavailable。
func (s *RunStore) GetRun(runID string) (Run, error) {
	var m runModel
	if err := s.db.First(&m, "id = ?", runID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Run{}, fmt.Errorf("run %s 不存在: %w", runID, ErrDataUnavailable)
		}
		return Run{}, err
	}
	return modelToRun(m)
}

// ListRuns 倒序列出最近的任务。
func (s *RunStore) ListRuns(limit int) ([]Run, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var models []runModel
	if err := s.db.Order("created_at DESC").Limit(limit).Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]Run, 0, len(models))
	for _, m := range models {
		run, err := modelToRun(m)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, nil
}

// DeleteRun 删除任务及其所有产物。
func (s *RunStore) DeleteRun(runID string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&snapshotModel{}, "run_id = ?", runID).Error; err != nil {
			return err
		}
		if err := tx.Delete(&positionModel{}, "run_id = ?", runID).Error; err != nil {
			return err
		}
		if err := tx.Delete(&orderModel{}, "run_id = ?", runID).Error; err != nil {
			return err
		}
		return tx.Delete(&runModel{}, "id = ?", runID).Error
	})
}

// Orders 返回任务的全部订单（按执行时间升序）。
func (s *RunStore) Orders(runID string) ([]Order, error) {
	var models []orderModel
	if err := s.db.Where("run_id = ?", runID).Order("executed_at ASC, id ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]Order, 0, len(models))
	for _, m := range models {
		out = append(out, Order{
			ID:         m.ID,
			RunID:      m.RunID,
			Action:     m.Action,
			Side:       m.Side,
			Type:       m.Type,
			Price:      m.Price,
			Quantity:   m.Quantity,
			Notional:   m.Notional,
			Fee:        m.Fee,
			Timeframe:  m.Timeframe,
			ExecutedAt: time.UnixMilli(m.ExecutedAt),
		})
	}
	return out, nil
}

// Positions 返回任务的全部已平仓持仓。
func (s *RunStore) Positions(runID string) ([]Position, error) {
	var models []positionModel
	if err := s.db.Where("run_id = ?", runID).Order("opened_at ASC, id ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]Position, 0, len(models))
	for _, m := range models {
		out = append(out, Position{
			ID:           m.ID,
			RunID:        m.RunID,
			Symbol:       m.Symbol,
			Side:         m.Side,
			EntryOrderID: m.EntryOrderID,
			ExitOrderID:  m.ExitOrderID,
			EntryPrice:   m.EntryPrice,
			ExitPrice:    m.ExitPrice,
			Quantity:     m.Quantity,
			PnL:          m.PnL,
			PnLPct:       m.PnLPct,
			HoldingMs:    m.HoldingMs,
			OpenedAt:     time.UnixMilli(m.OpenedAt),
			ClosedAt:     time.UnixMilli(m.ClosedAt),
		})
	}
	return out, nil
}

// Snapshots 返回资金曲线（按时间升序）。
func (s *RunStore) Snapshots(runID string) ([]Snapshot, error) {
	var models []snapshotModel
	if err := s.db.Where("run_id = ?", runID).Order("ts ASC, id ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]Snapshot, 0, len(models))
	for _, m := range models {
		out = append(out, Snapshot{
			ID:       m.ID,
			RunID:    m.RunID,
			TS:       m.TS,
			Equity:   m.Equity,
			Balance:  m.Balance,
			Drawdown: m.Drawdown,
			Exposure: m.Exposure,
		})
	}
	return out, nil
}

func runToModel(run Run) (runModel, error) {
	configJSON, err := json.Marshal(run.Config)
	if err != nil {
		return runModel{}, err
	}
	statsJSON, err := json.Marshal(run.Stats)
	if err != nil {
		return runModel{}, err
	}
	model := runModel{
		ID:             run.ID,
		Symbol:         run.Symbol,
		Strategy:       run.Strategy,
		Status:         run.Status,
		StartTS:        run.StartTS,
		EndTS:          run.EndTS,
		Timeframe:      run.Timeframe,
		InitialBalance: run.InitialBalance,
		FinalBalance:   run.FinalBalance,
		Profit:         run.Profit,
		ReturnPct:      run.ReturnPct,
		WinRate:        run.WinRate,
		MaxDrawdownPct: run.MaxDrawdownPct,
		Message:        run.Message,
		ConfigJSON:     datatypes.JSON(configJSON),
		StatsJSON:      datatypes.JSON(statsJSON),
		Orders:         run.Orders,
		Positions:      run.Positions,
		CreatedAtUnix:  run.CreatedAt.Unix(),
		UpdatedAtUnix:  run.UpdatedAt.Unix(),
	}
	if !run.CompletedAt.IsZero() {
		model.CompletedUnix = run.CompletedAt.Unix()
	}
	return model, nil
}

func modelToRun(m runModel) (Run, error) {
	run := Run{
		ID:             m.ID,
		Symbol:         m.Symbol,
		Strategy:       m.Strategy,
		Status:         m.Status,
		StartTS:        m.StartTS,
		EndTS:          m.EndTS,
		Timeframe:      m.Timeframe,
		InitialBalance: m.InitialBalance,
		FinalBalance:   m.FinalBalance,
		Profit:         m.Profit,
		ReturnPct:      m.ReturnPct,
		WinRate:        m.WinRate,
		MaxDrawdownPct: m.MaxDrawdownPct,
		Message:        m.Message,
		Orders:         m.Orders,
		Positions:      m.Positions,
		CreatedAt:      time.Unix(m.CreatedAtUnix, 0),
		UpdatedAt:      time.Unix(m.UpdatedAtUnix, 0),
	}
	if m.CompletedUnix > 0 {
		run.CompletedAt = time.Unix(m.CompletedUnix, 0)
	}
	if len(m.ConfigJSON) > 0 {
		if err := json.Unmarshal(m.ConfigJSON, &run.Config); err != nil {
			return Run{}, err
		}
	}
	if len(m.StatsJSON) > 0 {
		if err := json.Unmarshal(m.StatsJSON, &run.Stats); err != nil {
			return Run{}, err
		}
	}
	return run, nil
}
