// Package gormstore persists fills and ledger snapshots with Gorm + SQLite,
// so grid activity survives restarts and stays inspectable over HTTP.
package gormstore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"gridbot/internal/engine"
	"gridbot/internal/gateway/exchange"
)

// TradeStore implements engine.Recorder plus the read side for the API.
type TradeStore struct {
	db *gorm.DB
}

func NewTradeStore(path string) (*TradeStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("trade store: 数据库路径不能为空")
	}
	if err := ensureDir(path); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                                   logger.Default.LogMode(logger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&fillModel{}, &ledgerSnapshotModel{}); err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// SQLite + WAL: allow a small amount of parallelism for concurrent HTTP
	// reads while keeping lock contention low.
	sqlDB.SetMaxOpenConns(2)
	sqlDB.SetMaxIdleConns(2)
	return &TradeStore{db: db}, nil
}

func (s *TradeStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

var _ engine.Recorder = (*TradeStore)(nil)

// RecordFill appends one filled order. Re-recording the same (symbol,
// order_id) is a no-op so reconciliation retries stay idempotent.
func (s *TradeStore) RecordFill(ctx context.Context, fill engine.FillRecord) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("trade store 未初始化")
	}
	if fill.OrderID <= 0 {
		return fmt.Errorf("order_id 必填")
	}
	model := fillModel{
		Symbol:    strings.ToUpper(strings.TrimSpace(fill.Symbol)),
		OrderID:   fill.OrderID,
		Side:      string(fill.Side),
		Price:     fill.Price,
		Quantity:  fill.Quantity,
		FilledAt:  fill.FilledAt.UnixMilli(),
		CreatedAt: time.Now().UnixMilli(),
	}
	res := s.db.WithContext(ctx).
		Where("symbol = ? AND order_id = ?", model.Symbol, model.OrderID).
		FirstOrCreate(&model)
	return res.Error
}

func (s *TradeStore) RecentFills(ctx context.Context, symbol string, limit int) ([]engine.FillRecord, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("trade store 未初始化")
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	query := s.db.WithContext(ctx).Model(&fillModel{})
	if sym := strings.ToUpper(strings.TrimSpace(symbol)); sym != "" {
		query = query.Where("symbol = ?", sym)
	}
	var models []fillModel
	if err := query.Order("filled_at DESC, id DESC").Limit(limit).Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]engine.FillRecord, 0, len(models))
	for _, m := range models {
		out = append(out, fillModelToRecord(m))
	}
	return out, nil
}

// SaveLedgerSnapshot persists the current pair map for a symbol, one row
// per save; the latest row is the recovery/inspection point.
func (s *TradeStore) SaveLedgerSnapshot(ctx context.Context, symbol string, pairs []engine.PairView) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("trade store 未初始化")
	}
	payload, err := json.Marshal(pairs)
	if err != nil {
		return err
	}
	model := ledgerSnapshotModel{
		Symbol:    strings.ToUpper(strings.TrimSpace(symbol)),
		Pairs:     datatypes.JSON(payload),
		CreatedAt: time.Now().UnixMilli(),
	}
	return s.db.WithContext(ctx).Create(&model).Error
}

func (s *TradeStore) LatestLedgerSnapshot(ctx context.Context, symbol string) ([]engine.PairView, time.Time, error) {
	if s == nil || s.db == nil {
		return nil, time.Time{}, fmt.Errorf("trade store 未初始化")
	}
	var model ledgerSnapshotModel
	err := s.db.WithContext(ctx).
		Where("symbol = ?", strings.ToUpper(strings.TrimSpace(symbol))).
		Order("created_at DESC, id DESC").
		First(&model).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, time.Time{}, nil
		}
		return nil, time.Time{}, err
	}
	var pairs []engine.PairView
	if err := json.Unmarshal(model.Pairs, &pairs); err != nil {
		return nil, time.Time{}, err
	}
	return pairs, time.UnixMilli(model.CreatedAt), nil
}

type fillModel struct {
	ID        int64   `gorm:"column:id;primaryKey"`
	Symbol    string  `gorm:"column:symbol;index:idx_fills_symbol_order,unique"`
	OrderID   int64   `gorm:"column:order_id;index:idx_fills_symbol_order,unique"`
	Side      string  `gorm:"column:side"`
	Price     float64 `gorm:"column:price"`
	Quantity  float64 `gorm:"column:quantity"`
	FilledAt  int64   `gorm:"column:filled_at;index"`
	CreatedAt int64   `gorm:"column:created_at"`
}

func (fillModel) TableName() string { return "fills" }

type ledgerSnapshotModel struct {
	ID        int64          `gorm:"column:id;primaryKey"`
	Symbol    string         `gorm:"column:symbol;index"`
	Pairs     datatypes.JSON `gorm:"column:pairs"`
	CreatedAt int64          `gorm:"column:created_at;index"`
}

func (ledgerSnapshotModel) TableName() string { return "ledger_snapshots" }

func fillModelToRecord(m fillModel) engine.FillRecord {
	return engine.FillRecord{
		Symbol:   m.Symbol,
		OrderID:  m.OrderID,
		Side:     sideFromString(m.Side),
		Price:    m.Price,
		Quantity: m.Quantity,
		FilledAt: time.UnixMilli(m.FilledAt),
	}
}

func sideFromString(s string) exchange.Side {
	if strings.EqualFold(s, string(exchange.SideSell)) {
		return exchange.SideSell
	}
	return exchange.SideBuy
}

func ensureDir(path string) error {
	last := strings.LastIndexAny(path, "/\\")
	if last <= 0 {
		return nil
	}
	return os.MkdirAll(path[:last], 0o755)
}
