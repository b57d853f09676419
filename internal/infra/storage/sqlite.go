// Package storage holds the SQLite audit archive. Terminal orders are
// copied here after a grace period so the in-memory store stays small
// while the full lifecycle remains queryable.
package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"trigger_go/internal/domain"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// OrderArchive persists terminal order records.
type OrderArchive struct {
	db *gorm.DB
}

// NewOrderArchive opens (or creates) the archive database at path.
func NewOrderArchive(path string) (*OrderArchive, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create archive directory: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open archive database: %w", err)
	}

	if err := db.AutoMigrate(&domain.ArchivedOrder{}); err != nil {
		return nil, fmt.Errorf("failed to migrate archive database: %w", err)
	}

	return &OrderArchive{db: db}, nil
}

// SaveOrder upserts one terminal order. Re-archiving the same order id
// overwrites the row, so sweeps are idempotent.
func (a *OrderArchive) SaveOrder(rec domain.OrderRecord) error {
	row := toArchivedOrder(rec)
	return a.db.Save(&row).Error
}

// GetOrder retrieves one archived order. A missing order is not an
// error; the pointer is nil.
func (a *OrderArchive) GetOrder(orderID string) (*domain.ArchivedOrder, error) {
	var row domain.ArchivedOrder
	err := a.db.First(&row, "order_id = ?", orderID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// ListBySymbol returns archived orders for one symbol, newest first.
func (a *OrderArchive) ListBySymbol(symbol string, limit int) ([]domain.ArchivedOrder, error) {
	var rows []domain.ArchivedOrder
	err := a.db.Where("symbol = ?", symbol).
		Order("updated_at DESC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

// ListFlagged returns orders archived with the reconciliation flag set.
func (a *OrderArchive) ListFlagged() ([]domain.ArchivedOrder, error) {
	var rows []domain.ArchivedOrder
	err := a.db.Where("needs_reconciliation = ?", true).Find(&rows).Error
	return rows, err
}

// Close releases the underlying connection.
func (a *OrderArchive) Close() error {
	sqlDB, err := a.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func toArchivedOrder(rec domain.OrderRecord) domain.ArchivedOrder {
	return domain.ArchivedOrder{
		OrderID:             rec.OrderID,
		Symbol:              rec.Symbol,
		Side:                string(rec.Side),
		RequestedQty:        rec.RequestedQty.String(),
		FilledQty:           rec.FilledQty.String(),
		AvgFillPrice:        rec.AvgFillPrice.String(),
		State:               string(rec.State),
		LastEventSequence:   rec.LastEventSequence,
		NeedsReconciliation: rec.NeedsReconciliation,
		CreatedAt:           rec.CreatedAt,
		UpdatedAt:           rec.UpdatedAt,
		ArchivedAt:          time.Now(),
	}
}
