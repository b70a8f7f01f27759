package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/whizzler-rizzler/market-maker-remixed/internal/domain"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Storage persists the bot configuration and the order audit trail. Cache
// state is deliberately not persisted; it is rebuilt from the exchange on
// every restart.
type Storage struct {
	db *gorm.DB
}

// NewStorage creates a new SQLite storage instance at the given path.
func NewStorage(path string) (*Storage, error) {
	dbDir := filepath.Dir(path)
	if err := os.MkdirAll(dbDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create DB directory: %w", err)
	}

	// Connect to SQLite (Pure Go)
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Auto Migration
	if err := db.AutoMigrate(&domain.BotConfigRecord{}, &domain.OrderAudit{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &Storage{db: db}, nil
}

// ======================================================================================
// Bot Config Operations
// ======================================================================================

// SaveBotConfig upserts the single persisted bot configuration row.
func (s *Storage) SaveBotConfig(cfg domain.BotConfig) error {
	return s.db.Save(domain.NewBotConfigRecord(cfg)).Error
}

// LoadBotConfig returns the persisted bot configuration, or
// domain.ErrConfigNotFound when none has been saved yet.
func (s *Storage) LoadBotConfig() (domain.BotConfig, error) {
	var rec domain.BotConfigRecord
	err := s.db.First(&rec, "id = ?", 1).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.BotConfig{}, domain.ErrConfigNotFound
	}
	if err != nil {
		return domain.BotConfig{}, err
	}
	return rec.Config(), nil
}

// ======================================================================================
// Order Audit Operations
// ======================================================================================

// RecordOrder appends one row to the order audit trail.
func (s *Storage) RecordOrder(audit *domain.OrderAudit) error {
	return s.db.Create(audit).Error
}

// RecentOrders returns the newest audit rows, most recent first.
func (s *Storage) RecentOrders(limit int) ([]domain.OrderAudit, error) {
	var rows []domain.OrderAudit
	err := s.db.Order("id DESC").Limit(limit).Find(&rows).Error
	return rows, err
}
