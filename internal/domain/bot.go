package domain

import "time"

// BotConfig holds the quote engine's trading parameters. Mutable only while
// the engine is stopped.
type BotConfig struct {
	Market             string  `json:"market" yaml:"market"`
	SpreadPct          float64 `json:"spread_percentage" yaml:"spread_percentage"`
	OrderSize          string  `json:"order_size" yaml:"order_size"`
	RefreshIntervalSec int     `json:"refresh_interval" yaml:"refresh_interval_sec"`
	PriceMoveThreshold float64 `json:"price_move_threshold" yaml:"price_move_threshold"`
}

// BotConfigRecord is the persisted form of BotConfig. A single row (ID=1)
// survives restarts; the cache itself is always rebuilt from the exchange.
type BotConfigRecord struct {
	ID                 uint      `gorm:"primaryKey" json:"-"`
	Market             string    `json:"market"`
	SpreadPct          float64   `json:"spread_percentage"`
	OrderSize          string    `json:"order_size"`
	RefreshIntervalSec int       `json:"refresh_interval"`
	PriceMoveThreshold float64   `json:"price_move_threshold"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// Config converts the record back to its in-memory form.
func (r *BotConfigRecord) Config() BotConfig {
	return BotConfig{
		Market:             r.Market,
		SpreadPct:          r.SpreadPct,
		OrderSize:          r.OrderSize,
		RefreshIntervalSec: r.RefreshIntervalSec,
		PriceMoveThreshold: r.PriceMoveThreshold,
	}
}

// NewBotConfigRecord builds the single persisted row for cfg.
func NewBotConfigRecord(cfg BotConfig) *BotConfigRecord {
	return &BotConfigRecord{
		ID:                 1,
		Market:             cfg.Market,
		SpreadPct:          cfg.SpreadPct,
		OrderSize:          cfg.OrderSize,
		RefreshIntervalSec: cfg.RefreshIntervalSec,
		PriceMoveThreshold: cfg.PriceMoveThreshold,
	}
}

// OrderAudit is one row of the order audit trail written by the gateway.
type OrderAudit struct {
	ID         uint      `gorm:"primaryKey" json:"-"`
	OrderID    string    `gorm:"index" json:"order_id"`
	Market     string    `json:"market"`
	Side       string    `json:"side"`
	Price      string    `json:"price"`
	Size       string    `json:"size"`
	Action     string    `gorm:"index" json:"action"` // "create" or "cancel"
	Success    bool      `json:"success"`
	StatusCode int       `json:"status_code"`
	CreatedAt  time.Time `json:"created_at"`
}

const (
	AuditActionCreate = "create"
	AuditActionCancel = "cancel"
)
