package storage

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/web3guy0/combobot/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// AUDIT STORE - Heartbeats, trade records, eval decisions
// ═══════════════════════════════════════════════════════════════════════════════
//
// Every write is best-effort: a database outage degrades auditing, never
// trading. Heartbeats upsert a fixed key; trades and eval decisions are
// append-only.
//
// ═══════════════════════════════════════════════════════════════════════════════

const (
	heartbeatKey = "last_tick"
	lastTradeKey = "last_trade"
)

// Models

// EngineState is the key/JSON heartbeat table
type EngineState struct {
	Key       string `gorm:"primaryKey"`
	Value     string
	UpdatedAt time.Time
}

// TradeLog is one execution attempt, append-only
type TradeLog struct {
	ID               uint   `gorm:"primaryKey;autoIncrement"`
	ConditionID      string `gorm:"index"`
	Symbol           string `gorm:"index"`
	TradeType        string // first_leg, second_leg_pair_complete, adding_to_position
	Side             string
	AmountUSD        decimal.Decimal `gorm:"type:decimal(20,6)"`
	Shares           decimal.Decimal `gorm:"type:decimal(20,6)"`
	Price            decimal.Decimal `gorm:"type:decimal(10,6)"`
	AvgUpCostAfter   decimal.Decimal `gorm:"type:decimal(10,6)"`
	AvgDownCostAfter decimal.Decimal `gorm:"type:decimal(10,6)"`
	PairCostAfter    decimal.Decimal `gorm:"type:decimal(10,6)"`
	LockedShares     decimal.Decimal `gorm:"type:decimal(20,6)"`
	ProjectedProfit  decimal.Decimal `gorm:"type:decimal(20,6)"`
	Success          bool
	Error            string
	DryRun           bool
	ExternalRef      string
	CreatedAt        time.Time
}

// EvalLog is one near-miss evaluation, append-only, diagnostics only
type EvalLog struct {
	ID               uint   `gorm:"primaryKey;autoIncrement"`
	ConditionID      string `gorm:"index"`
	Symbol           string
	Reason           string
	LivePairCost     decimal.Decimal `gorm:"type:decimal(10,6)"`
	PositionPairCost decimal.Decimal `gorm:"type:decimal(10,6)"`
	ProjectedCost    decimal.Decimal `gorm:"type:decimal(10,6)"`
	Improvement      decimal.Decimal `gorm:"type:decimal(10,6)"`
	SecondsRemaining float64
	WouldBuySide     string
	WouldBuyUSD      decimal.Decimal `gorm:"type:decimal(20,6)"`
	CreatedAt        time.Time
}

// Database is the audit store. A nil or disabled database swallows all
// writes silently.
type Database struct {
	db *gorm.DB
}

// New opens the store: PostgreSQL when the URL says so, SQLite path
// otherwise
func New(dbURL string) (*Database, error) {
	var db *gorm.DB
	var err error

	if strings.HasPrefix(dbURL, "postgres://") || strings.HasPrefix(dbURL, "postgresql://") {
		db, err = gorm.Open(postgres.Open(dbURL), &gorm.Config{
			Logger: logger.Default.LogMode(logger.Silent),
		})
		if err != nil {
			return nil, err
		}
		log.Info().Msg("Database connected (PostgreSQL)")
	} else {
		dir := filepath.Dir(dbURL)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, err
		}
		db, err = gorm.Open(sqlite.Open(dbURL), &gorm.Config{
			Logger: logger.Default.LogMode(logger.Silent),
		})
		if err != nil {
			return nil, err
		}
		log.Info().Str("path", dbURL).Msg("Database initialized (SQLite)")
	}

	if err := db.AutoMigrate(&EngineState{}, &TradeLog{}, &EvalLog{}); err != nil {
		return nil, err
	}

	return &Database{db: db}, nil
}

// Disabled returns a store that drops every write
func Disabled() *Database {
	return &Database{}
}

// Enabled reports whether writes reach a real database
func (d *Database) Enabled() bool {
	return d != nil && d.db != nil
}

// WriteHeartbeat upserts the snapshot under the fixed key
func (d *Database) WriteHeartbeat(snap types.HeartbeatSnapshot) {
	if !d.Enabled() {
		return
	}

	payload, err := json.Marshal(snap)
	if err != nil {
		log.Warn().Err(err).Msg("Heartbeat marshal failed")
		return
	}

	state := EngineState{Key: heartbeatKey, Value: string(payload), UpdatedAt: time.Now()}
	err = d.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		UpdateAll: true,
	}).Create(&state).Error
	if err != nil {
		log.Warn().Err(err).Msg("Heartbeat write failed")
	}
}

// WriteTradeRecord appends one execution attempt
func (d *Database) WriteTradeRecord(rec types.TradeRecord) {
	if !d.Enabled() {
		return
	}

	row := TradeLog{
		ConditionID:      rec.ConditionID,
		Symbol:           rec.Symbol,
		TradeType:        rec.TradeType,
		Side:             string(rec.Side),
		AmountUSD:        rec.AmountUSD,
		Shares:           rec.Shares,
		Price:            rec.Price,
		AvgUpCostAfter:   rec.AvgUpCostAfter,
		AvgDownCostAfter: rec.AvgDownCostAfter,
		PairCostAfter:    rec.PairCostAfter,
		LockedShares:     rec.LockedShares,
		ProjectedProfit:  rec.ProjectedProfit,
		Success:          rec.Success,
		Error:            rec.Error,
		DryRun:           rec.DryRun,
		ExternalRef:      rec.ExternalRef,
		CreatedAt:        rec.Timestamp,
	}
	if err := d.db.Create(&row).Error; err != nil {
		log.Warn().Err(err).Msg("Trade record write failed")
	}

	// Keep the latest trade readable without scanning the log table
	if payload, err := json.Marshal(rec); err == nil {
		state := EngineState{Key: lastTradeKey, Value: string(payload), UpdatedAt: time.Now()}
		err = d.db.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "key"}},
			UpdateAll: true,
		}).Create(&state).Error
		if err != nil {
			log.Warn().Err(err).Msg("Last trade write failed")
		}
	}
}

// WriteEvalDecision appends one near-miss diagnostic
func (d *Database) WriteEvalDecision(dec types.EvalDecision) {
	if !d.Enabled() {
		return
	}

	row := EvalLog{
		ConditionID:      dec.ConditionID,
		Symbol:           dec.Symbol,
		Reason:           dec.Reason,
		LivePairCost:     dec.LivePairCost,
		PositionPairCost: dec.PositionPairCost,
		ProjectedCost:    dec.ProjectedCost,
		Improvement:      dec.Improvement,
		SecondsRemaining: dec.SecondsRemaining,
		WouldBuySide:     string(dec.WouldBuySide),
		WouldBuyUSD:      dec.WouldBuyUSD,
		CreatedAt:        dec.Timestamp,
	}
	if err := d.db.Create(&row).Error; err != nil {
		log.Warn().Err(err).Msg("Eval decision write failed")
	}
}

// RecentTrades returns the newest trade rows, for the operator bot
func (d *Database) RecentTrades(limit int) ([]TradeLog, error) {
	if !d.Enabled() {
		return nil, nil
	}
	var trades []TradeLog
	err := d.db.Order("created_at DESC").Limit(limit).Find(&trades).Error
	return trades, err
}

// TradesSince counts trade rows newer than t. Used at startup to warn
// when the process restarted with positions still open on the venue.
func (d *Database) TradesSince(t time.Time) (int64, error) {
	if !d.Enabled() {
		return 0, nil
	}
	var count int64
	err := d.db.Model(&TradeLog{}).
		Where("created_at > ? AND success = ? AND dry_run = ?", t, true, false).
		Count(&count).Error
	return count, err
}
