package repository

import (
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/memcortex/fabric/internal/config"
	"github.com/memcortex/fabric/internal/types"
)

// Open connects to Postgres and migrates the relational schema. Migration
// runs AutoMigrate rather than a versioned tool — the schema is small enough
// that additive, idempotent migration covers it; see DESIGN.md for why
// golang-migrate wasn't pulled in for this size of schema.
func Open(cfg config.PostgresConfig) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(cfg.DSN), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("opening postgres: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("unwrapping sql.DB: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	return db, nil
}

// Migrate creates/updates every table this package knows how to persist.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&types.User{},
		&types.MemoryItem{},
		&types.Conversation{},
		&types.Message{},
		&types.SemanticCacheEntry{},
		&types.QueryMetrics{},
		&types.Feedback{},
		&types.AuditEvent{},
		&types.OAuthTokenRecord{},
		&types.TopicSummary{},
		&types.DomainMap{},
		&types.AutoTuningLogEntry{},
	)
}
