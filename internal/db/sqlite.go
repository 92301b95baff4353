package db

import (
	"fmt"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/zypocare/core-backend/internal/types"
)

// OpenSQLite opens a SQLite database with the full governance schema. Used by
// package tests ("file::memory:?cache=shared" or a temp file) and by local
// single-node deployments that do not run Postgres.
func OpenSQLite(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite at %q: %w", dsn, err)
	}
	if err := db.AutoMigrate(
		&types.Branch{},
		&types.PolicyDefinition{},
		&types.PolicyVersion{},
		&types.PolicyVersionBranch{},
		&types.AuditEvent{},
	); err != nil {
		return nil, fmt.Errorf("sqlite automigrate: %w", err)
	}
	if err := db.Exec(`
		CREATE UNIQUE INDEX IF NOT EXISTS uq_policy_version_single_draft
		ON policy_version (policy_id, scope, COALESCE(branch_id, ''))
		WHERE status = 'DRAFT'
	`).Error; err != nil {
		return nil, fmt.Errorf("failed to create single-draft index: %w", err)
	}
	return db, nil
}
