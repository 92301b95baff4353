package db

import (
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/zypocare/core-backend/internal/logger"
	"github.com/zypocare/core-backend/internal/types"
	"github.com/zypocare/core-backend/internal/utils"
)

type PostgresService struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewPostgresService(log *logger.Logger) (*PostgresService, error) {
	serviceLog := log.With("service", "PostgresService")

	postgresHost := utils.GetEnv("POSTGRES_HOST", "localhost", log)
	postgresPort := utils.GetEnv("POSTGRES_PORT", "5432", log)
	postgresUser := utils.GetEnv("POSTGRES_USER", "postgres", log)
	postgresPassword := utils.GetEnv("POSTGRES_PASSWORD", "", log)
	postgresName := utils.GetEnv("POSTGRES_NAME", "zypocare", log)

	dsn := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable", postgresUser, postgresPassword, postgresHost, postgresPort, postgresName)

	serviceLog.Info("Connecting to Postgres...")
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
		TranslateError:                           true,
	})
	if err != nil {
		serviceLog.Error("Failed to connect to Postgres", "error", err)
		return nil, fmt.Errorf("failed to connect to Postgres: %w", err)
	}

	return &PostgresService{db: db, log: serviceLog}, nil
}

func (s *PostgresService) AutoMigrateAll() error {
	s.log.Info("Auto migrating postgres tables...")
	if err := s.db.AutoMigrate(
		&types.Branch{},
		&types.PolicyDefinition{},
		&types.PolicyVersion{},
		&types.PolicyVersionBranch{},
		&types.AuditEvent{},
	); err != nil {
		s.log.Error("Auto migration failed for postgres tables", "error", err)
		return err
	}

	// At most one DRAFT per (policy, scope, branch) lane. Enforced at the
	// store level so two concurrent "create draft" callers cannot both pass
	// the existence check and insert duplicates.
	if err := s.db.Exec(`
		CREATE UNIQUE INDEX IF NOT EXISTS uq_policy_version_single_draft
		ON policy_version (policy_id, scope, COALESCE(branch_id::text, ''))
		WHERE status = 'DRAFT'
	`).Error; err != nil {
		return fmt.Errorf("failed to create single-draft index: %w", err)
	}
	return nil
}

func (s *PostgresService) DB() *gorm.DB {
	return s.db
}
