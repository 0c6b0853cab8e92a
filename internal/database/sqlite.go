package database

import (
	"fmt"

	"github.com/MarcoPoloResearchLab/dyelot/backend/internal/catalog"
	"github.com/MarcoPoloResearchLab/dyelot/backend/internal/identity"
	"github.com/MarcoPoloResearchLab/dyelot/backend/internal/integration"
	"github.com/MarcoPoloResearchLab/dyelot/backend/internal/storesync"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Models lists every persisted model.
func Models() []any {
	models := catalog.Models()
	return append(models,
		&integration.Integration{},
		&identity.Identifier{},
		&storesync.SyncLog{},
		&migrationRecord{},
	)
}

// OpenSQLite establishes a SQLite connection and performs schema migrations.
func OpenSQLite(path string, logger *zap.Logger) (*gorm.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.Exec("PRAGMA foreign_keys = ON").Error; err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(Models()...); err != nil {
		return nil, err
	}

	if err := applyMigrations(db, logger); err != nil {
		return nil, err
	}

	if logger != nil {
		logger.Info("database initialized", zap.String("path", path))
	}

	return db, nil
}
