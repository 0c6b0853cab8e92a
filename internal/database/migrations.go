package database

import (
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/dyelot/backend/internal/catalog"
	"github.com/MarcoPoloResearchLab/dyelot/backend/internal/integration"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	migrationNormalizeShopDomains     = "2024-03-01_normalize_shop_domains"
	migrationBackfillInventorySyncTag = "2024-03-08_backfill_inventory_sync_status"
)

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationNormalizeShopDomains, apply: normalizeShopDomains},
		{name: migrationBackfillInventorySyncTag, apply: backfillInventorySyncStatus},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		err = db.Transaction(func(tx *gorm.DB) error {
			if err := migration.apply(tx); err != nil {
				return err
			}
			appliedAt := time.Now().UTC().Unix()
			return tx.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error
		})
		if err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// normalizeShopDomains rewrites stored domains to the canonical host form webhooks are routed by.
func normalizeShopDomains(db *gorm.DB) error {
	var connections []integration.Integration
	if err := db.Unscoped().Find(&connections).Error; err != nil {
		return err
	}
	for _, connection := range connections {
		normalized := integration.NormalizeShopDomain(connection.ShopDomain)
		if normalized == "" || normalized == connection.ShopDomain {
			continue
		}
		if err := db.Unscoped().Model(&integration.Integration{}).
			Where("id = ?", connection.ID).
			UpdateColumn("shop_domain", normalized).Error; err != nil {
			return err
		}
	}
	return nil
}

// backfillInventorySyncStatus tags rows synced before the status column existed.
func backfillInventorySyncStatus(db *gorm.DB) error {
	return db.Model(&catalog.Inventory{}).
		Where("last_synced_at IS NOT NULL AND sync_status = ?", catalog.SyncStatusNone).
		UpdateColumn("sync_status", catalog.SyncStatusSynced).Error
}
