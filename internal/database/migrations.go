package database

import (
	"errors"
	"time"

	"github.com/DanishBukhari/servicem8-ghl-integ/internal/ledger"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const migrationSplitLegacyCorrelationKeys = "2025-10-01_split_legacy_correlation_keys"

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
		{name: migrationSplitLegacyCorrelationKeys, apply: splitLegacyCorrelationKeys},
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
		if err := migration.apply(db); err != nil {
			return err
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// splitLegacyCorrelationKeys moves GoHighLevel contact ids and emails that were
// recorded in the contact set into the correlation key set.
func splitLegacyCorrelationKeys(db *gorm.DB) error {
	return db.Transaction(func(tx *gorm.DB) error {
		var records []ledger.ProcessedRecord
		if err := tx.Where("set_name = ?", string(ledger.Contacts)).Find(&records).Error; err != nil {
			return err
		}
		for _, record := range records {
			if !ledger.IsLegacyCorrelationKey(record.RecordID) {
				continue
			}
			if err := tx.Model(&ledger.ProcessedRecord{}).
				Where("set_name = ? AND record_id = ?", record.SetName, record.RecordID).
				Update("set_name", string(ledger.CorrelationKeys)).Error; err != nil {
				return err
			}
		}
		return nil
	})
}
