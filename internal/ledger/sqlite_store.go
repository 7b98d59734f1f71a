package ledger

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const cursorName = "poll"

// ProcessedRecord is one member of one ledger set.
type ProcessedRecord struct {
	SetName            string `gorm:"column:set_name;primaryKey;size:64;not null"`
	RecordID           string `gorm:"column:record_id;primaryKey;size:190;not null"`
	ProcessedAtSeconds int64  `gorm:"column:processed_at_s;not null"`
}

// TableName binds ProcessedRecord to its table.
func (ProcessedRecord) TableName() string {
	return "ledger_processed_records"
}

// PollCursor stores the informational last poll timestamp.
type PollCursor struct {
	Name           string `gorm:"column:name;primaryKey;size:64;not null"`
	LastPollMillis int64  `gorm:"column:last_poll_ms;not null"`
}

// TableName binds PollCursor to its table.
func (PollCursor) TableName() string {
	return "ledger_poll_cursor"
}

// SQLiteStore keeps the ledger in the database opened by the database package.
type SQLiteStore struct {
	db *gorm.DB
}

// NewSQLiteStore wraps a migrated database handle.
func NewSQLiteStore(db *gorm.DB) (*SQLiteStore, error) {
	if db == nil {
		return nil, fmt.Errorf("ledger: database is required")
	}
	return &SQLiteStore{db: db}, nil
}

// Load reads every record and the cursor.
func (s *SQLiteStore) Load(ctx context.Context) (Snapshot, error) {
	var records []ProcessedRecord
	if err := s.db.WithContext(ctx).Order("set_name, record_id").Find(&records).Error; err != nil {
		return Snapshot{}, fmt.Errorf("ledger: load records: %w", err)
	}
	snapshot := Snapshot{Sets: map[Set][]string{}}
	for _, record := range records {
		set := Set(record.SetName)
		snapshot.Sets[set] = append(snapshot.Sets[set], record.RecordID)
	}

	var cursor PollCursor
	err := s.db.WithContext(ctx).Where("name = ?", cursorName).Take(&cursor).Error
	switch {
	case err == nil:
		snapshot.LastPollMillis = cursor.LastPollMillis
	case errors.Is(err, gorm.ErrRecordNotFound):
	default:
		return Snapshot{}, fmt.Errorf("ledger: load cursor: %w", err)
	}
	return snapshot, nil
}

// Save adds the snapshot's records and updates the cursor in one transaction.
// Existing records keep their original processed time; an empty snapshot
// clears the table.
func (s *SQLiteStore) Save(ctx context.Context, snapshot Snapshot) error {
	processedAt := snapshot.LastPollMillis / 1000
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var records []ProcessedRecord
		for set, ids := range snapshot.Sets {
			for _, id := range ids {
				records = append(records, ProcessedRecord{SetName: string(set), RecordID: id, ProcessedAtSeconds: processedAt})
			}
		}
		if len(records) == 0 {
			if err := tx.Where("1 = 1").Delete(&ProcessedRecord{}).Error; err != nil {
				return err
			}
		} else {
			if err := tx.Clauses(clause.OnConflict{DoNothing: true}).CreateInBatches(&records, 200).Error; err != nil {
				return err
			}
		}
		cursor := PollCursor{Name: cursorName, LastPollMillis: snapshot.LastPollMillis}
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "name"}},
			DoUpdates: clause.AssignmentColumns([]string{"last_poll_ms"}),
		}).Create(&cursor).Error
	})
}
