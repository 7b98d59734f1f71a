package ledger

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func openTestDatabase(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "ledger.db")), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&ProcessedRecord{}, &PollCursor{}))
	return db
}

func TestSQLiteStoreRoundTrip(t *testing.T) {
	db := openTestDatabase(t)
	store, err := NewSQLiteStore(db)
	require.NoError(t, err)

	now := time.UnixMilli(1_750_000_000_000)
	first, err := New(Config{Store: store, Clock: func() time.Time { return now }})
	require.NoError(t, err)
	first.Load(context.Background())
	first.MarkProcessed(Contacts, "c-1")
	first.MarkProcessed(Appointments, "appt-1")
	require.NoError(t, first.Flush(context.Background()))

	first.MarkProcessed(Contacts, "c-2")
	require.NoError(t, first.Flush(context.Background()))

	second, err := New(Config{Store: store})
	require.NoError(t, err)
	second.Load(context.Background())
	assert.True(t, second.IsProcessed(Contacts, "c-1"))
	assert.True(t, second.IsProcessed(Contacts, "c-2"))
	assert.True(t, second.IsProcessed(Appointments, "appt-1"))
	assert.True(t, second.LastPoll().Equal(now))

	var count int64
	require.NoError(t, db.Model(&ProcessedRecord{}).Count(&count).Error)
	assert.Equal(t, int64(3), count)

	require.NoError(t, second.Reset(context.Background()))
	require.NoError(t, db.Model(&ProcessedRecord{}).Count(&count).Error)
	assert.Zero(t, count)
}
