package agents

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func testStores(t *testing.T) map[string]Store {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "agents.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	persistent, err := NewGormStore(db)
	require.NoError(t, err)
	return map[string]Store{
		"memory": NewMemoryStore(),
		"gorm":   persistent,
	}
}

func TestStoreRoundTrip(t *testing.T) {
	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			_, err := store.Get(ctx, "missing")
			require.ErrorIs(t, err, ErrNotFound)

			require.NoError(t, store.Put(ctx, &Record{
				ID:     "agent-b",
				Config: datatypes.JSON(`{"folders":["team-a","shared"]}`),
			}))
			require.NoError(t, store.Put(ctx, &Record{ID: "agent-a", Config: datatypes.JSON(`{}`)}))

			record, err := store.Get(ctx, "agent-b")
			require.NoError(t, err)
			require.Equal(t, []string{"team-a", "shared"}, record.Folders())
			require.False(t, record.CreatedAt.IsZero())

			records, err := store.List(ctx)
			require.NoError(t, err)
			require.Len(t, records, 2)

			deleted, err := store.Delete(ctx, "agent-a")
			require.NoError(t, err)
			require.True(t, deleted)
			deleted, err = store.Delete(ctx, "agent-a")
			require.NoError(t, err)
			require.False(t, deleted)
		})
	}
}

func TestStorePutRequiresID(t *testing.T) {
	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			require.Error(t, store.Put(context.Background(), &Record{}))
			require.Error(t, store.Put(context.Background(), nil))
		})
	}
}

func TestRecordFoldersDefault(t *testing.T) {
	var nilRecord *Record
	require.Equal(t, []string{"shared"}, nilRecord.Folders())
	require.Equal(t, []string{"shared"}, (&Record{}).Folders())
	require.Equal(t, []string{"shared"}, (&Record{Config: datatypes.JSON(`{"folders":[]}`)}).Folders())
	require.Equal(t, []string{"shared"}, (&Record{Config: datatypes.JSON(`not json`)}).Folders())
	require.Equal(t, []string{"x"}, (&Record{Config: datatypes.JSON(`{"folders":["x"]}`)}).Folders())
}
