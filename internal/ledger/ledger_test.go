// Copyright Mia srl
// SPDX-License-Identifier: AGPL-3.0-only or Commercial

package ledger

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mia-platform/tallysync/internal/config"
	"github.com/mia-platform/tallysync/internal/storage"
)

func stores(t *testing.T) map[string]Store {
	t.Helper()

	db, err := storage.Open(t.Context(), "sqlite://"+filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	catalog, err := config.DefaultCatalog()
	require.NoError(t, err)
	require.NoError(t, db.EnsureSchema(t.Context(), catalog))

	return map[string]Store{
		"memory": NewMemoryStore(),
		"sql":    NewSQLStore(db),
	}
}

func TestStoreLastSync(t *testing.T) {
	t.Parallel()

	lastSyncAt := time.Date(2024, time.April, 1, 8, 0, 0, 0, time.UTC)
	for storeName, store := range stores(t) {
		t.Run(storeName, func(t *testing.T) {
			t.Parallel()
			ctx := t.Context()

			record, err := store.GetLastSync(ctx, "T", "customers")
			require.NoError(t, err)
			assert.Nil(t, record)

			require.NoError(t, store.UpdateLastSync(ctx, "T", "customers", SyncRecord{
				LastSyncAt:      &lastSyncAt,
				LastMode:        ModeFull,
				LastRecordCount: 130,
				LastDurationMs:  1500,
			}))
			require.NoError(t, store.UpdateLastSync(ctx, "T", "vendors", SyncRecord{LastMode: ModeFailed, LastError: "boom"}))

			record, err = store.GetLastSync(ctx, "T", "customers")
			require.NoError(t, err)
			require.NotNil(t, record)
			require.NotNil(t, record.LastSyncAt)
			assert.True(t, lastSyncAt.Equal(*record.LastSyncAt))
			assert.Equal(t, ModeFull, record.LastMode)
			assert.Equal(t, 130, record.LastRecordCount)
			assert.Equal(t, int64(1500), record.LastDurationMs)
			assert.Empty(t, record.LastError)

			failed := Failed(record, 10, 2*time.Second, errors.New("appears stuck"))
			require.NoError(t, store.UpdateLastSync(ctx, "T", "customers", failed))

			record, err = store.GetLastSync(ctx, "T", "customers")
			require.NoError(t, err)
			require.NotNil(t, record.LastSyncAt)
			assert.True(t, lastSyncAt.Equal(*record.LastSyncAt))
			assert.Equal(t, ModeFailed, record.LastMode)
			assert.Equal(t, "appears stuck", record.LastError)

			vendors, err := store.GetLastSync(ctx, "T", "vendors")
			require.NoError(t, err)
			assert.Nil(t, vendors.LastSyncAt)

			removed, err := store.Reset(ctx, "T", "customers")
			require.NoError(t, err)
			assert.Equal(t, int64(1), removed)

			record, err = store.GetLastSync(ctx, "T", "customers")
			require.NoError(t, err)
			require.NotNil(t, record)
			assert.Equal(t, Cleared(), *record)

			removed, err = store.Reset(ctx, "T")
			require.NoError(t, err)
			assert.Equal(t, int64(1), removed)

			removed, err = store.Reset(ctx, "T", "customers", "transactions")
			require.NoError(t, err)
			assert.Zero(t, removed)

			record, err = store.GetLastSync(ctx, "T", "transactions")
			require.NoError(t, err)
			require.NotNil(t, record)
			assert.Equal(t, ModeReset, record.LastMode)
			assert.Nil(t, record.LastSyncAt)

			other, err := store.GetLastSync(ctx, "other", "transactions")
			require.NoError(t, err)
			assert.Nil(t, other)
		})
	}
}

func TestStoreHistory(t *testing.T) {
	t.Parallel()

	started := time.Date(2024, time.April, 1, 8, 0, 0, 0, time.UTC)
	from := started.AddDate(-1, 0, 0)
	for storeName, store := range stores(t) {
		t.Run(storeName, func(t *testing.T) {
			t.Parallel()
			ctx := t.Context()

			for idx, entityType := range []string{"vendors", "customers", "transactions"} {
				startedAt := started.Add(time.Duration(idx) * time.Minute)
				require.NoError(t, store.AppendHistory(ctx, HistoryEntry{
					RunID:      "run-1",
					Tenant:     "T",
					EntityType: entityType,
					SyncRecord: SyncRecord{
						LastSyncAt:      &startedAt,
						LastMode:        ModeFull,
						LastRecordCount: idx * 10,
					},
					StartedAt: startedAt,
					FromDate:  &from,
					ToDate:    &startedAt,
				}))
			}
			require.NoError(t, store.AppendHistory(ctx, HistoryEntry{
				RunID:      "run-2",
				Tenant:     "other",
				EntityType: "vendors",
				SyncRecord: SyncRecord{LastMode: ModeFailed, LastError: "upstream timeout"},
				StartedAt:  started,
			}))

			entries, err := store.RecentHistory(ctx, "T", "", 2)
			require.NoError(t, err)
			require.Len(t, entries, 2)
			assert.Equal(t, "transactions", entries[0].EntityType)
			assert.Equal(t, "customers", entries[1].EntityType)
			assert.Equal(t, 20, entries[0].LastRecordCount)
			require.NotNil(t, entries[0].FromDate)
			assert.True(t, from.Equal(*entries[0].FromDate))
			assert.True(t, started.Add(2*time.Minute).Equal(entries[0].StartedAt))
			assert.NotZero(t, entries[0].ID)

			entries, err = store.RecentHistory(ctx, "other", "vendors", 10)
			require.NoError(t, err)
			require.Len(t, entries, 1)
			assert.Equal(t, ModeFailed, entries[0].LastMode)
			assert.Equal(t, "upstream timeout", entries[0].LastError)
			assert.Nil(t, entries[0].LastSyncAt)
			assert.Nil(t, entries[0].FromDate)
		})
	}
}

func TestFailed(t *testing.T) {
	t.Parallel()

	record := Failed(nil, 0, time.Second, nil)
	assert.Equal(t, ModeFailed, record.LastMode)
	assert.Nil(t, record.LastSyncAt)
	assert.Equal(t, int64(1000), record.LastDurationMs)
	assert.Empty(t, record.LastError)
}
