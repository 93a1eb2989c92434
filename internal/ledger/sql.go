// Copyright Mia srl
// SPDX-License-Identifier: AGPL-3.0-only or Commercial

package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mia-platform/tallysync/internal/storage"
)

const defaultHistoryLimit = 20

var _ Store = &SQLStore{}

// SQLStore keeps the ledger in the sync_ledger and sync_history tables.
type SQLStore struct {
	db    *storage.DB
	nowFn func() time.Time
}

func NewSQLStore(db *storage.DB) *SQLStore {
	return &SQLStore{
		db:    db,
		nowFn: time.Now,
	}
}

func (s *SQLStore) GetLastSync(ctx context.Context, tenant, entityType string) (*SyncRecord, error) {
	query := fmt.Sprintf(`SELECT last_sync_at, last_mode, last_record_count, last_duration_ms, last_error
		FROM %s WHERE tenant_id = ? AND entity_type = ?`, storage.LedgerTable)

	var (
		lastSyncAt any
		record     SyncRecord
		lastError  sql.NullString
	)
	err := s.db.QueryRowContext(ctx, query, tenant, entityType).
		Scan(&lastSyncAt, &record.LastMode, &record.LastRecordCount, &record.LastDurationMs, &lastError)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if record.LastSyncAt, err = storage.ParseTime(lastSyncAt); err != nil {
		return nil, err
	}
	record.LastError = lastError.String
	return &record, nil
}

func (s *SQLStore) UpdateLastSync(ctx context.Context, tenant, entityType string, record SyncRecord) error {
	query := fmt.Sprintf(`INSERT INTO %s
		(tenant_id, entity_type, last_sync_at, last_mode, last_record_count, last_duration_ms, last_error, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (tenant_id, entity_type) DO UPDATE SET
			last_sync_at = EXCLUDED.last_sync_at,
			last_mode = EXCLUDED.last_mode,
			last_record_count = EXCLUDED.last_record_count,
			last_duration_ms = EXCLUDED.last_duration_ms,
			last_error = EXCLUDED.last_error,
			updated_at = EXCLUDED.updated_at`, storage.LedgerTable)

	_, err := s.db.ExecContext(ctx, query,
		tenant,
		entityType,
		utcOrNil(record.LastSyncAt),
		string(record.LastMode),
		record.LastRecordCount,
		record.LastDurationMs,
		nullString(record.LastError),
		s.nowFn().UTC(),
	)
	return err
}

func (s *SQLStore) AppendHistory(ctx context.Context, entry HistoryEntry) error {
	query := fmt.Sprintf(`INSERT INTO %s
		(run_id, tenant_id, entity_type, mode, record_count, duration_ms, error, last_sync_at, started_at, from_date, to_date)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, storage.HistoryTable)

	_, err := s.db.ExecContext(ctx, query,
		entry.RunID,
		entry.Tenant,
		entry.EntityType,
		string(entry.LastMode),
		entry.LastRecordCount,
		entry.LastDurationMs,
		nullString(entry.LastError),
		utcOrNil(entry.LastSyncAt),
		entry.StartedAt.UTC(),
		utcOrNil(entry.FromDate),
		utcOrNil(entry.ToDate),
	)
	return err
}

func (s *SQLStore) Reset(ctx context.Context, tenant string, entityTypes ...string) (int64, error) {
	now := s.nowFn().UTC()
	clearQuery := fmt.Sprintf(`UPDATE %s SET
		last_sync_at = NULL, last_mode = ?, last_record_count = 0, last_duration_ms = 0, last_error = NULL, updated_at = ?
		WHERE tenant_id = ? AND last_mode <> ?`, storage.LedgerTable)
	args := []any{string(ModeReset), now, tenant, string(ModeReset)}
	if len(entityTypes) > 0 {
		clearQuery += " AND entity_type IN (" + strings.TrimSuffix(strings.Repeat("?, ", len(entityTypes)), ", ") + ")"
		for _, entityType := range entityTypes {
			args = append(args, entityType)
		}
	}

	insert := fmt.Sprintf(`INSERT INTO %s
		(tenant_id, entity_type, last_sync_at, last_mode, last_record_count, last_duration_ms, last_error, updated_at)
		VALUES (?, ?, NULL, ?, 0, 0, NULL, ?)
		ON CONFLICT (tenant_id, entity_type) DO NOTHING`, storage.LedgerTable)

	var removed int64
	err := s.db.WithTx(ctx, func(tx *storage.Tx) error {
		result, err := tx.ExecContext(ctx, clearQuery, args...)
		if err != nil {
			return err
		}
		if removed, err = result.RowsAffected(); err != nil {
			return err
		}

		for _, entityType := range entityTypes {
			if _, err := tx.ExecContext(ctx, insert, tenant, entityType, string(ModeReset), now); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return removed, nil
}

func (s *SQLStore) RecentHistory(ctx context.Context, tenant, entityType string, limit int) ([]HistoryEntry, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}

	query := fmt.Sprintf(`SELECT id, run_id, tenant_id, entity_type, mode, record_count, duration_ms, error,
		last_sync_at, started_at, from_date, to_date
		FROM %s WHERE tenant_id = ?`, storage.HistoryTable)
	args := []any{tenant}
	if entityType != "" {
		query += " AND entity_type = ?"
		args = append(args, entityType)
	}
	query += " ORDER BY started_at DESC, id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]HistoryEntry, 0)
	for rows.Next() {
		var (
			entry                                   HistoryEntry
			errorMessage                            sql.NullString
			lastSyncAt, startedAt, fromDate, toDate any
		)
		if err := rows.Scan(&entry.ID, &entry.RunID, &entry.Tenant, &entry.EntityType, &entry.LastMode,
			&entry.LastRecordCount, &entry.LastDurationMs, &errorMessage,
			&lastSyncAt, &startedAt, &fromDate, &toDate); err != nil {
			return nil, err
		}

		entry.LastError = errorMessage.String
		parsedStartedAt, err := storage.ParseTime(startedAt)
		if err != nil {
			return nil, err
		}
		if parsedStartedAt != nil {
			entry.StartedAt = *parsedStartedAt
		}
		if entry.LastSyncAt, err = storage.ParseTime(lastSyncAt); err != nil {
			return nil, err
		}
		if entry.FromDate, err = storage.ParseTime(fromDate); err != nil {
			return nil, err
		}
		if entry.ToDate, err = storage.ParseTime(toDate); err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func utcOrNil(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
