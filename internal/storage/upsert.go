// Copyright Mia srl
// SPDX-License-Identifier: AGPL-3.0-only or Commercial

package storage

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/mia-platform/tallysync/internal/destination"
)

var (
	ErrInvalidBatch = errors.New("invalid batch")
)

var _ destination.Upserter = &DB{}

// Upsert writes batch with one INSERT .. ON CONFLICT DO UPDATE statement.
// Every non conflict column is overwritten on conflict. Rows sharing a
// conflict key are collapsed keeping the last one, since a single statement
// cannot update the same row twice.
func (d *DB) Upsert(ctx context.Context, batch destination.Batch) (int64, error) {
	if err := validateBatch(batch); err != nil {
		return 0, err
	}
	if len(batch.Rows) == 0 {
		return 0, nil
	}

	rows := dedupeRows(batch)
	query := d.upsertStatement(batch, len(rows))

	args := make([]any, 0, len(rows)*len(batch.Columns))
	for _, row := range rows {
		args = append(args, row...)
	}

	result, err := d.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return int64(len(rows)), nil
	}
	return affected, nil
}

func (d *DB) upsertStatement(batch destination.Batch, rowCount int) string {
	quotedColumns := make([]string, 0, len(batch.Columns))
	updates := make([]string, 0, len(batch.Columns))
	for _, column := range batch.Columns {
		quoted := QuoteIdentifier(column)
		quotedColumns = append(quotedColumns, quoted)
		if !slices.Contains(batch.ConflictKey, column) {
			updates = append(updates, quoted+" = EXCLUDED."+quoted)
		}
	}

	conflict := make([]string, 0, len(batch.ConflictKey))
	for _, column := range batch.ConflictKey {
		conflict = append(conflict, QuoteIdentifier(column))
	}

	placeholders := "(" + strings.TrimSuffix(strings.Repeat("?, ", len(batch.Columns)), ", ") + ")"
	values := make([]string, rowCount)
	for idx := range values {
		values[idx] = placeholders
	}

	action := "DO NOTHING"
	if len(updates) > 0 {
		action = "DO UPDATE SET " + strings.Join(updates, ", ")
	}

	return fmt.Sprintf("INSERT INTO %s (%s) VALUES %s ON CONFLICT (%s) %s",
		QuoteIdentifier(batch.Table),
		strings.Join(quotedColumns, ", "),
		strings.Join(values, ", "),
		strings.Join(conflict, ", "),
		action,
	)
}

func validateBatch(batch destination.Batch) error {
	switch {
	case batch.Table == "":
		return fmt.Errorf("%w: missing table", ErrInvalidBatch)
	case len(batch.Columns) == 0:
		return fmt.Errorf("%w: missing columns", ErrInvalidBatch)
	case len(batch.ConflictKey) == 0:
		return fmt.Errorf("%w: missing conflict key", ErrInvalidBatch)
	}

	for _, column := range batch.ConflictKey {
		if !slices.Contains(batch.Columns, column) {
			return fmt.Errorf("%w: conflict column %q is not written", ErrInvalidBatch, column)
		}
	}
	for idx, row := range batch.Rows {
		if len(row) != len(batch.Columns) {
			return fmt.Errorf("%w: row %d has %d values for %d columns", ErrInvalidBatch, idx, len(row), len(batch.Columns))
		}
	}
	return nil
}

func dedupeRows(batch destination.Batch) [][]any {
	positions := make(map[string]int, len(batch.Rows))
	rows := make([][]any, 0, len(batch.Rows))
	for _, row := range batch.Rows {
		key := batch.Key(row)
		if idx, ok := positions[key]; ok {
			rows[idx] = row
			continue
		}
		positions[key] = len(rows)
		rows = append(rows, row)
	}
	return rows
}
