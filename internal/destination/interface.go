// Copyright Mia srl
// SPDX-License-Identifier: AGPL-3.0-only or Commercial

package destination

import (
	"context"
	"encoding/json"
)

// Upserter writes a whole batch with a single insert or update statement keyed on ConflictKey.
// A batch is either fully applied or not applied at all.
type Upserter interface {
	Upsert(ctx context.Context, batch Batch) (affected int64, err error)
}

// Batch is a set of rows for a single table. Every row holds one value per column.
type Batch struct {
	Table       string
	Columns     []string
	ConflictKey []string
	Rows        [][]any
}

// Key returns the conflict key values of row joined in a comparable string.
func (b Batch) Key(row []any) string {
	key := make([]any, 0, len(b.ConflictKey))
	for _, conflictColumn := range b.ConflictKey {
		for idx, column := range b.Columns {
			if column == conflictColumn {
				key = append(key, row[idx])
				break
			}
		}
	}

	raw, _ := json.Marshal(key)
	return string(raw)
}

// Records returns the rows as column keyed maps.
func (b Batch) Records() []map[string]any {
	records := make([]map[string]any, 0, len(b.Rows))
	for _, row := range b.Rows {
		record := make(map[string]any, len(b.Columns))
		for idx, column := range b.Columns {
			if idx < len(row) {
				record[column] = row[idx]
			}
		}
		records = append(records, record)
	}
	return records
}

// MarshalJSON renders the batch with its rows as objects.
func (b Batch) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Table       string           `json:"table"`
		ConflictKey []string         `json:"conflictKey"`
		Rows        []map[string]any `json:"rows"`
	}{
		Table:       b.Table,
		ConflictKey: b.ConflictKey,
		Rows:        b.Records(),
	})
}
