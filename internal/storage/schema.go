// Copyright Mia srl
// SPDX-License-Identifier: AGPL-3.0-only or Commercial

package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/mia-platform/tallysync/internal/config"
)

const (
	LedgerTable       = "sync_ledger"
	HistoryTable      = "sync_history"
	AgingSummaryTable = "aging_summary"
)

// EnsureSchema creates every table used by the engine when missing: one per
// catalog entity plus the ledger, history and aging summary tables.
// It is idempotent.
func (d *DB) EnsureSchema(ctx context.Context, catalog *config.Catalog) error {
	statements := make([]string, 0)
	for _, entity := range catalog.Entities() {
		statements = append(statements, d.entityTableStatements(entity)...)
	}
	statements = append(statements, d.bookkeepingStatements()...)

	for _, statement := range statements {
		if _, err := d.db.ExecContext(ctx, statement); err != nil {
			return fmt.Errorf("failed to apply schema statement %q: %w", firstLine(statement), err)
		}
	}
	return nil
}

func (d *DB) entityTableStatements(entity config.Entity) []string {
	table := QuoteIdentifier(entity.Table)
	tenant := QuoteIdentifier(config.TenantColumn)
	naturalKey := QuoteIdentifier(entity.NaturalKey.Column)
	syncedAt := QuoteIdentifier(config.SyncedAtColumn)

	columns := []string{
		tenant + " TEXT NOT NULL",
		naturalKey + " TEXT NOT NULL",
	}
	for _, column := range entity.Columns {
		definition := QuoteIdentifier(column.Name) + " " + d.dialect.columnType(column.Type)
		if column.Required {
			definition += " NOT NULL"
		}
		columns = append(columns, definition)
	}
	columns = append(columns,
		syncedAt+" "+d.dialect.timestampType()+" NOT NULL",
		fmt.Sprintf("UNIQUE (%s, %s)", tenant, naturalKey),
	)

	return []string{
		fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n\t%s\n)", table, strings.Join(columns, ",\n\t")),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (%s, %s)",
			QuoteIdentifier(entity.Table+"_tenant_synced_at_idx"), table, tenant, syncedAt),
	}
}

func (d *DB) bookkeepingStatements() []string {
	timestamp := d.dialect.timestampType()

	return []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	tenant_id TEXT NOT NULL,
	entity_type TEXT NOT NULL,
	last_sync_at %s,
	last_mode TEXT NOT NULL,
	last_record_count INTEGER NOT NULL DEFAULT 0,
	last_duration_ms INTEGER NOT NULL DEFAULT 0,
	last_error TEXT,
	updated_at %s NOT NULL,
	PRIMARY KEY (tenant_id, entity_type)
)`, LedgerTable, timestamp, timestamp),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id %s,
	run_id TEXT NOT NULL,
	tenant_id TEXT NOT NULL,
	entity_type TEXT NOT NULL,
	mode TEXT NOT NULL,
	record_count INTEGER NOT NULL DEFAULT 0,
	duration_ms INTEGER NOT NULL DEFAULT 0,
	error TEXT,
	last_sync_at %s,
	started_at %s NOT NULL,
	from_date %s,
	to_date %s
)`, HistoryTable, d.dialect.serialPrimaryKey(), timestamp, timestamp, timestamp, timestamp),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s_tenant_entity_started_idx ON %s (tenant_id, entity_type, started_at)",
			HistoryTable, HistoryTable),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	tenant_id TEXT NOT NULL,
	party_name TEXT NOT NULL,
	side TEXT NOT NULL,
	bucket_0_30 DOUBLE PRECISION NOT NULL DEFAULT 0,
	bucket_31_60 DOUBLE PRECISION NOT NULL DEFAULT 0,
	bucket_61_90 DOUBLE PRECISION NOT NULL DEFAULT 0,
	bucket_90_plus DOUBLE PRECISION NOT NULL DEFAULT 0,
	voucher_count INTEGER NOT NULL DEFAULT 0,
	settled_count INTEGER NOT NULL DEFAULT 0,
	avg_settlement_days DOUBLE PRECISION NOT NULL DEFAULT 0,
	computed_at %s NOT NULL,
	PRIMARY KEY (tenant_id, party_name, side)
)`, AgingSummaryTable, timestamp),
	}
}

func firstLine(statement string) string {
	line, _, _ := strings.Cut(statement, "\n")
	return line
}
