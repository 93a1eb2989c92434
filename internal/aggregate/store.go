// Copyright Mia srl
// SPDX-License-Identifier: AGPL-3.0-only or Commercial

package aggregate

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/mia-platform/tallysync/internal/config"
	"github.com/mia-platform/tallysync/internal/storage"
)

// Store reads and computes the aggregates of a tenant.
type Store interface {
	// RefreshAging rebuilds the precomputed aging rows of tenant with one statement.
	RefreshAging(ctx context.Context, tenant string, asOf time.Time) error
	// ReadAging returns the precomputed aging rows of tenant.
	ReadAging(ctx context.Context, tenant string) ([]PartyAging, error)
	// LegacyAging computes the aging of tenant from the raw vouchers.
	LegacyAging(ctx context.Context, tenant string, asOf time.Time) ([]PartyAging, error)
	MaxSyncedAt(ctx context.Context, table, tenant string) (*time.Time, error)
	CountRows(ctx context.Context, table, tenant string) (int, error)
}

var _ Store = &SQLStore{}

// SQLStore computes aggregates from the voucher table of the catalog. The
// table must carry the guid, party_name, voucher_type, voucher_date, amount
// and is_cancelled columns.
type SQLStore struct {
	db    *storage.DB
	table string
}

func NewSQLStore(db *storage.DB, voucherTable string) *SQLStore {
	return &SQLStore{
		db:    db,
		table: voucherTable,
	}
}

func (s *SQLStore) voucherFilter() string {
	return fmt.Sprintf(`FROM %s
WHERE tenant_id = ? AND voucher_type IN ('%s', '%s', '%s', '%s')
	AND party_name IS NOT NULL AND party_name <> '' AND voucher_date IS NOT NULL
	AND (is_cancelled IS NULL OR is_cancelled = ?)`,
		storage.QuoteIdentifier(s.table), salesVoucher, receiptVoucher, purchaseVoucher, paymentVoucher)
}

// RefreshAging applies the settlements of every party to its invoices in date
// order through running totals: an invoice is open for the part of its
// running total not covered by every settlement of the party, and settled on
// the date of the first settlement whose running total reaches its own.
func (s *SQLStore) RefreshAging(ctx context.Context, tenant string, asOf time.Time) error {
	cut30, cut60, cut90 := cutoffs(asOf)
	settlementDays := s.db.Dialect().DaysBetween("settled_on", "voucher_date")
	refresh := fmt.Sprintf(`WITH documents AS (
	SELECT tenant_id, party_name, guid, voucher_date, ABS(COALESCE(amount, 0)) AS amount,
		CASE WHEN voucher_type IN ('%[1]s', '%[2]s') THEN '%[3]s' ELSE '%[4]s' END AS side,
		CASE WHEN voucher_type IN ('%[1]s', '%[5]s') THEN 1 ELSE 0 END AS invoice
	%[6]s
),
running AS (
	SELECT tenant_id, party_name, side, invoice, voucher_date, amount,
		SUM(amount) OVER (PARTITION BY party_name, side, invoice ORDER BY voucher_date, guid
			ROWS BETWEEN UNBOUNDED PRECEDING AND CURRENT ROW) AS cumulative
	FROM documents
),
paid AS (
	SELECT party_name, side, SUM(amount) AS total FROM documents WHERE invoice = 0 GROUP BY party_name, side
),
invoices AS (
	SELECT r.tenant_id, r.party_name, r.side, r.voucher_date, r.amount,
		r.cumulative - COALESCE(p.total, 0) AS uncovered,
		(SELECT MIN(c.voucher_date) FROM running c
			WHERE c.invoice = 0 AND c.party_name = r.party_name AND c.side = r.side
				AND c.cumulative >= r.cumulative - ?) AS settled_on
	FROM running r LEFT JOIN paid p ON p.party_name = r.party_name AND p.side = r.side
	WHERE r.invoice = 1
),
aged AS (
	SELECT tenant_id, party_name, side, voucher_date, settled_on,
		CASE WHEN uncovered <= ? THEN 0 WHEN uncovered >= amount THEN amount ELSE uncovered END AS outstanding
	FROM invoices
)
INSERT INTO %[7]s (tenant_id, party_name, side,
	bucket_0_30, bucket_31_60, bucket_61_90, bucket_90_plus,
	voucher_count, settled_count, avg_settlement_days, computed_at)
SELECT tenant_id, party_name, side,
	SUM(CASE WHEN voucher_date >= ? THEN outstanding ELSE 0 END),
	SUM(CASE WHEN voucher_date < ? AND voucher_date >= ? THEN outstanding ELSE 0 END),
	SUM(CASE WHEN voucher_date < ? AND voucher_date >= ? THEN outstanding ELSE 0 END),
	SUM(CASE WHEN voucher_date < ? THEN outstanding ELSE 0 END),
	SUM(CASE WHEN outstanding > 0 THEN 1 ELSE 0 END),
	SUM(CASE WHEN outstanding > 0 OR settled_on IS NULL THEN 0 ELSE 1 END),
	COALESCE(AVG(CASE WHEN outstanding > 0 OR settled_on IS NULL THEN NULL
		WHEN %[8]s < 0 THEN 0 ELSE %[8]s END), 0),
	%[9]s
FROM aged
GROUP BY tenant_id, party_name, side`,
		salesVoucher, receiptVoucher, Receivable, Payable, purchaseVoucher,
		s.voucherFilter(),
		storage.AgingSummaryTable,
		settlementDays,
		s.db.Dialect().TimestampParam(),
	)

	return s.db.WithTx(ctx, func(tx *storage.Tx) error {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+storage.AgingSummaryTable+" WHERE tenant_id = ?", tenant); err != nil {
			return err
		}

		_, err := tx.ExecContext(ctx, refresh,
			tenant, false,
			settlementTolerance,
			settlementTolerance,
			cut30,
			cut30, cut60,
			cut60, cut90,
			cut90,
			time.Now().UTC(),
		)
		return err
	})
}

func (s *SQLStore) ReadAging(ctx context.Context, tenant string) ([]PartyAging, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT party_name, side, bucket_0_30, bucket_31_60, bucket_61_90, bucket_90_plus,
	voucher_count, settled_count, avg_settlement_days
FROM `+storage.AgingSummaryTable+` WHERE tenant_id = ? ORDER BY side, party_name`, tenant)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	aging := make([]PartyAging, 0)
	for rows.Next() {
		var row PartyAging
		if err := rows.Scan(&row.Party, &row.Side, &row.Days0To30, &row.Days31To60, &row.Days61To90, &row.DaysOver90,
			&row.VoucherCount, &row.SettledCount, &row.AvgSettlementDays); err != nil {
			return nil, err
		}
		aging = append(aging, row)
	}
	return aging, rows.Err()
}

func (s *SQLStore) LegacyAging(ctx context.Context, tenant string, asOf time.Time) ([]PartyAging, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT guid, party_name, voucher_type, voucher_date, amount "+s.voucherFilter(), tenant, false)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	vouchers := make([]voucher, 0)
	for rows.Next() {
		var (
			current voucher
			date    any
			amount  sql.NullFloat64
		)
		if err := rows.Scan(&current.guid, &current.party, &current.voucherType, &date, &amount); err != nil {
			return nil, err
		}

		parsed, err := storage.ParseTime(date)
		if err != nil {
			return nil, err
		}
		if parsed == nil {
			continue
		}
		current.date = *parsed
		current.amount = amount.Float64
		vouchers = append(vouchers, current)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return computeAging(asOf, vouchers), nil
}

func (s *SQLStore) MaxSyncedAt(ctx context.Context, table, tenant string) (*time.Time, error) {
	return s.db.MaxSyncedAt(ctx, table, tenant)
}

func (s *SQLStore) CountRows(ctx context.Context, table, tenant string) (int, error) {
	var count int
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s = ?", storage.QuoteIdentifier(table), storage.QuoteIdentifier(config.TenantColumn))
	if err := s.db.QueryRowContext(ctx, query, tenant).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}
