// Copyright Mia srl
// SPDX-License-Identifier: AGPL-3.0-only or Commercial

package aggregate

import (
	"cmp"
	"math"
	"slices"
	"time"
)

// Side tells whether the outstanding amount of a party is owed to or by the tenant.
type Side string

const (
	Receivable Side = "receivable"
	Payable    Side = "payable"

	salesVoucher    = "Sales"
	purchaseVoucher = "Purchase"
	receiptVoucher  = "Receipt"
	paymentVoucher  = "Payment"

	// settlementTolerance absorbs the rounding of summed amounts when matching settlements to invoices.
	settlementTolerance = 0.005

	day = 24 * time.Hour
)

// RiskLevel classifies a Score.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// PartyAging is the aging of the open invoices of one party on one side,
// together with how long its settled invoices took to be paid.
type PartyAging struct {
	Party      string  `json:"party"`
	Side       Side    `json:"side"`
	Days0To30  float64 `json:"days0To30"`
	Days31To60 float64 `json:"days31To60"`
	Days61To90 float64 `json:"days61To90"`
	DaysOver90 float64 `json:"daysOver90"`
	// VoucherCount is the number of invoices with an outstanding amount.
	VoucherCount int `json:"voucherCount"`
	// SettledCount is the number of invoices fully covered by receipts or payments.
	SettledCount int `json:"settledCount"`
	// AvgSettlementDays is the mean number of days between a settled invoice and
	// the settlement that covered it; zero when nothing has been settled.
	AvgSettlementDays float64   `json:"avgSettlementDays"`
	Score             int       `json:"score"`
	Risk              RiskLevel `json:"risk"`
}

// Total is the sum of every bucket.
func (a PartyAging) Total() float64 {
	return a.Days0To30 + a.Days31To60 + a.Days61To90 + a.DaysOver90
}

// Score rates a party from 0 to 100: amounts younger than 30 days weigh
// fully, the following buckets 75%, 50% and nothing. A party with no
// outstanding amount scores 100.
func Score(a PartyAging) int {
	total := a.Total()
	if total <= 0 {
		return 100
	}

	weighted := a.Days0To30 + 0.75*a.Days31To60 + 0.5*a.Days61To90
	return int(math.Round(weighted * 100 / total))
}

// Risk returns the level of score; below 40 is high risk.
func Risk(score int) RiskLevel {
	switch {
	case score >= 70:
		return RiskLow
	case score >= 40:
		return RiskMedium
	default:
		return RiskHigh
	}
}

// scored fills Score and Risk, which are never stored.
func scored(rows []PartyAging) []PartyAging {
	for idx := range rows {
		rows[idx].Score = Score(rows[idx])
		rows[idx].Risk = Risk(rows[idx].Score)
	}
	return rows
}

// sideOf returns the side of voucherType and whether it is an invoice or a settlement of it.
func sideOf(voucherType string) (side Side, invoice bool, ok bool) {
	switch voucherType {
	case salesVoucher:
		return Receivable, true, true
	case receiptVoucher:
		return Receivable, false, true
	case purchaseVoucher:
		return Payable, true, true
	case paymentVoucher:
		return Payable, false, true
	default:
		return "", false, false
	}
}

// asOfDay truncates now to the start of its UTC day.
func asOfDay(now time.Time) time.Time {
	return now.UTC().Truncate(day)
}

// cutoffs are the oldest voucher dates of the 0-30, 31-60 and 61-90 buckets.
func cutoffs(asOf time.Time) (time.Time, time.Time, time.Time) {
	return asOf.Add(-30 * day), asOf.Add(-60 * day), asOf.Add(-90 * day)
}

type voucher struct {
	guid        string
	party       string
	voucherType string
	date        time.Time
	amount      float64
	cancelled   bool
}

type partyKey struct {
	party string
	side  Side
}

type partyVouchers struct {
	invoices    []voucher
	settlements []voucher
}

// computeAging nets the settlements of every party against its invoices,
// oldest first, and buckets what is left by the age of the invoice at asOf.
// Cancelled vouchers and types without a side are ignored and amounts are
// taken in absolute value. Rows are sorted by side and party.
func computeAging(asOf time.Time, vouchers []voucher) []PartyAging {
	byParty := make(map[partyKey]*partyVouchers)
	for _, v := range vouchers {
		side, invoice, ok := sideOf(v.voucherType)
		if !ok || v.cancelled || v.party == "" {
			continue
		}

		key := partyKey{party: v.party, side: side}
		current, ok := byParty[key]
		if !ok {
			current = &partyVouchers{}
			byParty[key] = current
		}
		v.amount = math.Abs(v.amount)
		if invoice {
			current.invoices = append(current.invoices, v)
		} else {
			current.settlements = append(current.settlements, v)
		}
	}

	rows := make([]PartyAging, 0, len(byParty))
	for key, current := range byParty {
		if len(current.invoices) == 0 {
			continue
		}
		rows = append(rows, current.age(key, asOf))
	}
	sortAging(rows)
	return rows
}

// age applies the settlements to the invoices in date order.
func (p *partyVouchers) age(key partyKey, asOf time.Time) PartyAging {
	sortVouchers(p.invoices)
	sortVouchers(p.settlements)
	cut30, cut60, cut90 := cutoffs(asOf)

	var paid float64
	for _, settlement := range p.settlements {
		paid += settlement.amount
	}

	row := PartyAging{Party: key.party, Side: key.side}
	var (
		invoiced, settledRunning, settlementDays float64
		next                                     int
	)
	for _, invoice := range p.invoices {
		invoiced += invoice.amount

		if uncovered := invoiced - paid; uncovered > settlementTolerance {
			outstanding := min(uncovered, invoice.amount)
			if outstanding <= 0 {
				continue
			}
			switch date := invoice.date.UTC(); {
			case !date.Before(cut30):
				row.Days0To30 += outstanding
			case !date.Before(cut60):
				row.Days31To60 += outstanding
			case !date.Before(cut90):
				row.Days61To90 += outstanding
			default:
				row.DaysOver90 += outstanding
			}
			row.VoucherCount++
			continue
		}

		// the settlement that brings the running total past this invoice is the one that closed it
		for next < len(p.settlements) && settledRunning+settlementTolerance < invoiced {
			settledRunning += p.settlements[next].amount
			next++
		}
		if next == 0 {
			continue
		}
		row.SettledCount++
		settlementDays += max(0, p.settlements[next-1].date.Sub(invoice.date).Hours()/24)
	}

	if row.SettledCount > 0 {
		row.AvgSettlementDays = settlementDays / float64(row.SettledCount)
	}
	return row
}

func sortVouchers(vouchers []voucher) {
	slices.SortFunc(vouchers, func(a, b voucher) int {
		return cmp.Or(a.date.Compare(b.date), cmp.Compare(a.guid, b.guid))
	})
}

func sortAging(rows []PartyAging) {
	slices.SortFunc(rows, func(a, b PartyAging) int {
		return cmp.Or(cmp.Compare(a.Side, b.Side), cmp.Compare(a.Party, b.Party))
	})
}
