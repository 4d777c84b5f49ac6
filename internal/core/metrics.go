package core

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	StatusPending Status = "pending"
	StatusOverdue Status = "overdue"
	StatusPaid    Status = "paid"

	CarryoverPaid   CarryoverStatus = "paid"
	CarryoverUnpaid CarryoverStatus = "unpaid"
)

type (
	Status          string
	CarryoverStatus string

	// Metrics is the derived financial state of a bill.
	Metrics struct {
		TotalDue           decimal.Decimal `json:"total_due"`
		TotalPaid          decimal.Decimal `json:"total_paid"`
		FeesAndAdjustments decimal.Decimal `json:"fees_and_adjustments"`
		// Balance is RemainingBalance clamped at zero.
		Balance decimal.Decimal `json:"balance"`
		// RemainingBalance is negative when the bill is overpaid.
		RemainingBalance decimal.Decimal `json:"remaining_balance"`
		CarryoverBalance decimal.Decimal `json:"carryover_balance"`
		Status           Status          `json:"status"`
		CarryoverStatus  CarryoverStatus `json:"carryover_status"`
	}
)

// CalculateMetrics computes totals, balance and status of bill over txs.
// today is compared by calendar date only. A nil bill yields zero metrics.
func CalculateMetrics(bill *Bill, txs []BillTransaction, today time.Time) Metrics {
	if bill == nil {
		return Metrics{Status: StatusPending, CarryoverStatus: CarryoverUnpaid}
	}

	base := bill.AmountOriginal
	carryover := bill.PreviousBalance

	totalPaid := decimal.Zero
	fees := decimal.Zero
	for _, tx := range txs {
		switch {
		case tx.Type.Reduces():
			totalPaid = totalPaid.Add(tx.Amount)
		case tx.Type.Increases():
			fees = fees.Add(tx.Amount)
		}
	}

	totalDue := base.Add(carryover).Add(fees)
	remaining := totalDue.Sub(totalPaid)

	m := Metrics{
		TotalDue:           totalDue,
		TotalPaid:          totalPaid,
		FeesAndAdjustments: fees,
		Balance:            ClampZero(remaining),
		RemainingBalance:   remaining,
		CarryoverBalance:   ClampZero(carryover.Sub(totalPaid)),
		CarryoverStatus:    CarryoverUnpaid,
	}
	if carryover.IsPositive() && WithinEpsilon(m.CarryoverBalance) {
		m.CarryoverStatus = CarryoverPaid
	}
	m.Status = billStatus(bill, m, DateOf(today))
	return m
}

func billStatus(bill *Bill, m Metrics, today Date) Status {
	if WithinEpsilon(m.Balance) {
		return StatusPaid
	}
	due := bill.DueDate
	if due.IsZero() {
		return StatusPending
	}
	if bill.Recurring == RecurrenceNone || bill.Recurring == "" {
		// TODO: one-time bills from past cycles probably belong in the archive
		// instead of staying pending forever; waiting on product to decide.
		if due.monthIndex() < today.monthIndex() {
			return StatusPending
		}
		return dueStatus(due, today)
	}
	if bill.PreviousBalance.IsPositive() && m.CarryoverStatus == CarryoverUnpaid {
		return StatusOverdue
	}
	return dueStatus(due, today)
}

func dueStatus(due, today Date) Status {
	if today.After(due) {
		return StatusOverdue
	}
	return StatusPending
}
