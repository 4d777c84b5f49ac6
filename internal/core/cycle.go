package core

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ShouldAdvance reports whether a bill is ready to roll into its next cycle.
// Overpaid bills qualify too since RemainingBalance is unclamped.
func ShouldAdvance(bill Bill, m Metrics) bool {
	return bill.Recurring == RecurrenceMonthly && WithinEpsilon(m.RemainingBalance)
}

// BuildNextCycleBill derives the successor of a fully paid bill. Any
// overpayment is taken off the next base amount rather than carried as a
// balance. The returned bill has no ID; the store assigns one.
func BuildNextCycleBill(bill Bill, m Metrics, nextDue Date, now time.Time) Bill {
	overpayment := ClampZero(m.RemainingBalance.Neg())
	next := Bill{
		Name:            bill.Name,
		AmountOriginal:  ClampZero(bill.AmountOriginal.Sub(overpayment)),
		DueDate:         nextDue,
		Cycle:           nextDue.Cycle(),
		Recurring:       bill.Recurring,
		PreviousBalance: decimal.Zero,
		PreviousBillID:  bill.ID,
		Category:        bill.Category,
		Notes:           bill.Notes,
	}
	next.SystemNotes = AppendSystemNote(bill.SystemNotes, advanceNote(bill, overpayment, now))
	return next
}

func advanceNote(bill Bill, overpayment decimal.Decimal, now time.Time) string {
	line := fmt.Sprintf("[cycle-advance] from=%s bill=%s at=%s", bill.DueDate.Cycle(), bill.ID, now.UTC().Format(time.RFC3339))
	if overpayment.IsPositive() {
		line += " overpayment_applied=" + overpayment.StringFixed(2)
	}
	return line
}

// AddMonth moves d one calendar month forward, keeping the day of month
// unless the target month is shorter (Jan 31 -> Feb 28/29).
func AddMonth(d Date) Date {
	if d.IsZero() {
		return d
	}
	y, m, day := d.Date()
	first := time.Date(y, m+1, 1, 0, 0, 0, 0, time.UTC)
	lastDay := time.Date(first.Year(), first.Month()+1, 0, 0, 0, 0, 0, time.UTC).Day()
	if day > lastDay {
		day = lastDay
	}
	return NewDate(first.Year(), int(first.Month()), day)
}

// ParseCycle validates a yyyy-MM cycle and returns its first day.
func ParseCycle(cycle string) (Date, error) {
	t, err := time.Parse(cycleLayout, cycle)
	if err != nil {
		return Date{}, ErrInvalidCycle
	}
	return Date{Time: t}, nil
}

// PreviousCycle returns the yyyy-MM before cycle, or "" if cycle is invalid.
func PreviousCycle(cycle string) string {
	return shiftCycle(cycle, -1)
}

// NextCycle returns the yyyy-MM after cycle, or "" if cycle is invalid.
func NextCycle(cycle string) string {
	return shiftCycle(cycle, 1)
}

func shiftCycle(cycle string, months int) string {
	first, err := ParseCycle(cycle)
	if err != nil {
		return ""
	}
	return first.AddDate(0, months, 0).Format(cycleLayout)
}
