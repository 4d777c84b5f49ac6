// Package services provides business logic and orchestration services.
//
// This file implements the Strategy Pattern for cycle advancement.
// Each recurrence has its own strategy deciding the due date of the
// following cycle, if there is one.

package services

import (
	"fmt"

	"bollette/internal/core"
)

// CycleStrategy is the strategy interface for computing a bill's next due date.
type CycleStrategy interface {
	// NextDueDate returns the due date of the cycle following bill, or false
	// when the bill does not roll over.
	NextDueDate(bill core.Bill) (core.Date, bool)
}

// MonthlyStrategy advances one calendar month, clamping the day.
type MonthlyStrategy struct{}

func (MonthlyStrategy) NextDueDate(bill core.Bill) (core.Date, bool) {
	if bill.DueDate.IsZero() {
		return core.Date{}, false
	}
	return core.AddMonth(bill.DueDate), true
}

// OneTimeStrategy never advances.
type OneTimeStrategy struct{}

func (OneTimeStrategy) NextDueDate(core.Bill) (core.Date, bool) {
	return core.Date{}, false
}

var cycleStrategies = map[core.Recurrence]CycleStrategy{
	core.RecurrenceNone:    OneTimeStrategy{},
	core.RecurrenceMonthly: MonthlyStrategy{},
}

// GetCycleStrategy returns the strategy for a recurrence. An empty recurrence
// is treated as one-time.
func GetCycleStrategy(recurrence core.Recurrence) (CycleStrategy, error) {
	if recurrence == "" {
		recurrence = core.RecurrenceNone
	}
	strategy, ok := cycleStrategies[recurrence]
	if !ok {
		return nil, fmt.Errorf("unknown recurrence: %s", recurrence)
	}
	return strategy, nil
}

// RegisterCycleStrategy adds or replaces the strategy for a recurrence.
// Not safe for use concurrently with GetCycleStrategy; register at startup.
func RegisterCycleStrategy(recurrence core.Recurrence, strategy CycleStrategy) {
	cycleStrategies[recurrence] = strategy
}
