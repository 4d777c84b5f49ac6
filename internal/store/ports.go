// Package store defines the persistence ports the bill engine depends on.
package store

import (
	"context"
	"errors"

	"bollette/internal/core"
)

var ErrNotFound = errors.New("not found")

// Ports for outbound adapters.
type (
	BillStore interface {
		GetBill(ctx context.Context, id string) (core.Bill, error)
		// FilterBills returns bills matching every non-nil field, oldest first.
		FilterBills(ctx context.Context, f BillFilter) ([]core.Bill, error)
		// CreateBill assigns ID and timestamps when missing.
		CreateBill(ctx context.Context, b core.Bill) (core.Bill, error)
		// UpdateBill merges the patch and returns the stored result.
		UpdateBill(ctx context.Context, id string, p core.BillPatch) (core.Bill, error)
		// DeleteBill removes the bill and all its transactions.
		DeleteBill(ctx context.Context, id string) error
	}

	TransactionStore interface {
		GetTransaction(ctx context.Context, id string) (core.BillTransaction, error)
		FilterTransactions(ctx context.Context, f TransactionFilter) ([]core.BillTransaction, error)
		CreateTransaction(ctx context.Context, t core.BillTransaction) (core.BillTransaction, error)
		UpdateTransaction(ctx context.Context, id string, p core.TransactionPatch) (core.BillTransaction, error)
		DeleteTransaction(ctx context.Context, id string) error
	}

	Store interface {
		BillStore
		TransactionStore
	}

	// BillFilter matches on equality; nil fields are ignored.
	BillFilter struct {
		Name           *string
		Cycle          *string
		PreviousBillID *string
		Recurring      *core.Recurrence
		Archived       *bool
	}

	TransactionFilter struct {
		BillID             *string
		Type               *core.TransactionType
		SettlementOfBillID *string
	}
)

// Ptr returns a pointer to v, for building filters and patches inline.
func Ptr[T any](v T) *T {
	return &v
}

// Match reports whether b satisfies the filter.
func (f BillFilter) Match(b core.Bill) bool {
	if f.Name != nil && b.Name != *f.Name {
		return false
	}
	if f.Cycle != nil && b.Cycle != *f.Cycle {
		return false
	}
	if f.PreviousBillID != nil && b.PreviousBillID != *f.PreviousBillID {
		return false
	}
	if f.Recurring != nil && b.Recurring != *f.Recurring {
		return false
	}
	if f.Archived != nil && b.Archived != *f.Archived {
		return false
	}
	return true
}

// Match reports whether t satisfies the filter.
func (f TransactionFilter) Match(t core.BillTransaction) bool {
	if f.BillID != nil && t.BillID != *f.BillID {
		return false
	}
	if f.Type != nil && t.Type != *f.Type {
		return false
	}
	if f.SettlementOfBillID != nil && t.SettlementOfBillID != *f.SettlementOfBillID {
		return false
	}
	return true
}
