package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"bollette/internal/amqp"
	"bollette/internal/core"
	"bollette/internal/store"
)

// ErrInvalidInput wraps every validation failure returned by BillService.
var ErrInvalidInput = errors.New("invalid input")

// BillService orchestrates bill and ledger operations. Every ledger change is
// committed before the settlement mirror is reconciled, and a failed
// reconciliation never fails the change itself.
type BillService struct {
	store      store.Store
	clock      core.Clock
	reconciler *SettlementReconciler
	events     EventPublisher
}

func NewBillService(s store.Store, clock core.Clock, events EventPublisher) *BillService {
	if clock == nil {
		clock = core.SystemClock{}
	}
	return &BillService{
		store:      s,
		clock:      clock,
		reconciler: NewSettlementReconciler(s, clock, events),
		events:     events,
	}
}

// Reconciler exposes the settlement reconciler bound to the same store.
func (s *BillService) Reconciler() *SettlementReconciler {
	return s.reconciler
}

func (s *BillService) CreateBill(ctx context.Context, b core.Bill) (core.Bill, error) {
	b.ID = ""
	b.Name = strings.TrimSpace(b.Name)
	if b.Recurring == "" {
		b.Recurring = core.RecurrenceNone
	}
	b.SystemNotes = ""
	if err := b.Validate(); err != nil {
		return core.Bill{}, invalid(err)
	}
	b.Cycle = b.DueDate.Cycle()

	created, err := s.store.CreateBill(ctx, b)
	if err != nil {
		return core.Bill{}, fmt.Errorf("save bill: %w", err)
	}
	s.publish(ctx, amqp.BillCreated, created.ID, "", created.Cycle, created.AmountOriginal.StringFixed(2))
	return created, nil
}

// GetBill returns the bill with its ledger and metrics as of today.
func (s *BillService) GetBill(ctx context.Context, id string) (core.BillView, error) {
	b, err := s.store.GetBill(ctx, id)
	if err != nil {
		return core.BillView{}, fmt.Errorf("get bill: %w", err)
	}
	return s.view(ctx, b)
}

// ListBills returns the bills of a cycle ("" for all), oldest first.
func (s *BillService) ListBills(ctx context.Context, cycle string, includeArchived bool) ([]core.BillView, error) {
	var f store.BillFilter
	if cycle != "" {
		if _, err := core.ParseCycle(cycle); err != nil {
			return nil, invalid(err)
		}
		f.Cycle = &cycle
	}
	if !includeArchived {
		archived := false
		f.Archived = &archived
	}
	bills, err := s.store.FilterBills(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("list bills: %w", err)
	}
	views := make([]core.BillView, 0, len(bills))
	for _, b := range bills {
		v, err := s.view(ctx, b)
		if err != nil {
			return nil, err
		}
		views = append(views, v)
	}
	return views, nil
}

// UpdateBill merges the patch, then reconciles the bill and its successors
// when the change can move a balance.
func (s *BillService) UpdateBill(ctx context.Context, id string, p core.BillPatch) (core.BillView, error) {
	p.SystemNotes = nil
	current, err := s.store.GetBill(ctx, id)
	if err != nil {
		return core.BillView{}, fmt.Errorf("get bill: %w", err)
	}
	if p.Empty() {
		return s.view(ctx, current)
	}
	candidate := current
	p.Apply(&candidate)
	if err := candidate.Validate(); err != nil {
		return core.BillView{}, invalid(err)
	}

	updated, err := s.store.UpdateBill(ctx, id, p)
	if err != nil {
		return core.BillView{}, fmt.Errorf("update bill: %w", err)
	}
	s.publish(ctx, amqp.BillUpdated, updated.ID, "", updated.Cycle, "")

	if p.AffectsBalance() {
		s.reconcileAround(ctx, updated)
	}
	return s.GetBill(ctx, id)
}

func (s *BillService) ArchiveBill(ctx context.Context, id string) (core.BillView, error) {
	archived := true
	return s.UpdateBill(ctx, id, core.BillPatch{Archived: &archived})
}

// DeleteBill removes the bill and its ledger. Settlement credits it had
// produced on its predecessor are removed too, and successors are
// reconciled against whatever predecessor they resolve to now.
func (s *BillService) DeleteBill(ctx context.Context, id string) error {
	b, err := s.store.GetBill(ctx, id)
	if err != nil {
		return fmt.Errorf("get bill: %w", err)
	}
	successors := s.successors(ctx, b)

	if err := s.store.DeleteBill(ctx, id); err != nil {
		return fmt.Errorf("delete bill: %w", err)
	}
	s.publish(ctx, amqp.BillDeleted, id, "", b.Cycle, "")

	s.dropSettlementsOf(ctx, id)
	for _, next := range successors {
		s.reconciler.ReconcileSettlement(ctx, next.ID)
	}
	return nil
}

// AddTransaction records a ledger entry on a bill.
func (s *BillService) AddTransaction(ctx context.Context, tx core.BillTransaction) (core.BillTransaction, error) {
	tx.ID = ""
	tx.SettlementOfBillID = ""
	tx.Note = strings.TrimSpace(tx.Note)
	if tx.TransactionDate.IsZero() {
		tx.TransactionDate = core.DateOf(s.clock.Now())
	}
	if err := tx.Validate(); err != nil {
		return core.BillTransaction{}, invalid(err)
	}

	bill, err := s.store.GetBill(ctx, tx.BillID)
	if err != nil {
		return core.BillTransaction{}, fmt.Errorf("get bill: %w", err)
	}
	created, err := s.store.CreateTransaction(ctx, tx)
	if err != nil {
		return core.BillTransaction{}, fmt.Errorf("save transaction: %w", err)
	}
	s.publish(ctx, amqp.TransactionCreated, created.BillID, created.ID, bill.Cycle, created.Amount.StringFixed(2))

	s.reconcileAround(ctx, bill)
	return created, nil
}

// UpdateTransaction merges the patch into a user entry. Settlement credits
// belong to the reconciler and cannot be edited.
func (s *BillService) UpdateTransaction(ctx context.Context, id string, p core.TransactionPatch) (core.BillTransaction, error) {
	current, err := s.store.GetTransaction(ctx, id)
	if err != nil {
		return core.BillTransaction{}, fmt.Errorf("get transaction: %w", err)
	}
	if core.IsSettlementCredit(current) {
		return core.BillTransaction{}, invalid(core.ErrSettlementCredit)
	}
	candidate := current
	p.Apply(&candidate)
	if err := candidate.Validate(); err != nil {
		return core.BillTransaction{}, invalid(err)
	}

	updated, err := s.store.UpdateTransaction(ctx, id, p)
	if err != nil {
		return core.BillTransaction{}, fmt.Errorf("update transaction: %w", err)
	}
	s.publish(ctx, amqp.TransactionUpdated, updated.BillID, updated.ID, "", updated.Amount.StringFixed(2))

	s.reconcileBill(ctx, updated.BillID)
	return updated, nil
}

func (s *BillService) DeleteTransaction(ctx context.Context, id string) error {
	tx, err := s.store.GetTransaction(ctx, id)
	if err != nil {
		return fmt.Errorf("get transaction: %w", err)
	}
	if err := s.store.DeleteTransaction(ctx, id); err != nil {
		return fmt.Errorf("delete transaction: %w", err)
	}
	s.publish(ctx, amqp.TransactionDeleted, tx.BillID, tx.ID, "", tx.Amount.StringFixed(2))

	s.reconcileBill(ctx, tx.BillID)
	return nil
}

// Overview summarizes the active bills of one cycle.
func (s *BillService) Overview(ctx context.Context, cycle string) (core.CycleOverview, error) {
	if _, err := core.ParseCycle(cycle); err != nil {
		return core.CycleOverview{}, invalid(err)
	}
	views, err := s.ListBills(ctx, cycle, false)
	if err != nil {
		return core.CycleOverview{}, err
	}
	return core.Summarize(cycle, views), nil
}

// Close releases the store when it holds resources.
func (s *BillService) Close() error {
	if c, ok := s.store.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

func (s *BillService) view(ctx context.Context, b core.Bill) (core.BillView, error) {
	txs, err := s.store.FilterTransactions(ctx, store.TransactionFilter{BillID: &b.ID})
	if err != nil {
		return core.BillView{}, fmt.Errorf("list transactions: %w", err)
	}
	return core.BillView{
		Bill:         b,
		Metrics:      core.CalculateMetrics(&b, txs, s.clock.Now()),
		Transactions: txs,
	}, nil
}

func (s *BillService) reconcileBill(ctx context.Context, billID string) {
	b, err := s.store.GetBill(ctx, billID)
	if err != nil {
		slog.WarnContext(ctx, "Skipping reconciliation, bill not readable",
			"bill_id", billID,
			"error", err)
		return
	}
	s.reconcileAround(ctx, b)
}

// reconcileAround treats b as a next-cycle bill first, then as the
// predecessor of every bill that follows it.
func (s *BillService) reconcileAround(ctx context.Context, b core.Bill) {
	s.reconciler.ReconcileSettlement(ctx, b.ID)
	for _, next := range s.successors(ctx, b) {
		s.reconciler.ReconcileSettlement(ctx, next.ID)
	}
}

func (s *BillService) successors(ctx context.Context, b core.Bill) []core.Bill {
	out, err := FindSuccessors(ctx, s.store, b)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to list successor bills", "bill_id", b.ID, "error", err)
	}
	return out
}

// dropSettlementsOf removes credits mirroring a bill that no longer exists.
func (s *BillService) dropSettlementsOf(ctx context.Context, deletedID string) {
	credits, err := s.store.FilterTransactions(ctx, store.TransactionFilter{SettlementOfBillID: &deletedID})
	if err != nil {
		slog.ErrorContext(ctx, "Failed to look up orphaned settlement credits", "bill_id", deletedID, "error", err)
		return
	}
	for _, c := range credits {
		if err := s.store.DeleteTransaction(ctx, c.ID); err != nil && !errors.Is(err, store.ErrNotFound) {
			slog.ErrorContext(ctx, "Failed to delete orphaned settlement credit", "transaction_id", c.ID, "error", err)
			continue
		}
		slog.InfoContext(ctx, "Deleted orphaned settlement credit",
			"transaction_id", c.ID,
			"bill_id", c.BillID,
			"next_bill_id", deletedID)
	}
}

func (s *BillService) publish(ctx context.Context, eventType amqp.EventType, billID, txID, cycle, amount string) {
	if s.events == nil {
		return
	}
	msg := amqp.NewBillEventMessage(eventType, billID)
	msg.TransactionID = txID
	msg.Cycle = cycle
	msg.Amount = amount
	if err := s.events.PublishBillEvent(ctx, msg); err != nil {
		slog.ErrorContext(ctx, "Failed to publish bill event",
			"type", eventType,
			"bill_id", billID,
			"error", err)
		// Don't fail the request - the change is already committed
	}
}

func invalid(err error) error {
	return fmt.Errorf("%w: %w", ErrInvalidInput, err)
}
