package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"bollette/internal/amqp"
	"bollette/internal/services"
	"bollette/internal/store"
)

// ReconcileWorker keeps settlement credits in step with ledger changes made
// by producers that write the store directly.
type ReconcileWorker struct {
	bills      store.BillStore
	reconciler *services.SettlementReconciler
}

func NewReconcileWorker(bills store.BillStore, reconciler *services.SettlementReconciler) *ReconcileWorker {
	return &ReconcileWorker{
		bills:      bills,
		reconciler: reconciler,
	}
}

// HandleBillEvent reconciles the bill named by a ledger or bill-update event,
// both as a next-cycle bill and as the predecessor of its successors. Other
// events are acknowledged without work. A store failure is returned so the
// message is requeued.
func (w *ReconcileWorker) HandleBillEvent(ctx context.Context, msg *amqp.BillEventMessage) error {
	if !msg.Type.IsTransaction() && msg.Type != amqp.BillUpdated {
		slog.DebugContext(ctx, "Ignoring bill event", "type", msg.Type, "bill_id", msg.BillID)
		return nil
	}

	slog.InfoContext(ctx, "Processing bill event",
		"type", msg.Type,
		"bill_id", msg.BillID,
		"transaction_id", msg.TransactionID)

	if out := w.reconciler.ReconcileSettlement(ctx, msg.BillID); out.Err != nil {
		return fmt.Errorf("reconcile bill %s: %w", msg.BillID, out.Err)
	}

	bill, err := w.bills.GetBill(ctx, msg.BillID)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load bill %s: %w", msg.BillID, err)
	}
	successors, err := services.FindSuccessors(ctx, w.bills, bill)
	if err != nil {
		return fmt.Errorf("list successors of %s: %w", msg.BillID, err)
	}
	for _, next := range successors {
		if out := w.reconciler.ReconcileSettlement(ctx, next.ID); out.Err != nil {
			return fmt.Errorf("reconcile successor %s: %w", next.ID, out.Err)
		}
	}
	return nil
}

// StartupReconcile runs the reconciler over every active bill carrying a
// balance from a previous cycle. This recovers from events lost while the
// worker was down.
func (w *ReconcileWorker) StartupReconcile(ctx context.Context) error {
	active := false
	bills, err := w.bills.FilterBills(ctx, store.BillFilter{Archived: &active})
	if err != nil {
		return fmt.Errorf("list bills for startup reconcile: %w", err)
	}

	checked, changed, failed := 0, 0, 0
	for _, b := range bills {
		if !b.PreviousBalance.IsPositive() {
			continue
		}
		checked++
		out := w.reconciler.ReconcileSettlement(ctx, b.ID)
		switch {
		case out.Err != nil:
			failed++
		case out.Action != services.SettlementNone:
			changed++
		}
	}

	slog.InfoContext(ctx, "Startup reconcile completed",
		"checked", checked,
		"changed", changed,
		"errors", failed)

	return nil
}
