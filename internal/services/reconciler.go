package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"bollette/internal/amqp"
	"bollette/internal/core"
	"bollette/internal/store"
)

type SettlementAction string

const (
	SettlementNone    SettlementAction = "none"
	SettlementCreated SettlementAction = "created"
	SettlementUpdated SettlementAction = "updated"
	SettlementDeleted SettlementAction = "deleted"
)

// SettlementOutcome describes what a reconciliation pass changed. Err is set
// when a store call failed; the pass stops at that point.
type SettlementOutcome struct {
	Action         SettlementAction
	NextBillID     string
	PreviousBillID string
	TransactionID  string
	Amount         decimal.Decimal
	Err            error
}

// EventPublisher receives bill events. *amqp.Client implements it.
type EventPublisher interface {
	PublishBillEvent(ctx context.Context, msg *amqp.BillEventMessage) error
}

// SettlementReconciler mirrors a next-cycle bill's carryover payoff as a
// credit on the bill it was carried over from.
type SettlementReconciler struct {
	store  store.Store
	clock  core.Clock
	events EventPublisher
}

func NewSettlementReconciler(s store.Store, clock core.Clock, events EventPublisher) *SettlementReconciler {
	if clock == nil {
		clock = core.SystemClock{}
	}
	return &SettlementReconciler{store: s, clock: clock, events: events}
}

// ReconcileSettlement brings the settlement credit for nextBillID in line with
// the next bill's current balance. It never returns an error: failures are
// logged and reported on the outcome. Running it twice without intervening
// changes performs no mutation the second time.
func (r *SettlementReconciler) ReconcileSettlement(ctx context.Context, nextBillID string) SettlementOutcome {
	out, err := r.reconcile(ctx, nextBillID)
	if err != nil {
		out.Err = err
		slog.ErrorContext(ctx, "Carryover settlement reconciliation failed",
			"next_bill_id", nextBillID,
			"previous_bill_id", out.PreviousBillID,
			"error", err)
		return out
	}
	if out.Action != SettlementNone {
		slog.InfoContext(ctx, "Carryover settlement reconciled",
			"action", out.Action,
			"next_bill_id", out.NextBillID,
			"previous_bill_id", out.PreviousBillID,
			"transaction_id", out.TransactionID,
			"amount", out.Amount.StringFixed(2))
		r.publish(ctx, out)
	}
	return out
}

func (r *SettlementReconciler) reconcile(ctx context.Context, nextBillID string) (SettlementOutcome, error) {
	out := SettlementOutcome{Action: SettlementNone, NextBillID: nextBillID, Amount: decimal.Zero}

	next, err := r.store.GetBill(ctx, nextBillID)
	if errors.Is(err, store.ErrNotFound) {
		return out, nil
	}
	if err != nil {
		return out, fmt.Errorf("load next bill: %w", err)
	}
	nextTxs, err := r.store.FilterTransactions(ctx, store.TransactionFilter{BillID: &next.ID})
	if err != nil {
		return out, fmt.Errorf("load next bill transactions: %w", err)
	}
	now := r.clock.Now()
	nextMetrics := core.CalculateMetrics(&next, nextTxs, now)

	prev, ok, err := r.findPredecessor(ctx, next)
	if err != nil {
		return out, err
	}
	if err := r.dropStaleSettlements(ctx, next, prev.ID, now); err != nil {
		return out, err
	}
	if !ok {
		return out, nil
	}
	out.PreviousBillID = prev.ID

	prevTxs, err := r.store.FilterTransactions(ctx, store.TransactionFilter{BillID: &prev.ID})
	if err != nil {
		return out, fmt.Errorf("load previous bill transactions: %w", err)
	}

	var credit *core.BillTransaction
	others := make([]core.BillTransaction, 0, len(prevTxs))
	for i := range prevTxs {
		tx := prevTxs[i]
		if !core.IsSettlementFor(tx, next.ID) {
			others = append(others, tx)
			continue
		}
		if credit == nil {
			credit = &prevTxs[i]
			continue
		}
		slog.WarnContext(ctx, "Removing duplicate settlement credit",
			"transaction_id", tx.ID,
			"previous_bill_id", prev.ID,
			"next_bill_id", next.ID)
		if err := r.store.DeleteTransaction(ctx, tx.ID); err != nil && !errors.Is(err, store.ErrNotFound) {
			return out, fmt.Errorf("delete duplicate settlement credit: %w", err)
		}
	}

	prevRemainder := core.CalculateMetrics(&prev, others, now).Balance
	fullySettled := next.PreviousBalance.IsPositive() && core.WithinEpsilon(nextMetrics.Balance)

	switch {
	case fullySettled && !core.WithinEpsilon(prevRemainder):
		if credit != nil {
			out.TransactionID = credit.ID
			out.Amount = credit.Amount
			if !core.WithinEpsilon(credit.Amount.Sub(prevRemainder).Abs()) {
				amount := prevRemainder
				if _, err := r.store.UpdateTransaction(ctx, credit.ID, core.TransactionPatch{Amount: &amount}); err != nil {
					return out, fmt.Errorf("update settlement credit: %w", err)
				}
				out.Action = SettlementUpdated
				out.Amount = amount
			}
		} else {
			created, err := r.store.CreateTransaction(ctx, core.BillTransaction{
				BillID:             prev.ID,
				Type:               core.TxCredit,
				Amount:             prevRemainder,
				TransactionDate:    core.DateOf(now),
				Note:               core.SettlementNote(next, prev),
				SettlementOfBillID: next.ID,
			})
			if err != nil {
				return out, fmt.Errorf("create settlement credit: %w", err)
			}
			out.Action = SettlementCreated
			out.TransactionID = created.ID
			out.Amount = created.Amount
		}
		if !strings.Contains(prev.SystemNotes, core.SettlementMarker(next.ID)) {
			notes := core.AppendSystemNote(prev.SystemNotes, core.SettlementAuditLine(next))
			if _, err := r.store.UpdateBill(ctx, prev.ID, core.BillPatch{SystemNotes: &notes}); err != nil {
				return out, fmt.Errorf("append settlement audit line: %w", err)
			}
		}

	case fullySettled:
		if credit == nil {
			return out, nil
		}
		if err := r.deleteCredit(ctx, &out, *credit); err != nil {
			return out, err
		}

	default:
		if credit == nil {
			return out, nil
		}
		if err := r.deleteCredit(ctx, &out, *credit); err != nil {
			return out, err
		}
		notes := core.AppendSystemNote(prev.SystemNotes, core.SettlementRemovedLine(next, now))
		if _, err := r.store.UpdateBill(ctx, prev.ID, core.BillPatch{SystemNotes: &notes}); err != nil {
			return out, fmt.Errorf("append settlement removal line: %w", err)
		}
	}

	return out, nil
}

func (r *SettlementReconciler) deleteCredit(ctx context.Context, out *SettlementOutcome, credit core.BillTransaction) error {
	if err := r.store.DeleteTransaction(ctx, credit.ID); err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("delete settlement credit: %w", err)
	}
	out.Action = SettlementDeleted
	out.TransactionID = credit.ID
	out.Amount = credit.Amount
	return nil
}

// dropStaleSettlements removes credits linked to next that sit on a bill other
// than keepBillID, which happens after next is re-pointed at another
// predecessor. An empty keepBillID removes every linked credit.
func (r *SettlementReconciler) dropStaleSettlements(ctx context.Context, next core.Bill, keepBillID string, now time.Time) error {
	linked, err := r.store.FilterTransactions(ctx, store.TransactionFilter{SettlementOfBillID: &next.ID})
	if err != nil {
		return fmt.Errorf("load linked settlement credits: %w", err)
	}
	for _, tx := range linked {
		if tx.BillID == keepBillID {
			continue
		}
		slog.WarnContext(ctx, "Removing settlement credit left on former predecessor",
			"transaction_id", tx.ID,
			"previous_bill_id", tx.BillID,
			"next_bill_id", next.ID)

		stale := SettlementOutcome{NextBillID: next.ID, PreviousBillID: tx.BillID}
		if err := r.deleteCredit(ctx, &stale, tx); err != nil {
			return err
		}
		former, err := r.store.GetBill(ctx, tx.BillID)
		if err == nil {
			notes := core.AppendSystemNote(former.SystemNotes, core.SettlementRemovedLine(next, now))
			if _, err := r.store.UpdateBill(ctx, former.ID, core.BillPatch{SystemNotes: &notes}); err != nil {
				return fmt.Errorf("append settlement removal line: %w", err)
			}
		} else if !errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("load former previous bill: %w", err)
		}
		r.publish(ctx, stale)
	}
	return nil
}

// findPredecessor follows PreviousBillID, falling back to the bill with the
// same name in the previous cycle when the link is missing or dangling.
func (r *SettlementReconciler) findPredecessor(ctx context.Context, next core.Bill) (core.Bill, bool, error) {
	if next.PreviousBillID != "" && next.PreviousBillID != next.ID {
		prev, err := r.store.GetBill(ctx, next.PreviousBillID)
		if err == nil {
			return prev, true, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return core.Bill{}, false, fmt.Errorf("load previous bill: %w", err)
		}
		slog.WarnContext(ctx, "Previous bill link is dangling, falling back to name lookup",
			"next_bill_id", next.ID,
			"previous_bill_id", next.PreviousBillID)
	}

	prevCycle := core.PreviousCycle(next.Cycle)
	if prevCycle == "" {
		return core.Bill{}, false, nil
	}
	candidates, err := r.store.FilterBills(ctx, store.BillFilter{Name: &next.Name, Cycle: &prevCycle})
	if err != nil {
		return core.Bill{}, false, fmt.Errorf("search previous bill: %w", err)
	}
	for _, c := range candidates {
		if c.ID != next.ID {
			return c, true, nil
		}
	}
	return core.Bill{}, false, nil
}

func (r *SettlementReconciler) publish(ctx context.Context, out SettlementOutcome) {
	if r.events == nil {
		return
	}
	var eventType amqp.EventType
	switch out.Action {
	case SettlementCreated:
		eventType = amqp.SettlementCreated
	case SettlementUpdated:
		eventType = amqp.SettlementUpdated
	case SettlementDeleted:
		eventType = amqp.SettlementDeleted
	default:
		return
	}
	msg := amqp.NewBillEventMessage(eventType, out.PreviousBillID)
	msg.TransactionID = out.TransactionID
	msg.Amount = out.Amount.StringFixed(2)
	if err := r.events.PublishBillEvent(ctx, msg); err != nil {
		slog.ErrorContext(ctx, "Failed to publish settlement event",
			"type", eventType,
			"previous_bill_id", out.PreviousBillID,
			"error", err)
	}
}
