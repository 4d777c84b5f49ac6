package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"bollette/internal/amqp"
	"bollette/internal/core"
	"bollette/internal/store"
)

// CycleProcessor rolls fully paid recurring bills into their next cycle.
type CycleProcessor struct {
	store  store.Store
	events EventPublisher
}

func NewCycleProcessor(s store.Store, events EventPublisher) *CycleProcessor {
	return &CycleProcessor{
		store:  s,
		events: events,
	}
}

// AdvanceDueBills creates the next-cycle bill for every active bill that is
// ready to advance and has no successor yet. It returns how many were created.
func (p *CycleProcessor) AdvanceDueBills(ctx context.Context, now time.Time) (int, error) {
	if p.store == nil {
		return 0, fmt.Errorf("processor not properly initialized")
	}

	active := false
	bills, err := p.store.FilterBills(ctx, store.BillFilter{Archived: &active})
	if err != nil {
		return 0, fmt.Errorf("list active bills: %w", err)
	}

	slog.InfoContext(ctx, "Processing cycle advancement",
		"total_active", len(bills),
		"processing_date", now.Format("2006-01-02"))

	advanced := 0
	for _, bill := range bills {
		strategy, err := GetCycleStrategy(bill.Recurring)
		if err != nil {
			slog.WarnContext(ctx, "Skipping bill with unknown recurrence",
				"bill_id", bill.ID,
				"recurring", bill.Recurring)
			continue
		}
		nextDue, ok := strategy.NextDueDate(bill)
		if !ok {
			continue
		}

		txs, err := p.store.FilterTransactions(ctx, store.TransactionFilter{BillID: &bill.ID})
		if err != nil {
			slog.ErrorContext(ctx, "Failed to load bill transactions",
				"bill_id", bill.ID,
				"error", err)
			continue
		}
		m := core.CalculateMetrics(&bill, txs, now)
		if !core.ShouldAdvance(bill, m) {
			continue
		}

		exists, err := p.hasSuccessor(ctx, bill, nextDue.Cycle())
		if err != nil {
			slog.ErrorContext(ctx, "Failed to look up next cycle bill",
				"bill_id", bill.ID,
				"error", err)
			continue
		}
		if exists {
			continue
		}

		next, err := p.store.CreateBill(ctx, core.BuildNextCycleBill(bill, m, nextDue, now))
		if err != nil {
			slog.ErrorContext(ctx, "Failed to create next cycle bill",
				"bill_id", bill.ID,
				"name", bill.Name,
				"error", err)
			continue
		}

		advanced++
		slog.InfoContext(ctx, "Advanced bill to next cycle",
			"bill_id", bill.ID,
			"next_bill_id", next.ID,
			"name", bill.Name,
			"cycle", next.Cycle,
			"amount_original", next.AmountOriginal.StringFixed(2))
		p.publish(ctx, next)
	}

	slog.InfoContext(ctx, "Cycle advancement complete",
		"advanced", advanced,
		"total_checked", len(bills))

	return advanced, nil
}

// hasSuccessor checks the structured link first, then the legacy name+cycle match.
func (p *CycleProcessor) hasSuccessor(ctx context.Context, bill core.Bill, nextCycle string) (bool, error) {
	linked, err := p.store.FilterBills(ctx, store.BillFilter{PreviousBillID: &bill.ID})
	if err != nil {
		return false, err
	}
	if len(linked) > 0 {
		return true, nil
	}
	same, err := p.store.FilterBills(ctx, store.BillFilter{Name: &bill.Name, Cycle: &nextCycle})
	if err != nil {
		return false, err
	}
	for _, b := range same {
		if b.ID != bill.ID {
			return true, nil
		}
	}
	return false, nil
}

func (p *CycleProcessor) publish(ctx context.Context, next core.Bill) {
	if p.events == nil {
		return
	}
	msg := amqp.NewBillEventMessage(amqp.CycleAdvanced, next.ID)
	msg.Cycle = next.Cycle
	msg.Amount = next.AmountOriginal.StringFixed(2)
	if err := p.events.PublishBillEvent(ctx, msg); err != nil {
		slog.ErrorContext(ctx, "Failed to publish cycle event",
			"bill_id", next.ID,
			"error", err)
	}
}
