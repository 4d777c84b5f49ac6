package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bollette/internal/amqp"
	"bollette/internal/core"
	"bollette/internal/store"
	"bollette/internal/store/memory"
)

func newTestService() (*BillService, *memory.Store, *recordingPublisher) {
	s := memory.New()
	events := &recordingPublisher{}
	return NewBillService(s, core.FixedClock{T: testNow}, events), s, events
}

func TestBillService_CreateBillValidation(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	tests := []struct {
		name string
		bill core.Bill
		want error
	}{
		{"empty name", core.Bill{Name: "  ", DueDate: core.NewDate(2025, 6, 1)}, core.ErrEmptyName},
		{"negative amount", core.Bill{Name: "A", AmountOriginal: dec("-1"), DueDate: core.NewDate(2025, 6, 1)}, core.ErrNegativeAmount},
		{"bad recurrence", core.Bill{Name: "A", DueDate: core.NewDate(2025, 6, 1), Recurring: "weekly"}, core.ErrInvalidRecurrence},
		{"cycle mismatch", core.Bill{Name: "A", DueDate: core.NewDate(2025, 6, 1), Cycle: "2025-07"}, core.ErrCycleDateMismatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.CreateBill(ctx, tt.bill)
			assert.ErrorIs(t, err, ErrInvalidInput)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	b, err := svc.CreateBill(ctx, core.Bill{Name: " Rent ", AmountOriginal: dec("900"), DueDate: core.NewDate(2025, 6, 1), SystemNotes: "forged"})
	require.NoError(t, err)
	assert.Equal(t, "Rent", b.Name)
	assert.Equal(t, core.RecurrenceNone, b.Recurring)
	assert.Equal(t, "2025-06", b.Cycle)
	assert.Empty(t, b.SystemNotes)
}

func TestBillService_TransactionsDriveSettlement(t *testing.T) {
	ctx := context.Background()
	svc, s, events := newTestService()
	prev, next := carryoverPair(t, s)

	_, err := svc.AddTransaction(ctx, core.BillTransaction{BillID: next.ID, Type: core.TxPayment, Amount: dec("100")})
	require.NoError(t, err)
	view, err := svc.GetBill(ctx, prev.ID)
	require.NoError(t, err)
	assert.True(t, view.Metrics.Balance.Equal(dec("75")))

	last, err := svc.AddTransaction(ctx, core.BillTransaction{BillID: next.ID, Type: core.TxPayment, Amount: dec("75")})
	require.NoError(t, err)
	assert.Equal(t, "2025-06-20", last.TransactionDate.String())

	view, err = svc.GetBill(ctx, prev.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusPaid, view.Metrics.Status)
	require.Len(t, view.Transactions, 1)

	require.NoError(t, svc.DeleteTransaction(ctx, last.ID))
	view, err = svc.GetBill(ctx, prev.ID)
	require.NoError(t, err)
	assert.True(t, view.Metrics.Balance.Equal(dec("75")))
	assert.Empty(t, view.Transactions)

	assert.Contains(t, events.types(), amqp.TransactionCreated)
	assert.Contains(t, events.types(), amqp.SettlementCreated)
	assert.Contains(t, events.types(), amqp.SettlementDeleted)
}

func TestBillService_PredecessorPaymentUpdatesCredit(t *testing.T) {
	ctx := context.Background()
	svc, s, _ := newTestService()
	prev, next := carryoverPair(t, s)
	_, err := svc.AddTransaction(ctx, core.BillTransaction{BillID: next.ID, Type: core.TxPayment, Amount: dec("175")})
	require.NoError(t, err)

	// Paying the predecessor directly reconciles its successor too.
	_, err = svc.AddTransaction(ctx, core.BillTransaction{BillID: prev.ID, Type: core.TxPayment, Amount: dec("25")})
	require.NoError(t, err)

	credits, err := s.FilterTransactions(ctx, store.TransactionFilter{SettlementOfBillID: &next.ID})
	require.NoError(t, err)
	require.Len(t, credits, 1)
	assert.True(t, credits[0].Amount.Equal(dec("50")))
}

func TestBillService_UpdateTransaction(t *testing.T) {
	ctx := context.Background()
	svc, s, _ := newTestService()
	prev, next := carryoverPair(t, s)
	tx, err := svc.AddTransaction(ctx, core.BillTransaction{BillID: next.ID, Type: core.TxPayment, Amount: dec("175")})
	require.NoError(t, err)

	_, err = svc.UpdateTransaction(ctx, tx.ID, core.TransactionPatch{Amount: store.Ptr(dec("0"))})
	assert.ErrorIs(t, err, core.ErrInvalidAmount)

	_, err = svc.UpdateTransaction(ctx, tx.ID, core.TransactionPatch{Amount: store.Ptr(dec("170"))})
	require.NoError(t, err)
	view, err := svc.GetBill(ctx, prev.ID)
	require.NoError(t, err)
	assert.True(t, view.Metrics.Balance.Equal(dec("75")))

	_, err = svc.UpdateTransaction(ctx, "missing", core.TransactionPatch{})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestBillService_UpdateBillReconciles(t *testing.T) {
	ctx := context.Background()
	svc, s, _ := newTestService()
	prev, next := carryoverPair(t, s)
	_, err := svc.AddTransaction(ctx, core.BillTransaction{BillID: next.ID, Type: core.TxPayment, Amount: dec("175")})
	require.NoError(t, err)

	// Raising the carried balance unsettles the next bill.
	view, err := svc.UpdateBill(ctx, next.ID, core.BillPatch{PreviousBalance: store.Ptr(dec("80"))})
	require.NoError(t, err)
	assert.True(t, view.Metrics.Balance.Equal(dec("5")))

	prevView, err := svc.GetBill(ctx, prev.ID)
	require.NoError(t, err)
	assert.Empty(t, prevView.Transactions)

	_, err = svc.UpdateBill(ctx, next.ID, core.BillPatch{Name: store.Ptr("")})
	assert.ErrorIs(t, err, core.ErrEmptyName)

	archived, err := svc.ArchiveBill(ctx, next.ID)
	require.NoError(t, err)
	assert.True(t, archived.Bill.Archived)
}

func TestBillService_RepointedBillMovesItsCredit(t *testing.T) {
	ctx := context.Background()
	settled := func(t *testing.T, svc *BillService, next core.Bill) {
		t.Helper()
		_, err := svc.AddTransaction(ctx, core.BillTransaction{BillID: next.ID, Type: core.TxPayment, Amount: dec("175")})
		require.NoError(t, err)
	}
	// nameMatchedPair is carryoverPair without the PreviousBillID link.
	nameMatchedPair := func(t *testing.T, s store.Store) (core.Bill, core.Bill) {
		t.Helper()
		prev, err := s.CreateBill(ctx, core.Bill{Name: "Internet", AmountOriginal: dec("75"), DueDate: core.NewDate(2025, 5, 10), Recurring: core.RecurrenceMonthly})
		require.NoError(t, err)
		next, err := s.CreateBill(ctx, core.Bill{
			Name:            "Internet",
			AmountOriginal:  dec("100"),
			PreviousBalance: dec("75"),
			DueDate:         core.NewDate(2025, 6, 10),
			Recurring:       core.RecurrenceMonthly,
		})
		require.NoError(t, err)
		return prev, next
	}
	ledger := func(t *testing.T, s store.Store, billID string) []core.BillTransaction {
		t.Helper()
		txs, err := s.FilterTransactions(ctx, store.TransactionFilter{BillID: &billID})
		require.NoError(t, err)
		return txs
	}

	t.Run("previous bill link", func(t *testing.T) {
		svc, s, _ := newTestService()
		prev, next := carryoverPair(t, s)
		gas, err := s.CreateBill(ctx, core.Bill{Name: "Gas", AmountOriginal: dec("75"), DueDate: core.NewDate(2025, 5, 12), Recurring: core.RecurrenceMonthly})
		require.NoError(t, err)
		settled(t, svc, next)
		require.Len(t, ledger(t, s, prev.ID), 1)

		_, err = svc.UpdateBill(ctx, next.ID, core.BillPatch{PreviousBillID: &gas.ID})
		require.NoError(t, err)

		assert.Empty(t, ledger(t, s, prev.ID))
		require.Len(t, ledger(t, s, gas.ID), 1)
		linked, err := s.FilterTransactions(ctx, store.TransactionFilter{SettlementOfBillID: &next.ID})
		require.NoError(t, err)
		assert.Len(t, linked, 1)

		oldPrev, err := svc.GetBill(ctx, prev.ID)
		require.NoError(t, err)
		assert.True(t, oldPrev.Metrics.Balance.Equal(dec("75")))
		assert.Contains(t, oldPrev.Bill.SystemNotes, "[carryover-reopened:"+next.ID+"]")
	})

	t.Run("due date moves out of the following cycle", func(t *testing.T) {
		svc, s, _ := newTestService()
		prev, next := nameMatchedPair(t, s)
		settled(t, svc, next)
		require.Len(t, ledger(t, s, prev.ID), 1)

		_, err := svc.UpdateBill(ctx, next.ID, core.BillPatch{DueDate: store.Ptr(core.NewDate(2025, 8, 10))})
		require.NoError(t, err)
		assert.Empty(t, ledger(t, s, prev.ID))
	})

	t.Run("rename breaks the name match", func(t *testing.T) {
		svc, s, _ := newTestService()
		prev, next := nameMatchedPair(t, s)
		settled(t, svc, next)
		require.Len(t, ledger(t, s, prev.ID), 1)

		_, err := svc.UpdateBill(ctx, next.ID, core.BillPatch{Name: store.Ptr("Fibre")})
		require.NoError(t, err)
		assert.Empty(t, ledger(t, s, prev.ID))
	})
}

func TestBillService_SettlementCreditIsReadOnly(t *testing.T) {
	ctx := context.Background()
	svc, s, _ := newTestService()
	prev, next := carryoverPair(t, s)
	_, err := svc.AddTransaction(ctx, core.BillTransaction{BillID: next.ID, Type: core.TxPayment, Amount: dec("175")})
	require.NoError(t, err)
	view, err := svc.GetBill(ctx, prev.ID)
	require.NoError(t, err)
	require.Len(t, view.Transactions, 1)
	credit := view.Transactions[0]

	_, err = svc.UpdateTransaction(ctx, credit.ID, core.TransactionPatch{Type: store.Ptr(core.TxPayment)})
	assert.ErrorIs(t, err, ErrInvalidInput)
	assert.ErrorIs(t, err, core.ErrSettlementCredit)

	_, err = svc.UpdateTransaction(ctx, credit.ID, core.TransactionPatch{Amount: store.Ptr(dec("10"))})
	assert.ErrorIs(t, err, core.ErrSettlementCredit)

	stored, err := s.GetTransaction(ctx, credit.ID)
	require.NoError(t, err)
	assert.Equal(t, core.TxCredit, stored.Type)
	assert.True(t, stored.Amount.Equal(dec("75")))
}

func TestBillService_DeleteBillDropsOrphanedCredits(t *testing.T) {
	ctx := context.Background()
	svc, s, _ := newTestService()
	prev, next := carryoverPair(t, s)
	_, err := svc.AddTransaction(ctx, core.BillTransaction{BillID: next.ID, Type: core.TxPayment, Amount: dec("175")})
	require.NoError(t, err)

	require.NoError(t, svc.DeleteBill(ctx, next.ID))

	view, err := svc.GetBill(ctx, prev.ID)
	require.NoError(t, err)
	assert.Empty(t, view.Transactions)
	assert.True(t, view.Metrics.Balance.Equal(dec("75")))

	assert.ErrorIs(t, svc.DeleteBill(ctx, next.ID), store.ErrNotFound)
}

func TestBillService_ListAndOverview(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService()

	_, err := svc.CreateBill(ctx, core.Bill{Name: "Rent", AmountOriginal: dec("900"), DueDate: core.NewDate(2025, 6, 1), Recurring: core.RecurrenceMonthly})
	require.NoError(t, err)
	water, err := svc.CreateBill(ctx, core.Bill{Name: "Water", AmountOriginal: dec("30"), DueDate: core.NewDate(2025, 6, 25)})
	require.NoError(t, err)
	_, err = svc.AddTransaction(ctx, core.BillTransaction{BillID: water.ID, Type: core.TxPayment, Amount: dec("30")})
	require.NoError(t, err)
	old, err := svc.CreateBill(ctx, core.Bill{Name: "Old", AmountOriginal: dec("5"), DueDate: core.NewDate(2025, 6, 2)})
	require.NoError(t, err)
	_, err = svc.ArchiveBill(ctx, old.ID)
	require.NoError(t, err)
	_, err = svc.CreateBill(ctx, core.Bill{Name: "Next", AmountOriginal: dec("1"), DueDate: core.NewDate(2025, 7, 1)})
	require.NoError(t, err)

	active, err := svc.ListBills(ctx, "2025-06", false)
	require.NoError(t, err)
	assert.Len(t, active, 2)
	all, err := svc.ListBills(ctx, "2025-06", true)
	require.NoError(t, err)
	assert.Len(t, all, 3)
	everything, err := svc.ListBills(ctx, "", true)
	require.NoError(t, err)
	assert.Len(t, everything, 4)

	o, err := svc.Overview(ctx, "2025-06")
	require.NoError(t, err)
	assert.Equal(t, 2, o.Bills)
	assert.True(t, o.TotalDue.Equal(dec("930")))
	assert.True(t, o.TotalPaid.Equal(dec("30")))
	assert.True(t, o.Balance.Equal(dec("900")))
	assert.Equal(t, 1, o.ByStatus[core.StatusOverdue])
	assert.Equal(t, 1, o.ByStatus[core.StatusPaid])

	_, err = svc.Overview(ctx, "June")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestBillService_Close(t *testing.T) {
	t.Run("memory store", func(t *testing.T) {
		svc, _, _ := newTestService()
		assert.NoError(t, svc.Close())
	})
}
