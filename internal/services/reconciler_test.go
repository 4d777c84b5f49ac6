package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bollette/internal/amqp"
	"bollette/internal/core"
	"bollette/internal/store"
	"bollette/internal/store/memory"
)

var testNow = time.Date(2025, 6, 20, 9, 30, 0, 0, time.UTC)

type recordingPublisher struct {
	mu     sync.Mutex
	events []amqp.BillEventMessage
}

func (p *recordingPublisher) PublishBillEvent(_ context.Context, msg *amqp.BillEventMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, *msg)
	return nil
}

func (p *recordingPublisher) types() []amqp.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]amqp.EventType, len(p.events))
	for i, e := range p.events {
		out[i] = e.Type
	}
	return out
}

// failingStore wraps a store and fails the named operations.
type failingStore struct {
	store.Store
	fail map[string]bool
}

var errStoreDown = errors.New("store unavailable")

func (f *failingStore) CreateTransaction(ctx context.Context, t core.BillTransaction) (core.BillTransaction, error) {
	if f.fail["CreateTransaction"] {
		return core.BillTransaction{}, errStoreDown
	}
	return f.Store.CreateTransaction(ctx, t)
}

func (f *failingStore) FilterTransactions(ctx context.Context, tf store.TransactionFilter) ([]core.BillTransaction, error) {
	if f.fail["FilterTransactions"] {
		return nil, errStoreDown
	}
	return f.Store.FilterTransactions(ctx, tf)
}

func (f *failingStore) GetBill(ctx context.Context, id string) (core.Bill, error) {
	if f.fail["GetBill"] {
		return core.Bill{}, errStoreDown
	}
	return f.Store.GetBill(ctx, id)
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// carryoverPair creates a May bill owing 75 and its June successor carrying it.
func carryoverPair(t *testing.T, s store.Store) (prev, next core.Bill) {
	t.Helper()
	ctx := context.Background()
	prev, err := s.CreateBill(ctx, core.Bill{
		Name:           "Electricity",
		AmountOriginal: dec("75"),
		DueDate:        core.NewDate(2025, 5, 10),
		Recurring:      core.RecurrenceMonthly,
	})
	require.NoError(t, err)
	next, err = s.CreateBill(ctx, core.Bill{
		Name:            "Electricity",
		AmountOriginal:  dec("100"),
		PreviousBalance: dec("75"),
		PreviousBillID:  prev.ID,
		DueDate:         core.NewDate(2025, 6, 10),
		Recurring:       core.RecurrenceMonthly,
	})
	require.NoError(t, err)
	return prev, next
}

func pay(t *testing.T, s store.Store, billID, amount string) core.BillTransaction {
	t.Helper()
	tx, err := s.CreateTransaction(context.Background(), core.BillTransaction{
		BillID:          billID,
		Type:            core.TxPayment,
		Amount:          dec(amount),
		TransactionDate: core.NewDate(2025, 6, 12),
	})
	require.NoError(t, err)
	return tx
}

func billMetrics(t *testing.T, s store.Store, id string) (core.Metrics, []core.BillTransaction) {
	t.Helper()
	ctx := context.Background()
	b, err := s.GetBill(ctx, id)
	require.NoError(t, err)
	txs, err := s.FilterTransactions(ctx, store.TransactionFilter{BillID: &id})
	require.NoError(t, err)
	return core.CalculateMetrics(&b, txs, testNow), txs
}

func TestReconcileSettlement_CreatesCreditWhenSettled(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	prev, next := carryoverPair(t, s)
	pay(t, s, next.ID, "175")

	r := NewSettlementReconciler(s, core.FixedClock{T: testNow}, nil)
	out := r.ReconcileSettlement(ctx, next.ID)

	require.NoError(t, out.Err)
	assert.Equal(t, SettlementCreated, out.Action)
	assert.Equal(t, prev.ID, out.PreviousBillID)
	assert.True(t, out.Amount.Equal(dec("75")))

	m, txs := billMetrics(t, s, prev.ID)
	require.Len(t, txs, 1)
	assert.Equal(t, core.TxCredit, txs[0].Type)
	assert.True(t, txs[0].Amount.Equal(dec("75")))
	assert.Equal(t, next.ID, txs[0].SettlementOfBillID)
	assert.Contains(t, txs[0].Note, core.SettlementSignature(next.ID))
	assert.Contains(t, txs[0].Note, "2025-05")
	assert.Equal(t, "2025-06-20", txs[0].TransactionDate.String())
	assert.True(t, m.Balance.IsZero())
	assert.Equal(t, core.StatusPaid, m.Status)

	updatedPrev, err := s.GetBill(ctx, prev.ID)
	require.NoError(t, err)
	assert.Contains(t, updatedPrev.SystemNotes, core.SettlementMarker(next.ID))
}

func TestReconcileSettlement_RemovesCreditWhenUnsettled(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	prev, next := carryoverPair(t, s)
	payment := pay(t, s, next.ID, "175")

	r := NewSettlementReconciler(s, core.FixedClock{T: testNow}, nil)
	require.Equal(t, SettlementCreated, r.ReconcileSettlement(ctx, next.ID).Action)

	require.NoError(t, s.DeleteTransaction(ctx, payment.ID))
	out := r.ReconcileSettlement(ctx, next.ID)

	require.NoError(t, out.Err)
	assert.Equal(t, SettlementDeleted, out.Action)
	m, txs := billMetrics(t, s, prev.ID)
	assert.Empty(t, txs)
	assert.True(t, m.Balance.Equal(dec("75")))

	updatedPrev, err := s.GetBill(ctx, prev.ID)
	require.NoError(t, err)
	assert.Contains(t, updatedPrev.SystemNotes, "[carryover-reopened:"+next.ID+"]")
}

func TestReconcileSettlement_Idempotent(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	prev, next := carryoverPair(t, s)
	pay(t, s, next.ID, "175")

	r := NewSettlementReconciler(s, core.FixedClock{T: testNow}, nil)
	require.Equal(t, SettlementCreated, r.ReconcileSettlement(ctx, next.ID).Action)
	before, err := s.GetBill(ctx, prev.ID)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		out := r.ReconcileSettlement(ctx, next.ID)
		assert.Equal(t, SettlementNone, out.Action)
		require.NoError(t, out.Err)
	}

	after, err := s.GetBill(ctx, prev.ID)
	require.NoError(t, err)
	assert.Equal(t, before.SystemNotes, after.SystemNotes)
	assert.Equal(t, 1, strings.Count(after.SystemNotes, core.SettlementMarker(next.ID)))
	_, txs := billMetrics(t, s, prev.ID)
	assert.Len(t, txs, 1)
}

func TestReconcileSettlement_ConvergesAfterEdits(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	prev, next := carryoverPair(t, s)
	r := NewSettlementReconciler(s, core.FixedClock{T: testNow}, nil)

	first := pay(t, s, next.ID, "100")
	r.ReconcileSettlement(ctx, next.ID)
	second := pay(t, s, next.ID, "75")
	r.ReconcileSettlement(ctx, next.ID)

	// A partial payment on the predecessor shrinks the credit.
	pay(t, s, prev.ID, "20")
	out := r.ReconcileSettlement(ctx, next.ID)
	assert.Equal(t, SettlementUpdated, out.Action)
	assert.True(t, out.Amount.Equal(dec("55")))
	m, _ := billMetrics(t, s, prev.ID)
	assert.True(t, m.Balance.IsZero())

	amount := dec("50")
	_, err := s.UpdateTransaction(ctx, second.ID, core.TransactionPatch{Amount: &amount})
	require.NoError(t, err)
	r.ReconcileSettlement(ctx, next.ID)
	m, _ = billMetrics(t, s, prev.ID)
	assert.True(t, m.Balance.Equal(dec("55")), "unsettled predecessor owes its own remainder, got %s", m.Balance)

	require.NoError(t, s.DeleteTransaction(ctx, first.ID))
	r.ReconcileSettlement(ctx, next.ID)
	assert.Equal(t, SettlementNone, r.ReconcileSettlement(ctx, next.ID).Action)
	m, _ = billMetrics(t, s, prev.ID)
	assert.True(t, m.Balance.Equal(dec("55")))
}

func TestReconcileSettlement_SettledWithNothingOwed(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	prev, next := carryoverPair(t, s)
	pay(t, s, next.ID, "175")

	r := NewSettlementReconciler(s, core.FixedClock{T: testNow}, nil)
	require.Equal(t, SettlementCreated, r.ReconcileSettlement(ctx, next.ID).Action)

	// The predecessor gets paid directly; the mirror credit is no longer needed.
	pay(t, s, prev.ID, "75")
	out := r.ReconcileSettlement(ctx, next.ID)
	assert.Equal(t, SettlementDeleted, out.Action)

	m, txs := billMetrics(t, s, prev.ID)
	assert.Len(t, txs, 1)
	assert.True(t, m.Balance.IsZero())
	updatedPrev, err := s.GetBill(ctx, prev.ID)
	require.NoError(t, err)
	assert.NotContains(t, updatedPrev.SystemNotes, "[carryover-reopened:")
}

func TestReconcileSettlement_RemovesDuplicatesAndLegacyCredits(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	prev, next := carryoverPair(t, s)
	pay(t, s, next.ID, "175")

	// Legacy rows identified only by their note.
	for i := 0; i < 2; i++ {
		_, err := s.CreateTransaction(ctx, core.BillTransaction{
			BillID:          prev.ID,
			Type:            core.TxCredit,
			Amount:          dec("75"),
			TransactionDate: core.NewDate(2025, 6, 1),
			Note:            core.SettlementSignature(next.ID) + " (carryover from cycle 2025-05)",
		})
		require.NoError(t, err)
	}

	r := NewSettlementReconciler(s, core.FixedClock{T: testNow}, nil)
	out := r.ReconcileSettlement(ctx, next.ID)
	require.NoError(t, out.Err)

	m, txs := billMetrics(t, s, prev.ID)
	assert.Len(t, txs, 1)
	assert.True(t, m.Balance.IsZero())
}

func TestReconcileSettlement_FallsBackToNameAndCycle(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	prev, err := s.CreateBill(ctx, core.Bill{Name: "Gas", AmountOriginal: dec("40"), DueDate: core.NewDate(2025, 5, 3), Recurring: core.RecurrenceMonthly})
	require.NoError(t, err)
	next, err := s.CreateBill(ctx, core.Bill{
		Name:            "Gas",
		AmountOriginal:  dec("30"),
		PreviousBalance: dec("40"),
		PreviousBillID:  "gone",
		DueDate:         core.NewDate(2025, 6, 3),
		Recurring:       core.RecurrenceMonthly,
	})
	require.NoError(t, err)
	pay(t, s, next.ID, "70")

	out := NewSettlementReconciler(s, core.FixedClock{T: testNow}, nil).ReconcileSettlement(ctx, next.ID)
	assert.Equal(t, SettlementCreated, out.Action)
	assert.Equal(t, prev.ID, out.PreviousBillID)
}

func TestReconcileSettlement_NoPredecessor(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	b, err := s.CreateBill(ctx, core.Bill{Name: "Solo", AmountOriginal: dec("10"), PreviousBalance: dec("5"), DueDate: core.NewDate(2025, 6, 1), Recurring: core.RecurrenceMonthly})
	require.NoError(t, err)
	pay(t, s, b.ID, "15")

	r := NewSettlementReconciler(s, core.FixedClock{T: testNow}, nil)
	assert.Equal(t, SettlementNone, r.ReconcileSettlement(ctx, b.ID).Action)
	assert.Equal(t, SettlementNone, r.ReconcileSettlement(ctx, "missing").Action)
}

func TestReconcileSettlement_NoCarryoverNeverSettles(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	prev, next := carryoverPair(t, s)
	zero := decimal.Zero
	_, err := s.UpdateBill(ctx, next.ID, core.BillPatch{PreviousBalance: &zero})
	require.NoError(t, err)
	pay(t, s, next.ID, "100")

	out := NewSettlementReconciler(s, core.FixedClock{T: testNow}, nil).ReconcileSettlement(ctx, next.ID)
	assert.Equal(t, SettlementNone, out.Action)
	_, txs := billMetrics(t, s, prev.ID)
	assert.Empty(t, txs)
}

func TestReconcileSettlement_StoreFailureIsSwallowed(t *testing.T) {
	ctx := context.Background()
	mem := memory.New()
	_, next := carryoverPair(t, mem)
	pay(t, mem, next.ID, "175")

	tests := []string{"GetBill", "FilterTransactions", "CreateTransaction"}
	for _, op := range tests {
		t.Run(op, func(t *testing.T) {
			s := &failingStore{Store: mem, fail: map[string]bool{op: true}}
			var out SettlementOutcome
			assert.NotPanics(t, func() {
				out = NewSettlementReconciler(s, core.FixedClock{T: testNow}, nil).ReconcileSettlement(ctx, next.ID)
			})
			assert.ErrorIs(t, out.Err, errStoreDown)
			assert.Equal(t, SettlementNone, out.Action)
		})
	}
}

func TestReconcileSettlement_PublishesEvents(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	_, next := carryoverPair(t, s)
	payment := pay(t, s, next.ID, "175")
	events := &recordingPublisher{}
	r := NewSettlementReconciler(s, core.FixedClock{T: testNow}, events)

	r.ReconcileSettlement(ctx, next.ID)
	r.ReconcileSettlement(ctx, next.ID)
	require.NoError(t, s.DeleteTransaction(ctx, payment.ID))
	r.ReconcileSettlement(ctx, next.ID)

	assert.Equal(t, []amqp.EventType{amqp.SettlementCreated, amqp.SettlementDeleted}, events.types())
}

func TestReconcileSettlement_DropsCreditLeftOnFormerPredecessor(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	prev, next := carryoverPair(t, s)
	pay(t, s, next.ID, "175")
	events := &recordingPublisher{}
	r := NewSettlementReconciler(s, core.FixedClock{T: testNow}, events)
	require.Equal(t, SettlementCreated, r.ReconcileSettlement(ctx, next.ID).Action)

	// Unlinked and renamed, the next bill resolves no predecessor at all.
	_, err := s.UpdateBill(ctx, next.ID, core.BillPatch{PreviousBillID: store.Ptr(""), Name: store.Ptr("Electricity (new meter)")})
	require.NoError(t, err)

	out := r.ReconcileSettlement(ctx, next.ID)
	assert.Equal(t, SettlementNone, out.Action)
	assert.NoError(t, out.Err)

	m, txs := billMetrics(t, s, prev.ID)
	assert.Empty(t, txs)
	assert.True(t, m.Balance.Equal(dec("75")))
	assert.Contains(t, events.types(), amqp.SettlementDeleted)

	former, err := s.GetBill(ctx, prev.ID)
	require.NoError(t, err)
	assert.Contains(t, former.SystemNotes, "[carryover-reopened:"+next.ID+"]")
}
