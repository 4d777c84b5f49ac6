package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bollette/internal/core"
	"bollette/internal/store"
)

func newTestRepo(t *testing.T) *SQLiteRepository {
	t.Helper()
	repo, err := NewSQLiteRepository(filepath.Join(t.TempDir(), "nested", "bollette.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func TestSQLiteRepository_BillRoundTrip(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	created, err := repo.CreateBill(ctx, core.Bill{
		Name:            "Electricity",
		AmountOriginal:  decimal.RequireFromString("84.30"),
		DueDate:         core.NewDate(2025, 5, 20),
		Recurring:       core.RecurrenceMonthly,
		PreviousBalance: decimal.RequireFromString("12.5"),
		Category:        "utilities",
	})
	require.NoError(t, err)
	require.NotEmpty(t, created.ID)
	assert.Equal(t, "2025-05", created.Cycle)

	got, err := repo.GetBill(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "Electricity", got.Name)
	assert.True(t, got.AmountOriginal.Equal(decimal.RequireFromString("84.30")))
	assert.True(t, got.PreviousBalance.Equal(decimal.RequireFromString("12.5")))
	assert.Equal(t, "2025-05-20", got.DueDate.String())
	assert.Equal(t, core.RecurrenceMonthly, got.Recurring)
	assert.False(t, got.CreatedAt.IsZero())
}

func TestSQLiteRepository_UpdateBillMerges(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	b, err := repo.CreateBill(ctx, core.Bill{Name: "Gas", AmountOriginal: decimal.NewFromInt(40), DueDate: core.NewDate(2025, 1, 10), Recurring: core.RecurrenceMonthly})
	require.NoError(t, err)

	newDue := core.NewDate(2025, 2, 3)
	updated, err := repo.UpdateBill(ctx, b.ID, core.BillPatch{DueDate: &newDue, Archived: store.Ptr(true)})
	require.NoError(t, err)
	assert.Equal(t, "2025-02", updated.Cycle)
	assert.True(t, updated.Archived)
	assert.Equal(t, "Gas", updated.Name)

	got, err := repo.GetBill(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, updated.Cycle, got.Cycle)
	assert.True(t, got.Archived)

	_, err = repo.UpdateBill(ctx, "missing", core.BillPatch{Archived: store.Ptr(true)})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestSQLiteRepository_FilterBills(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	first, err := repo.CreateBill(ctx, core.Bill{Name: "Rent", DueDate: core.NewDate(2025, 3, 1), Recurring: core.RecurrenceMonthly})
	require.NoError(t, err)
	_, err = repo.CreateBill(ctx, core.Bill{Name: "Rent", DueDate: core.NewDate(2025, 4, 1), Recurring: core.RecurrenceMonthly, PreviousBillID: first.ID})
	require.NoError(t, err)
	_, err = repo.CreateBill(ctx, core.Bill{Name: "Internet", DueDate: core.NewDate(2025, 3, 8), Recurring: core.RecurrenceNone})
	require.NoError(t, err)

	march, err := repo.FilterBills(ctx, store.BillFilter{Cycle: store.Ptr("2025-03")})
	require.NoError(t, err)
	require.Len(t, march, 2)
	assert.Equal(t, "Rent", march[0].Name)
	assert.Equal(t, "Internet", march[1].Name)

	successors, err := repo.FilterBills(ctx, store.BillFilter{PreviousBillID: store.Ptr(first.ID)})
	require.NoError(t, err)
	require.Len(t, successors, 1)
	assert.Equal(t, "2025-04", successors[0].Cycle)

	rent, err := repo.FilterBills(ctx, store.BillFilter{Name: store.Ptr("Rent"), Cycle: store.Ptr("2025-04")})
	require.NoError(t, err)
	assert.Len(t, rent, 1)

	none, err := repo.FilterBills(ctx, store.BillFilter{Recurring: store.Ptr(core.RecurrenceNone), Archived: store.Ptr(false)})
	require.NoError(t, err)
	assert.Len(t, none, 1)
}

func TestSQLiteRepository_Transactions(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	b, err := repo.CreateBill(ctx, core.Bill{Name: "Water", AmountOriginal: decimal.NewFromInt(30), DueDate: core.NewDate(2025, 6, 1), Recurring: core.RecurrenceNone})
	require.NoError(t, err)

	tx, err := repo.CreateTransaction(ctx, core.BillTransaction{
		BillID:             b.ID,
		Type:               core.TxCredit,
		Amount:             decimal.RequireFromString("10.25"),
		TransactionDate:    core.NewDate(2025, 6, 2),
		Note:               "credit",
		SettlementOfBillID: "next-1",
	})
	require.NoError(t, err)

	byLink, err := repo.FilterTransactions(ctx, store.TransactionFilter{SettlementOfBillID: store.Ptr("next-1")})
	require.NoError(t, err)
	require.Len(t, byLink, 1)
	assert.Equal(t, tx.ID, byLink[0].ID)

	amount := decimal.RequireFromString("11")
	updated, err := repo.UpdateTransaction(ctx, tx.ID, core.TransactionPatch{Amount: &amount})
	require.NoError(t, err)
	assert.True(t, updated.Amount.Equal(amount))
	assert.Equal(t, "next-1", updated.SettlementOfBillID)

	require.NoError(t, repo.DeleteTransaction(ctx, tx.ID))
	assert.ErrorIs(t, repo.DeleteTransaction(ctx, tx.ID), store.ErrNotFound)
	_, err = repo.GetTransaction(ctx, tx.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = repo.CreateTransaction(ctx, core.BillTransaction{BillID: "ghost", Type: core.TxPayment, Amount: decimal.NewFromInt(1)})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestSQLiteRepository_DeleteBillCascades(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	b, err := repo.CreateBill(ctx, core.Bill{Name: "Phone", DueDate: core.NewDate(2025, 6, 1), Recurring: core.RecurrenceNone})
	require.NoError(t, err)
	for i := 0; i < 2; i++ {
		_, err := repo.CreateTransaction(ctx, core.BillTransaction{BillID: b.ID, Type: core.TxPayment, Amount: decimal.NewFromInt(5), TransactionDate: core.NewDate(2025, 6, 1)})
		require.NoError(t, err)
	}

	require.NoError(t, repo.DeleteBill(ctx, b.ID))
	txs, err := repo.FilterTransactions(ctx, store.TransactionFilter{BillID: store.Ptr(b.ID)})
	require.NoError(t, err)
	assert.Empty(t, txs)
	assert.ErrorIs(t, repo.DeleteBill(ctx, b.ID), store.ErrNotFound)
}

func TestSQLiteRepository_LenientRead(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	_, err := repo.db.ExecContext(ctx,
		`INSERT INTO bills (id, name, amount_original, due_date, cycle, recurring) VALUES ('raw', 'Legacy', 'abc', 'not-a-date', '', 'monthly')`)
	require.NoError(t, err)

	b, err := repo.GetBill(ctx, "raw")
	require.NoError(t, err)
	assert.True(t, b.AmountOriginal.IsZero())
	assert.True(t, b.DueDate.IsZero())
	assert.True(t, b.PreviousBalance.IsZero())
}

func TestSQLiteRepository_MigrationsAreIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bollette.db")
	repo, err := NewSQLiteRepository(path)
	require.NoError(t, err)
	require.NoError(t, repo.Close())

	require.NoError(t, RunMigrations(path))
}
