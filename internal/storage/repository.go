package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"bollette/internal/core"
	"bollette/internal/store"

	_ "modernc.org/sqlite"
)

// Fixed width so created_at sorts lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

type SQLiteRepository struct {
	db      *sql.DB
	queries *Queries
	now     func() time.Time
}

var _ store.Store = (*SQLiteRepository)(nil)

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dsn(dbPath))
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	// Run migrations
	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	repo := &SQLiteRepository{
		db:      db,
		queries: New(db),
		now:     time.Now,
	}

	return repo, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// GetBill implements store.BillStore
func (r *SQLiteRepository) GetBill(ctx context.Context, id string) (core.Bill, error) {
	row, err := r.queries.GetBill(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Bill{}, fmt.Errorf("bill %s: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return core.Bill{}, fmt.Errorf("get bill: %w", err)
	}
	return r.toBill(ctx, row), nil
}

// FilterBills implements store.BillStore
func (r *SQLiteRepository) FilterBills(ctx context.Context, f store.BillFilter) ([]core.Bill, error) {
	where := map[string]any{}
	if f.Name != nil {
		where["name"] = *f.Name
	}
	if f.Cycle != nil {
		where["cycle"] = *f.Cycle
	}
	if f.PreviousBillID != nil {
		where["previous_bill_id"] = *f.PreviousBillID
	}
	if f.Recurring != nil {
		where["recurring"] = string(*f.Recurring)
	}
	if f.Archived != nil {
		where["archived"] = *f.Archived
	}

	rows, err := r.queries.FilterBills(ctx, where)
	if err != nil {
		return nil, fmt.Errorf("filter bills: %w", err)
	}
	bills := make([]core.Bill, len(rows))
	for i, row := range rows {
		bills[i] = r.toBill(ctx, row)
	}
	return bills, nil
}

// CreateBill implements store.BillStore
func (r *SQLiteRepository) CreateBill(ctx context.Context, b core.Bill) (core.Bill, error) {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	now := r.now().UTC()
	if b.CreatedAt.IsZero() {
		b.CreatedAt = now
	}
	b.UpdatedAt = now
	b.Cycle = b.DueDate.Cycle()
	if b.Recurring == "" {
		b.Recurring = core.RecurrenceNone
	}

	if err := r.queries.InsertBill(ctx, fromBill(b)); err != nil {
		return core.Bill{}, fmt.Errorf("create bill: %w", err)
	}

	slog.InfoContext(ctx, "Bill saved to SQLite",
		"id", b.ID,
		"name", b.Name,
		"cycle", b.Cycle,
		"amount_original", b.AmountOriginal.String())

	return b, nil
}

// UpdateBill implements store.BillStore with read-merge-write inside one transaction.
func (r *SQLiteRepository) UpdateBill(ctx context.Context, id string, p core.BillPatch) (core.Bill, error) {
	var updated core.Bill
	err := r.withTx(ctx, func(q *Queries) error {
		row, err := q.GetBill(ctx, id)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("bill %s: %w", id, store.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("get bill: %w", err)
		}
		b := r.toBill(ctx, row)
		p.Apply(&b)
		b.UpdatedAt = r.now().UTC()
		if _, err := q.UpdateBill(ctx, fromBill(b)); err != nil {
			return fmt.Errorf("update bill: %w", err)
		}
		updated = b
		return nil
	})
	return updated, err
}

// DeleteBill implements store.BillStore. Transactions are removed explicitly
// as well as through the foreign key.
func (r *SQLiteRepository) DeleteBill(ctx context.Context, id string) error {
	return r.withTx(ctx, func(q *Queries) error {
		if err := q.DeleteTransactionsByBill(ctx, id); err != nil {
			return fmt.Errorf("delete bill transactions: %w", err)
		}
		n, err := q.DeleteBill(ctx, id)
		if err != nil {
			return fmt.Errorf("delete bill: %w", err)
		}
		if n == 0 {
			return fmt.Errorf("bill %s: %w", id, store.ErrNotFound)
		}
		slog.InfoContext(ctx, "Bill deleted from SQLite", "id", id)
		return nil
	})
}

// GetTransaction implements store.TransactionStore
func (r *SQLiteRepository) GetTransaction(ctx context.Context, id string) (core.BillTransaction, error) {
	row, err := r.queries.GetTransaction(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return core.BillTransaction{}, fmt.Errorf("transaction %s: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return core.BillTransaction{}, fmt.Errorf("get transaction: %w", err)
	}
	return r.toTransaction(ctx, row), nil
}

// FilterTransactions implements store.TransactionStore
func (r *SQLiteRepository) FilterTransactions(ctx context.Context, f store.TransactionFilter) ([]core.BillTransaction, error) {
	where := map[string]any{}
	if f.BillID != nil {
		where["bill_id"] = *f.BillID
	}
	if f.Type != nil {
		where["type"] = string(*f.Type)
	}
	if f.SettlementOfBillID != nil {
		where["settlement_of_bill_id"] = *f.SettlementOfBillID
	}

	rows, err := r.queries.FilterTransactions(ctx, where)
	if err != nil {
		return nil, fmt.Errorf("filter transactions: %w", err)
	}
	txs := make([]core.BillTransaction, len(rows))
	for i, row := range rows {
		txs[i] = r.toTransaction(ctx, row)
	}
	return txs, nil
}

// CreateTransaction implements store.TransactionStore
func (r *SQLiteRepository) CreateTransaction(ctx context.Context, t core.BillTransaction) (core.BillTransaction, error) {
	if _, err := r.queries.GetBill(ctx, t.BillID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.BillTransaction{}, fmt.Errorf("bill %s: %w", t.BillID, store.ErrNotFound)
		}
		return core.BillTransaction{}, fmt.Errorf("get bill: %w", err)
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = r.now().UTC()
	}

	if err := r.queries.InsertTransaction(ctx, fromTransaction(t)); err != nil {
		return core.BillTransaction{}, fmt.Errorf("create transaction: %w", err)
	}

	slog.InfoContext(ctx, "Bill transaction saved to SQLite",
		"id", t.ID,
		"bill_id", t.BillID,
		"type", t.Type,
		"amount", t.Amount.String())

	return t, nil
}

// UpdateTransaction implements store.TransactionStore
func (r *SQLiteRepository) UpdateTransaction(ctx context.Context, id string, p core.TransactionPatch) (core.BillTransaction, error) {
	var updated core.BillTransaction
	err := r.withTx(ctx, func(q *Queries) error {
		row, err := q.GetTransaction(ctx, id)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("transaction %s: %w", id, store.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("get transaction: %w", err)
		}
		t := r.toTransaction(ctx, row)
		p.Apply(&t)
		if _, err := q.UpdateTransaction(ctx, fromTransaction(t)); err != nil {
			return fmt.Errorf("update transaction: %w", err)
		}
		updated = t
		return nil
	})
	return updated, err
}

// DeleteTransaction implements store.TransactionStore
func (r *SQLiteRepository) DeleteTransaction(ctx context.Context, id string) error {
	n, err := r.queries.DeleteTransaction(ctx, id)
	if err != nil {
		return fmt.Errorf("delete transaction: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("transaction %s: %w", id, store.ErrNotFound)
	}
	return nil
}

func (r *SQLiteRepository) withTx(ctx context.Context, fn func(q *Queries) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(r.queries.WithTx(tx)); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func fromBill(b core.Bill) BillRow {
	return BillRow{
		ID:              b.ID,
		Name:            b.Name,
		AmountOriginal:  b.AmountOriginal.String(),
		DueDate:         b.DueDate.String(),
		Cycle:           b.Cycle,
		Recurring:       string(b.Recurring),
		PreviousBalance: b.PreviousBalance.String(),
		PreviousBillID:  b.PreviousBillID,
		Category:        b.Category,
		Notes:           b.Notes,
		SystemNotes:     b.SystemNotes,
		Archived:        b.Archived,
		CreatedAt:       b.CreatedAt.UTC().Format(timeLayout),
		UpdatedAt:       b.UpdatedAt.UTC().Format(timeLayout),
	}
}

// toBill is lenient: malformed amounts read as 0 and malformed dates as missing.
func (r *SQLiteRepository) toBill(ctx context.Context, row BillRow) core.Bill {
	b := core.Bill{
		ID:              row.ID,
		Name:            row.Name,
		AmountOriginal:  lenientAmount(ctx, row.AmountOriginal, "bill", row.ID),
		DueDate:         core.LenientDate(row.DueDate),
		Cycle:           row.Cycle,
		Recurring:       core.Recurrence(row.Recurring),
		PreviousBalance: lenientAmount(ctx, row.PreviousBalance, "bill", row.ID),
		PreviousBillID:  row.PreviousBillID,
		Category:        row.Category,
		Notes:           row.Notes,
		SystemNotes:     row.SystemNotes,
		Archived:        row.Archived,
		CreatedAt:       parseTime(row.CreatedAt),
		UpdatedAt:       parseTime(row.UpdatedAt),
	}
	if b.DueDate.IsZero() && row.DueDate != "" {
		slog.WarnContext(ctx, "Invalid due date in storage, treating as missing", "id", row.ID, "due_date", row.DueDate)
	}
	return b
}

func fromTransaction(t core.BillTransaction) TransactionRow {
	return TransactionRow{
		ID:                 t.ID,
		BillID:             t.BillID,
		Type:               string(t.Type),
		Amount:             t.Amount.String(),
		TransactionDate:    t.TransactionDate.String(),
		Note:               t.Note,
		SettlementOfBillID: t.SettlementOfBillID,
		CreatedAt:          t.CreatedAt.UTC().Format(timeLayout),
	}
}

func (r *SQLiteRepository) toTransaction(ctx context.Context, row TransactionRow) core.BillTransaction {
	return core.BillTransaction{
		ID:                 row.ID,
		BillID:             row.BillID,
		Type:               core.TransactionType(row.Type),
		Amount:             lenientAmount(ctx, row.Amount, "transaction", row.ID),
		TransactionDate:    core.LenientDate(row.TransactionDate),
		Note:               row.Note,
		SettlementOfBillID: row.SettlementOfBillID,
		CreatedAt:          parseTime(row.CreatedAt),
	}
}

func lenientAmount(ctx context.Context, raw, kind, id string) decimal.Decimal {
	if _, err := decimal.NewFromString(raw); err != nil && raw != "" {
		slog.WarnContext(ctx, "Non-numeric amount in storage, treating as 0", "kind", kind, "id", id, "amount", raw)
	}
	return core.LenientAmount(raw)
}

func parseTime(s string) time.Time {
	for _, layout := range []string{timeLayout, time.RFC3339Nano, "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
