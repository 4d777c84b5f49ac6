package storage

import (
	"context"
	"database/sql"
	"sort"
	"strings"
)

// DBTX is satisfied by *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(context.Context, string, ...interface{}) (sql.Result, error)
	QueryContext(context.Context, string, ...interface{}) (*sql.Rows, error)
	QueryRowContext(context.Context, string, ...interface{}) *sql.Row
}

// Queries holds the SQL used by SQLiteRepository. Rows mirror the table
// columns verbatim; conversion to core types happens in the repository.
type Queries struct {
	db DBTX
}

func New(db DBTX) *Queries {
	return &Queries{db: db}
}

func (q *Queries) WithTx(tx *sql.Tx) *Queries {
	return &Queries{db: tx}
}

type BillRow struct {
	ID              string
	Name            string
	AmountOriginal  string
	DueDate         string
	Cycle           string
	Recurring       string
	PreviousBalance string
	PreviousBillID  string
	Category        string
	Notes           string
	SystemNotes     string
	Archived        bool
	CreatedAt       string
	UpdatedAt       string
}

type TransactionRow struct {
	ID                 string
	BillID             string
	Type               string
	Amount             string
	TransactionDate    string
	Note               string
	SettlementOfBillID string
	CreatedAt          string
}

const billColumns = `id, name, amount_original, due_date, cycle, recurring, previous_balance,
previous_bill_id, category, notes, system_notes, archived, created_at, updated_at`

const transactionColumns = `id, bill_id, type, amount, transaction_date, note, settlement_of_bill_id, created_at`

const getBill = `SELECT ` + billColumns + ` FROM bills WHERE id = ?`

func (q *Queries) GetBill(ctx context.Context, id string) (BillRow, error) {
	return scanBill(q.db.QueryRowContext(ctx, getBill, id))
}

// FilterBills builds an equality query over the given column/value pairs.
func (q *Queries) FilterBills(ctx context.Context, where map[string]any) ([]BillRow, error) {
	query, args := filterQuery("SELECT "+billColumns+" FROM bills", where, "created_at, rowid")
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []BillRow
	for rows.Next() {
		r, err := scanBill(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

const insertBill = `INSERT INTO bills (` + billColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

func (q *Queries) InsertBill(ctx context.Context, r BillRow) error {
	_, err := q.db.ExecContext(ctx, insertBill,
		r.ID, r.Name, r.AmountOriginal, r.DueDate, r.Cycle, r.Recurring, r.PreviousBalance,
		r.PreviousBillID, r.Category, r.Notes, r.SystemNotes, r.Archived, r.CreatedAt, r.UpdatedAt)
	return err
}

const updateBill = `UPDATE bills SET
name = ?, amount_original = ?, due_date = ?, cycle = ?, recurring = ?, previous_balance = ?,
previous_bill_id = ?, category = ?, notes = ?, system_notes = ?, archived = ?, updated_at = ?
WHERE id = ?`

func (q *Queries) UpdateBill(ctx context.Context, r BillRow) (int64, error) {
	res, err := q.db.ExecContext(ctx, updateBill,
		r.Name, r.AmountOriginal, r.DueDate, r.Cycle, r.Recurring, r.PreviousBalance,
		r.PreviousBillID, r.Category, r.Notes, r.SystemNotes, r.Archived, r.UpdatedAt, r.ID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const deleteBill = `DELETE FROM bills WHERE id = ?`

func (q *Queries) DeleteBill(ctx context.Context, id string) (int64, error) {
	res, err := q.db.ExecContext(ctx, deleteBill, id)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const deleteTransactionsByBill = `DELETE FROM bill_transactions WHERE bill_id = ?`

func (q *Queries) DeleteTransactionsByBill(ctx context.Context, billID string) error {
	_, err := q.db.ExecContext(ctx, deleteTransactionsByBill, billID)
	return err
}

const getTransaction = `SELECT ` + transactionColumns + ` FROM bill_transactions WHERE id = ?`

func (q *Queries) GetTransaction(ctx context.Context, id string) (TransactionRow, error) {
	return scanTransaction(q.db.QueryRowContext(ctx, getTransaction, id))
}

func (q *Queries) FilterTransactions(ctx context.Context, where map[string]any) ([]TransactionRow, error) {
	query, args := filterQuery("SELECT "+transactionColumns+" FROM bill_transactions", where, "created_at, rowid")
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []TransactionRow
	for rows.Next() {
		r, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

const insertTransaction = `INSERT INTO bill_transactions (` + transactionColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

func (q *Queries) InsertTransaction(ctx context.Context, r TransactionRow) error {
	_, err := q.db.ExecContext(ctx, insertTransaction,
		r.ID, r.BillID, r.Type, r.Amount, r.TransactionDate, r.Note, r.SettlementOfBillID, r.CreatedAt)
	return err
}

const updateTransaction = `UPDATE bill_transactions SET type = ?, amount = ?, transaction_date = ?, note = ? WHERE id = ?`

func (q *Queries) UpdateTransaction(ctx context.Context, r TransactionRow) (int64, error) {
	res, err := q.db.ExecContext(ctx, updateTransaction, r.Type, r.Amount, r.TransactionDate, r.Note, r.ID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const deleteTransaction = `DELETE FROM bill_transactions WHERE id = ?`

func (q *Queries) DeleteTransaction(ctx context.Context, id string) (int64, error) {
	res, err := q.db.ExecContext(ctx, deleteTransaction, id)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBill(s rowScanner) (BillRow, error) {
	var r BillRow
	err := s.Scan(&r.ID, &r.Name, &r.AmountOriginal, &r.DueDate, &r.Cycle, &r.Recurring, &r.PreviousBalance,
		&r.PreviousBillID, &r.Category, &r.Notes, &r.SystemNotes, &r.Archived, &r.CreatedAt, &r.UpdatedAt)
	return r, err
}

func scanTransaction(s rowScanner) (TransactionRow, error) {
	var r TransactionRow
	err := s.Scan(&r.ID, &r.BillID, &r.Type, &r.Amount, &r.TransactionDate, &r.Note, &r.SettlementOfBillID, &r.CreatedAt)
	return r, err
}

// filterQuery appends "WHERE col = ? AND ..." in a stable column order.
// Column names come from the repository, never from callers.
func filterQuery(base string, where map[string]any, orderBy string) (string, []any) {
	cols := make([]string, 0, len(where))
	for col := range where {
		cols = append(cols, col)
	}
	sort.Strings(cols)

	var b strings.Builder
	b.WriteString(base)
	args := make([]any, 0, len(cols))
	for i, col := range cols {
		if i == 0 {
			b.WriteString(" WHERE ")
		} else {
			b.WriteString(" AND ")
		}
		b.WriteString(col)
		b.WriteString(" = ?")
		args = append(args, where[col])
	}
	if orderBy != "" {
		b.WriteString(" ORDER BY ")
		b.WriteString(orderBy)
	}
	return b.String(), args
}
