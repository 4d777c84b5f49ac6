package core

import (
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	RecurrenceNone    Recurrence = "none"
	RecurrenceMonthly Recurrence = "monthly"
)

const (
	TxPayment    TransactionType = "payment"
	TxCredit     TransactionType = "credit"
	TxLateFee    TransactionType = "late_fee"
	TxAdjustment TransactionType = "adjustment"
)

const (
	dateLayout  = "2006-01-02"
	cycleLayout = "2006-01"
)

type (
	Recurrence      string
	TransactionType string

	// Date is a calendar date; the zero value means "missing".
	Date struct {
		time.Time
	}

	Bill struct {
		ID              string          `json:"id"`
		Name            string          `json:"name"`
		AmountOriginal  decimal.Decimal `json:"amount_original"`
		DueDate         Date            `json:"due_date"`
		Cycle           string          `json:"cycle"`
		Recurring       Recurrence      `json:"recurring"`
		PreviousBalance decimal.Decimal `json:"previous_balance"`
		PreviousBillID  string          `json:"previous_bill_id,omitempty"`
		Category        string          `json:"category,omitempty"`
		Notes           string          `json:"notes,omitempty"`
		SystemNotes     string          `json:"system_notes,omitempty"`
		Archived        bool            `json:"archived"`
		CreatedAt       time.Time       `json:"created_at"`
		UpdatedAt       time.Time       `json:"updated_at"`
	}

	BillTransaction struct {
		ID                 string          `json:"id"`
		BillID             string          `json:"bill_id"`
		Type               TransactionType `json:"type"`
		Amount             decimal.Decimal `json:"amount"`
		TransactionDate    Date            `json:"transaction_date"`
		Note               string          `json:"note,omitempty"`
		SettlementOfBillID string          `json:"settlement_of_bill_id,omitempty"`
		CreatedAt          time.Time       `json:"created_at"`
	}

	// BillPatch carries a merge update: nil fields are left untouched.
	BillPatch struct {
		Name            *string          `json:"name,omitempty"`
		AmountOriginal  *decimal.Decimal `json:"amount_original,omitempty"`
		DueDate         *Date            `json:"due_date,omitempty"`
		Recurring       *Recurrence      `json:"recurring,omitempty"`
		PreviousBalance *decimal.Decimal `json:"previous_balance,omitempty"`
		PreviousBillID  *string          `json:"previous_bill_id,omitempty"`
		Category        *string          `json:"category,omitempty"`
		Notes           *string          `json:"notes,omitempty"`
		SystemNotes     *string          `json:"-"`
		Archived        *bool            `json:"archived,omitempty"`
	}

	TransactionPatch struct {
		Type            *TransactionType `json:"type,omitempty"`
		Amount          *decimal.Decimal `json:"amount,omitempty"`
		TransactionDate *Date            `json:"transaction_date,omitempty"`
		Note            *string          `json:"note,omitempty"`
	}
)

var (
	ErrEmptyName          = errors.New("empty bill name")
	ErrNameTooLong        = errors.New("bill name too long (max 200 characters)")
	ErrNegativeAmount     = errors.New("amount cannot be negative")
	ErrInvalidAmount      = errors.New("invalid amount")
	ErrInvalidRecurrence  = errors.New("invalid recurrence")
	ErrInvalidTxType      = errors.New("invalid transaction type")
	ErrMissingBillID      = errors.New("transaction has no bill id")
	ErrInvalidDate        = errors.New("invalid date")
	ErrInvalidCycle       = errors.New("invalid cycle")
	ErrCycleDateMismatch  = errors.New("cycle does not match due date")
	ErrSelfReferencedBill = errors.New("bill cannot be its own previous bill")
	ErrSettlementCredit   = errors.New("settlement credits are maintained automatically")
)

// NewDate creates a new Date from year, month, day
func NewDate(year, month, day int) Date {
	return Date{Time: time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)}
}

// DateOf truncates t to its calendar date in t's own location.
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return NewDate(y, int(m), d)
}

// ParseDate parses a yyyy-MM-dd string.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(dateLayout, strings.TrimSpace(s))
	if err != nil {
		return Date{}, ErrInvalidDate
	}
	return Date{Time: t}, nil
}

// LenientDate parses s and returns the zero Date when it is not a valid date.
func LenientDate(s string) Date {
	d, err := ParseDate(s)
	if err != nil {
		return Date{}
	}
	return d
}

func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return d.Format(dateLayout)
}

// Cycle returns the yyyy-MM billing cycle of the date, or "" when missing.
func (d Date) Cycle() string {
	if d.IsZero() {
		return ""
	}
	return d.Format(cycleLayout)
}

// Before reports whether d is on an earlier calendar day than other.
func (d Date) Before(other Date) bool {
	return d.dayIndex() < other.dayIndex()
}

// After reports whether d is on a later calendar day than other.
func (d Date) After(other Date) bool {
	return d.dayIndex() > other.dayIndex()
}

func (d Date) dayIndex() int {
	y, m, day := d.Date()
	return y*10000 + int(m)*100 + day
}

func (d Date) monthIndex() int {
	return d.Year()*12 + int(d.Month()) - 1
}

func (d Date) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte(`""`), nil
	}
	return []byte(`"` + d.String() + `"`), nil
}

func (d *Date) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*d = Date{}
		return nil
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

func (r Recurrence) Valid() bool {
	switch r {
	case RecurrenceNone, RecurrenceMonthly:
		return true
	}
	return false
}

func (t TransactionType) Valid() bool {
	switch t {
	case TxPayment, TxCredit, TxLateFee, TxAdjustment:
		return true
	}
	return false
}

// Reduces reports whether the transaction type lowers the balance.
func (t TransactionType) Reduces() bool {
	return t == TxPayment || t == TxCredit
}

// Increases reports whether the transaction type raises the amount due.
func (t TransactionType) Increases() bool {
	return t == TxLateFee || t == TxAdjustment
}

func (b Bill) Validate() error {
	name := strings.TrimSpace(b.Name)
	if name == "" {
		return ErrEmptyName
	}
	if len(name) > 200 {
		return ErrNameTooLong
	}
	if b.AmountOriginal.IsNegative() || b.PreviousBalance.IsNegative() {
		return ErrNegativeAmount
	}
	if !b.Recurring.Valid() {
		return ErrInvalidRecurrence
	}
	if b.DueDate.IsZero() {
		return errors.New("invalid due date: " + ErrInvalidDate.Error())
	}
	if b.Cycle != "" && b.Cycle != b.DueDate.Cycle() {
		return ErrCycleDateMismatch
	}
	if b.ID != "" && b.PreviousBillID == b.ID {
		return ErrSelfReferencedBill
	}
	return nil
}

func (t BillTransaction) Validate() error {
	if strings.TrimSpace(t.BillID) == "" {
		return ErrMissingBillID
	}
	if !t.Type.Valid() {
		return ErrInvalidTxType
	}
	if !t.Amount.IsPositive() {
		return ErrInvalidAmount
	}
	if t.TransactionDate.IsZero() {
		return errors.New("invalid transaction date: " + ErrInvalidDate.Error())
	}
	return nil
}

// Apply merges the patch into b. Cycle is re-derived from the due date.
func (p BillPatch) Apply(b *Bill) {
	if p.Name != nil {
		b.Name = strings.TrimSpace(*p.Name)
	}
	if p.AmountOriginal != nil {
		b.AmountOriginal = *p.AmountOriginal
	}
	if p.DueDate != nil {
		b.DueDate = *p.DueDate
	}
	if p.Recurring != nil {
		b.Recurring = *p.Recurring
	}
	if p.PreviousBalance != nil {
		b.PreviousBalance = *p.PreviousBalance
	}
	if p.PreviousBillID != nil {
		b.PreviousBillID = *p.PreviousBillID
	}
	if p.Category != nil {
		b.Category = *p.Category
	}
	if p.Notes != nil {
		b.Notes = *p.Notes
	}
	if p.SystemNotes != nil {
		b.SystemNotes = *p.SystemNotes
	}
	if p.Archived != nil {
		b.Archived = *p.Archived
	}
	b.Cycle = b.DueDate.Cycle()
}

// Empty reports whether the patch changes nothing.
func (p BillPatch) Empty() bool {
	return p == BillPatch{}
}

// AffectsBalance reports whether applying the patch can change the bill's metrics.
func (p BillPatch) AffectsBalance() bool {
	return p.AmountOriginal != nil || p.PreviousBalance != nil || p.DueDate != nil ||
		p.Recurring != nil || p.PreviousBillID != nil || p.Name != nil
}

// Apply merges the patch into t. Ownership is never changed.
func (p TransactionPatch) Apply(t *BillTransaction) {
	if p.Type != nil {
		t.Type = *p.Type
	}
	if p.Amount != nil {
		t.Amount = *p.Amount
	}
	if p.TransactionDate != nil {
		t.TransactionDate = *p.TransactionDate
	}
	if p.Note != nil {
		t.Note = *p.Note
	}
}

// AppendSystemNote appends line to notes on its own line.
func AppendSystemNote(notes, line string) string {
	line = strings.TrimSpace(line)
	if line == "" {
		return notes
	}
	if strings.TrimSpace(notes) == "" {
		return line
	}
	return strings.TrimRight(notes, "\n") + "\n" + line
}
