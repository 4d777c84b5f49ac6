// Package http provides HTTP server and handler implementations.
//
// This file implements utilities for parsing and validating HTTP request data.
// Bodies may be JSON objects or form-encoded; amounts and dates go through the
// same parsers the domain uses, and every field problem is reported as
// services.ErrInvalidInput naming the field.

package http

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"bollette/internal/core"
	"bollette/internal/services"
)

const maxBodyBytes = 1 << 20

// errMalformedBody marks a body that is neither a JSON object nor a form.
var errMalformedBody = errors.New("malformed request body")

// ListParams holds the filters of a bill listing.
type ListParams struct {
	Cycle           string
	IncludeArchived bool
}

// ParseListParams reads ?cycle=yyyy-MM, or ?year=&month= as a fallback, and
// ?archived=true. An empty cycle lists every cycle.
func ParseListParams(query url.Values) (ListParams, error) {
	params := ListParams{Cycle: strings.TrimSpace(query.Get("cycle"))}

	if params.Cycle == "" {
		year := strings.TrimSpace(query.Get("year"))
		month := strings.TrimSpace(query.Get("month"))
		if year != "" && month != "" {
			y, yerr := strconv.Atoi(year)
			m, merr := strconv.Atoi(month)
			if yerr != nil || merr != nil || m < 1 || m > 12 {
				return ListParams{}, fieldError("month", core.ErrInvalidCycle)
			}
			params.Cycle = fmt.Sprintf("%04d-%02d", y, m)
		}
	}

	if v := strings.TrimSpace(query.Get("archived")); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return ListParams{}, fieldError("archived", err)
		}
		params.IncludeArchived = b
	}
	return params, nil
}

// ResolveCycle maps "current" to the cycle containing now.
func ResolveCycle(cycle string, now time.Time) string {
	if cycle == "current" {
		return core.DateOf(now).Cycle()
	}
	return cycle
}

// RequestBodyParser handles different content types for request body parsing.
type RequestBodyParser struct {
	body        []byte
	contentType string
	jsonData    map[string]any
	formData    url.Values
	parsed      bool
	err         error
}

// NewRequestBodyParser creates a parser for the given request.
// It reads at most 1 MiB of body once and stores it for subsequent parsing.
func NewRequestBodyParser(w http.ResponseWriter, r *http.Request) *RequestBodyParser {
	p := &RequestBodyParser{
		contentType: r.Header.Get("Content-Type"),
	}

	p.body, p.err = io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	return p
}

// Parse attempts to parse the body as a JSON object or form data.
func (p *RequestBodyParser) Parse() error {
	if p.parsed {
		return p.err
	}
	p.parsed = true

	if p.err != nil {
		p.err = fmt.Errorf("%w: %w", errMalformedBody, p.err)
		return p.err
	}

	trimmed := bytes.TrimSpace(p.body)
	if len(trimmed) == 0 {
		p.formData = url.Values{}
		return nil
	}

	if trimmed[0] == '{' || trimmed[0] == '[' || strings.Contains(p.contentType, "application/json") {
		dec := json.NewDecoder(bytes.NewReader(trimmed))
		dec.UseNumber()
		if err := dec.Decode(&p.jsonData); err != nil {
			p.err = fmt.Errorf("%w: %w", errMalformedBody, err)
			return p.err
		}
		return nil
	}

	p.formData, p.err = url.ParseQuery(string(trimmed))
	if p.err != nil {
		p.err = fmt.Errorf("%w: %w", errMalformedBody, p.err)
	}
	return p.err
}

// Has reports whether the field was sent, even as null or empty.
func (p *RequestBodyParser) Has(key string) bool {
	if p.jsonData != nil {
		_, ok := p.jsonData[key]
		return ok
	}
	if p.formData != nil {
		_, ok := p.formData[key]
		return ok
	}
	return false
}

// Get returns a sanitized string value from the parsed data (JSON or form).
func (p *RequestBodyParser) Get(key string) string {
	if p.jsonData != nil {
		if val, ok := p.jsonData[key]; ok {
			return sanitizeInput(stringValue(val))
		}
		return ""
	}
	if p.formData != nil {
		return sanitizeInput(p.formData.Get(key))
	}
	return ""
}

// OptionalString returns nil when the field is absent.
func (p *RequestBodyParser) OptionalString(key string) *string {
	if !p.Has(key) {
		return nil
	}
	v := p.Get(key)
	return &v
}

// Amount parses a required non-negative amount.
func (p *RequestBodyParser) Amount(key string) (decimal.Decimal, error) {
	d, err := core.ParseAmount(p.Get(key))
	if err != nil {
		return decimal.Zero, fieldError(key, err)
	}
	return d, nil
}

// OptionalAmount parses an amount when present.
func (p *RequestBodyParser) OptionalAmount(key string) (*decimal.Decimal, error) {
	if !p.Has(key) {
		return nil, nil
	}
	d, err := p.Amount(key)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// OptionalDate parses a YYYY-MM-DD date when present and non-empty.
func (p *RequestBodyParser) OptionalDate(key string) (*core.Date, error) {
	v := p.Get(key)
	if v == "" {
		return nil, nil
	}
	d, err := core.ParseDate(v)
	if err != nil {
		return nil, fieldError(key, err)
	}
	return &d, nil
}

// OptionalBool parses a boolean when present.
func (p *RequestBodyParser) OptionalBool(key string) (*bool, error) {
	if !p.Has(key) {
		return nil, nil
	}
	b, err := strconv.ParseBool(p.Get(key))
	if err != nil {
		return nil, fieldError(key, err)
	}
	return &b, nil
}

// stringValue converts a decoded JSON value to string.
func stringValue(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case json.Number:
		return val.String()
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	default:
		return ""
	}
}

func fieldError(field string, err error) error {
	return fmt.Errorf("%w: %s: %w", services.ErrInvalidInput, field, err)
}

// ParseBill builds a new bill from a request body. Cycle and system notes are
// derived by the service and never read from input.
func ParseBill(p *RequestBodyParser) (core.Bill, error) {
	b := core.Bill{
		Name:           p.Get("name"),
		Recurring:      core.Recurrence(p.Get("recurring")),
		PreviousBillID: p.Get("previous_bill_id"),
		Category:       p.Get("category"),
		Notes:          p.Get("notes"),
	}

	amount, err := p.Amount("amount_original")
	if err != nil {
		return core.Bill{}, err
	}
	b.AmountOriginal = amount

	due, err := p.OptionalDate("due_date")
	if err != nil {
		return core.Bill{}, err
	}
	if due == nil {
		return core.Bill{}, fieldError("due_date", core.ErrInvalidDate)
	}
	b.DueDate = *due

	prev, err := p.OptionalAmount("previous_balance")
	if err != nil {
		return core.Bill{}, err
	}
	if prev != nil {
		b.PreviousBalance = *prev
	}
	return b, nil
}

// ParseBillPatch builds a merge patch: only fields present in the body are set.
func ParseBillPatch(p *RequestBodyParser) (core.BillPatch, error) {
	patch := core.BillPatch{
		Name:           p.OptionalString("name"),
		PreviousBillID: p.OptionalString("previous_bill_id"),
		Category:       p.OptionalString("category"),
		Notes:          p.OptionalString("notes"),
	}
	if r := p.OptionalString("recurring"); r != nil {
		rec := core.Recurrence(*r)
		patch.Recurring = &rec
	}

	var err error
	if patch.AmountOriginal, err = p.OptionalAmount("amount_original"); err != nil {
		return core.BillPatch{}, err
	}
	if patch.PreviousBalance, err = p.OptionalAmount("previous_balance"); err != nil {
		return core.BillPatch{}, err
	}
	if p.Has("due_date") {
		if patch.DueDate, err = p.OptionalDate("due_date"); err != nil {
			return core.BillPatch{}, err
		}
		if patch.DueDate == nil {
			return core.BillPatch{}, fieldError("due_date", core.ErrInvalidDate)
		}
	}
	if patch.Archived, err = p.OptionalBool("archived"); err != nil {
		return core.BillPatch{}, err
	}
	return patch, nil
}

// ParseTransaction builds a ledger entry for billID. A missing date means today.
func ParseTransaction(p *RequestBodyParser, billID string) (core.BillTransaction, error) {
	tx := core.BillTransaction{
		BillID: billID,
		Type:   core.TransactionType(p.Get("type")),
		Note:   p.Get("note"),
	}

	amount, err := p.Amount("amount")
	if err != nil {
		return core.BillTransaction{}, err
	}
	tx.Amount = amount

	date, err := p.OptionalDate("transaction_date")
	if err != nil {
		return core.BillTransaction{}, err
	}
	if date != nil {
		tx.TransactionDate = *date
	}
	return tx, nil
}

// ParseTransactionPatch builds a merge patch for a ledger entry.
func ParseTransactionPatch(p *RequestBodyParser) (core.TransactionPatch, error) {
	patch := core.TransactionPatch{
		Note: p.OptionalString("note"),
	}
	if t := p.OptionalString("type"); t != nil {
		txType := core.TransactionType(*t)
		patch.Type = &txType
	}

	var err error
	if patch.Amount, err = p.OptionalAmount("amount"); err != nil {
		return core.TransactionPatch{}, err
	}
	if p.Has("transaction_date") {
		if patch.TransactionDate, err = p.OptionalDate("transaction_date"); err != nil {
			return core.TransactionPatch{}, err
		}
		if patch.TransactionDate == nil {
			return core.TransactionPatch{}, fieldError("transaction_date", core.ErrInvalidDate)
		}
	}
	return patch, nil
}
