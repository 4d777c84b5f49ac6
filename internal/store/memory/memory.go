package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"bollette/internal/core"
	"bollette/internal/store"
)

// Store keeps bills and transactions in memory, preserving insertion order.
// Values are copied in and out so callers cannot mutate stored records.
type Store struct {
	mu    sync.Mutex
	now   func() time.Time
	bills []core.Bill
	txs   []core.BillTransaction
}

var _ store.Store = (*Store)(nil)

func New() *Store {
	return &Store{now: time.Now}
}

// NewFromFiles seeds the store from base/seed_bills.json when present.
func NewFromFiles(base string) (*Store, error) {
	s := New()
	raw, err := os.ReadFile(filepath.Join(base, "seed_bills.json"))
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}
	var seed struct {
		Bills        []core.Bill            `json:"bills"`
		Transactions []core.BillTransaction `json:"transactions"`
	}
	if err := json.Unmarshal(raw, &seed); err != nil {
		return nil, fmt.Errorf("parse seed file: %w", err)
	}
	ctx := context.Background()
	for _, b := range seed.Bills {
		if _, err := s.CreateBill(ctx, b); err != nil {
			return nil, fmt.Errorf("seed bill %q: %w", b.Name, err)
		}
	}
	for _, t := range seed.Transactions {
		if _, err := s.CreateTransaction(ctx, t); err != nil {
			return nil, fmt.Errorf("seed transaction for %q: %w", t.BillID, err)
		}
	}
	return s, nil
}

func (s *Store) GetBill(_ context.Context, id string) (core.Bill, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.billIndex(id)
	if i < 0 {
		return core.Bill{}, fmt.Errorf("bill %s: %w", id, store.ErrNotFound)
	}
	return s.bills[i], nil
}

func (s *Store) FilterBills(_ context.Context, f store.BillFilter) ([]core.Bill, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.Bill, 0)
	for _, b := range s.bills {
		if f.Match(b) {
			out = append(out, b)
		}
	}
	return out, nil
}

func (s *Store) CreateBill(_ context.Context, b core.Bill) (core.Bill, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	if s.billIndex(b.ID) >= 0 {
		return core.Bill{}, fmt.Errorf("bill %s already exists", b.ID)
	}
	now := s.now().UTC()
	if b.CreatedAt.IsZero() {
		b.CreatedAt = now
	}
	b.UpdatedAt = now
	b.Cycle = b.DueDate.Cycle()
	s.bills = append(s.bills, b)
	return b, nil
}

func (s *Store) UpdateBill(_ context.Context, id string, p core.BillPatch) (core.Bill, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.billIndex(id)
	if i < 0 {
		return core.Bill{}, fmt.Errorf("bill %s: %w", id, store.ErrNotFound)
	}
	b := s.bills[i]
	p.Apply(&b)
	b.UpdatedAt = s.now().UTC()
	s.bills[i] = b
	return b, nil
}

func (s *Store) DeleteBill(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.billIndex(id)
	if i < 0 {
		return fmt.Errorf("bill %s: %w", id, store.ErrNotFound)
	}
	s.bills = append(s.bills[:i], s.bills[i+1:]...)
	kept := s.txs[:0]
	for _, t := range s.txs {
		if t.BillID != id {
			kept = append(kept, t)
		}
	}
	s.txs = kept
	return nil
}

func (s *Store) GetTransaction(_ context.Context, id string) (core.BillTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.txIndex(id)
	if i < 0 {
		return core.BillTransaction{}, fmt.Errorf("transaction %s: %w", id, store.ErrNotFound)
	}
	return s.txs[i], nil
}

func (s *Store) FilterTransactions(_ context.Context, f store.TransactionFilter) ([]core.BillTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.BillTransaction, 0)
	for _, t := range s.txs {
		if f.Match(t) {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *Store) CreateTransaction(_ context.Context, t core.BillTransaction) (core.BillTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.billIndex(t.BillID) < 0 {
		return core.BillTransaction{}, fmt.Errorf("bill %s: %w", t.BillID, store.ErrNotFound)
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if s.txIndex(t.ID) >= 0 {
		return core.BillTransaction{}, fmt.Errorf("transaction %s already exists", t.ID)
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = s.now().UTC()
	}
	s.txs = append(s.txs, t)
	return t, nil
}

func (s *Store) UpdateTransaction(_ context.Context, id string, p core.TransactionPatch) (core.BillTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.txIndex(id)
	if i < 0 {
		return core.BillTransaction{}, fmt.Errorf("transaction %s: %w", id, store.ErrNotFound)
	}
	t := s.txs[i]
	p.Apply(&t)
	s.txs[i] = t
	return t, nil
}

func (s *Store) DeleteTransaction(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.txIndex(id)
	if i < 0 {
		return fmt.Errorf("transaction %s: %w", id, store.ErrNotFound)
	}
	s.txs = append(s.txs[:i], s.txs[i+1:]...)
	return nil
}

func (s *Store) billIndex(id string) int {
	for i, b := range s.bills {
		if b.ID == id {
			return i
		}
	}
	return -1
}

func (s *Store) txIndex(id string) int {
	for i, t := range s.txs {
		if t.ID == id {
			return i
		}
	}
	return -1
}
