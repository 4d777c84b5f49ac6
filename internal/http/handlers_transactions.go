package http

import (
	"net/http"
	"sync/atomic"

	"bollette/internal/core"
	applog "bollette/internal/log"
)

type transactionResponse struct {
	Transaction core.BillTransaction `json:"transaction"`
	Bill        *core.BillView       `json:"bill,omitempty"`
}

// handleAddTransaction records a ledger entry and answers with the entry and
// the bill as it stands after reconciliation.
func (s *Server) handleAddTransaction(w http.ResponseWriter, r *http.Request) {
	p := NewRequestBodyParser(w, r)
	if err := p.Parse(); err != nil {
		s.writeError(w, r, applog.OpCreate, err)
		return
	}
	tx, err := ParseTransaction(p, r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, applog.OpCreate, err)
		return
	}

	created, err := s.bills.AddTransaction(r.Context(), tx)
	if err != nil {
		s.writeError(w, r, applog.OpCreate, err)
		return
	}
	s.InvalidateOverviews()
	atomic.AddInt64(&s.appMetrics.transactions, 1)

	resp := transactionResponse{Transaction: created}
	if view, err := s.bills.GetBill(r.Context(), created.BillID); err == nil {
		resp.Bill = &view
		s.structured.LogTransactionRecorded(r.Context(),
			view.Bill.ID, view.Bill.Name, view.Bill.Cycle,
			created.ID, string(created.Type), created.Amount.StringFixed(2))
	} else {
		s.logger.WarnContext(r.Context(), "Failed to reload bill after transaction",
			applog.FieldBillID, created.BillID,
			applog.FieldError, err)
	}

	NewJSONResponse().Status(http.StatusCreated).Data(resp).Write(w)
}

func (s *Server) handleUpdateTransaction(w http.ResponseWriter, r *http.Request) {
	p := NewRequestBodyParser(w, r)
	if err := p.Parse(); err != nil {
		s.writeError(w, r, applog.OpUpdate, err)
		return
	}
	patch, err := ParseTransactionPatch(p)
	if err != nil {
		s.writeError(w, r, applog.OpUpdate, err)
		return
	}

	updated, err := s.bills.UpdateTransaction(r.Context(), r.PathValue("id"), patch)
	if err != nil {
		s.writeError(w, r, applog.OpUpdate, err)
		return
	}
	s.InvalidateOverviews()
	NewJSONResponse().Data(transactionResponse{Transaction: updated}).Write(w)
}

func (s *Server) handleDeleteTransaction(w http.ResponseWriter, r *http.Request) {
	if err := s.bills.DeleteTransaction(r.Context(), r.PathValue("id")); err != nil {
		s.writeError(w, r, applog.OpDelete, err)
		return
	}
	s.InvalidateOverviews()
	NewJSONResponse().Status(http.StatusNoContent).Write(w)
}
