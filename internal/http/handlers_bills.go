package http

import (
	"net/http"

	"bollette/internal/core"
	applog "bollette/internal/log"
)

type listBillsResponse struct {
	Cycle string          `json:"cycle,omitempty"`
	Count int             `json:"count"`
	Bills []core.BillView `json:"bills"`
}

func (s *Server) handleListBills(w http.ResponseWriter, r *http.Request) {
	params, err := ParseListParams(r.URL.Query())
	if err != nil {
		s.writeError(w, r, applog.OpList, err)
		return
	}
	params.Cycle = ResolveCycle(params.Cycle, s.clock.Now())

	views, err := s.bills.ListBills(r.Context(), params.Cycle, params.IncludeArchived)
	if err != nil {
		s.writeError(w, r, applog.OpList, err)
		return
	}
	NewJSONResponse().Data(listBillsResponse{
		Cycle: params.Cycle,
		Count: len(views),
		Bills: views,
	}).Write(w)
}

func (s *Server) handleCreateBill(w http.ResponseWriter, r *http.Request) {
	p := NewRequestBodyParser(w, r)
	if err := p.Parse(); err != nil {
		s.writeError(w, r, applog.OpCreate, err)
		return
	}
	bill, err := ParseBill(p)
	if err != nil {
		s.writeError(w, r, applog.OpCreate, err)
		return
	}

	created, err := s.bills.CreateBill(r.Context(), bill)
	if err != nil {
		s.writeError(w, r, applog.OpCreate, err)
		return
	}
	s.InvalidateOverviews()

	view, err := s.bills.GetBill(r.Context(), created.ID)
	if err != nil {
		s.writeError(w, r, applog.OpRead, err)
		return
	}

	s.logger.InfoContext(r.Context(), "Bill created",
		applog.NewFields().
			WithBill(created.ID, created.Name, created.Cycle).
			WithOperation(applog.OpCreate).
			ToSlice()...)

	NewJSONResponse().
		Status(http.StatusCreated).
		Header("Location", "/api/bills/"+created.ID).
		Data(view).
		Write(w)
}

func (s *Server) handleGetBill(w http.ResponseWriter, r *http.Request) {
	view, err := s.bills.GetBill(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, applog.OpRead, err)
		return
	}
	NewJSONResponse().Data(view).Write(w)
}

func (s *Server) handleUpdateBill(w http.ResponseWriter, r *http.Request) {
	p := NewRequestBodyParser(w, r)
	if err := p.Parse(); err != nil {
		s.writeError(w, r, applog.OpUpdate, err)
		return
	}
	patch, err := ParseBillPatch(p)
	if err != nil {
		s.writeError(w, r, applog.OpUpdate, err)
		return
	}

	view, err := s.bills.UpdateBill(r.Context(), r.PathValue("id"), patch)
	if err != nil {
		s.writeError(w, r, applog.OpUpdate, err)
		return
	}
	s.InvalidateOverviews()
	NewJSONResponse().Data(view).Write(w)
}

func (s *Server) handleArchiveBill(w http.ResponseWriter, r *http.Request) {
	view, err := s.bills.ArchiveBill(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, applog.OpArchive, err)
		return
	}
	s.InvalidateOverviews()
	NewJSONResponse().Data(view).Write(w)
}

func (s *Server) handleDeleteBill(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.bills.DeleteBill(r.Context(), id); err != nil {
		s.writeError(w, r, applog.OpDelete, err)
		return
	}
	s.InvalidateOverviews()

	s.logger.InfoContext(r.Context(), "Bill deleted",
		applog.FieldBillID, id,
		applog.FieldOperation, applog.OpDelete)
	NewJSONResponse().Status(http.StatusNoContent).Write(w)
}
