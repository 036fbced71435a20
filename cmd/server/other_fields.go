package main

import (
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/Simplici0/ecominsight/internal/pricing"
	"github.com/Simplici0/ecominsight/internal/store"
)

type extraFieldRequest struct {
	FieldName *string          `json:"field_name" validate:"omitempty,max=255"`
	Value     *decimal.Decimal `json:"value"`
}

func newExtraFieldResponse(f store.OwnedExtraField) extraFieldResponse {
	return extraFieldResponse{
		ID:        f.ID,
		ProductID: f.ProductID,
		FieldName: f.FieldName,
		Value:     f.Value.StringFixed(pricing.Places),
	}
}

func (s *server) handleOtherFieldsList(w http.ResponseWriter, r *http.Request) {
	fields, err := s.catalog.ListExtraFields(r.Context(), userID(r))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	resp := make([]extraFieldResponse, 0, len(fields))
	for _, f := range fields {
		resp = append(resp, newExtraFieldResponse(f))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *server) handleOtherFieldDetail(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	f, err := s.catalog.GetExtraField(r.Context(), userID(r), id)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newExtraFieldResponse(f))
}

func (s *server) handleOtherFieldUpdate(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req extraFieldRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}

	f, err := s.catalog.UpdateExtraField(r.Context(), userID(r), id, pricing.ExtraFieldChange{
		FieldName: req.FieldName,
		Value:     req.Value,
	})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newExtraFieldResponse(f))
}

func (s *server) handleOtherFieldDelete(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.catalog.DeleteExtraField(r.Context(), userID(r), id); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
