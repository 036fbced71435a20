package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Simplici0/ecominsight/internal/catalog"
	"github.com/Simplici0/ecominsight/internal/pricing"
	"github.com/Simplici0/ecominsight/internal/store"
)

type productRequest struct {
	Name     *string `json:"name" validate:"omitempty,min=1,max=255"`
	SKU      *string `json:"sku" validate:"omitempty,max=100"`
	Quantity *int64  `json:"quantity" validate:"omitempty,min=0"`

	MarginPercent                *decimal.Decimal `json:"margin_percent"`
	BuyingPrice                  *decimal.Decimal `json:"buying_price"`
	Transportation               *decimal.Decimal `json:"transportation"`
	Packaging                    *decimal.Decimal `json:"packaging"`
	Warehouse                    *decimal.Decimal `json:"warehouse"`
	MarketplaceCommissionPercent *decimal.Decimal `json:"marketplace_commission_percent"`

	OtherFields json.RawMessage `json:"other_fields"`
}

// input converts the request. With requireComplete every extra field must carry
// both field_name and value, as there is nothing to merge it onto.
func (req productRequest) input(requireComplete bool) (catalog.ProductInput, error) {
	changes, err := parseExtraFieldChanges(req.OtherFields, requireComplete)
	if err != nil {
		return catalog.ProductInput{}, err
	}

	in := catalog.ProductInput{
		Name:                         req.Name,
		SKU:                          req.SKU,
		Quantity:                     req.Quantity,
		MarginPercent:                req.MarginPercent,
		BuyingPrice:                  req.BuyingPrice,
		Transportation:               req.Transportation,
		Packaging:                    req.Packaging,
		Warehouse:                    req.Warehouse,
		MarketplaceCommissionPercent: req.MarketplaceCommissionPercent,
		OtherFields:                  changes,
	}
	if in.Name != nil {
		name := strings.TrimSpace(*in.Name)
		in.Name = &name
	}
	return in, nil
}

// parseExtraFieldChanges reads other_fields as a list of {id, field_name, value}
// records. Values must be JSON numbers.
func parseExtraFieldChanges(raw json.RawMessage, requireComplete bool) ([]pricing.ExtraFieldChange, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return nil, &pricing.ShapeError{Field: pricing.FieldOtherFields, Index: -1, Reason: "not valid JSON"}
	}

	items, ok := generic.([]any)
	if !ok {
		return nil, &pricing.ShapeError{Field: pricing.FieldOtherFields, Index: -1, Reason: "must be a list"}
	}

	changes := make([]pricing.ExtraFieldChange, 0, len(items))
	for i, item := range items {
		shapeErr := func(reason string) error {
			return &pricing.ShapeError{Field: pricing.FieldOtherFields, Index: i, Reason: reason}
		}

		record, ok := item.(map[string]any)
		if !ok {
			return nil, shapeErr("must be an object")
		}

		var change pricing.ExtraFieldChange
		if raw, ok := record["id"]; ok && raw != nil {
			n, ok := raw.(json.Number)
			if !ok {
				return nil, shapeErr("id must be an integer")
			}
			id, err := n.Int64()
			if err != nil {
				return nil, shapeErr("id must be an integer")
			}
			change.ID = &id
		}
		if raw, ok := record["field_name"]; ok && raw != nil {
			name, ok := raw.(string)
			if !ok {
				return nil, shapeErr("field_name must be a string")
			}
			change.FieldName = &name
		}
		if raw, ok := record["value"]; ok && raw != nil {
			n, ok := raw.(json.Number)
			if !ok {
				return nil, shapeErr("value must be a number")
			}
			v, err := decimal.NewFromString(n.String())
			if err != nil {
				return nil, shapeErr("value must be a number")
			}
			change.Value = &v
		}

		if change.ID == nil || requireComplete {
			if change.FieldName == nil || change.Value == nil {
				return nil, shapeErr("field_name and value are required")
			}
		}
		changes = append(changes, change)
	}
	return changes, nil
}

type extraFieldResponse struct {
	ID        int64  `json:"id"`
	ProductID int64  `json:"product_id,omitempty"`
	FieldName string `json:"field_name"`
	Value     string `json:"value"`
}

type productResponse struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	SKU       *string   `json:"sku"`
	Quantity  *int64    `json:"quantity"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	MarginPercent                *string `json:"margin_percent"`
	BuyingPrice                  *string `json:"buying_price"`
	Transportation               *string `json:"transportation"`
	Packaging                    *string `json:"packaging"`
	Warehouse                    *string `json:"warehouse"`
	MarketplaceCommissionPercent *string `json:"marketplace_commission_percent"`

	Expenses         *string `json:"expenses"`
	RecommendedPrice *string `json:"recommended_price"`
	NetProfit        *string `json:"net_profit"`

	OtherFields []extraFieldResponse `json:"other_fields"`
}

func money(d decimal.NullDecimal) *string {
	if !d.Valid {
		return nil
	}
	s := d.Decimal.StringFixed(pricing.Places)
	return &s
}

func newProductResponse(p store.Product) productResponse {
	resp := productResponse{
		ID:                           p.ID,
		Name:                         p.Name,
		CreatedAt:                    p.CreatedAt,
		UpdatedAt:                    p.UpdatedAt,
		MarginPercent:                money(p.MarginPercent),
		BuyingPrice:                  money(p.BuyingPrice),
		Transportation:               money(p.Transportation),
		Packaging:                    money(p.Packaging),
		Warehouse:                    money(p.Warehouse),
		MarketplaceCommissionPercent: money(p.MarketplaceCommissionPercent),
		Expenses:                     money(p.Expenses),
		RecommendedPrice:             money(p.RecommendedPrice),
		NetProfit:                    money(p.NetProfit),
		OtherFields:                  make([]extraFieldResponse, 0, len(p.OtherFields)),
	}
	if p.SKU.Valid {
		resp.SKU = &p.SKU.String
	}
	if p.Quantity.Valid {
		resp.Quantity = &p.Quantity.Int64
	}
	for _, f := range p.OtherFields {
		resp.OtherFields = append(resp.OtherFields, extraFieldResponse{
			ID:        f.ID,
			FieldName: f.FieldName,
			Value:     f.Value.StringFixed(pricing.Places),
		})
	}
	return resp
}

func (s *server) handleItemsList(w http.ResponseWriter, r *http.Request) {
	filter := store.ProductFilter{
		OwnerID: userID(r),
		Name:    r.URL.Query().Get("name"),
		SKU:     r.URL.Query().Get("sku"),
	}

	body, err := s.catalog.ListEncoded(r.Context(), filter, func(products []store.Product) ([]byte, error) {
		resp := make([]productResponse, 0, len(products))
		for _, p := range products {
			resp = append(resp, newProductResponse(p))
		}
		return json.Marshal(resp)
	})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func (s *server) handleItemCreate(w http.ResponseWriter, r *http.Request) {
	var req productRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	if req.Name == nil || strings.TrimSpace(*req.Name) == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "validation failed", Fields: []string{"name is required"}})
		return
	}

	in, err := req.input(true)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	p, err := s.catalog.Create(r.Context(), userID(r), in)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, newProductResponse(p))
}

func (s *server) handleItemDetail(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	p, err := s.catalog.Get(r.Context(), userID(r), id)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newProductResponse(p))
}

func (s *server) handleItemUpdate(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req productRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	if req.Name != nil && strings.TrimSpace(*req.Name) == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "validation failed", Fields: []string{"name must not be blank"}})
		return
	}

	in, err := req.input(false)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	p, err := s.catalog.Update(r.Context(), userID(r), id, in)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newProductResponse(p))
}

func (s *server) handleItemDelete(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.catalog.Delete(r.Context(), userID(r), id); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
