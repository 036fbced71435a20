package main

import (
	"net/http"

	"github.com/Simplici0/ecominsight/internal/pricing"
)

type pricingResponse struct {
	Expenses         string `json:"expenses"`
	RecommendedPrice string `json:"recommended_price"`
	NetProfit        string `json:"net_profit"`
}

func newPricingResponse(r pricing.Result) pricingResponse {
	return pricingResponse{
		Expenses:         r.Expenses.StringFixed(pricing.Places),
		RecommendedPrice: r.RecommendedPrice.StringFixed(pricing.Places),
		NetProfit:        r.NetProfit.StringFixed(pricing.Places),
	}
}

// handleCalculate prices the submitted costs without storing anything.
func (s *server) handleCalculate(w http.ResponseWriter, r *http.Request) {
	var req productRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}

	in, err := req.input(true)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	res, err := s.catalog.Quote(in)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newPricingResponse(res))
}
