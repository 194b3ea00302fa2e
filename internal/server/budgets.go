package server

import (
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/zombor/finance-tracker/internal/finance"
)

type budgetRequest struct {
	Category finance.Category `json:"category" validate:"category"`
	Limit    decimal.Decimal  `json:"limit"`
	Spent    decimal.Decimal  `json:"spent"`
	Period   finance.Period   `json:"period" validate:"period"`
}

func (s *Server) handleListBudgets(w http.ResponseWriter, r *http.Request) {
	store, ok := s.userStore(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, store.Budgets())
}

// handlePutBudget creates or replaces the budget with the path id
func (s *Server) handlePutBudget(w http.ResponseWriter, r *http.Request) {
	store, ok := s.userStore(w, r)
	if !ok {
		return
	}

	var req budgetRequest
	if !decodeRequest(w, r, &req) {
		return
	}

	budget, err := store.UpdateBudget(r.Context(), finance.Budget{
		ID:       r.PathValue("id"),
		Category: req.Category,
		Limit:    req.Limit,
		Spent:    req.Spent,
		Period:   req.Period,
	})
	if err != nil {
		writeStoreError(w, r, err, "Error saving budget")
		return
	}
	writeJSON(w, http.StatusOK, budget)
}
