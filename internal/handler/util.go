package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/docuchat/docuchat/internal/budget"
	"github.com/docuchat/docuchat/internal/config"
	"github.com/docuchat/docuchat/internal/service"
	"github.com/docuchat/docuchat/internal/store"
)

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{
		"error": message,
	})
}

// writeDomainError maps domain errors onto HTTP statuses.
func writeDomainError(w http.ResponseWriter, err error) {
	var cfgErr *config.ConfigurationError
	var budgetErr *budget.BudgetError
	var genErr *service.GenerationError

	switch {
	case errors.Is(err, store.ErrConversationNotFound):
		writeError(w, http.StatusNotFound, "conversation not found")
	case errors.As(err, &budgetErr):
		writeError(w, http.StatusRequestEntityTooLarge, budgetErr.Error())
	case errors.As(err, &cfgErr):
		writeError(w, http.StatusServiceUnavailable, cfgErr.Error())
	case errors.As(err, &genErr):
		writeError(w, http.StatusBadGateway, genErr.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}
