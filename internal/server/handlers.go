package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/zombor/finance-tracker/internal/finance"
	"github.com/zombor/finance-tracker/internal/state"
)

const exportFilename = "finance-data.xlsx"

type uuidGenerator struct{}

func (uuidGenerator) Generate() string {
	return uuid.NewString()
}

// setCORSHeaders sets CORS headers on a response
func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	w.Header().Set("Access-Control-Max-Age", "3600")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// decodeRequest reads a JSON body into req and validates it
func decodeRequest(w http.ResponseWriter, r *http.Request, req any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	if err := finance.Validator().Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return false
	}
	return true
}

// statusOf maps store errors to response codes
func statusOf(err error) int {
	var validationErrs validator.ValidationErrors
	switch {
	case errors.Is(err, state.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, state.ErrConflict):
		return http.StatusConflict
	case errors.As(err, &validationErrs), errors.Is(err, finance.ErrNegativeAmount):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeStoreError(w http.ResponseWriter, r *http.Request, err error, msg string) {
	status := statusOf(err)
	if status == http.StatusInternalServerError {
		slog.ErrorContext(r.Context(), msg, "error", err)
		writeError(w, status, "Internal server error")
		return
	}
	writeError(w, status, err.Error())
}

// userStore returns the session of the authenticated user, writing an error response when it cannot
func (s *Server) userStore(w http.ResponseWriter, r *http.Request) (*state.Store, bool) {
	userID, ok := UserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, ErrTokenMissing.Error())
		return nil, false
	}
	store, err := s.sessions.Store(r.Context(), userID)
	if err != nil {
		slog.ErrorContext(r.Context(), "Error loading user data", "user_id", userID, "error", err)
		writeError(w, http.StatusInternalServerError, "Could not load user data")
		return nil, false
	}
	return store, true
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleInsights(w http.ResponseWriter, r *http.Request) {
	store, ok := s.userStore(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, store.Insights())
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	store, ok := s.userStore(w, r)
	if !ok {
		return
	}

	// Buffered so a failed export can still become an error response
	var buf bytes.Buffer
	if err := store.Export(&buf); err != nil {
		slog.ErrorContext(r.Context(), "Error exporting data", "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="`+exportFilename+`"`)
	w.Write(buf.Bytes())
}
