package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/zombor/finance-tracker/internal/imagestore"
	"github.com/zombor/finance-tracker/internal/ingest"
)

// Server handles HTTP requests for the finance API
type Server struct {
	sessions *Sessions
	pipeline *ingest.Pipeline
	images   imagestore.Store
	auth     *TokenAuth
	ids      ingest.IDGenerator
	mux      *http.ServeMux
}

// Options are the collaborators of a Server. Images may be nil.
type Options struct {
	Sessions    *Sessions
	Pipeline    *ingest.Pipeline
	Images      imagestore.Store
	Auth        *TokenAuth
	IDGenerator ingest.IDGenerator
}

// NewServer creates a new Server with default mux
func NewServer(opts Options) *Server {
	return NewServerWithMux(opts, http.NewServeMux())
}

// NewServerWithMux creates a new Server with a custom mux for testing
func NewServerWithMux(opts Options, mux *http.ServeMux) *Server {
	s := &Server{
		sessions: opts.Sessions,
		pipeline: opts.Pipeline,
		images:   opts.Images,
		auth:     opts.Auth,
		ids:      opts.IDGenerator,
		mux:      mux,
	}
	if s.ids == nil {
		s.ids = uuidGenerator{}
	}
	s.registerRoutes()
	return s
}

// corsMiddleware adds CORS headers to responses
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		setCORSHeaders(w)

		// Handle preflight OPTIONS requests
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// requireAuth resolves the bearer token to a user id
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token, err := bearerToken(r)
		if err == nil {
			var userID string
			userID, err = s.auth.UserID(token)
			if err == nil {
				next(w, r.WithContext(withUser(r.Context(), userID)))
				return
			}
		}

		w.Header().Set("WWW-Authenticate", `Bearer realm="Finance Tracker"`)
		writeError(w, http.StatusUnauthorized, err.Error())
	}
}

// registerRoutes registers all API routes on the server's mux
// Routes must be registered from most specific to least specific to avoid conflicts
func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealth)

	// Receipts
	s.mux.HandleFunc("POST /api/receipts/scan", s.requireAuth(s.handleScanReceipt))
	s.mux.HandleFunc("GET /api/receipts/{id}/image", s.requireAuth(s.handleGetReceiptImage))
	s.mux.HandleFunc("PUT /api/receipts/{id}", s.requireAuth(s.handleUpdateReceipt))
	s.mux.HandleFunc("DELETE /api/receipts/{id}", s.requireAuth(s.handleDeleteReceipt))
	s.mux.HandleFunc("GET /api/receipts", s.requireAuth(s.handleListReceipts))

	// Budgets
	s.mux.HandleFunc("PUT /api/budgets/{id}", s.requireAuth(s.handlePutBudget))
	s.mux.HandleFunc("GET /api/budgets", s.requireAuth(s.handleListBudgets))

	// Shopping lists
	s.mux.HandleFunc("PUT /api/shopping-lists/{id}", s.requireAuth(s.handleUpdateShoppingList))
	s.mux.HandleFunc("DELETE /api/shopping-lists/{id}", s.requireAuth(s.handleDeleteShoppingList))
	s.mux.HandleFunc("GET /api/shopping-lists", s.requireAuth(s.handleListShoppingLists))
	s.mux.HandleFunc("POST /api/shopping-lists", s.requireAuth(s.handleCreateShoppingList))

	s.mux.HandleFunc("GET /api/insights", s.requireAuth(s.handleInsights))
	s.mux.HandleFunc("GET /api/export", s.requireAuth(s.handleExport))
}

// Handler returns the mux wrapped with CORS handling
func (s *Server) Handler() http.Handler {
	return s.corsMiddleware(s.mux)
}

// Start serves on addr until ctx is cancelled, then shuts down gracefully
func (s *Server) Start(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 16,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Starting server", "address", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	slog.Info("Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// ServeHTTP implements http.Handler for testing
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.Handler().ServeHTTP(w, r)
}
