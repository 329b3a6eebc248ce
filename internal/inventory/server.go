package inventory

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/zombor/kitcheniq/internal/storage"
)

// shutdownTimeout bounds how long in-flight requests may run after a shutdown signal
const shutdownTimeout = 30 * time.Second

// Server handles HTTP requests for the inventory
type Server struct {
	service   *Service
	basicAuth BasicAuth
	images    storage.Storage
	uploads   storage.Storage
	mux       *http.ServeMux
}

// BasicAuth holds basic authentication credentials
type BasicAuth struct {
	Username string
	Password string
}

// NewServer creates a new Server with default mux. images and uploads are
// the stores behind /image-cache/ and /uploads/.
func NewServer(service *Service, basicAuth BasicAuth, images, uploads storage.Storage) *Server {
	return NewServerWithMux(service, basicAuth, images, uploads, http.NewServeMux())
}

// NewServerWithMux creates a new Server with a custom mux for testing
func NewServerWithMux(service *Service, basicAuth BasicAuth, images, uploads storage.Storage, mux *http.ServeMux) *Server {
	s := &Server{
		service:   service,
		basicAuth: basicAuth,
		images:    images,
		uploads:   uploads,
		mux:       mux,
	}
	s.registerRoutes()
	return s
}

// authenticate checks basic auth credentials
func (s *Server) authenticate(r *http.Request) bool {
	if s.basicAuth.Username == "" && s.basicAuth.Password == "" {
		return true // No auth required if not configured
	}

	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, "Basic ") {
		return false
	}

	decoded, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(auth, "Basic "))
	if err != nil {
		return false
	}

	credentials := strings.SplitN(string(decoded), ":", 2)
	if len(credentials) != 2 {
		return false
	}

	return credentials[0] == s.basicAuth.Username && credentials[1] == s.basicAuth.Password
}

// corsMiddleware adds CORS headers and answers preflight requests
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		setCORSHeaders(w)
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requireAuth middleware
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.authenticate(r) {
			setCORSHeaders(w)
			w.Header().Set("WWW-Authenticate", `Basic realm="KitchenIQ"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

// registerRoutes registers all routes on the server's mux
func (s *Server) registerRoutes() {
	// Items
	s.mux.HandleFunc("POST /api/items/{id}/refresh-image", s.requireAuth(s.handleRefreshImage))
	s.mux.HandleFunc("POST /api/items/{id}/upload-image", s.requireAuth(s.handleUploadImage))
	s.mux.HandleFunc("GET /api/items/{id}/price-history", s.requireAuth(s.handleItemPriceHistory))
	s.mux.HandleFunc("PUT /api/items/{id}", s.requireAuth(s.handleUpdateItem))
	s.mux.HandleFunc("DELETE /api/items/{id}", s.requireAuth(s.handleDeleteItem))
	s.mux.HandleFunc("GET /api/items", s.requireAuth(s.handleListItems))
	s.mux.HandleFunc("POST /api/items", s.requireAuth(s.handleCreateItem))

	// Shopping list
	s.mux.HandleFunc("POST /api/shopping-list/push", s.requireAuth(s.handlePushShoppingList))
	s.mux.HandleFunc("POST /api/ha/push-shopping-list", s.requireAuth(s.handlePushShoppingList))
	s.mux.HandleFunc("DELETE /api/shopping-list/{id}", s.requireAuth(s.handlePurchaseShoppingEntry))
	s.mux.HandleFunc("GET /api/shopping-list", s.requireAuth(s.handleShoppingList))
	s.mux.HandleFunc("POST /api/shopping-list", s.requireAuth(s.handleAddShoppingEntry))

	// Receipts, images and analytics
	s.mux.HandleFunc("POST /api/upload-receipt", s.requireAuth(s.handleUploadReceipt))
	s.mux.HandleFunc("GET /api/resolve-image", s.requireAuth(s.handleResolveImage))
	s.mux.HandleFunc("GET /api/stats", s.requireAuth(s.handleStats))
	s.mux.HandleFunc("GET /api/suggestions", s.requireAuth(s.handleSuggestions))
	s.mux.HandleFunc("GET /api/price-history", s.requireAuth(s.handlePriceHistory))

	// Stored files
	s.mux.HandleFunc("GET /image-cache/{filename}", s.requireAuth(s.serveFile(s.images)))
	s.mux.HandleFunc("GET /uploads/{filename}", s.requireAuth(s.serveFile(s.uploads)))

	s.mux.Handle("GET /metrics", promhttp.Handler())
}

// Handler returns the mux wrapped with CORS handling
func (s *Server) Handler() http.Handler {
	return s.corsMiddleware(s.mux)
}

// Run serves HTTP on addr until ctx is cancelled, then shuts down gracefully.
// There is no write timeout: receipt ingestion waits on the extraction oracle
// and on every image lookup.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
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

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down server: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// ServeHTTP implements http.Handler for testing
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}
