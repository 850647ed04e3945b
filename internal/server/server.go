// Package server exposes listings, deals, statistics and deal requests over
// a JSON HTTP API.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/dealradar/internal/model"
	"github.com/sells-group/dealradar/internal/store"
	"github.com/sells-group/dealradar/pkg/blocket"
)

// Source is the listing source queried live by the API.
type Source interface {
	Search(ctx context.Context, category string, limit int) (*blocket.SearchResult, error)
	Get(ctx context.Context, adID string) (*model.RawListing, error)
}

// Options tunes request validation.
type Options struct {
	DefaultSearchLimit int
	MaxSearchLimit     int
	HighValueThreshold float64
	// ResolveCategory maps a category name to its id. Nil leaves input as is.
	ResolveCategory func(string) string
}

func (o Options) withDefaults() Options {
	if o.DefaultSearchLimit <= 0 {
		o.DefaultSearchLimit = 10
	}
	if o.MaxSearchLimit <= 0 {
		o.MaxSearchLimit = 100
	}
	if o.HighValueThreshold <= 0 {
		o.HighValueThreshold = 8
	}
	if o.ResolveCategory == nil {
		o.ResolveCategory = func(s string) string { return s }
	}
	return o
}

// Server serves the HTTP API.
type Server struct {
	source Source
	store  store.Store
	opts   Options
	now    func() time.Time
}

// New creates a Server.
func New(source Source, st store.Store, opts Options) *Server {
	return &Server{
		source: source,
		store:  st,
		opts:   opts.withDefaults(),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/", s.handleIndex)
	r.Get("/health", s.handleHealth)
	r.Route("/api", func(r chi.Router) {
		r.Get("/listing/{adID}", s.handleListing)
		r.Get("/search", s.handleSearch)
		r.Get("/deals", s.handleDeals)
		r.Get("/stats", s.handleStats)
		r.Get("/requests", s.handleRequests)
	})
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	return r
}

// Run serves handler on port until ctx is cancelled, then shuts down
// gracefully.
func Run(ctx context.Context, handler http.Handler, port int) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		zap.L().Info("starting server", zap.Int("port", port))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server: listen")
		}
		return nil
	case <-ctx.Done():
	}

	zap.L().Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return eris.Wrap(err, "server: shutdown")
	}
	return nil
}

type envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("server: encode response", zap.Error(err))
	}
}

func writeData(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: data})
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, envelope{Success: false, Error: msg})
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		zap.L().Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}
