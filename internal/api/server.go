// Package api exposes the order flow and its progress over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/dharsanguruparan/photobook/internal/blobstore"
	"github.com/dharsanguruparan/photobook/internal/build"
	"github.com/dharsanguruparan/photobook/internal/composition"
	"github.com/dharsanguruparan/photobook/internal/repository"
	"github.com/dharsanguruparan/photobook/internal/upload"
)

// Uploads reports and re-arms asset uploads.
type Uploads interface {
	Summary() upload.Summary
	Tasks() []upload.Task
	Retry(ctx context.Context) (int, error)
}

// Orders runs checkout.
type Orders interface {
	Start(ctx context.Context) (int, error)
	Finalize(ctx context.Context) (string, error)
}

// Builds looks up recorded build jobs.
type Builds interface {
	Get(ctx context.Context, id string) (*build.Job, error)
	LatestForOrder(ctx context.Context, orderID string) (*build.Job, error)
}

// Server exposes HTTP endpoints for the composition, its uploads and builds.
type Server struct {
	addr    string
	store   *composition.Store
	uploads Uploads
	orders  Orders
	builds  Builds
	logger  zerolog.Logger
	server  *http.Server
	once    sync.Once
}

// New constructs a Server.
func New(addr string, store *composition.Store, uploads Uploads, orders Orders, builds Builds, logger zerolog.Logger) *Server {
	return &Server{
		addr:    addr,
		store:   store,
		uploads: uploads,
		orders:  orders,
		builds:  builds,
		logger:  logger.With().Str("component", "api").Logger(),
	}
}

// Run starts the HTTP server and blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	s.once.Do(func() {
		s.server = &http.Server{
			Addr:              s.addr,
			Handler:           s.Routes(),
			ReadHeaderTimeout: 10 * time.Second,
		}
	})
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()
	s.logger.Info().Str("addr", s.addr).Msg("api listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Routes returns the router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		middleware.RealIP,
		middleware.Recoverer,
		requestLogger(s.logger),
	)

	r.Get("/healthz", s.handleHealth)

	r.Route("/composition", func(r chi.Router) {
		r.Get("/", s.handleComposition)
		r.Post("/restore", s.handleRestore)
	})
	r.Route("/uploads", func(r chi.Router) {
		r.Get("/", s.handleUploads)
		r.Post("/retry", s.handleRetry)
	})
	r.Route("/orders", func(r chi.Router) {
		r.Post("/", s.handleStartOrder)
		r.Post("/finalize", s.handleFinalize)
		r.Get("/{id}/build", s.handleOrderBuild)
	})
	r.Get("/builds/{id}", s.handleBuild)
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type compositionResponse struct {
	ProductID  string   `json:"productId,omitempty"`
	CoverColor string   `json:"coverColor,omitempty"`
	PageColor  string   `json:"pageColor,omitempty"`
	Pages      int      `json:"pages"`
	Assets     []string `json:"assets"`
}

func (s *Server) handleComposition(w http.ResponseWriter, r *http.Request) {
	c := s.store.Snapshot()
	respondJSON(w, http.StatusOK, compositionResponse{
		ProductID:  c.ProductID,
		CoverColor: string(c.CoverColor),
		PageColor:  string(c.PageColor),
		Pages:      len(c.Pages),
		Assets:     c.AssetIdentifiers(),
	})
}

func (s *Server) handleRestore(w http.ResponseWriter, r *http.Request) {
	c, err := s.store.Restore(r.Context())
	switch {
	case errors.Is(err, blobstore.ErrNotFound):
		respondError(w, http.StatusNotFound, "no saved composition")
		return
	case err != nil:
		s.logger.Error().Err(err).Msg("restore composition")
		respondError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"productId": c.ProductID, "pages": len(c.Pages)})
}

type uploadsResponse struct {
	Summary upload.Summary `json:"summary"`
	Ready   bool           `json:"ready"`
	Error   string         `json:"error,omitempty"`
	Tasks   []upload.Task  `json:"tasks"`
}

func (s *Server) handleUploads(w http.ResponseWriter, r *http.Request) {
	summary := s.uploads.Summary()
	resp := uploadsResponse{Summary: summary, Tasks: s.uploads.Tasks()}
	if err := summary.Err(); err != nil {
		resp.Error = err.Error()
	} else {
		resp.Ready = true
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRetry(w http.ResponseWriter, r *http.Request) {
	n, err := s.uploads.Retry(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]int{"rearmed": n})
}

func (s *Server) handleStartOrder(w http.ResponseWriter, r *http.Request) {
	n, err := s.orders.Start(r.Context())
	if err != nil {
		respondError(w, statusFor(err), err.Error())
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]int{"assets": n})
}

func (s *Server) handleFinalize(w http.ResponseWriter, r *http.Request) {
	orderID, err := s.orders.Finalize(r.Context())
	if err != nil {
		respondError(w, statusFor(err), err.Error())
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]string{"orderId": orderID})
}

func (s *Server) handleOrderBuild(w http.ResponseWriter, r *http.Request) {
	job, err := s.builds.LatestForOrder(r.Context(), chi.URLParam(r, "id"))
	s.respondJob(w, job, err)
}

func (s *Server) handleBuild(w http.ResponseWriter, r *http.Request) {
	job, err := s.builds.Get(r.Context(), chi.URLParam(r, "id"))
	s.respondJob(w, job, err)
}

func (s *Server) respondJob(w http.ResponseWriter, job *build.Job, err error) {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		respondError(w, http.StatusNotFound, "build not found")
	case err != nil:
		s.logger.Error().Err(err).Msg("lookup build")
		respondError(w, http.StatusInternalServerError, "failed to load build")
	default:
		respondJSON(w, http.StatusOK, job)
	}
}

// statusFor maps order flow errors to HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, composition.ErrNoProduct):
		return http.StatusBadRequest
	case errors.Is(err, upload.ErrUploadsPending), errors.Is(err, upload.ErrRetryNeeded), errors.Is(err, upload.ErrUploadsFailed):
		return http.StatusConflict
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable
	}
	var missing *build.MissingTemplateInfoError
	if errors.As(err, &missing) {
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func requestLogger(l zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rw, r)
			l.Info().
				Str("request_id", middleware.GetReqID(r.Context())).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", rw.status).
				Dur("elapsed", time.Since(start)).
				Msg("request")
		})
	}
}
