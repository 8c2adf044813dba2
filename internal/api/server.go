package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/JakeFAU/lcf-connectors/internal/config"
	"github.com/JakeFAU/lcf-connectors/internal/crawler"
	"github.com/JakeFAU/lcf-connectors/internal/history"
	"github.com/JakeFAU/lcf-connectors/internal/metrics"
	"github.com/JakeFAU/lcf-connectors/internal/middleware"
	"github.com/JakeFAU/lcf-connectors/internal/store"
)

const requestTimeout = 60 * time.Second

// ConnectionManager is the connection and history surface the API needs.
type ConnectionManager interface {
	All(ctx context.Context) ([]store.Connection, error)
	Load(ctx context.Context, name string) (store.Connection, error)
	Save(ctx context.Context, conn store.Connection) error
	Delete(ctx context.Context, name string) error
	CheckConnection(ctx context.Context, name string) (string, error)
	CheckConnectorExists(className string) bool
	ConnectorNames() []string
	Export(ctx context.Context, w io.Writer) error
	Import(ctx context.Context, r io.Reader) error

	CountHistoryRows(ctx context.Context, connection string, criteria history.FilterCriteria) (int64, error)
	SimpleHistoryReport(
		ctx context.Context,
		connection string,
		criteria history.FilterCriteria,
		order history.SortOrder,
		offset, limit int,
	) ([]history.SimpleRow, error)
	MaxActivityCountReport(
		ctx context.Context,
		connection string,
		criteria history.FilterCriteria,
		order history.SortOrder,
		bucket history.BucketDescription,
		interval time.Duration,
		offset, limit int,
	) ([]history.ActivityCountRow, error)
	MaxByteCountReport(
		ctx context.Context,
		connection string,
		criteria history.FilterCriteria,
		order history.SortOrder,
		bucket history.BucketDescription,
		interval time.Duration,
		offset, limit int,
	) ([]history.ByteCountRow, error)
	ResultCodesReport(
		ctx context.Context,
		connection string,
		criteria history.FilterCriteria,
		order history.SortOrder,
		resultBucket, idBucket history.BucketDescription,
		offset, limit int,
	) ([]history.ResultCodeRow, error)
}

// JobService submits and tracks jobs.
type JobService interface {
	Submit(ctx context.Context, params crawler.JobParameters) (crawler.Job, error)
	Get(ctx context.Context, jobID string) (crawler.Job, error)
	List(ctx context.Context, status *crawler.JobStatus, limit, offset int) ([]crawler.Job, error)
	Cancel(ctx context.Context, jobID string) (crawler.Job, error)
}

// Server wires HTTP handlers to the connection manager and job service.
type Server struct {
	router   chi.Router
	conns    ConnectionManager
	jobs     JobService
	validate *validator.Validate
	cfg      config.Config
	logger   *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(conns ConnectionManager, jobs JobService, cfg config.Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		conns:    conns,
		jobs:     jobs,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		cfg:      cfg,
		logger:   logger.Named("api"),
	}
	metrics.Init()
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logging(s.logger))
	r.Use(middleware.Recover(s.logger))
	r.Use(metrics.Middleware)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Use(middleware.Timeout(requestTimeout))
		if cfg.Auth.Enabled {
			r.Use(middleware.APIKey(cfg.Auth.APIKey))
		}
		r.Get("/connectors", s.listConnectors)
		r.Route("/connections", func(r chi.Router) {
			r.Get("/", s.listConnections)
			r.Post("/", s.saveConnection)
			r.Get("/export", s.exportConnections)
			r.Post("/import", s.importConnections)
			r.Route("/{name}", func(r chi.Router) {
				r.Get("/", s.getConnection)
				r.Delete("/", s.deleteConnection)
				r.Post("/check", s.checkConnection)
				r.Route("/history", func(r chi.Router) {
					r.Get("/", s.simpleReport)
					r.Get("/count", s.countHistory)
					r.Get("/max-activity", s.maxActivityReport)
					r.Get("/max-bytes", s.maxBytesReport)
					r.Get("/result-codes", s.resultCodesReport)
				})
			})
		})
		r.Route("/jobs", func(r chi.Router) {
			r.Post("/", s.submitJob)
			r.Get("/", s.listJobs)
			r.Route("/{job_id}", func(r chi.Router) {
				r.Get("/", s.getJob)
				r.Post("/cancel", s.cancelJob)
			})
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if _, err := s.conns.All(r.Context()); err != nil {
		s.logger.Warn("readiness check failed", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "connection store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) listConnectors(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"connectors": s.conns.ConnectorNames()})
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrReferenced), errors.Is(err, store.ErrAlreadyExists):
		return http.StatusConflict
	case errors.Is(err, crawler.ErrConnectorNotRegistered), errors.Is(err, crawler.ErrBadConfiguration):
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, msg string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error(msg, zap.String("path", r.URL.Path), zap.Error(err))
		writeError(w, status, msg)
		return
	}
	writeError(w, status, err.Error())
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
