// Package api exposes the login and booking workflows over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"wbauth/internal/models"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
)

const maxBodyBytes = 1 << 16

// Service is the facade the handlers call.
type Service interface {
	RequestCode(ctx context.Context, phone string) models.Outcome
	ConfirmCode(ctx context.Context, phone, code string) models.Outcome
	Book(ctx context.Context, phone string, supplyID int64, date time.Time) models.Outcome
	GetCookies(ctx context.Context, phone string) (string, []models.Cookie, error)
	LoginInProgress(phone string) (string, bool, error)
	DeleteAccount(ctx context.Context, phone string) (bool, error)
}

// Exporter writes the audit workbook.
type Exporter interface {
	Export(ctx context.Context, w io.Writer) error
}

// Limits configures the per-phone code request limiter.
type Limits struct {
	PerMinute float64
	Burst     int
}

type HTTPServer struct {
	svc      Service
	exporter Exporter
	limiter  *phoneLimiter
	validate *validator.Validate
	logger   zerolog.Logger
	server   *http.Server
}

func NewHTTPServer(addr string, svc Service, exporter Exporter, limits Limits, logger *zerolog.Logger) *HTTPServer {
	s := &HTTPServer{
		svc:      svc,
		exporter: exporter,
		limiter:  newPhoneLimiter(limits.PerMinute, limits.Burst),
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   logger.With().Str("component", "api").Logger(),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleRoot)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /api/v1/auth/request", s.handleRequestCode)
	mux.HandleFunc("POST /api/v1/auth/confirm", s.handleConfirmCode)
	mux.HandleFunc("POST /api/v1/auth/book", s.handleBook)
	mux.HandleFunc("GET /api/v1/auth/users/{phone}", s.handleLoginStatus)
	mux.HandleFunc("GET /api/v1/auth/users/{phone}/cookies", s.handleGetCookies)
	mux.HandleFunc("DELETE /api/v1/auth/users/{phone}", s.handleDeleteAccount)
	mux.HandleFunc("GET /api/v1/audit/export", s.handleAuditExport)

	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.recoverer(s.logRequests(mux)),
		ReadHeaderTimeout: 10 * time.Second,
		// Browser steps can take tens of seconds.
		WriteTimeout: 3 * time.Minute,
	}
	return s
}

// Handler returns the root handler, for tests.
func (s *HTTPServer) Handler() http.Handler {
	return s.server.Handler
}

// Start serves until Shutdown. It returns nil after a graceful shutdown.
func (s *HTTPServer) Start() error {
	s.logger.Info().Str("addr", s.server.Addr).Msg("http api listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http api: %w", err)
	}
	return nil
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *HTTPServer) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("duration", time.Since(started)).
			Msg("http request")
	})
}

func (s *HTTPServer) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if v := recover(); v != nil {
				s.logger.Error().Str("panic", fmt.Sprint(v)).Str("path", r.URL.Path).Msg("handler panicked")
				writeError(w, http.StatusInternalServerError, "internal error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// decode reads a JSON body and validates it.
func (s *HTTPServer) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	if err := s.validate.Struct(dst); err != nil {
		writeError(w, http.StatusBadRequest, validationMessage(err))
		return false
	}
	return true
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return "invalid request"
	}
	e := verrs[0]
	switch e.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", e.Field())
	case "datetime":
		return fmt.Sprintf("%s must be in YYYY-MM-DD format", e.Field())
	default:
		return fmt.Sprintf("%s is invalid", e.Field())
	}
}
