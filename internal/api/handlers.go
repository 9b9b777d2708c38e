package api

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"time"

	"wbauth/internal/audit"
	"wbauth/internal/login"
	"wbauth/internal/metrics"
	"wbauth/internal/models"
)

type PhoneRequest struct {
	Phone string `json:"phone" validate:"required"`
}

type ConfirmRequest struct {
	Phone string `json:"phone" validate:"required"`
	Code  string `json:"code" validate:"required"`
}

type BookRequest struct {
	Phone    string `json:"phone" validate:"required"`
	SupplyID int64  `json:"supply_id" validate:"required,gt=0"`
	Date     string `json:"date" validate:"required,datetime=2006-01-02"`
}

// OutcomeResponse is the {success, message} contract of the workflows.
type OutcomeResponse struct {
	Success    bool   `json:"success"`
	Message    string `json:"message"`
	SessionKey string `json:"session_key,omitempty"`
}

type CookiesResponse struct {
	Phone   string          `json:"phone"`
	Cookies []models.Cookie `json:"cookies"`
}

type LoginStatusResponse struct {
	Phone           string `json:"phone"`
	LoginInProgress bool   `json:"login_in_progress"`
}

type DeleteResponse struct {
	Deleted bool `json:"deleted"`
}

func (s *HTTPServer) handleRoot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "WB seller auth service"})
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// POST /api/v1/auth/request
func (s *HTTPServer) handleRequestCode(w http.ResponseWriter, r *http.Request) {
	var req PhoneRequest
	if !s.decode(w, r, &req) {
		return
	}
	phone, err := models.NormalizePhone(req.Phone)
	if err != nil {
		writeOutcome(w, models.Failed(models.OutcomeValidation, login.MsgInvalidPhone, err))
		return
	}
	if !s.limiter.Allow(phone) {
		metrics.IncCodeRequestThrottled()
		writeJSON(w, http.StatusTooManyRequests, OutcomeResponse{
			Message: login.MsgRateLimited,
		})
		return
	}
	writeOutcome(w, s.svc.RequestCode(r.Context(), phone))
}

// POST /api/v1/auth/confirm
func (s *HTTPServer) handleConfirmCode(w http.ResponseWriter, r *http.Request) {
	var req ConfirmRequest
	if !s.decode(w, r, &req) {
		return
	}
	writeOutcome(w, s.svc.ConfirmCode(r.Context(), req.Phone, req.Code))
}

// POST /api/v1/auth/book
func (s *HTTPServer) handleBook(w http.ResponseWriter, r *http.Request) {
	var req BookRequest
	if !s.decode(w, r, &req) {
		return
	}
	date, err := time.Parse("2006-01-02", req.Date)
	if err != nil {
		writeError(w, http.StatusBadRequest, "date must be in YYYY-MM-DD format")
		return
	}
	writeOutcome(w, s.svc.Book(r.Context(), req.Phone, req.SupplyID, date))
}

// GET /api/v1/auth/users/{phone}
func (s *HTTPServer) handleLoginStatus(w http.ResponseWriter, r *http.Request) {
	phone, inProgress, err := s.svc.LoginInProgress(r.PathValue("phone"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, LoginStatusResponse{Phone: phone, LoginInProgress: inProgress})
}

// GET /api/v1/auth/users/{phone}/cookies
func (s *HTTPServer) handleGetCookies(w http.ResponseWriter, r *http.Request) {
	phone, cookies, err := s.svc.GetCookies(r.Context(), r.PathValue("phone"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	if cookies == nil {
		cookies = []models.Cookie{}
	}
	writeJSON(w, http.StatusOK, CookiesResponse{Phone: phone, Cookies: cookies})
}

// DELETE /api/v1/auth/users/{phone}
func (s *HTTPServer) handleDeleteAccount(w http.ResponseWriter, r *http.Request) {
	deleted, err := s.svc.DeleteAccount(r.Context(), r.PathValue("phone"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, DeleteResponse{Deleted: deleted})
}

// GET /api/v1/audit/export
func (s *HTTPServer) handleAuditExport(w http.ResponseWriter, r *http.Request) {
	if s.exporter == nil {
		writeError(w, http.StatusNotFound, "audit export is disabled")
		return
	}
	var buf bytes.Buffer
	if err := s.exporter.Export(r.Context(), &buf); err != nil {
		s.logger.Error().Err(err).Msg("audit export")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", audit.Filename(time.Now())))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

func (s *HTTPServer) writeServiceError(w http.ResponseWriter, err error) {
	if errors.Is(err, models.ErrValidation) {
		writeError(w, http.StatusBadRequest, "invalid phone number")
		return
	}
	s.logger.Error().Err(err).Msg("service call failed")
	writeError(w, http.StatusInternalServerError, "internal error")
}

// writeOutcome maps workflow results to HTTP. Business failures are part of
// the contract and return 200 with success=false.
func writeOutcome(w http.ResponseWriter, out models.Outcome) {
	status := http.StatusOK
	switch out.Kind {
	case models.OutcomeValidation:
		status = http.StatusBadRequest
	case models.OutcomeConflict:
		status = http.StatusConflict
	case models.OutcomeStorageFailed:
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, OutcomeResponse{
		Success:    out.Success(),
		Message:    out.Message,
		SessionKey: out.SessionKey,
	})
}
