package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"respirakids/internal/wizard"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

const (
	maxBodyBytes   = 1 << 14
	confirmTimeout = 30 * time.Second
)

// Handler serves wizard sessions.
type Handler struct {
	sessions  *wizard.SessionStore
	logger    zerolog.Logger
	onSuccess func(sessionID, appointmentID string)
}

type response struct {
	Snapshot *wizard.Snapshot `json:"snapshot,omitempty"`
	Error    *apiError        `json:"error,omitempty"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

type phoneRequest struct {
	Phone string `json:"phone"`
}

type codeRequest struct {
	Code string `json:"code"`
}

type selectRequest struct {
	ID string `json:"id"`
}

// Create starts a wizard on the schedule in the URL.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	scheduleID := chi.URLParam(r, "scheduleID")

	var sessionID string
	var callback func(string)
	if h.onSuccess != nil {
		callback = func(appointmentID string) { h.onSuccess(sessionID, appointmentID) }
	}
	wz := h.sessions.Create(scheduleID, callback)
	sessionID = wz.ID()

	h.logger.Info().Str("session_id", sessionID).Str("schedule_id", scheduleID).Msg("wizard started")
	snap := wz.Snapshot()
	writeJSON(w, http.StatusCreated, response{Snapshot: &snap})
}

// Get returns the current snapshot.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	wz, ok := h.session(w, r)
	if !ok {
		return
	}
	snap := wz.Snapshot()
	writeJSON(w, http.StatusOK, response{Snapshot: &snap})
}

// Delete abandons a session.
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	wz, ok := h.session(w, r)
	if !ok {
		return
	}
	h.sessions.Delete(wz.ID())
	w.WriteHeader(http.StatusNoContent)
}

// SubmitPhone handles POST /phone.
func (h *Handler) SubmitPhone(w http.ResponseWriter, r *http.Request) {
	var req phoneRequest
	if !decode(w, r, &req) {
		return
	}
	h.run(w, r, func(wz *wizard.Wizard, ctx context.Context) (wizard.Snapshot, error) {
		return wz.SubmitPhone(ctx, req.Phone)
	})
}

// ResendCode handles POST /code/resend.
func (h *Handler) ResendCode(w http.ResponseWriter, r *http.Request) {
	h.run(w, r, (*wizard.Wizard).ResendCode)
}

// VerifyCode handles POST /code.
func (h *Handler) VerifyCode(w http.ResponseWriter, r *http.Request) {
	var req codeRequest
	if !decode(w, r, &req) {
		return
	}
	h.run(w, r, func(wz *wizard.Wizard, ctx context.Context) (wizard.Snapshot, error) {
		return wz.VerifyCode(ctx, req.Code)
	})
}

// Select handles POST /select.
func (h *Handler) Select(w http.ResponseWriter, r *http.Request) {
	var req selectRequest
	if !decode(w, r, &req) {
		return
	}
	h.run(w, r, func(wz *wizard.Wizard, _ context.Context) (wizard.Snapshot, error) {
		return wz.Select(req.ID)
	})
}

// Next handles POST /next.
func (h *Handler) Next(w http.ResponseWriter, r *http.Request) {
	h.run(w, r, (*wizard.Wizard).Next)
}

// Back handles POST /back.
func (h *Handler) Back(w http.ResponseWriter, r *http.Request) {
	h.run(w, r, (*wizard.Wizard).Back)
}

// Reload handles POST /reload.
func (h *Handler) Reload(w http.ResponseWriter, r *http.Request) {
	h.run(w, r, (*wizard.Wizard).Reload)
}

// Confirm handles POST /confirm. The booking runs to completion even if the client disconnects.
func (h *Handler) Confirm(w http.ResponseWriter, r *http.Request) {
	h.run(w, r, func(wz *wizard.Wizard, ctx context.Context) (wizard.Snapshot, error) {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), confirmTimeout)
		defer cancel()
		return wz.Confirm(ctx)
	})
}

func (h *Handler) run(w http.ResponseWriter, r *http.Request, op func(*wizard.Wizard, context.Context) (wizard.Snapshot, error)) {
	wz, ok := h.session(w, r)
	if !ok {
		return
	}

	snap, err := op(wz, r.Context())
	status, apiErr := classify(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error().Err(err).Str("session_id", wz.ID()).Str("step", string(snap.Step)).Msg("wizard operation failed")
	}
	writeJSON(w, status, response{Snapshot: &snap, Error: apiErr})
}

func (h *Handler) session(w http.ResponseWriter, r *http.Request) (*wizard.Wizard, bool) {
	wz, ok := h.sessions.Get(chi.URLParam(r, "sessionID"))
	if !ok {
		writeJSON(w, http.StatusNotFound, response{Error: &apiError{
			Code:    "session_not_found",
			Message: "Sessão expirada ou inexistente. Inicie um novo agendamento.",
		}})
		return nil, false
	}
	return wz, true
}

// classify maps wizard errors to HTTP statuses.
func classify(err error) (int, *apiError) {
	if err == nil {
		return http.StatusOK, nil
	}

	var verr *wizard.ValidationError
	switch {
	case errors.As(err, &verr):
		return http.StatusUnprocessableEntity, &apiError{Code: "validation_failed", Message: verr.Message, Field: verr.Field}
	case errors.Is(err, wizard.ErrSubmitInFlight):
		return http.StatusConflict, &apiError{Code: "submit_in_flight", Message: "Agendamento em processamento. Aguarde."}
	case errors.Is(err, wizard.ErrWrongStep):
		return http.StatusConflict, &apiError{Code: "wrong_step", Message: "Operação não permitida nesta etapa."}
	case errors.Is(err, wizard.ErrUnavailable):
		return http.StatusBadGateway, &apiError{Code: "unavailable", Message: "Serviço temporariamente indisponível. Tente novamente."}
	default:
		return http.StatusInternalServerError, &apiError{Code: "internal", Message: "Erro interno."}
	}
}

func decode(w http.ResponseWriter, r *http.Request, out any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(out); err != nil {
		writeJSON(w, http.StatusBadRequest, response{Error: &apiError{Code: "bad_request", Message: "JSON inválido."}})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
