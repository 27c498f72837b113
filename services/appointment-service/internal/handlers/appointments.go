package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/ItsMoloy/Android-250/libs/apperr"
	"github.com/ItsMoloy/Android-250/libs/httpx"
	"github.com/ItsMoloy/Android-250/services/appointment-service/internal/appointments"
	"github.com/ItsMoloy/Android-250/services/appointment-service/internal/model"
)

// Appointments serves POST (book) and GET (list) on the collection.
func (h *Handler) Appointments(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.createAppointment(w, r)
	case http.MethodGet:
		h.listAppointments(w, r)
	default:
		w.Header().Set("Allow", "GET, POST")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *Handler) createAppointment(w http.ResponseWriter, r *http.Request) {
	var req appointments.BookingRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	appt, err := h.svc.Create(r.Context(), actor(r), req)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, appt)
}

func (h *Handler) listAppointments(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var opts appointments.ListOptions
	for _, s := range strings.Split(q.Get("status"), ",") {
		if s = strings.TrimSpace(s); s != "" {
			opts.Statuses = append(opts.Statuses, model.Status(s))
		}
	}
	limit, err := queryLimit(q.Get("limit"))
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	opts.Limit = limit

	appts, err := h.svc.List(r.Context(), actor(r), opts)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"appointments": appts})
}

func (h *Handler) GetAppointment(w http.ResponseWriter, r *http.Request) {
	if !httpx.RequireMethod(w, r, http.MethodGet) {
		return
	}
	appt, err := h.svc.Get(r.Context(), actor(r), strings.TrimSpace(r.URL.Query().Get("appointment_id")))
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, appt)
}

type transitionRequest struct {
	AppointmentID string       `json:"appointment_id"`
	Status        model.Status `json:"status"`
	Date          string       `json:"date"`
	Time          string       `json:"time"`
	Reason        string       `json:"reason"`
}

func (h *Handler) Transition(w http.ResponseWriter, r *http.Request) {
	if !httpx.RequireMethod(w, r, http.MethodPost) {
		return
	}
	var req transitionRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, err)
		return
	}

	var (
		appt model.Appointment
		err  error
	)
	switch req.Status {
	case model.StatusPending:
		appt, err = h.svc.Rebook(r.Context(), actor(r), req.AppointmentID, req.Date, req.Time)
	case model.StatusCancelled:
		appt, err = h.svc.Cancel(r.Context(), actor(r), req.AppointmentID, strings.TrimSpace(req.Reason))
	default:
		appt, err = h.svc.Transition(r.Context(), actor(r), req.AppointmentID, req.Status)
	}
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, appt)
}

type attachRequest struct {
	AppointmentID string `json:"appointment_id"`
	FeeAmount     int64  `json:"fee_amount"`
}

func (h *Handler) AttachPayment(w http.ResponseWriter, r *http.Request) {
	if !httpx.RequireMethod(w, r, http.MethodPost) {
		return
	}
	var req attachRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	handle, err := h.svc.AttachPayment(r.Context(), actor(r), req.AppointmentID, req.FeeAmount)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, handle)
}

type confirmRequest struct {
	AppointmentID string `json:"appointment_id"`
	PaymentID     string `json:"payment_id"`
}

func (h *Handler) ConfirmPayment(w http.ResponseWriter, r *http.Request) {
	if !httpx.RequireMethod(w, r, http.MethodPost) {
		return
	}
	var req confirmRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	appt, err := h.svc.ConfirmPayment(r.Context(), actor(r), req.AppointmentID, strings.TrimSpace(req.PaymentID))
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, appt)
}

type reconcileRequest struct {
	AppointmentID string `json:"appointment_id"`
}

func (h *Handler) ReconcilePayment(w http.ResponseWriter, r *http.Request) {
	if !httpx.RequireMethod(w, r, http.MethodPost) {
		return
	}
	var req reconcileRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	appt, err := h.svc.ReconcilePayment(r.Context(), actor(r), req.AppointmentID)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, appt)
}

func queryLimit(raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 || n > 500 {
		return 0, apperr.New(apperr.InvalidArgument, "limit must be between 0 and 500")
	}
	return n, nil
}
