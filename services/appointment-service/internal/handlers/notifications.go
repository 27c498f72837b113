package handlers

import (
	"net/http"
	"strings"

	"github.com/ItsMoloy/Android-250/libs/httpx"
)

func (h *Handler) Notifications(w http.ResponseWriter, r *http.Request) {
	if !httpx.RequireMethod(w, r, http.MethodGet) {
		return
	}
	q := r.URL.Query()
	unread := strings.EqualFold(q.Get("unread"), "true") || q.Get("unread") == "1"
	limit, err := queryLimit(q.Get("limit"))
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	ns, err := h.svc.Notifications(r.Context(), actor(r), unread, limit)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"notifications": ns})
}

type markReadRequest struct {
	NotificationID string `json:"notification_id"`
}

func (h *Handler) MarkNotificationRead(w http.ResponseWriter, r *http.Request) {
	if !httpx.RequireMethod(w, r, http.MethodPost) {
		return
	}
	var req markReadRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	n, err := h.svc.MarkNotificationRead(r.Context(), actor(r), strings.TrimSpace(req.NotificationID))
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, n)
}
