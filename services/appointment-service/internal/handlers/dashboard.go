package handlers

import (
	"net/http"
	"time"

	"github.com/ItsMoloy/Android-250/libs/httpx"
	"github.com/gorilla/websocket"
)

const wsWriteWait = 10 * time.Second

func (h *Handler) Dashboard(w http.ResponseWriter, r *http.Request) {
	if !httpx.RequireMethod(w, r, http.MethodGet) {
		return
	}
	v, err := h.dash.Snapshot(r.Context(), actor(r))
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, v)
}

// DashboardStream pushes the caller's dashboard view over a websocket,
// one JSON message per change, until either side goes away.
func (h *Handler) DashboardStream(w http.ResponseWriter, r *http.Request) {
	if !httpx.RequireMethod(w, r, http.MethodGet) {
		return
	}
	p := actor(r)
	sub, err := h.dash.Subscribe(r.Context(), p)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	defer sub.Close()

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     h.checkOrigin,
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already answered the client.
		h.logger.Debug("dashboard upgrade failed", "principal_id", p.ID, "err", err)
		return
	}
	defer conn.Close()

	// The read pump only watches for the peer going away; clients send
	// nothing meaningful.
	gone := make(chan struct{})
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(2 * h.wsPingInterval))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(2 * h.wsPingInterval))
	})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(h.wsPingInterval)
	defer ping.Stop()
	for {
		select {
		case <-gone:
			return
		case <-sub.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"), time.Now().Add(wsWriteWait))
			return
		case v := <-sub.Views():
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(v); err != nil {
				h.logger.Debug("dashboard write failed", "principal_id", p.ID, "err", err)
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		}
	}
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	return httpx.CORSPolicy{AllowedOrigins: h.allowedOrigins}.OriginAllowed(origin)
}
