package httpserver

import (
	"net/http"
	"strings"

	"github.com/gorilla/websocket"

	"fx-ledger/internal/auth"
	"fx-ledger/internal/ledger"
	"fx-ledger/internal/types"
)

// WSHandler streams committed ledger events to the caller. Non-admins
// only receive events for their own user id; an admin connection sees
// the full stream.
type WSHandler struct {
	bus      *ledger.Bus
	authSvc  *auth.Service
	upgrader websocket.Upgrader
}

func NewWSHandler(bus *ledger.Bus, authSvc *auth.Service, origin string) *WSHandler {
	return &WSHandler{
		bus:     bus,
		authSvc: authSvc,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return allowOrigin(r, origin) },
		},
	}
}

func allowOrigin(r *http.Request, origin string) bool {
	if origin == "*" {
		return true
	}
	return strings.EqualFold(r.Header.Get("Origin"), origin)
}

func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// Browsers cannot set Authorization on a websocket dial; the token
	// travels as a query parameter.
	token := r.URL.Query().Get("token")
	if token == "" {
		http.Error(w, "missing token", http.StatusUnauthorized)
		return
	}
	p, err := h.authSvc.ParseToken(token)
	if err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	sub := h.bus.Subscribe()
	defer h.bus.Unsubscribe(sub)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case evt, ok := <-sub:
			if !ok {
				return
			}
			if p.Role != types.RoleAdmin && evt.UserID != p.UserID {
				continue
			}
			if err := conn.WriteJSON(evt); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}
