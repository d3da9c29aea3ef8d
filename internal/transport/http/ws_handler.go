package http

import (
	"log"
	"net/http"

	"escape-progression-service/internal/app"
	"escape-progression-service/internal/domain"
	"github.com/gorilla/websocket"
)

// WSHandler streams standings snapshots to admin/leaderboard views.
type WSHandler struct {
	service  *app.ProgressionService
	upgrader websocket.Upgrader
}

func NewWSHandler(service *app.ProgressionService) *WSHandler {
	return &WSHandler{
		service: service,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type outboundMessage[T any] struct {
	Type    string `json:"type"`
	Payload T      `json:"payload"`
}

// ServeWS upgrades the request and pushes a standings snapshot on every
// committed mutation until the client disconnects.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	updates, cancel := h.service.Watch()
	defer cancel()

	// Initial snapshot before the writer takes over the connection.
	if st, err := h.service.Standings(r.Context()); err == nil {
		if err := conn.WriteJSON(outboundMessage[domain.Standings]{Type: "standings", Payload: st}); err != nil {
			return
		}
	}

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for update := range updates {
			if err := conn.WriteJSON(outboundMessage[domain.Standings]{Type: "standings", Payload: update}); err != nil {
				log.Printf("ws write error: %v", err)
				return
			}
		}
	}()

	// Inbound frames are not part of the protocol; the read loop only
	// detects the disconnect.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	cancel()
	<-writerDone
}
