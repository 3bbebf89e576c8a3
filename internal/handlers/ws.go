package handlers

import (
	"encoding/json"
	"log"
	"net/http"

	"ShopAssist/server/internal/hub"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// WebSocket upgrades the connection and pumps decoded intents into the hub.
// Credentials may arrive as query params for immediate auth, or later
// through an authenticate intent; either way the connection is accepted.
func (h *Handlers) WebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("Error upgrading to WebSocket: %v", err)
		return
	}
	defer conn.Close()

	client := hub.NewClient(conn)
	h.hub.Register(client)
	defer h.hub.Disconnect(client)

	token := r.URL.Query().Get("token")
	guestToken := r.URL.Query().Get("guest")
	if token != "" || guestToken != "" {
		hub.AuthenticateIntent{Token: token, GuestToken: guestToken}.Handle(r.Context(), h.hub, client)
	}

	for {
		var envelope struct {
			Event string          `json:"event"`
			Data  json.RawMessage `json:"data"`
		}

		if err := conn.ReadJSON(&envelope); err != nil {
			log.Printf("Error reading websocket message: %v", err)
			break
		}

		intent, err := hub.ParseIntent(envelope.Event, envelope.Data)
		if err != nil {
			log.Printf("Invalid intent %q: %v", envelope.Event, err)
			client.Send(hub.EventError, map[string]string{
				"code":    hub.CodeBadRequest,
				"message": "invalid event",
			})
			continue
		}

		intent.Handle(r.Context(), h.hub, client)
	}
}
