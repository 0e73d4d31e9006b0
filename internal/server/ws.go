package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sjawhar/popquiz/internal/observe"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func registerWSRoute(mux *http.ServeMux, hub *Hub, metrics *observe.Metrics, logger *slog.Logger) {
	mux.HandleFunc("GET /ws/{room}", func(w http.ResponseWriter, r *http.Request) {
		room := r.PathValue("room")
		if !validSessionID(room) {
			writeJSONError(w, http.StatusForbidden, "invalid room id")
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Warn("server: ws upgrade failed", "room", room, "err", err)
			return
		}
		defer func() { _ = conn.Close() }()

		metrics.WebSocketClients.Add(context.Background(), 1)
		defer metrics.WebSocketClients.Add(context.Background(), -1)

		connectionEvent := ConnectionEvent{
			Event:     newEvent("connection", time.Now().UTC()),
			Room:      room,
			Connected: true,
		}
		payload, err := json.Marshal(connectionEvent)
		if err == nil {
			_ = conn.WriteMessage(websocket.TextMessage, payload)
		}

		ch := hub.Subscribe(room)
		defer hub.Unsubscribe(room, ch)

		closed := make(chan struct{})
		go func() {
			defer close(closed)
			for {
				kind, data, err := conn.ReadMessage()
				if err != nil {
					return
				}
				if kind == websocket.TextMessage {
					hub.BroadcastMessage(room, string(data))
				}
			}
		}()

		for {
			select {
			case <-closed:
				return
			case msg := <-ch:
				if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
					return
				}
			}
		}
	})
}
