package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/sjawhar/popquiz/internal/quiz"
	"github.com/sjawhar/popquiz/internal/storage"
)

// Hub fans events out to the WebSocket subscribers of each room. Slow
// subscribers drop messages rather than block the broadcaster.
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]map[chan []byte]struct{}
}

func NewHub() *Hub {
	return &Hub{rooms: make(map[string]map[chan []byte]struct{})}
}

func (h *Hub) Subscribe(room string) chan []byte {
	ch := make(chan []byte, 64)
	h.mu.Lock()
	clients, ok := h.rooms[room]
	if !ok {
		clients = make(map[chan []byte]struct{})
		h.rooms[room] = clients
	}
	clients[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

func (h *Hub) Unsubscribe(room string, ch chan []byte) {
	h.mu.Lock()
	if clients, ok := h.rooms[room]; ok {
		delete(clients, ch)
		if len(clients) == 0 {
			delete(h.rooms, room)
		}
	}
	h.mu.Unlock()
	close(ch)
}

func (h *Hub) Broadcast(room string, msg []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for ch := range h.rooms[room] {
		select {
		case ch <- msg:
		default:
		}
	}
}

// Rooms lists rooms with at least one subscriber.
func (h *Hub) Rooms() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	rooms := make([]string, 0, len(h.rooms))
	for room := range h.rooms {
		rooms = append(rooms, room)
	}
	sort.Strings(rooms)
	return rooms
}

func (h *Hub) BroadcastMessage(room, text string) {
	h.broadcastEvent(room, MessageEvent{
		Event:   newEvent("message", time.Now().UTC()),
		Room:    room,
		Message: fmt.Sprintf("Room %s says: %s", room, text),
	})
}

func (h *Hub) BroadcastTranscript(rec storage.Transcript) {
	h.broadcastEvent(rec.SessionID, TranscriptStoredEvent{
		Event:        newEvent("transcript_stored", rec.CreatedAt),
		SessionID:    rec.SessionID,
		TranscriptID: rec.ID,
		StartTime:    stamp(rec.StartTime),
		EndTime:      stamp(rec.EndTime),
		Text:         rec.Text,
	})
}

func (h *Hub) SummaryReady(sessionID string, rec storage.Summary) {
	h.broadcastEvent(sessionID, SummaryReadyEvent{
		Event:     newEvent("summary_ready", rec.CreatedAt),
		SessionID: sessionID,
		SummaryID: rec.ID,
		StartTime: stamp(rec.StartTime),
		EndTime:   stamp(rec.EndTime),
		Summary:   rec.SummaryText,
	})
}

func (h *Hub) BroadcastQuiz(sessionID string, questions []quiz.Question) {
	h.broadcastEvent(sessionID, QuizEvent{
		Event:     newEvent("quiz", time.Now().UTC()),
		SessionID: sessionID,
		Questions: questions,
	})
}

func (h *Hub) broadcastEvent(room string, event any) {
	payload, err := json.Marshal(event)
	if err != nil {
		slog.Error("server: event marshal failed", "room", room, "err", err)
		return
	}
	h.Broadcast(room, payload)
}
