package events

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

const (
	subscriberBuffer = 16
	writeTimeout     = 5 * time.Second
)

// Hub pushes a student's events to that student's open websocket connections.
type Hub struct {
	subs map[string]map[chan Event]struct{}
	mu   sync.RWMutex
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		subs: make(map[string]map[chan Event]struct{}),
	}
}

// Publish delivers event to the student's subscribers. Slow subscribers miss
// events rather than block the publisher.
func (h *Hub) Publish(_ context.Context, event Event) error {
	if event.StudentID == "" {
		return nil
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for ch := range h.subs[event.StudentID] {
		select {
		case ch <- event:
		default:
			slog.Warn("dropping event for slow subscriber", "type", event.Type, "chapter_id", event.ChapterID)
		}
	}
	return nil
}

// Subscribe registers a channel for studentID. The returned func unsubscribes.
func (h *Hub) Subscribe(studentID string) (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)

	h.mu.Lock()
	if h.subs[studentID] == nil {
		h.subs[studentID] = make(map[chan Event]struct{})
	}
	h.subs[studentID][ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs[studentID], ch)
			if len(h.subs[studentID]) == 0 {
				delete(h.subs, studentID)
			}
			h.mu.Unlock()
		})
	}
}

// Subscribers returns the number of open subscriptions for studentID.
func (h *Hub) Subscribers(studentID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[studentID])
}

// Handler upgrades the request to a websocket and streams the caller's events
// as JSON until the client goes away. identify extracts the student id.
func (h *Hub) Handler(identify func(*http.Request) string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		studentID := identify(r)
		if studentID == "" {
			http.Error(w, `{"error":{"code":"missing_student_id","message":"student id is required"}}`, http.StatusUnauthorized)
			return
		}

		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			slog.Warn("websocket accept failed", "error", err)
			return
		}
		defer conn.CloseNow()

		events, unsubscribe := h.Subscribe(studentID)
		defer unsubscribe()

		ctx := conn.CloseRead(r.Context())
		for {
			select {
			case <-ctx.Done():
				conn.Close(websocket.StatusNormalClosure, "")
				return
			case event := <-events:
				writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
				err := wsjson.Write(writeCtx, conn, event)
				cancel()
				if err != nil {
					slog.Debug("websocket write failed", "error", err)
					return
				}
			}
		}
	})
}
