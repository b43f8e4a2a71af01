package events_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/p-n-ai/pai-learn/internal/events"
)

func TestMemoryPublisher_Publish(t *testing.T) {
	pub := events.NewMemoryPublisher()

	err := pub.Publish(context.Background(), events.Event{
		Type:      events.TypeAttemptSubmitted,
		StudentID: "stu-1",
		ChapterID: "ch-1",
		Data:      map[string]any{"score": 80},
	})
	if err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	got := pub.Events()
	if len(got) != 1 {
		t.Fatalf("len(events) = %d, want 1", len(got))
	}
	if got[0].CreatedAt.IsZero() {
		t.Error("CreatedAt should be set")
	}
	if len(pub.OfType(events.TypeAttemptSubmitted)) != 1 {
		t.Error("OfType(attempt_submitted) should return the event")
	}
}

func TestMemoryPublisher_RequiresType(t *testing.T) {
	pub := events.NewMemoryPublisher()
	if err := pub.Publish(context.Background(), events.Event{ChapterID: "ch-1"}); err == nil {
		t.Fatal("expected error for missing type")
	}
}

func TestPostgresPublisher_NilPool(t *testing.T) {
	pub := events.NewPostgresPublisher(nil)

	err := pub.Publish(context.Background(), events.Event{
		Type:      events.TypeSlidesViewed,
		ChapterID: "ch-1",
	})
	if err == nil {
		t.Fatal("expected error for nil pool")
	}
}

type failingPublisher struct{}

func (failingPublisher) Publish(context.Context, events.Event) error {
	return errors.New("sink down")
}

func TestFanout_DeliversToAllAndJoinsErrors(t *testing.T) {
	a := events.NewMemoryPublisher()
	b := events.NewMemoryPublisher()
	fan := events.Fanout{a, failingPublisher{}, b}

	err := fan.Publish(context.Background(), events.Event{Type: events.TypeLectureWatched, ChapterID: "ch-1"})
	if err == nil || !strings.Contains(err.Error(), "sink down") {
		t.Errorf("Publish() error = %v, want sink down", err)
	}
	if len(a.Events()) != 1 || len(b.Events()) != 1 {
		t.Errorf("delivered = %d/%d, want 1/1", len(a.Events()), len(b.Events()))
	}
}

func TestHub_SubscribeAndUnsubscribe(t *testing.T) {
	hub := events.NewHub()

	ch, cancel := hub.Subscribe("stu-1")
	if hub.Subscribers("stu-1") != 1 {
		t.Fatalf("Subscribers() = %d, want 1", hub.Subscribers("stu-1"))
	}

	_ = hub.Publish(context.Background(), events.Event{Type: events.TypeChapterCompleted, StudentID: "stu-1", ChapterID: "ch-1"})
	_ = hub.Publish(context.Background(), events.Event{Type: events.TypeChapterCompleted, StudentID: "stu-2", ChapterID: "ch-1"})

	select {
	case e := <-ch:
		if e.StudentID != "stu-1" {
			t.Errorf("StudentID = %q, want stu-1", e.StudentID)
		}
	default:
		t.Fatal("expected an event for stu-1")
	}
	select {
	case e := <-ch:
		t.Fatalf("unexpected event %+v", e)
	default:
	}

	cancel()
	cancel()
	if hub.Subscribers("stu-1") != 0 {
		t.Errorf("Subscribers() = %d after cancel, want 0", hub.Subscribers("stu-1"))
	}
}

func TestHub_Handler_StreamsEvents(t *testing.T) {
	hub := events.NewHub()
	srv := httptest.NewServer(hub.Handler(func(r *http.Request) string {
		return r.URL.Query().Get("student_id")
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"?student_id=stu-1", nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.CloseNow()

	for hub.Subscribers("stu-1") == 0 {
		select {
		case <-ctx.Done():
			t.Fatal("subscriber never registered")
		case <-time.After(10 * time.Millisecond):
		}
	}

	_ = hub.Publish(ctx, events.Event{Type: events.TypeAttemptStarted, StudentID: "stu-1", ChapterID: "ch-1", AttemptID: "a-1"})

	var got events.Event
	if err := wsjson.Read(ctx, conn, &got); err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if got.Type != events.TypeAttemptStarted || got.AttemptID != "a-1" {
		t.Errorf("event = %+v, want attempt_started a-1", got)
	}
	conn.Close(websocket.StatusNormalClosure, "")
}

func TestHub_Handler_RequiresStudent(t *testing.T) {
	hub := events.NewHub()
	srv := httptest.NewServer(hub.Handler(func(*http.Request) string { return "" }))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET error = %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", resp.StatusCode)
	}
}
