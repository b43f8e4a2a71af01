// Package events publishes progress events to the event log and live subscribers.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

const dbTimeout = 5 * time.Second

// Event types.
const (
	TypeSlidesViewed     = "slides_viewed"
	TypeLectureWatched   = "lecture_watched"
	TypeAttemptStarted   = "attempt_started"
	TypeAttemptResumed   = "attempt_resumed"
	TypeAttemptSubmitted = "attempt_submitted"
	TypeChapterCompleted = "chapter_completed"
	TypeQuizRegenerated  = "quiz_regenerated"
)

// Event is a progress event. StudentID is empty for chapter-wide events.
type Event struct {
	Type      string         `json:"type"`
	StudentID string         `json:"student_id,omitempty"`
	ChapterID string         `json:"chapter_id"`
	AttemptID string         `json:"attempt_id,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// Publisher delivers events to a sink.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// NopPublisher ignores all events.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) error {
	return nil
}

// MemoryPublisher stores events in memory for tests.
type MemoryPublisher struct {
	mu     sync.Mutex
	events []Event
}

func NewMemoryPublisher() *MemoryPublisher {
	return &MemoryPublisher{
		events: []Event{},
	}
}

func (p *MemoryPublisher) Publish(_ context.Context, event Event) error {
	if event.Type == "" {
		return fmt.Errorf("event type is required")
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	p.mu.Lock()
	p.events = append(p.events, event)
	p.mu.Unlock()

	return nil
}

func (p *MemoryPublisher) Events() []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Event{}, p.events...)
}

// OfType returns the recorded events of the given type.
func (p *MemoryPublisher) OfType(eventType string) []Event {
	var out []Event
	for _, e := range p.Events() {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

// PostgresPublisher appends events to the progress_events table.
type PostgresPublisher struct {
	pool *pgxpool.Pool
}

func NewPostgresPublisher(pool *pgxpool.Pool) *PostgresPublisher {
	return &PostgresPublisher{pool: pool}
}

func (p *PostgresPublisher) Publish(ctx context.Context, event Event) error {
	if p == nil || p.pool == nil {
		return fmt.Errorf("event publisher pool is nil")
	}
	if event.Type == "" {
		return fmt.Errorf("event type is required")
	}
	if event.ChapterID == "" {
		return fmt.Errorf("chapter_id is required")
	}

	payload := event.Data
	if payload == nil {
		payload = map[string]any{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event data: %w", err)
	}

	createdAt := event.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	if _, err := p.pool.Exec(ctx,
		`INSERT INTO progress_events (event_type, student_id, chapter_id, attempt_id, data, created_at)
		 VALUES ($1, $2, $3, $4, $5::jsonb, $6)`,
		event.Type,
		nullIfEmpty(event.StudentID),
		event.ChapterID,
		nullIfEmpty(event.AttemptID),
		string(data),
		createdAt,
	); err != nil {
		return fmt.Errorf("insert event: %w", err)
	}

	slog.Debug("event logged",
		"type", event.Type,
		"chapter_id", event.ChapterID,
		"student_id", event.StudentID,
	)
	return nil
}

// Fanout publishes every event to all of its sinks and joins their errors.
type Fanout []Publisher

func (f Fanout) Publish(ctx context.Context, event Event) error {
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}
	var errs []error
	for _, p := range f {
		if err := p.Publish(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Emit publishes event and logs, rather than returns, any failure. Events are
// emitted after the state change has committed and must never undo it.
func Emit(ctx context.Context, p Publisher, event Event) {
	if p == nil {
		return
	}
	if err := p.Publish(ctx, event); err != nil {
		slog.Warn("failed to publish event",
			"type", event.Type,
			"chapter_id", event.ChapterID,
			"error", err,
		)
	}
}

func nullIfEmpty(v string) any {
	if v == "" {
		return nil
	}
	return v
}
