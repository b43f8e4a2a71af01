// Package progress tracks per-student chapter progress and the quiz attempt log.
package progress

import (
	"context"
	"hash/maphash"
	"slices"
	"sync"
	"time"

	"github.com/p-n-ai/pai-learn/internal/platform/apperr"
)

// Reader is the read side of Store.
type Reader interface {
	// Get returns the record for (studentID, chapterID), creating a default
	// one on first access.
	Get(ctx context.Context, studentID, chapterID string) (Progress, error)
	// GetMany returns records for several chapters of one student. Missing
	// records are returned as defaults and are not persisted.
	GetMany(ctx context.Context, studentID string, chapterIDs []string) (map[string]Progress, error)
	// FindAttempt locates an attempt by id.
	FindAttempt(ctx context.Context, attemptID string) (Attempt, error)
}

// Store persists progress records and their attempt logs.
type Store interface {
	Reader
	// Update runs fn against the current record while holding the
	// (studentID, chapterID) lock and persists the result atomically. If fn
	// returns an error nothing is written. fn must not call back into the store.
	Update(ctx context.Context, studentID, chapterID string, fn func(*Progress) error) (Progress, error)
}

// checkTransition rejects writes that would break the attempt log rules:
// the log only grows, submitted attempts are frozen, an open attempt may only
// move to submitted, and at most one attempt is open at a time.
func checkTransition(before, after Progress) error {
	if len(after.Attempts) < len(before.Attempts) {
		return apperr.InvalidState("attempt_log_truncated", "attempt log cannot shrink")
	}
	for i, prev := range before.Attempts {
		next := after.Attempts[i]
		if next.ID != prev.ID {
			return apperr.InvalidState("attempt_log_reordered", "attempt %s cannot be replaced", prev.ID)
		}
		if prev.Status == StatusSubmitted && !sameSubmitted(prev, next) {
			return apperr.InvalidState("attempt_already_submitted", "attempt %s is already submitted", prev.ID)
		}
	}
	open := 0
	for _, a := range after.Attempts {
		if a.Status == StatusInProgress {
			open++
		}
	}
	if open > 1 {
		return apperr.InvalidState("attempt_in_progress", "student %s already has an open attempt on chapter %s", after.StudentID, after.ChapterID)
	}
	if before.SlidesViewed && !after.SlidesViewed {
		return apperr.InvalidState("slides_viewed_reset", "slides_viewed cannot be cleared")
	}
	for _, id := range before.LecturesWatched {
		if !after.HasWatched(id) {
			return apperr.InvalidState("lecture_unwatched", "lecture %s cannot be removed from the watched set", id)
		}
	}
	return nil
}

func sameSubmitted(a, b Attempt) bool {
	return b.Status == StatusSubmitted &&
		ptrEqual(a.Score, b.Score) &&
		ptrEqual(a.Passed, b.Passed) &&
		a.Late == b.Late &&
		slices.Equal(a.Answers, b.Answers)
}

func ptrEqual[T comparable](a, b *T) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

type key struct {
	studentID string
	chapterID string
}

// lockStripes is the number of update locks shared by all (student, chapter) pairs.
const lockStripes = 64

// MemoryStore is an in-memory implementation of Store. Updates are serialized
// per (student, chapter) through a fixed set of striped locks, so pairs on
// different stripes proceed independently.
type MemoryStore struct {
	records  map[key]*Progress
	attempts map[string]key
	locks    [lockStripes]sync.Mutex
	seed     maphash.Seed
	now      func() time.Time
	mu       sync.RWMutex
}

// NewMemoryStore creates an empty in-memory progress store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records:  make(map[key]*Progress),
		attempts: make(map[string]key),
		seed:     maphash.MakeSeed(),
		now:      time.Now,
	}
}

func (s *MemoryStore) Get(_ context.Context, studentID, chapterID string) (Progress, error) {
	k := key{studentID, chapterID}

	s.mu.RLock()
	p, ok := s.records[k]
	if ok {
		out := p.Clone()
		s.mu.RUnlock()
		return out, nil
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.records[k]; ok {
		return p.Clone(), nil
	}
	fresh := New(studentID, chapterID)
	fresh.UpdatedAt = s.now()
	s.records[k] = &fresh
	return fresh.Clone(), nil
}

func (s *MemoryStore) GetMany(_ context.Context, studentID string, chapterIDs []string) (map[string]Progress, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]Progress, len(chapterIDs))
	for _, id := range chapterIDs {
		if p, ok := s.records[key{studentID, id}]; ok {
			out[id] = p.Clone()
		} else {
			out[id] = New(studentID, id)
		}
	}
	return out, nil
}

func (s *MemoryStore) FindAttempt(_ context.Context, attemptID string) (Attempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	k, ok := s.attempts[attemptID]
	if !ok {
		return Attempt{}, apperr.NotFound("attempt_not_found", "attempt not found: %s", attemptID)
	}
	a := s.records[k].Attempt(attemptID)
	return a.Clone(), nil
}

func (s *MemoryStore) Update(_ context.Context, studentID, chapterID string, fn func(*Progress) error) (Progress, error) {
	k := key{studentID, chapterID}
	lock := s.lockFor(k)
	lock.Lock()
	defer lock.Unlock()

	s.mu.RLock()
	var before Progress
	if p, ok := s.records[k]; ok {
		before = p.Clone()
	} else {
		before = New(studentID, chapterID)
	}
	s.mu.RUnlock()

	after := before.Clone()
	if err := fn(&after); err != nil {
		return Progress{}, err
	}
	after.StudentID, after.ChapterID = studentID, chapterID
	if err := checkTransition(before, after); err != nil {
		return Progress{}, err
	}
	after.UpdatedAt = s.now()

	s.mu.Lock()
	stored := after.Clone()
	s.records[k] = &stored
	for _, a := range stored.Attempts {
		s.attempts[a.ID] = k
	}
	s.mu.Unlock()

	return after, nil
}

func (s *MemoryStore) lockFor(k key) *sync.Mutex {
	var h maphash.Hash
	h.SetSeed(s.seed)
	h.WriteString(k.studentID)
	h.WriteByte(0)
	h.WriteString(k.chapterID)
	return &s.locks[h.Sum64()%lockStripes]
}
