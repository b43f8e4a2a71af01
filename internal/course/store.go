// Package course stores chapter definitions: ordering, content references and
// the live quiz of each chapter.
package course

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/p-n-ai/pai-learn/internal/platform/apperr"
)

// Store persists courses and their chapters.
type Store interface {
	// PutCourse replaces the course and its whole chapter set atomically.
	PutCourse(ctx context.Context, c Course, chapters []Chapter) error
	GetCourse(ctx context.Context, id string) (Course, error)
	// ListCourses returns all courses, or only those of subjectID when non-empty.
	ListCourses(ctx context.Context, subjectID string) ([]Course, error)
	GetChapter(ctx context.Context, id string) (Chapter, error)
	GetChapterByNumber(ctx context.Context, courseID string, number int) (Chapter, error)
	// GetChaptersOrdered returns a course's chapters ascending by number.
	GetChaptersOrdered(ctx context.Context, courseID string) ([]Chapter, error)
	// ReplaceQuiz swaps the chapter's question bank. Student progress is untouched.
	ReplaceQuiz(ctx context.Context, chapterID string, questions []Question, settings QuizSettings) (Chapter, error)
	UpdateQuizSettings(ctx context.Context, chapterID string, settings QuizSettings) (Chapter, error)
}

// MemoryStore is an in-memory implementation of Store.
type MemoryStore struct {
	courses  map[string]Course
	chapters map[string]Chapter
	byCourse map[string][]string // chapter ids ordered by number
	now      func() time.Time
	mu       sync.RWMutex
}

// NewMemoryStore creates an empty in-memory chapter store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		courses:  make(map[string]Course),
		chapters: make(map[string]Chapter),
		byCourse: make(map[string][]string),
		now:      time.Now,
	}
}

func (s *MemoryStore) PutCourse(_ context.Context, c Course, chapters []Chapter) error {
	ordered, err := ValidateCourse(c, chapters)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, ch := range ordered {
		if existing, ok := s.chapters[ch.ID]; ok && existing.CourseID != c.ID {
			return apperr.Validation("invalid_chapter", "chapter id %s already belongs to course %s", ch.ID, existing.CourseID)
		}
	}

	for _, id := range s.byCourse[c.ID] {
		delete(s.chapters, id)
	}
	ids := make([]string, len(ordered))
	for i, ch := range ordered {
		s.chapters[ch.ID] = ch
		ids[i] = ch.ID
	}
	s.byCourse[c.ID] = ids
	s.courses[c.ID] = c
	return nil
}

func (s *MemoryStore) GetCourse(_ context.Context, id string) (Course, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.courses[id]
	if !ok {
		return Course{}, apperr.NotFound("course_not_found", "course not found: %s", id)
	}
	return c, nil
}

func (s *MemoryStore) ListCourses(_ context.Context, subjectID string) ([]Course, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Course, 0, len(s.courses))
	for _, c := range s.courses {
		if subjectID == "" || c.SubjectID == subjectID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) GetChapter(_ context.Context, id string) (Chapter, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ch, ok := s.chapters[id]
	if !ok {
		return Chapter{}, apperr.NotFound("chapter_not_found", "chapter not found: %s", id)
	}
	return ch.Clone(), nil
}

func (s *MemoryStore) GetChapterByNumber(_ context.Context, courseID string, number int) (Chapter, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids, ok := s.byCourse[courseID]
	if !ok || number < 1 || number > len(ids) {
		return Chapter{}, apperr.NotFound("chapter_not_found", "chapter %d not found in course %s", number, courseID)
	}
	return s.chapters[ids[number-1]].Clone(), nil
}

func (s *MemoryStore) GetChaptersOrdered(_ context.Context, courseID string) ([]Chapter, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.courses[courseID]; !ok {
		return nil, apperr.NotFound("course_not_found", "course not found: %s", courseID)
	}
	ids := s.byCourse[courseID]
	out := make([]Chapter, len(ids))
	for i, id := range ids {
		out[i] = s.chapters[id].Clone()
	}
	return out, nil
}

func (s *MemoryStore) ReplaceQuiz(_ context.Context, chapterID string, questions []Question, settings QuizSettings) (Chapter, error) {
	if err := ValidateSettings(settings); err != nil {
		return Chapter{}, err
	}
	qs, err := ValidateQuestions(questions)
	if err != nil {
		return Chapter{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ch, ok := s.chapters[chapterID]
	if !ok {
		return Chapter{}, apperr.NotFound("chapter_not_found", "chapter not found: %s", chapterID)
	}
	now := s.now()
	ch.Quiz = Quiz{
		QuizSettings: settings,
		Questions:    qs,
		IsGenerated:  true,
		GeneratedAt:  &now,
		Version:      QuizVersion(qs),
	}
	s.chapters[chapterID] = ch
	return ch.Clone(), nil
}

func (s *MemoryStore) UpdateQuizSettings(_ context.Context, chapterID string, settings QuizSettings) (Chapter, error) {
	if err := ValidateSettings(settings); err != nil {
		return Chapter{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ch, ok := s.chapters[chapterID]
	if !ok {
		return Chapter{}, apperr.NotFound("chapter_not_found", "chapter not found: %s", chapterID)
	}
	ch.Quiz.QuizSettings = settings
	s.chapters[chapterID] = ch
	return ch.Clone(), nil
}
