package progress

import (
	"context"
	"log/slog"
	"strings"

	"github.com/p-n-ai/pai-learn/internal/course"
	"github.com/p-n-ai/pai-learn/internal/events"
	"github.com/p-n-ai/pai-learn/internal/platform/apperr"
)

// ChapterProgress is a progress record annotated with the chapter-dependent
// flags a client needs to render it.
type ChapterProgress struct {
	Progress
	AllLecturesCompleted bool `json:"all_lectures_completed"`
	ContentCompleted     bool `json:"content_completed"`
	SubmittedAttempts    int  `json:"submitted_attempts"`
}

// Tracker records viewing events. All operations are idempotent.
type Tracker struct {
	chapters course.Store
	store    Store
	events   events.Publisher
}

// NewTracker creates a tracker. A nil publisher disables events.
func NewTracker(chapters course.Store, store Store, publisher events.Publisher) *Tracker {
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	return &Tracker{chapters: chapters, store: store, events: publisher}
}

// MarkSlidesViewed sets slidesViewed. Repeated calls are no-ops.
func (t *Tracker) MarkSlidesViewed(ctx context.Context, studentID, chapterID string) (ChapterProgress, error) {
	if err := RequireStudent(studentID); err != nil {
		return ChapterProgress{}, err
	}
	ch, err := t.chapters.GetChapter(ctx, chapterID)
	if err != nil {
		return ChapterProgress{}, err
	}

	changed := false
	p, err := t.store.Update(ctx, studentID, chapterID, func(p *Progress) error {
		if !p.SlidesViewed {
			p.SlidesViewed = true
			changed = true
		}
		return nil
	})
	if err != nil {
		return ChapterProgress{}, err
	}

	if changed {
		slog.Info("slides viewed", "student_id", studentID, "chapter_id", chapterID)
		events.Emit(ctx, t.events, events.Event{
			Type:      events.TypeSlidesViewed,
			StudentID: studentID,
			ChapterID: chapterID,
		})
	}
	return annotate(p, ch), nil
}

// MarkLectureWatched adds lectureID to the watched set. Repeated calls are no-ops.
func (t *Tracker) MarkLectureWatched(ctx context.Context, studentID, chapterID, lectureID string) (ChapterProgress, error) {
	if err := RequireStudent(studentID); err != nil {
		return ChapterProgress{}, err
	}
	ch, err := t.chapters.GetChapter(ctx, chapterID)
	if err != nil {
		return ChapterProgress{}, err
	}
	if !ch.HasLecture(lectureID) {
		return ChapterProgress{}, apperr.NotFound("lecture_not_found", "lecture %s not found in chapter %s", lectureID, chapterID)
	}

	changed := false
	p, err := t.store.Update(ctx, studentID, chapterID, func(p *Progress) error {
		changed = p.AddWatched(lectureID)
		return nil
	})
	if err != nil {
		return ChapterProgress{}, err
	}

	if changed {
		slog.Info("lecture watched", "student_id", studentID, "chapter_id", chapterID, "lecture_id", lectureID)
		events.Emit(ctx, t.events, events.Event{
			Type:      events.TypeLectureWatched,
			StudentID: studentID,
			ChapterID: chapterID,
			Data:      map[string]any{"lecture_id": lectureID},
		})
	}
	return annotate(p, ch), nil
}

// GetProgress returns the student's progress on a chapter. A missing record is
// created with defaults rather than reported as an error.
func (t *Tracker) GetProgress(ctx context.Context, studentID, chapterID string) (ChapterProgress, error) {
	if err := RequireStudent(studentID); err != nil {
		return ChapterProgress{}, err
	}
	ch, err := t.chapters.GetChapter(ctx, chapterID)
	if err != nil {
		return ChapterProgress{}, err
	}
	p, err := t.store.Get(ctx, studentID, chapterID)
	if err != nil {
		return ChapterProgress{}, err
	}
	return annotate(p, ch), nil
}

// RequireStudent rejects blank student ids.
func RequireStudent(studentID string) error {
	if strings.TrimSpace(studentID) == "" {
		return apperr.Validation("missing_student_id", "student id is required")
	}
	return nil
}

// annotate re-derives the cached fields against the chapter's current passing
// score so an instructor edit is reflected before the next submit.
func annotate(p Progress, ch course.Chapter) ChapterProgress {
	p.Recompute(ch.Quiz.PassingScore)
	return ChapterProgress{
		Progress:             p,
		AllLecturesCompleted: p.AllLecturesCompleted(ch),
		ContentCompleted:     p.ContentCompleted(ch),
		SubmittedAttempts:    p.SubmittedCount(),
	}
}
