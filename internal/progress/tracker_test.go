package progress_test

import (
	"context"
	"testing"

	"github.com/p-n-ai/pai-learn/internal/course"
	"github.com/p-n-ai/pai-learn/internal/events"
	"github.com/p-n-ai/pai-learn/internal/platform/apperr"
	"github.com/p-n-ai/pai-learn/internal/progress"
)

func newTracker(t *testing.T) (*progress.Tracker, *events.MemoryPublisher) {
	t.Helper()
	chapters := course.NewMemoryStore()
	err := chapters.PutCourse(context.Background(),
		course.Course{ID: "alg-1", SubjectID: "math"},
		[]course.Chapter{
			{
				ID:       "ch-1",
				Number:   1,
				Slides:   []course.Slide{{ID: "s-1", URL: "https://cdn.example.com/s-1.pdf"}},
				Lectures: []course.Lecture{{ID: "lec-1"}, {ID: "lec-2"}},
			},
			{ID: "ch-2", Number: 2},
		},
	)
	if err != nil {
		t.Fatalf("PutCourse() error = %v", err)
	}
	pub := events.NewMemoryPublisher()
	return progress.NewTracker(chapters, progress.NewMemoryStore(), pub), pub
}

func TestTracker_MarkSlidesViewed_Idempotent(t *testing.T) {
	tracker, pub := newTracker(t)
	ctx := context.Background()

	for range 3 {
		p, err := tracker.MarkSlidesViewed(ctx, "stu-1", "ch-1")
		if err != nil {
			t.Fatalf("MarkSlidesViewed() error = %v", err)
		}
		if !p.SlidesViewed {
			t.Fatal("SlidesViewed should be true")
		}
		if p.ContentCompleted {
			t.Error("content is not complete until lectures are watched")
		}
	}
	if n := len(pub.OfType(events.TypeSlidesViewed)); n != 1 {
		t.Errorf("slides_viewed events = %d, want 1", n)
	}
}

func TestTracker_MarkLectureWatched(t *testing.T) {
	tracker, pub := newTracker(t)
	ctx := context.Background()

	p, err := tracker.MarkLectureWatched(ctx, "stu-1", "ch-1", "lec-2")
	if err != nil {
		t.Fatalf("MarkLectureWatched() error = %v", err)
	}
	if p.AllLecturesCompleted {
		t.Error("one of two lectures watched should not complete lectures")
	}

	if _, err := tracker.MarkLectureWatched(ctx, "stu-1", "ch-1", "lec-2"); err != nil {
		t.Fatalf("repeat MarkLectureWatched() error = %v", err)
	}
	p, err = tracker.MarkLectureWatched(ctx, "stu-1", "ch-1", "lec-1")
	if err != nil {
		t.Fatalf("MarkLectureWatched() error = %v", err)
	}
	if !p.AllLecturesCompleted {
		t.Error("all lectures watched")
	}
	if len(p.LecturesWatched) != 2 {
		t.Errorf("LecturesWatched = %v, want 2 entries", p.LecturesWatched)
	}
	if n := len(pub.OfType(events.TypeLectureWatched)); n != 2 {
		t.Errorf("lecture_watched events = %d, want 2", n)
	}
}

func TestTracker_Errors(t *testing.T) {
	tracker, _ := newTracker(t)
	ctx := context.Background()

	tests := []struct {
		name     string
		call     func() error
		wantKind apperr.Kind
		wantCode string
	}{
		{
			name: "unknown lecture",
			call: func() error {
				_, err := tracker.MarkLectureWatched(ctx, "stu-1", "ch-1", "lec-9")
				return err
			},
			wantKind: apperr.KindNotFound,
			wantCode: "lecture_not_found",
		},
		{
			name: "unknown chapter",
			call: func() error {
				_, err := tracker.MarkSlidesViewed(ctx, "stu-1", "ch-9")
				return err
			},
			wantKind: apperr.KindNotFound,
		},
		{
			name: "blank student",
			call: func() error {
				_, err := tracker.GetProgress(ctx, "  ", "ch-1")
				return err
			},
			wantKind: apperr.KindValidation,
			wantCode: "missing_student_id",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.call()
			if apperr.KindOf(err) != tt.wantKind {
				t.Fatalf("error = %v, want kind %s", err, tt.wantKind)
			}
			if tt.wantCode != "" && apperr.CodeOf(err) != tt.wantCode {
				t.Errorf("code = %q, want %q", apperr.CodeOf(err), tt.wantCode)
			}
		})
	}
}

func TestTracker_GetProgress_ChapterWithoutContent(t *testing.T) {
	tracker, _ := newTracker(t)

	p, err := tracker.GetProgress(context.Background(), "stu-1", "ch-2")
	if err != nil {
		t.Fatalf("GetProgress() error = %v", err)
	}
	if !p.AllLecturesCompleted || !p.ContentCompleted {
		t.Errorf("chapter without slides or lectures should be vacuously complete: %+v", p)
	}
	if !p.ChapterCompleted {
		t.Error("chapter with a zero passing score is completed before any attempt")
	}
}
