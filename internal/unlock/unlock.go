// Package unlock decides which chapters of a course a student may open.
package unlock

import (
	"context"

	"github.com/p-n-ai/pai-learn/internal/course"
	"github.com/p-n-ai/pai-learn/internal/platform/apperr"
	"github.com/p-n-ai/pai-learn/internal/progress"
)

// Entry is one chapter with its lock state.
type Entry struct {
	Chapter    course.Chapter `json:"chapter"`
	IsUnlocked bool           `json:"is_unlocked"`
}

// Resolve marks the first chapter unlocked and every later chapter unlocked
// exactly when its predecessor is completed. ordered must be sorted by chapter number.
func Resolve(ordered []course.Chapter, completed func(chapterID string) bool) []Entry {
	out := make([]Entry, len(ordered))
	for i, ch := range ordered {
		out[i] = Entry{
			Chapter:    ch,
			IsUnlocked: i == 0 || completed(ordered[i-1].ID),
		}
	}
	return out
}

// Completed reports whether p meets the chapter's current passing score.
func Completed(p progress.Progress, ch course.Chapter) bool {
	_, done := progress.Derive(p.Attempts, ch.Quiz.PassingScore)
	return done
}

// Resolver evaluates Resolve against stored progress. Nothing is cached;
// every call reads current progress.
type Resolver struct {
	chapters course.Store
	progress progress.Reader
}

// NewResolver creates a Resolver.
func NewResolver(chapters course.Store, reader progress.Reader) *Resolver {
	return &Resolver{chapters: chapters, progress: reader}
}

// ChaptersFor returns the course's chapters in order with the student's lock state.
func (r *Resolver) ChaptersFor(ctx context.Context, studentID, courseID string) ([]Entry, error) {
	if err := progress.RequireStudent(studentID); err != nil {
		return nil, err
	}
	ordered, err := r.chapters.GetChaptersOrdered(ctx, courseID)
	if err != nil {
		return nil, err
	}
	records, err := r.progress.GetMany(ctx, studentID, chapterIDs(ordered))
	if err != nil {
		return nil, err
	}

	byID := make(map[string]course.Chapter, len(ordered))
	for _, ch := range ordered {
		byID[ch.ID] = ch
	}
	return Resolve(ordered, func(id string) bool {
		return Completed(records[id], byID[id])
	}), nil
}

// RequireUnlocked fails with Forbidden when chapterID is locked for the student.
func (r *Resolver) RequireUnlocked(ctx context.Context, studentID, chapterID string) error {
	ch, err := r.chapters.GetChapter(ctx, chapterID)
	if err != nil {
		return err
	}
	if ch.Number <= 1 {
		return nil
	}
	prev, err := r.chapters.GetChapterByNumber(ctx, ch.CourseID, ch.Number-1)
	if err != nil {
		return err
	}
	records, err := r.progress.GetMany(ctx, studentID, []string{prev.ID})
	if err != nil {
		return err
	}
	if !Completed(records[prev.ID], prev) {
		return apperr.Forbidden("chapter_locked", "chapter %s is locked until chapter %s is completed", chapterID, prev.ID)
	}
	return nil
}

func chapterIDs(chapters []course.Chapter) []string {
	ids := make([]string, len(chapters))
	for i, ch := range chapters {
		ids[i] = ch.ID
	}
	return ids
}
