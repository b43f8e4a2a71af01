// Package report derives read-only course and subject progress summaries.
package report

import (
	"context"
	"math"

	"golang.org/x/sync/errgroup"

	"github.com/p-n-ai/pai-learn/internal/course"
	"github.com/p-n-ai/pai-learn/internal/platform/apperr"
	"github.com/p-n-ai/pai-learn/internal/progress"
	"github.com/p-n-ai/pai-learn/internal/unlock"
)

// maxConcurrentCourses bounds the per-course reads of a subject roll-up.
const maxConcurrentCourses = 4

// ChapterSummary is one chapter row of a course report.
type ChapterSummary struct {
	ChapterID        string `json:"chapter_id"`
	Number           int    `json:"chapter_number"`
	Title            string `json:"title"`
	IsUnlocked       bool   `json:"is_unlocked"`
	ContentCompleted bool   `json:"content_completed"`
	Attempts         int    `json:"attempts"`
	BestScore        int    `json:"best_score"`
	PassingScore     int    `json:"passing_score"`
	ChapterCompleted bool   `json:"chapter_completed"`
}

// CourseProgress is a student's progress across one course.
type CourseProgress struct {
	StudentID        string           `json:"student_id"`
	CourseID         string           `json:"course_id"`
	SubjectID        string           `json:"subject_id"`
	Title            string           `json:"title"`
	TotalChapters    int              `json:"total_chapters"`
	LessonsCompleted int              `json:"lessons_completed"`
	QuizzesPassed    int              `json:"quizzes_passed"`
	OverallProgress  int              `json:"overall_progress"`
	Chapters         []ChapterSummary `json:"chapters"`
}

// SubjectProgress rolls up every course of a subject.
type SubjectProgress struct {
	StudentID       string           `json:"student_id"`
	SubjectID       string           `json:"subject_id"`
	TotalChapters   int              `json:"total_chapters"`
	QuizzesPassed   int              `json:"quizzes_passed"`
	OverallProgress int              `json:"overall_progress"`
	Courses         []CourseProgress `json:"courses"`
}

// Aggregator computes progress reports. It never writes.
type Aggregator struct {
	chapters course.Store
	progress progress.Reader
}

// NewAggregator creates an Aggregator.
func NewAggregator(chapters course.Store, reader progress.Reader) *Aggregator {
	return &Aggregator{chapters: chapters, progress: reader}
}

// CourseProgress reports a student's progress on a course. A chapter counts
// as a lesson when its content is complete and as a passed quiz when the
// chapter is completed.
func (a *Aggregator) CourseProgress(ctx context.Context, studentID, courseID string) (CourseProgress, error) {
	if err := progress.RequireStudent(studentID); err != nil {
		return CourseProgress{}, err
	}
	c, err := a.chapters.GetCourse(ctx, courseID)
	if err != nil {
		return CourseProgress{}, err
	}
	ordered, err := a.chapters.GetChaptersOrdered(ctx, courseID)
	if err != nil {
		return CourseProgress{}, err
	}

	ids := make([]string, len(ordered))
	for i, ch := range ordered {
		ids[i] = ch.ID
	}
	records, err := a.progress.GetMany(ctx, studentID, ids)
	if err != nil {
		return CourseProgress{}, err
	}

	completed := make(map[string]bool, len(ordered))
	for _, ch := range ordered {
		completed[ch.ID] = unlock.Completed(records[ch.ID], ch)
	}
	entries := unlock.Resolve(ordered, func(id string) bool { return completed[id] })

	out := CourseProgress{
		StudentID:     studentID,
		CourseID:      c.ID,
		SubjectID:     c.SubjectID,
		Title:         c.Title,
		TotalChapters: len(ordered),
		Chapters:      make([]ChapterSummary, len(ordered)),
	}
	for i, e := range entries {
		ch, p := e.Chapter, records[e.Chapter.ID]
		best, _ := progress.Derive(p.Attempts, ch.Quiz.PassingScore)
		summary := ChapterSummary{
			ChapterID:        ch.ID,
			Number:           ch.Number,
			Title:            ch.Title,
			IsUnlocked:       e.IsUnlocked,
			ContentCompleted: p.ContentCompleted(ch),
			Attempts:         p.SubmittedCount(),
			BestScore:        best,
			PassingScore:     ch.Quiz.PassingScore,
			ChapterCompleted: completed[ch.ID],
		}
		if summary.ContentCompleted {
			out.LessonsCompleted++
		}
		if summary.ChapterCompleted {
			out.QuizzesPassed++
		}
		out.Chapters[i] = summary
	}
	out.OverallProgress = percent(out.QuizzesPassed, out.TotalChapters)
	return out, nil
}

// SubjectProgress reports progress across every course of a subject.
func (a *Aggregator) SubjectProgress(ctx context.Context, studentID, subjectID string) (SubjectProgress, error) {
	if err := progress.RequireStudent(studentID); err != nil {
		return SubjectProgress{}, err
	}
	courses, err := a.chapters.ListCourses(ctx, subjectID)
	if err != nil {
		return SubjectProgress{}, err
	}
	if len(courses) == 0 {
		return SubjectProgress{}, apperr.NotFound("subject_not_found", "no courses for subject %s", subjectID)
	}

	reports := make([]CourseProgress, len(courses))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentCourses)
	for i, c := range courses {
		g.Go(func() error {
			r, err := a.CourseProgress(gctx, studentID, c.ID)
			if err != nil {
				return err
			}
			reports[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return SubjectProgress{}, err
	}

	out := SubjectProgress{
		StudentID: studentID,
		SubjectID: subjectID,
		Courses:   reports,
	}
	for _, r := range reports {
		out.TotalChapters += r.TotalChapters
		out.QuizzesPassed += r.QuizzesPassed
	}
	out.OverallProgress = percent(out.QuizzesPassed, out.TotalChapters)
	return out, nil
}

func percent(n, total int) int {
	if total == 0 {
		return 0
	}
	return int(math.Round(100 * float64(n) / float64(total)))
}
