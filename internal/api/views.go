package api

import (
	"time"

	"github.com/p-n-ai/pai-learn/internal/course"
	"github.com/p-n-ai/pai-learn/internal/progress"
	"github.com/p-n-ai/pai-learn/internal/quiz"
	"github.com/p-n-ai/pai-learn/internal/unlock"
)

// Student-facing views never carry correct answers for open attempts or the
// live question bank.

type questionView struct {
	Text       string   `json:"question_text"`
	Options    []string `json:"options"`
	Difficulty string   `json:"difficulty,omitempty"`
}

type quizView struct {
	IsGenerated      bool       `json:"is_generated"`
	GeneratedAt      *time.Time `json:"generated_at,omitempty"`
	QuestionCount    int        `json:"question_count"`
	PassingScore     int        `json:"passing_score"`
	MaxAttempts      int        `json:"max_attempts"`
	TimeLimitMinutes int        `json:"time_limit_minutes"`
}

type chapterView struct {
	ID         string           `json:"id"`
	CourseID   string           `json:"course_id"`
	Number     int              `json:"chapter_number"`
	Title      string           `json:"title"`
	Slides     []course.Slide   `json:"slides"`
	Lectures   []course.Lecture `json:"lectures"`
	Quiz       quizView         `json:"quiz"`
	IsUnlocked *bool            `json:"is_unlocked,omitempty"`
}

type attemptView struct {
	ID           string            `json:"attempt_id"`
	ChapterID    string            `json:"chapter_id"`
	Status       progress.Status   `json:"status"`
	Questions    []questionView    `json:"questions,omitempty"`
	Review       []course.Question `json:"review,omitempty"`
	PassingScore int               `json:"passing_score"`
	Answers      []int             `json:"answers,omitempty"`
	StartedAt    time.Time         `json:"started_at"`
	SubmittedAt  *time.Time        `json:"submitted_at,omitempty"`
	Score        *int              `json:"score,omitempty"`
	Passed       *bool             `json:"passed,omitempty"`
	Late         bool              `json:"late,omitempty"`
}

type startView struct {
	Attempt          attemptView `json:"attempt"`
	Resumed          bool        `json:"resumed"`
	TotalQuestions   int         `json:"total_questions"`
	PassingScore     int         `json:"passing_score"`
	TimeLimitMinutes int         `json:"time_limit_minutes"`
	ElapsedSeconds   int64       `json:"elapsed_seconds"`
	RemainingSeconds *int64      `json:"remaining_seconds,omitempty"`
}

type progressView struct {
	StudentID            string        `json:"student_id"`
	ChapterID            string        `json:"chapter_id"`
	SlidesViewed         bool          `json:"slides_viewed"`
	LecturesWatched      []string      `json:"lectures_watched"`
	AllLecturesCompleted bool          `json:"all_lectures_completed"`
	ContentCompleted     bool          `json:"content_completed"`
	SubmittedAttempts    int           `json:"submitted_attempts"`
	BestScore            int           `json:"best_score"`
	ChapterCompleted     bool          `json:"chapter_completed"`
	Attempts             []attemptView `json:"attempts"`
	UpdatedAt            time.Time     `json:"updated_at,omitzero"`
}

func questionViews(qs []course.Question) []questionView {
	out := make([]questionView, len(qs))
	for i, q := range qs {
		out[i] = questionView{Text: q.Text, Options: q.Options, Difficulty: q.Difficulty}
	}
	return out
}

func newChapterView(ch course.Chapter) chapterView {
	return chapterView{
		ID:       ch.ID,
		CourseID: ch.CourseID,
		Number:   ch.Number,
		Title:    ch.Title,
		Slides:   ch.Slides,
		Lectures: ch.Lectures,
		Quiz: quizView{
			IsGenerated:      ch.Quiz.IsGenerated,
			GeneratedAt:      ch.Quiz.GeneratedAt,
			QuestionCount:    len(ch.Quiz.Questions),
			PassingScore:     ch.Quiz.PassingScore,
			MaxAttempts:      ch.Quiz.MaxAttempts,
			TimeLimitMinutes: ch.Quiz.TimeLimitMinutes,
		},
	}
}

func newEntryView(e unlock.Entry) chapterView {
	v := newChapterView(e.Chapter)
	unlocked := e.IsUnlocked
	v.IsUnlocked = &unlocked
	return v
}

func newAttemptView(a progress.Attempt) attemptView {
	v := attemptView{
		ID:           a.ID,
		ChapterID:    a.ChapterID,
		Status:       a.Status,
		PassingScore: a.PassingScore,
		StartedAt:    a.StartedAt,
		SubmittedAt:  a.SubmittedAt,
		Score:        a.Score,
		Passed:       a.Passed,
		Late:         a.Late,
	}
	if a.Status == progress.StatusInProgress {
		v.Questions = questionViews(a.QuestionSnapshot)
		return v
	}
	v.Review = a.QuestionSnapshot
	v.Answers = a.Answers
	return v
}

func newStartView(res quiz.StartResult) startView {
	v := startView{
		Attempt:          newAttemptView(res.Attempt),
		Resumed:          res.Resumed,
		TotalQuestions:   res.TotalQuestions,
		PassingScore:     res.PassingScore,
		TimeLimitMinutes: res.TimeLimitMinutes,
		ElapsedSeconds:   int64(res.Elapsed / time.Second),
	}
	if res.Remaining != nil {
		secs := int64(*res.Remaining / time.Second)
		v.RemainingSeconds = &secs
	}
	return v
}

func newProgressView(cp progress.ChapterProgress) progressView {
	v := progressView{
		StudentID:            cp.StudentID,
		ChapterID:            cp.ChapterID,
		SlidesViewed:         cp.SlidesViewed,
		LecturesWatched:      cp.LecturesWatched,
		AllLecturesCompleted: cp.AllLecturesCompleted,
		ContentCompleted:     cp.ContentCompleted,
		SubmittedAttempts:    cp.SubmittedAttempts,
		BestScore:            cp.BestScore,
		ChapterCompleted:     cp.ChapterCompleted,
		Attempts:             make([]attemptView, len(cp.Attempts)),
		UpdatedAt:            cp.UpdatedAt,
	}
	for i, a := range cp.Attempts {
		v.Attempts[i] = newAttemptView(a)
	}
	if v.LecturesWatched == nil {
		v.LecturesWatched = []string{}
	}
	return v
}
