// Package quiz runs the chapter quiz state machine: gated start or resume,
// exactly-once submit with grading, and AI-assisted question generation.
package quiz

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/p-n-ai/pai-learn/internal/course"
	"github.com/p-n-ai/pai-learn/internal/events"
	"github.com/p-n-ai/pai-learn/internal/platform/apperr"
	"github.com/p-n-ai/pai-learn/internal/progress"
)

// LatePolicy decides what happens to a submit that arrives after the time limit.
type LatePolicy string

const (
	// LateFlag grades the attempt normally and marks it late.
	LateFlag LatePolicy = "flag"
	// LateZero closes the attempt with a score of 0.
	LateZero LatePolicy = "zero"
)

// PassingPolicy decides which passing score an attempt is graded against.
type PassingPolicy string

const (
	// PassingLive uses the chapter's passing score at submit time.
	PassingLive PassingPolicy = "live"
	// PassingSnapshot uses the passing score recorded when the attempt started.
	PassingSnapshot PassingPolicy = "snapshot"
)

// Config configures a Manager.
type Config struct {
	Chapters      course.Store
	Progress      progress.Store
	Events        events.Publisher
	LatePolicy    LatePolicy
	PassingPolicy PassingPolicy
	Now           func() time.Time
}

// Manager owns attempt start and submit.
type Manager struct {
	chapters      course.Store
	progress      progress.Store
	events        events.Publisher
	latePolicy    LatePolicy
	passingPolicy PassingPolicy
	now           func() time.Time
}

// NewManager creates a Manager, filling in defaults for empty policies.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.Chapters == nil || cfg.Progress == nil {
		return nil, fmt.Errorf("chapter and progress stores are required")
	}
	if cfg.Events == nil {
		cfg.Events = events.NopPublisher{}
	}
	if cfg.LatePolicy == "" {
		cfg.LatePolicy = LateFlag
	}
	if cfg.PassingPolicy == "" {
		cfg.PassingPolicy = PassingLive
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	switch cfg.LatePolicy {
	case LateFlag, LateZero:
	default:
		return nil, fmt.Errorf("unknown late policy %q", cfg.LatePolicy)
	}
	switch cfg.PassingPolicy {
	case PassingLive, PassingSnapshot:
	default:
		return nil, fmt.Errorf("unknown passing score policy %q", cfg.PassingPolicy)
	}

	return &Manager{
		chapters:      cfg.Chapters,
		progress:      cfg.Progress,
		events:        cfg.Events,
		latePolicy:    cfg.LatePolicy,
		passingPolicy: cfg.PassingPolicy,
		now:           cfg.Now,
	}, nil
}

// StartResult is returned by StartAttempt.
type StartResult struct {
	Attempt          progress.Attempt
	Resumed          bool
	TotalQuestions   int
	PassingScore     int
	TimeLimitMinutes int
	Elapsed          time.Duration
	Remaining        *time.Duration // nil when the quiz has no time limit
}

// StartAttempt opens a new attempt or resumes the open one. Concurrent calls
// for the same student and chapter converge on a single attempt.
func (m *Manager) StartAttempt(ctx context.Context, studentID, chapterID string) (StartResult, error) {
	if err := progress.RequireStudent(studentID); err != nil {
		return StartResult{}, err
	}
	ch, err := m.chapters.GetChapter(ctx, chapterID)
	if err != nil {
		return StartResult{}, err
	}

	now := m.now()
	var attempt progress.Attempt
	resumed := false

	_, err = m.progress.Update(ctx, studentID, chapterID, func(p *progress.Progress) error {
		if err := checkEligible(*p, ch); err != nil {
			return err
		}
		if limit := ch.Quiz.MaxAttempts; limit > 0 && p.SubmittedCount() >= limit {
			return apperr.AttemptsExhausted("all %d attempts used on chapter %s", limit, chapterID)
		}

		if open := p.InProgress(); open != nil {
			attempt = open.Clone()
			resumed = true
			return nil
		}

		answers := make([]int, len(ch.Quiz.Questions))
		for i := range answers {
			answers[i] = progress.Unanswered
		}
		attempt = progress.Attempt{
			ID:               progress.NewAttemptID(),
			ChapterID:        chapterID,
			StudentID:        studentID,
			Status:           progress.StatusInProgress,
			QuestionSnapshot: course.CloneQuestions(ch.Quiz.Questions),
			QuizVersion:      ch.Quiz.Version,
			PassingScore:     ch.Quiz.PassingScore,
			Answers:          answers,
			StartedAt:        now,
		}
		p.Attempts = append(p.Attempts, attempt)
		return nil
	})
	if err != nil {
		return StartResult{}, err
	}

	res := StartResult{
		Attempt:          attempt,
		Resumed:          resumed,
		TotalQuestions:   len(attempt.QuestionSnapshot),
		PassingScore:     m.passingScore(ch, attempt),
		TimeLimitMinutes: ch.Quiz.TimeLimitMinutes,
		Elapsed:          max(now.Sub(attempt.StartedAt), 0),
	}
	if limit := timeLimit(ch); limit > 0 {
		remaining := max(limit-res.Elapsed, 0)
		res.Remaining = &remaining
	}

	eventType, msg := events.TypeAttemptStarted, "quiz attempt started"
	if resumed {
		eventType, msg = events.TypeAttemptResumed, "quiz attempt resumed"
	}
	slog.Info(msg,
		"student_id", studentID,
		"chapter_id", chapterID,
		"attempt_id", attempt.ID,
		"total_questions", res.TotalQuestions,
	)
	events.Emit(ctx, m.events, events.Event{
		Type:      eventType,
		StudentID: studentID,
		ChapterID: chapterID,
		AttemptID: attempt.ID,
		Data:      map[string]any{"quiz_version": attempt.QuizVersion},
	})
	return res, nil
}

// SubmitResult is returned by SubmitAttempt.
type SubmitResult struct {
	AttemptID        string    `json:"attempt_id"`
	ChapterID        string    `json:"chapter_id"`
	Score            int       `json:"score"`
	Passed           bool      `json:"passed"`
	Late             bool      `json:"late"`
	CorrectCount     int       `json:"correct_count"`
	TotalQuestions   int       `json:"total_questions"`
	PassingScore     int       `json:"passing_score"`
	Review           []Review  `json:"review"`
	BestScore        int       `json:"best_score"`
	ChapterCompleted bool      `json:"chapter_completed"`
	SubmittedAt      time.Time `json:"submitted_at"`
}

// SubmitAttempt grades and closes an open attempt. Each attempt is graded
// exactly once; later submits fail with InvalidState and change nothing.
func (m *Manager) SubmitAttempt(ctx context.Context, studentID, attemptID string, answers []int) (SubmitResult, error) {
	if err := progress.RequireStudent(studentID); err != nil {
		return SubmitResult{}, err
	}

	found, err := m.progress.FindAttempt(ctx, attemptID)
	if apperr.Is(err, apperr.KindNotFound) || (err == nil && found.StudentID != studentID) {
		return SubmitResult{}, apperr.InvalidState("attempt_not_found", "no attempt %s for student %s", attemptID, studentID)
	}
	if err != nil {
		return SubmitResult{}, err
	}
	if found.Status != progress.StatusInProgress {
		return SubmitResult{}, alreadySubmitted(attemptID)
	}
	if err := ValidateAnswers(found.QuestionSnapshot, answers); err != nil {
		return SubmitResult{}, err
	}

	ch, err := m.chapters.GetChapter(ctx, found.ChapterID)
	if err != nil {
		return SubmitResult{}, err
	}

	now := m.now()
	var res SubmitResult
	wasCompleted := false

	p, err := m.progress.Update(ctx, studentID, found.ChapterID, func(p *progress.Progress) error {
		open := p.Attempt(attemptID)
		if open == nil || open.Status != progress.StatusInProgress {
			return alreadySubmitted(attemptID)
		}
		wasCompleted = p.ChapterCompleted

		passing := m.passingScore(ch, *open)
		graded := Grade(open.QuestionSnapshot, answers, passing)
		late := isLate(ch, open.StartedAt, now)
		if late && m.latePolicy == LateZero {
			graded.Score = 0
			graded.Passed = false
		}

		score, passed := graded.Score, graded.Passed
		open.Status = progress.StatusSubmitted
		open.Answers = append([]int(nil), answers...)
		open.SubmittedAt = &now
		open.Score = &score
		open.Passed = &passed
		open.Late = late
		p.Recompute(ch.Quiz.PassingScore)

		res = SubmitResult{
			AttemptID:      attemptID,
			ChapterID:      found.ChapterID,
			Score:          score,
			Passed:         passed,
			Late:           late,
			CorrectCount:   graded.CorrectCount,
			TotalQuestions: graded.Total,
			PassingScore:   passing,
			Review:         graded.Review,
			SubmittedAt:    now,
		}
		return nil
	})
	if err != nil {
		return SubmitResult{}, err
	}
	res.BestScore = p.BestScore
	res.ChapterCompleted = p.ChapterCompleted

	slog.Info("quiz attempt submitted",
		"student_id", studentID,
		"chapter_id", found.ChapterID,
		"attempt_id", attemptID,
		"score", res.Score,
		"passed", res.Passed,
		"late", res.Late,
	)
	events.Emit(ctx, m.events, events.Event{
		Type:      events.TypeAttemptSubmitted,
		StudentID: studentID,
		ChapterID: found.ChapterID,
		AttemptID: attemptID,
		Data: map[string]any{
			"score":      res.Score,
			"passed":     res.Passed,
			"late":       res.Late,
			"best_score": res.BestScore,
		},
	})
	if !wasCompleted && p.ChapterCompleted {
		slog.Info("chapter completed", "student_id", studentID, "chapter_id", found.ChapterID, "best_score", p.BestScore)
		events.Emit(ctx, m.events, events.Event{
			Type:      events.TypeChapterCompleted,
			StudentID: studentID,
			ChapterID: found.ChapterID,
			AttemptID: attemptID,
			Data:      map[string]any{"best_score": p.BestScore},
		})
	}
	return res, nil
}

// GetAttempt returns one of the student's attempts. Attempts of other
// students are reported as not found.
func (m *Manager) GetAttempt(ctx context.Context, studentID, attemptID string) (progress.Attempt, error) {
	if err := progress.RequireStudent(studentID); err != nil {
		return progress.Attempt{}, err
	}
	a, err := m.progress.FindAttempt(ctx, attemptID)
	if err != nil {
		return progress.Attempt{}, err
	}
	if a.StudentID != studentID {
		return progress.Attempt{}, apperr.NotFound("attempt_not_found", "attempt not found: %s", attemptID)
	}
	return a, nil
}

// checkEligible applies the content gates that guard attempt start.
func checkEligible(p progress.Progress, ch course.Chapter) error {
	if ch.HasSlides() && !p.SlidesViewed {
		return apperr.Forbidden("slides_not_viewed", "slides of chapter %s have not been viewed", ch.ID)
	}
	if !p.AllLecturesCompleted(ch) {
		return apperr.Forbidden("lectures_incomplete", "not all lectures of chapter %s have been watched", ch.ID)
	}
	if !ch.Quiz.IsGenerated || len(ch.Quiz.Questions) == 0 {
		return apperr.Forbidden("quiz_not_generated", "chapter %s has no quiz yet", ch.ID)
	}
	return nil
}

func (m *Manager) passingScore(ch course.Chapter, a progress.Attempt) int {
	if m.passingPolicy == PassingSnapshot {
		return a.PassingScore
	}
	return ch.Quiz.PassingScore
}

func timeLimit(ch course.Chapter) time.Duration {
	return time.Duration(ch.Quiz.TimeLimitMinutes) * time.Minute
}

func isLate(ch course.Chapter, startedAt, now time.Time) bool {
	limit := timeLimit(ch)
	return limit > 0 && now.Sub(startedAt) > limit
}

func alreadySubmitted(attemptID string) error {
	return apperr.InvalidState("attempt_already_submitted", "attempt %s is already submitted", attemptID)
}
