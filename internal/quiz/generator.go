package quiz

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/p-n-ai/pai-learn/internal/ai"
	"github.com/p-n-ai/pai-learn/internal/course"
	"github.com/p-n-ai/pai-learn/internal/events"
	"github.com/p-n-ai/pai-learn/internal/platform/apperr"
)

const (
	// MinSlideTextLength is the shortest slide text, in characters, accepted for generation.
	MinSlideTextLength   = 100
	defaultQuestionCount = 5
	generationMaxTokens  = 4096
)

// GeneratorConfig configures a Generator.
type GeneratorConfig struct {
	AI            ai.Completer
	Chapters      course.Store
	Events        events.Publisher
	Budget        ai.BudgetChecker // optional, keyed by course id
	QuestionCount int
	Model         string
}

// Generator drafts a chapter's question bank from slide text and swaps it in.
type Generator struct {
	ai            ai.Completer
	chapters      course.Store
	events        events.Publisher
	budget        ai.BudgetChecker
	questionCount int
	model         string
}

// NewGenerator creates a Generator.
func NewGenerator(cfg GeneratorConfig) (*Generator, error) {
	if cfg.AI == nil || cfg.Chapters == nil {
		return nil, fmt.Errorf("AI client and chapter store are required")
	}
	if cfg.Events == nil {
		cfg.Events = events.NopPublisher{}
	}
	if cfg.QuestionCount <= 0 {
		cfg.QuestionCount = defaultQuestionCount
	}
	return &Generator{
		ai:            cfg.AI,
		chapters:      cfg.Chapters,
		events:        cfg.Events,
		budget:        cfg.Budget,
		questionCount: cfg.QuestionCount,
		model:         cfg.Model,
	}, nil
}

const systemPrompt = `You write multiple-choice quiz questions for a course chapter.
Reply with a single JSON object and nothing else, shaped as:
{"questions":[{"question_text":"...","options":["...","...","...","..."],"correct_answer_index":0,"explanation":"...","difficulty":"easy|medium|hard"}]}
Every question has exactly 4 distinct options and correct_answer_index is between 0 and 3.
Only ask about material present in the slides.`

// Generate replaces the quiz of chapterID with questions drafted from
// slideText. A nil settings keeps the chapter's current settings. Existing
// attempts keep their own snapshots.
func (g *Generator) Generate(ctx context.Context, chapterID, slideText string, settings *course.QuizSettings) (course.Chapter, error) {
	slideText = strings.TrimSpace(slideText)
	if n := utf8.RuneCountInString(slideText); n < MinSlideTextLength {
		return course.Chapter{}, apperr.Validation("slide_text_too_short",
			"slide text has %d characters, at least %d are required", n, MinSlideTextLength)
	}

	ch, err := g.chapters.GetChapter(ctx, chapterID)
	if err != nil {
		return course.Chapter{}, err
	}
	next := ch.Quiz.QuizSettings
	if settings != nil {
		next = *settings
		if err := course.ValidateSettings(next); err != nil {
			return course.Chapter{}, err
		}
	}

	if g.budget != nil {
		ok, err := g.budget.Check(ch.CourseID)
		if err != nil {
			return course.Chapter{}, fmt.Errorf("check generation budget: %w", err)
		}
		if !ok {
			return course.Chapter{}, apperr.Forbidden("generation_budget_exhausted",
				"quiz generation budget for course %s is used up", ch.CourseID)
		}
	}

	resp, err := g.ai.Complete(ctx, ai.CompletionRequest{
		Messages: []ai.Message{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: fmt.Sprintf("Write %d questions for chapter %q.\n\nSlides:\n%s", g.questionCount, ch.Title, slideText)},
		},
		Model:       g.model,
		MaxTokens:   generationMaxTokens,
		Temperature: 0.4,
		Task:        ai.TaskQuizGeneration,
		JSON:        true,
	})
	if err != nil {
		return course.Chapter{}, fmt.Errorf("generate questions for chapter %s: %w", chapterID, err)
	}
	if g.budget != nil {
		if err := g.budget.Record(ch.CourseID, resp.TotalTokens()); err != nil {
			slog.Warn("failed to record generation tokens", "course_id", ch.CourseID, "error", err)
		}
	}

	questions, err := course.ParseQuestionSet([]byte(extractJSON(resp.Content)))
	if err != nil {
		slog.Warn("AI returned an unusable question set", "chapter_id", chapterID, "model", resp.Model, "error", err)
		return course.Chapter{}, err
	}

	updated, err := g.chapters.ReplaceQuiz(ctx, chapterID, questions, next)
	if err != nil {
		return course.Chapter{}, err
	}

	slog.Info("quiz regenerated",
		"chapter_id", chapterID,
		"questions", len(updated.Quiz.Questions),
		"quiz_version", updated.Quiz.Version,
		"model", resp.Model,
		"tokens", resp.TotalTokens(),
	)
	events.Emit(ctx, g.events, events.Event{
		Type:      events.TypeQuizRegenerated,
		ChapterID: chapterID,
		Data: map[string]any{
			"quiz_version": updated.Quiz.Version,
			"questions":    len(updated.Quiz.Questions),
		},
	})
	return updated, nil
}

// extractJSON strips markdown code fences and any prose around the outermost
// JSON object.
func extractJSON(s string) string {
	s = strings.TrimSpace(s)
	if rest, ok := strings.CutPrefix(s, "```"); ok {
		if i := strings.IndexByte(rest, '\n'); i >= 0 {
			rest = rest[i+1:]
		}
		s = strings.TrimSuffix(strings.TrimSpace(rest), "```")
	}
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end < start {
		return s
	}
	return s[start : end+1]
}
