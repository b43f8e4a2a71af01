package quiz

import (
	"math"

	"github.com/p-n-ai/pai-learn/internal/course"
	"github.com/p-n-ai/pai-learn/internal/platform/apperr"
	"github.com/p-n-ai/pai-learn/internal/progress"
)

// Review is the per-question outcome shown after a submit.
type Review struct {
	Index        int    `json:"index"`
	QuestionText string `json:"question_text"`
	Selected     int    `json:"selected"`
	Correct      int    `json:"correct"`
	IsCorrect    bool   `json:"is_correct"`
	Explanation  string `json:"explanation,omitempty"`
}

// Result is the outcome of grading one answer sheet.
type Result struct {
	Score        int      `json:"score"`
	Passed       bool     `json:"passed"`
	CorrectCount int      `json:"correct_count"`
	Total        int      `json:"total_questions"`
	Review       []Review `json:"review"`
}

// ValidateAnswers checks the answer sheet against the snapshot it answers.
func ValidateAnswers(snapshot []course.Question, answers []int) error {
	if len(answers) != len(snapshot) {
		return apperr.Validation("invalid_answers", "got %d answers for %d questions", len(answers), len(snapshot))
	}
	for i, a := range answers {
		if a < progress.Unanswered || a >= course.OptionsPerQuestion {
			return apperr.Validation("invalid_answers", "answer %d: option %d out of range", i+1, a)
		}
	}
	return nil
}

// Grade scores answers against snapshot. Unanswered slots count as wrong.
// An empty snapshot scores 0.
func Grade(snapshot []course.Question, answers []int, passingScore int) Result {
	res := Result{
		Total:  len(snapshot),
		Review: make([]Review, len(snapshot)),
	}
	for i, q := range snapshot {
		selected := progress.Unanswered
		if i < len(answers) {
			selected = answers[i]
		}
		ok := selected == q.CorrectAnswerIndex
		if ok {
			res.CorrectCount++
		}
		res.Review[i] = Review{
			Index:        i,
			QuestionText: q.Text,
			Selected:     selected,
			Correct:      q.CorrectAnswerIndex,
			IsCorrect:    ok,
			Explanation:  q.Explanation,
		}
	}
	if res.Total > 0 {
		res.Score = int(math.Round(100 * float64(res.CorrectCount) / float64(res.Total)))
	}
	res.Passed = res.Score >= passingScore
	return res
}
