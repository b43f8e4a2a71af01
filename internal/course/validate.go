package course

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"github.com/p-n-ai/pai-learn/internal/platform/apperr"
)

// questionSetSchema is the shape accepted from the quiz generation service.
const questionSetSchema = `{
  "type": "object",
  "required": ["questions"],
  "properties": {
    "questions": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["question_text", "options", "correct_answer_index"],
        "properties": {
          "question_text": {"type": "string", "minLength": 1},
          "options": {
            "type": "array",
            "minItems": 4,
            "maxItems": 4,
            "items": {"type": "string", "minLength": 1}
          },
          "correct_answer_index": {"type": "integer", "minimum": 0, "maximum": 3},
          "explanation": {"type": "string"},
          "difficulty": {"type": "string", "enum": ["", "easy", "medium", "hard"]}
        }
      }
    }
  }
}`

var compiledSchema = sync.OnceValues(func() (*gojsonschema.Schema, error) {
	return gojsonschema.NewSchema(gojsonschema.NewStringLoader(questionSetSchema))
})

var validDifficulty = map[string]bool{"": true, "easy": true, "medium": true, "hard": true}

// ParseQuestionSet shape-checks an untrusted `{"questions":[...]}` document and
// returns the normalized questions.
func ParseQuestionSet(raw []byte) ([]Question, error) {
	schema, err := compiledSchema()
	if err != nil {
		return nil, fmt.Errorf("compile question schema: %w", err)
	}

	result, err := schema.Validate(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return nil, apperr.Validation("invalid_question_set", "question set is not valid JSON: %v", err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return nil, apperr.Validation("invalid_question_set", "question set rejected: %s", strings.Join(msgs, "; "))
	}

	var doc struct {
		Questions []Question `json:"questions"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, apperr.Validation("invalid_question_set", "decode question set: %v", err)
	}
	return ValidateQuestions(doc.Questions)
}

// ValidateQuestions checks the structure of a question set and returns a
// normalized deep copy. It does not judge whether answers are semantically right.
func ValidateQuestions(qs []Question) ([]Question, error) {
	if len(qs) == 0 {
		return nil, apperr.Validation("empty_question_set", "question set is empty")
	}

	fold := cases.Fold()
	out := CloneQuestions(qs)
	for i := range out {
		q := &out[i]
		q.Text = normalize(q.Text)
		if q.Text == "" {
			return nil, apperr.Validation("invalid_question_set", "question %d: text is empty", i+1)
		}
		if len(q.Options) != OptionsPerQuestion {
			return nil, apperr.Validation("invalid_question_set",
				"question %d: has %d options, want %d", i+1, len(q.Options), OptionsPerQuestion)
		}
		seen := make(map[string]bool, OptionsPerQuestion)
		for j, opt := range q.Options {
			opt = normalize(opt)
			if opt == "" {
				return nil, apperr.Validation("invalid_question_set", "question %d: option %d is empty", i+1, j+1)
			}
			key := fold.String(opt)
			if seen[key] {
				return nil, apperr.Validation("invalid_question_set", "question %d: duplicate option %q", i+1, opt)
			}
			seen[key] = true
			q.Options[j] = opt
		}
		if q.CorrectAnswerIndex < 0 || q.CorrectAnswerIndex >= OptionsPerQuestion {
			return nil, apperr.Validation("invalid_question_set",
				"question %d: correct_answer_index %d out of range", i+1, q.CorrectAnswerIndex)
		}
		q.Explanation = normalize(q.Explanation)
		q.Difficulty = strings.ToLower(strings.TrimSpace(q.Difficulty))
		if !validDifficulty[q.Difficulty] {
			return nil, apperr.Validation("invalid_question_set", "question %d: unknown difficulty %q", i+1, q.Difficulty)
		}
	}
	return out, nil
}

// ValidateSettings checks quiz settings ranges.
func ValidateSettings(s QuizSettings) error {
	if s.PassingScore < 0 || s.PassingScore > 100 {
		return apperr.Validation("invalid_quiz_settings", "passing_score %d must be within 0-100", s.PassingScore)
	}
	if s.MaxAttempts < 0 {
		return apperr.Validation("invalid_quiz_settings", "max_attempts %d must not be negative", s.MaxAttempts)
	}
	if s.TimeLimitMinutes < 0 {
		return apperr.Validation("invalid_quiz_settings", "time_limit_minutes %d must not be negative", s.TimeLimitMinutes)
	}
	return nil
}

// ValidateCourse checks a course and its chapter set before it is stored:
// chapter numbers must run 1..n with no gaps, and ids must be unique.
// It returns the chapters sorted by number with CourseID filled in.
func ValidateCourse(c Course, chapters []Chapter) ([]Chapter, error) {
	if strings.TrimSpace(c.ID) == "" {
		return nil, apperr.Validation("invalid_course", "course id is required")
	}

	out := make([]Chapter, len(chapters))
	for i, ch := range chapters {
		out[i] = ch.Clone()
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Number < out[j].Number })

	ids := make(map[string]bool, len(out))
	for i := range out {
		ch := &out[i]
		if ch.ID == "" {
			return nil, apperr.Validation("invalid_chapter", "course %s: chapter %d has no id", c.ID, ch.Number)
		}
		if ids[ch.ID] {
			return nil, apperr.Validation("invalid_chapter", "course %s: duplicate chapter id %s", c.ID, ch.ID)
		}
		ids[ch.ID] = true
		if ch.CourseID != "" && ch.CourseID != c.ID {
			return nil, apperr.Validation("invalid_chapter", "chapter %s belongs to course %s, not %s", ch.ID, ch.CourseID, c.ID)
		}
		ch.CourseID = c.ID
		if ch.Number != i+1 {
			return nil, apperr.Validation("chapter_order_gap",
				"course %s: chapter numbers must be contiguous from 1, found %d at position %d", c.ID, ch.Number, i+1)
		}

		lectures := make(map[string]bool, len(ch.Lectures))
		for _, l := range ch.Lectures {
			if l.ID == "" || lectures[l.ID] {
				return nil, apperr.Validation("invalid_chapter", "chapter %s: lecture ids must be unique and non-empty", ch.ID)
			}
			lectures[l.ID] = true
		}

		if err := ValidateSettings(ch.Quiz.QuizSettings); err != nil {
			return nil, fmt.Errorf("chapter %s: %w", ch.ID, err)
		}
		if len(ch.Quiz.Questions) > 0 {
			qs, err := ValidateQuestions(ch.Quiz.Questions)
			if err != nil {
				return nil, fmt.Errorf("chapter %s: %w", ch.ID, err)
			}
			ch.Quiz.Questions = qs
			ch.Quiz.Version = QuizVersion(qs)
		} else if ch.Quiz.IsGenerated {
			return nil, apperr.Validation("invalid_chapter", "chapter %s: generated quiz has no questions", ch.ID)
		}
	}
	return out, nil
}

// QuizVersion fingerprints a question set so attempts can record which bank
// they were taken from.
func QuizVersion(qs []Question) string {
	data, err := json.Marshal(qs)
	if err != nil {
		return ""
	}
	sum := blake2b.Sum256(data)
	return hex.EncodeToString(sum[:8])
}

func normalize(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}
