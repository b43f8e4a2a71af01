package course

import "time"

// OptionsPerQuestion is the fixed number of answer options on every quiz question.
const OptionsPerQuestion = 4

// Course groups an ordered set of chapters under a subject.
type Course struct {
	ID        string `json:"id" yaml:"id"`
	SubjectID string `json:"subject_id" yaml:"subject_id"`
	Title     string `json:"title" yaml:"title"`
}

// Slide is an opaque reference to a slide deck held by external storage.
type Slide struct {
	ID    string `json:"id" yaml:"id"`
	Title string `json:"title,omitempty" yaml:"title"`
	URL   string `json:"url" yaml:"url"`
}

// Lecture is an opaque reference to a recorded lecture.
type Lecture struct {
	ID    string `json:"id" yaml:"id"`
	Title string `json:"title,omitempty" yaml:"title"`
	URL   string `json:"url" yaml:"url"`
}

// Question is a single multiple-choice quiz question.
type Question struct {
	Text               string   `json:"question_text" yaml:"question_text"`
	Options            []string `json:"options" yaml:"options"`
	CorrectAnswerIndex int      `json:"correct_answer_index" yaml:"correct_answer_index"`
	Explanation        string   `json:"explanation,omitempty" yaml:"explanation"`
	Difficulty         string   `json:"difficulty,omitempty" yaml:"difficulty"`
}

// QuizSettings are the instructor-editable knobs of a chapter quiz.
type QuizSettings struct {
	PassingScore     int `json:"passing_score" yaml:"passing_score"`           // 0-100
	MaxAttempts      int `json:"max_attempts" yaml:"max_attempts"`             // 0 = unlimited
	TimeLimitMinutes int `json:"time_limit_minutes" yaml:"time_limit_minutes"` // 0 = none
}

// Quiz is the live question bank of a chapter. It may be regenerated at any time.
type Quiz struct {
	QuizSettings `yaml:",inline"`
	Questions    []Question `json:"questions" yaml:"questions"`
	IsGenerated  bool       `json:"is_generated" yaml:"is_generated"`
	GeneratedAt  *time.Time `json:"generated_at,omitempty" yaml:"generated_at,omitempty"`
	Version      string     `json:"version,omitempty" yaml:"-"`
}

// Chapter is one ordered unit of a course.
type Chapter struct {
	ID       string    `json:"id" yaml:"id"`
	CourseID string    `json:"course_id" yaml:"course_id"`
	Number   int       `json:"chapter_number" yaml:"number"`
	Title    string    `json:"title" yaml:"title"`
	Slides   []Slide   `json:"slides" yaml:"slides"`
	Lectures []Lecture `json:"lectures" yaml:"lectures"`
	Quiz     Quiz      `json:"quiz" yaml:"quiz"`
}

// HasSlides reports whether the chapter gates its quiz on slide viewing.
func (c Chapter) HasSlides() bool {
	return len(c.Slides) > 0
}

// HasLecture reports whether lectureID belongs to the chapter.
func (c Chapter) HasLecture(lectureID string) bool {
	for _, l := range c.Lectures {
		if l.ID == lectureID {
			return true
		}
	}
	return false
}

// LectureIDs returns the chapter's lecture identifiers in order.
func (c Chapter) LectureIDs() []string {
	ids := make([]string, len(c.Lectures))
	for i, l := range c.Lectures {
		ids[i] = l.ID
	}
	return ids
}

// Clone returns a deep copy so callers never share slices with a store.
func (c Chapter) Clone() Chapter {
	out := c
	out.Slides = append([]Slide(nil), c.Slides...)
	out.Lectures = append([]Lecture(nil), c.Lectures...)
	out.Quiz = c.Quiz.Clone()
	return out
}

// Clone returns a deep copy of the quiz.
func (q Quiz) Clone() Quiz {
	out := q
	out.Questions = CloneQuestions(q.Questions)
	if q.GeneratedAt != nil {
		t := *q.GeneratedAt
		out.GeneratedAt = &t
	}
	return out
}

// CloneQuestions deep-copies a question set, including each option slice.
func CloneQuestions(qs []Question) []Question {
	if qs == nil {
		return nil
	}
	out := make([]Question, len(qs))
	for i, q := range qs {
		out[i] = q
		out[i].Options = append([]string(nil), q.Options...)
	}
	return out
}
