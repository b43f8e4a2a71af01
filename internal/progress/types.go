package progress

import (
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/p-n-ai/pai-learn/internal/course"
)

// Unanswered marks an answer slot the student left empty.
const Unanswered = -1

// Status is the lifecycle state of an attempt.
type Status string

const (
	StatusInProgress Status = "in_progress"
	StatusSubmitted  Status = "submitted"
)

// Attempt is one pass at a chapter quiz. Once submitted it is never modified.
type Attempt struct {
	ID               string            `json:"attempt_id"`
	ChapterID        string            `json:"chapter_id"`
	StudentID        string            `json:"student_id"`
	Status           Status            `json:"status"`
	QuestionSnapshot []course.Question `json:"question_snapshot"`
	QuizVersion      string            `json:"quiz_version,omitempty"`
	PassingScore     int               `json:"passing_score"` // value at start
	Answers          []int             `json:"answers"`
	StartedAt        time.Time         `json:"started_at"`
	SubmittedAt      *time.Time        `json:"submitted_at,omitempty"`
	Score            *int              `json:"score,omitempty"`
	Passed           *bool             `json:"passed,omitempty"`
	Late             bool              `json:"late,omitempty"`
}

// Progress is a student's state on one chapter.
type Progress struct {
	StudentID        string    `json:"student_id"`
	ChapterID        string    `json:"chapter_id"`
	SlidesViewed     bool      `json:"slides_viewed"`
	LecturesWatched  []string  `json:"lectures_watched"`
	Attempts         []Attempt `json:"attempts"`
	BestScore        int       `json:"best_score"`
	ChapterCompleted bool      `json:"chapter_completed"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// NewAttemptID returns a fresh attempt identifier.
func NewAttemptID() string {
	return uuid.NewString()
}

// New returns the default record for a pair that has no history yet.
func New(studentID, chapterID string) Progress {
	return Progress{
		StudentID:       studentID,
		ChapterID:       chapterID,
		LecturesWatched: []string{},
		Attempts:        []Attempt{},
	}
}

// HasWatched reports whether lectureID is in the watched set.
func (p Progress) HasWatched(lectureID string) bool {
	i := sort.SearchStrings(p.LecturesWatched, lectureID)
	return i < len(p.LecturesWatched) && p.LecturesWatched[i] == lectureID
}

// AddWatched inserts lectureID into the watched set. It reports whether the set grew.
func (p *Progress) AddWatched(lectureID string) bool {
	i := sort.SearchStrings(p.LecturesWatched, lectureID)
	if i < len(p.LecturesWatched) && p.LecturesWatched[i] == lectureID {
		return false
	}
	p.LecturesWatched = append(p.LecturesWatched, "")
	copy(p.LecturesWatched[i+1:], p.LecturesWatched[i:])
	p.LecturesWatched[i] = lectureID
	return true
}

// AllLecturesCompleted is true when every lecture of ch has been watched.
// Chapters without lectures are vacuously complete.
func (p Progress) AllLecturesCompleted(ch course.Chapter) bool {
	for _, l := range ch.Lectures {
		if !p.HasWatched(l.ID) {
			return false
		}
	}
	return true
}

// ContentCompleted is true when the slide and lecture gates of ch are both met.
func (p Progress) ContentCompleted(ch course.Chapter) bool {
	return (p.SlidesViewed || !ch.HasSlides()) && p.AllLecturesCompleted(ch)
}

// InProgress returns the open attempt, if any.
func (p *Progress) InProgress() *Attempt {
	for i := range p.Attempts {
		if p.Attempts[i].Status == StatusInProgress {
			return &p.Attempts[i]
		}
	}
	return nil
}

// Attempt returns the attempt with the given id, if present.
func (p *Progress) Attempt(id string) *Attempt {
	for i := range p.Attempts {
		if p.Attempts[i].ID == id {
			return &p.Attempts[i]
		}
	}
	return nil
}

// SubmittedCount counts attempts that reached Submitted.
func (p Progress) SubmittedCount() int {
	n := 0
	for _, a := range p.Attempts {
		if a.Status == StatusSubmitted {
			n++
		}
	}
	return n
}

// Derive computes bestScore and chapterCompleted from an attempt log.
// bestScore is 0 with no submitted attempt, so a passing score of 0 completes
// the chapter before any attempt.
func Derive(attempts []Attempt, passingScore int) (bestScore int, completed bool) {
	for _, a := range attempts {
		if a.Status != StatusSubmitted || a.Score == nil {
			continue
		}
		if *a.Score > bestScore {
			bestScore = *a.Score
		}
	}
	return bestScore, bestScore >= passingScore
}

// Recompute refreshes the cached derived fields from the attempt log.
func (p *Progress) Recompute(passingScore int) {
	p.BestScore, p.ChapterCompleted = Derive(p.Attempts, passingScore)
}

// Clone returns a deep copy.
func (p Progress) Clone() Progress {
	out := p
	out.LecturesWatched = append([]string{}, p.LecturesWatched...)
	out.Attempts = make([]Attempt, len(p.Attempts))
	for i, a := range p.Attempts {
		out.Attempts[i] = a.Clone()
	}
	return out
}

// Clone returns a deep copy.
func (a Attempt) Clone() Attempt {
	out := a
	out.QuestionSnapshot = course.CloneQuestions(a.QuestionSnapshot)
	out.Answers = append([]int(nil), a.Answers...)
	if a.SubmittedAt != nil {
		t := *a.SubmittedAt
		out.SubmittedAt = &t
	}
	if a.Score != nil {
		s := *a.Score
		out.Score = &s
	}
	if a.Passed != nil {
		b := *a.Passed
		out.Passed = &b
	}
	return out
}
