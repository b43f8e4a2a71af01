package api_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/p-n-ai/pai-learn/internal/ai"
	"github.com/p-n-ai/pai-learn/internal/api"
	"github.com/p-n-ai/pai-learn/internal/course"
	"github.com/p-n-ai/pai-learn/internal/events"
	"github.com/p-n-ai/pai-learn/internal/progress"
	"github.com/p-n-ai/pai-learn/internal/quiz"
	"github.com/p-n-ai/pai-learn/internal/report"
	"github.com/p-n-ai/pai-learn/internal/unlock"
)

func question(text string, correct int) course.Question {
	return course.Question{Text: text, Options: []string{"a", "b", "c", "d"}, CorrectAnswerIndex: correct}
}

type fixture struct {
	mux      *http.ServeMux
	chapters *course.MemoryStore
	events   *events.MemoryPublisher
}

func newFixture(t *testing.T, withGenerator bool) fixture {
	t.Helper()
	chapters := course.NewMemoryStore()
	err := chapters.PutCourse(context.Background(), course.Course{ID: "alg-1", SubjectID: "math", Title: "Algebra"}, []course.Chapter{
		{
			ID: "ch-1", Number: 1, Title: "Equations",
			Slides:   []course.Slide{{ID: "deck-1", URL: "https://slides/1"}},
			Lectures: []course.Lecture{{ID: "lec-1", URL: "https://video/1"}},
			Quiz: course.Quiz{
				QuizSettings: course.QuizSettings{PassingScore: 50, MaxAttempts: 3},
				Questions:    []course.Question{question("1 + 1?", 1), question("2 + 2?", 3)},
				IsGenerated:  true,
			},
		},
		{ID: "ch-2", Number: 2, Title: "Inequalities", Quiz: course.Quiz{QuizSettings: course.QuizSettings{PassingScore: 60}}},
	})
	if err != nil {
		t.Fatalf("PutCourse() error = %v", err)
	}

	store := progress.NewMemoryStore()
	pub := events.NewMemoryPublisher()
	manager, err := quiz.NewManager(quiz.Config{Chapters: chapters, Progress: store, Events: pub})
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}

	deps := api.Deps{
		Chapters: chapters,
		Tracker:  progress.NewTracker(chapters, store, pub),
		Resolver: unlock.NewResolver(chapters, store),
		Quiz:     manager,
		Reports:  report.NewAggregator(chapters, store),
		Hub:      events.NewHub(),
	}
	if withGenerator {
		router := ai.NewRouter()
		router.Register("mock", ai.NewMockProvider(`{"questions":[{"question_text":"3 > 2?","options":["yes","no","maybe","never"],"correct_answer_index":0}]}`))
		gen, err := quiz.NewGenerator(quiz.GeneratorConfig{AI: router, Chapters: chapters, Events: pub, QuestionCount: 1})
		if err != nil {
			t.Fatalf("NewGenerator() error = %v", err)
		}
		deps.Generator = gen
	}

	mux := http.NewServeMux()
	api.New(deps).Register(mux)
	return fixture{mux: mux, chapters: chapters, events: pub}
}

func (f fixture) do(t *testing.T, method, path, student, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if student != "" {
		req.Header.Set(api.StudentHeader, student)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

type errorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type startResponse struct {
	Attempt struct {
		ID        string `json:"attempt_id"`
		Questions []map[string]any
	} `json:"attempt"`
	Resumed        bool `json:"resumed"`
	TotalQuestions int  `json:"total_questions"`
}

func TestStudentJourney(t *testing.T) {
	f := newFixture(t, false)

	rec := f.do(t, http.MethodGet, "/v1/courses/alg-1/chapters", "stu-1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("list chapters status = %d: %s", rec.Code, rec.Body)
	}
	list := decode[struct {
		Chapters []struct {
			ID         string `json:"id"`
			IsUnlocked bool   `json:"is_unlocked"`
		} `json:"chapters"`
	}](t, rec)
	if len(list.Chapters) != 2 || !list.Chapters[0].IsUnlocked || list.Chapters[1].IsUnlocked {
		t.Fatalf("chapters = %+v", list.Chapters)
	}
	if strings.Contains(rec.Body.String(), "correct_answer_index") {
		t.Error("chapter listing must not expose correct answers")
	}

	rec = f.do(t, http.MethodPost, "/v1/chapters/ch-1/attempts", "stu-1", "")
	if rec.Code != http.StatusForbidden || decode[errorResponse](t, rec).Error.Code != "slides_not_viewed" {
		t.Fatalf("start before slides = %d %s", rec.Code, rec.Body)
	}

	if rec = f.do(t, http.MethodPost, "/v1/chapters/ch-1/slides/viewed", "stu-1", ""); rec.Code != http.StatusOK {
		t.Fatalf("slides viewed status = %d: %s", rec.Code, rec.Body)
	}
	rec = f.do(t, http.MethodPost, "/v1/chapters/ch-1/lectures/lec-1/watched", "stu-1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("lecture watched status = %d: %s", rec.Code, rec.Body)
	}
	if p := decode[map[string]any](t, rec); p["content_completed"] != true {
		t.Errorf("content_completed = %v, want true", p["content_completed"])
	}

	rec = f.do(t, http.MethodPost, "/v1/chapters/ch-1/attempts", "stu-1", "")
	if rec.Code != http.StatusCreated {
		t.Fatalf("start status = %d: %s", rec.Code, rec.Body)
	}
	if strings.Contains(rec.Body.String(), "correct_answer_index") {
		t.Error("open attempt must not expose correct answers")
	}
	started := decode[startResponse](t, rec)
	if started.Resumed || started.TotalQuestions != 2 || len(started.Attempt.Questions) != 2 {
		t.Errorf("start = %+v", started)
	}

	rec = f.do(t, http.MethodPost, "/v1/chapters/ch-1/attempts", "stu-1", "")
	if rec.Code != http.StatusOK || !decode[startResponse](t, rec).Resumed {
		t.Fatalf("second start = %d %s, want resumed", rec.Code, rec.Body)
	}

	submitPath := "/v1/attempts/" + started.Attempt.ID + "/submit"
	rec = f.do(t, http.MethodPost, submitPath, "stu-1", `{"answers":[1,3]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("submit status = %d: %s", rec.Code, rec.Body)
	}
	res := decode[quiz.SubmitResult](t, rec)
	if res.Score != 100 || !res.Passed || !res.ChapterCompleted {
		t.Errorf("submit = %+v", res)
	}

	rec = f.do(t, http.MethodPost, submitPath, "stu-1", `{"answers":[0,0]}`)
	if rec.Code != http.StatusConflict || decode[errorResponse](t, rec).Error.Code != "attempt_already_submitted" {
		t.Errorf("resubmit = %d %s", rec.Code, rec.Body)
	}

	rec = f.do(t, http.MethodGet, "/v1/attempts/"+started.Attempt.ID, "stu-1", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "correct_answer_index") {
		t.Errorf("submitted attempt should include the review, got %d %s", rec.Code, rec.Body)
	}

	if rec = f.do(t, http.MethodPost, "/v1/chapters/ch-2/slides/viewed", "stu-1", ""); rec.Code != http.StatusOK {
		t.Errorf("chapter 2 should be unlocked after passing chapter 1, got %d %s", rec.Code, rec.Body)
	}

	rec = f.do(t, http.MethodGet, "/v1/courses/alg-1/progress", "stu-1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("course progress status = %d: %s", rec.Code, rec.Body)
	}
	if rep := decode[report.CourseProgress](t, rec); rep.OverallProgress != 50 || rep.QuizzesPassed != 1 {
		t.Errorf("course progress = %+v", rep)
	}

	if len(f.events.OfType(events.TypeChapterCompleted)) != 1 {
		t.Error("expected one chapter_completed event")
	}
}

func TestErrors(t *testing.T) {
	f := newFixture(t, false)

	tests := []struct {
		name       string
		method     string
		path       string
		student    string
		body       string
		wantStatus int
		wantCode   string
	}{
		{"missing student", http.MethodGet, "/v1/chapters/ch-1/progress", "", "", http.StatusUnprocessableEntity, "missing_student_id"},
		{"unknown chapter", http.MethodGet, "/v1/chapters/ch-9/progress", "stu-1", "", http.StatusNotFound, "chapter_not_found"},
		{"unknown course", http.MethodGet, "/v1/courses/nope/chapters", "stu-1", "", http.StatusNotFound, ""},
		{"locked chapter", http.MethodPost, "/v1/chapters/ch-2/slides/viewed", "stu-1", "", http.StatusForbidden, "chapter_locked"},
		{"locked attempt", http.MethodPost, "/v1/chapters/ch-2/attempts", "stu-1", "", http.StatusForbidden, "chapter_locked"},
		{"unknown lecture", http.MethodPost, "/v1/chapters/ch-1/lectures/lec-9/watched", "stu-1", "", http.StatusNotFound, "lecture_not_found"},
		{"unknown attempt", http.MethodPost, "/v1/attempts/nope/submit", "stu-1", `{"answers":[]}`, http.StatusConflict, "attempt_not_found"},
		{"get unknown attempt", http.MethodGet, "/v1/attempts/nope", "stu-1", "", http.StatusNotFound, "attempt_not_found"},
		{"malformed body", http.MethodPost, "/v1/attempts/nope/submit", "stu-1", `{"answers":`, http.StatusUnprocessableEntity, "invalid_body"},
		{"unknown field", http.MethodPut, "/v1/chapters/ch-1/quiz/settings", "", `{"passing":1}`, http.StatusUnprocessableEntity, "invalid_body"},
		{"bad settings", http.MethodPut, "/v1/chapters/ch-1/quiz/settings", "", `{"passing_score":150}`, http.StatusUnprocessableEntity, "invalid_quiz_settings"},
		{"generation disabled", http.MethodPost, "/v1/chapters/ch-1/quiz/generate", "", `{"slide_text":"x"}`, http.StatusServiceUnavailable, "generation_disabled"},
		{"unknown subject", http.MethodGet, "/v1/subjects/history/progress", "stu-1", "", http.StatusNotFound, "subject_not_found"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, tt.method, tt.path, tt.student, tt.body)
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d: %s", rec.Code, tt.wantStatus, rec.Body)
			}
			got := decode[errorResponse](t, rec)
			if tt.wantCode != "" && got.Error.Code != tt.wantCode {
				t.Errorf("code = %q, want %q", got.Error.Code, tt.wantCode)
			}
			if got.Error.Message == "" {
				t.Error("error message should not be empty")
			}
		})
	}
}

func TestAttemptsExhausted(t *testing.T) {
	f := newFixture(t, false)
	if _, err := f.chapters.UpdateQuizSettings(context.Background(), "ch-1", course.QuizSettings{PassingScore: 50, MaxAttempts: 1}); err != nil {
		t.Fatalf("UpdateQuizSettings() error = %v", err)
	}
	f.do(t, http.MethodPost, "/v1/chapters/ch-1/slides/viewed", "stu-1", "")
	f.do(t, http.MethodPost, "/v1/chapters/ch-1/lectures/lec-1/watched", "stu-1", "")

	started := decode[startResponse](t, f.do(t, http.MethodPost, "/v1/chapters/ch-1/attempts", "stu-1", ""))
	f.do(t, http.MethodPost, "/v1/attempts/"+started.Attempt.ID+"/submit", "stu-1", `{"answers":[0,0]}`)

	rec := f.do(t, http.MethodPost, "/v1/chapters/ch-1/attempts", "stu-1", "")
	if rec.Code != http.StatusConflict || decode[errorResponse](t, rec).Error.Code != "attempts_exhausted" {
		t.Errorf("start after last attempt = %d %s", rec.Code, rec.Body)
	}
}

func TestOtherStudentsAttempt(t *testing.T) {
	f := newFixture(t, false)
	f.do(t, http.MethodPost, "/v1/chapters/ch-1/slides/viewed", "stu-1", "")
	f.do(t, http.MethodPost, "/v1/chapters/ch-1/lectures/lec-1/watched", "stu-1", "")
	started := decode[startResponse](t, f.do(t, http.MethodPost, "/v1/chapters/ch-1/attempts", "stu-1", ""))

	if rec := f.do(t, http.MethodGet, "/v1/attempts/"+started.Attempt.ID, "stu-2", ""); rec.Code != http.StatusNotFound {
		t.Errorf("get other student's attempt = %d, want 404", rec.Code)
	}
	rec := f.do(t, http.MethodPost, "/v1/attempts/"+started.Attempt.ID+"/submit", "stu-2", `{"answers":[1,3]}`)
	if rec.Code != http.StatusConflict {
		t.Errorf("submit other student's attempt = %d, want 409", rec.Code)
	}
}

func TestGenerateQuiz(t *testing.T) {
	f := newFixture(t, true)
	body := `{"slide_text":"` + strings.Repeat("Inequalities compare two values. ", 5) + `","settings":{"passing_score":80,"max_attempts":2,"time_limit_minutes":10}}`

	rec := f.do(t, http.MethodPost, "/v1/chapters/ch-2/quiz/generate", "", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("generate status = %d: %s", rec.Code, rec.Body)
	}
	if strings.Contains(rec.Body.String(), "correct_answer_index") {
		t.Error("generate response must not expose correct answers")
	}

	ch, _ := f.chapters.GetChapter(context.Background(), "ch-2")
	if !ch.Quiz.IsGenerated || len(ch.Quiz.Questions) != 1 || ch.Quiz.PassingScore != 80 {
		t.Errorf("stored quiz = %+v", ch.Quiz)
	}

	rec = f.do(t, http.MethodPost, "/v1/chapters/ch-2/quiz/generate", "", `{"slide_text":"too short"}`)
	if rec.Code != http.StatusUnprocessableEntity || decode[errorResponse](t, rec).Error.Code != "slide_text_too_short" {
		t.Errorf("short slide text = %d %s", rec.Code, rec.Body)
	}
}

func TestQuizSettings(t *testing.T) {
	f := newFixture(t, false)

	rec := f.do(t, http.MethodPut, "/v1/chapters/ch-1/quiz/settings", "", `{"passing_score":70,"max_attempts":0,"time_limit_minutes":15}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("settings status = %d: %s", rec.Code, rec.Body)
	}
	ch, _ := f.chapters.GetChapter(context.Background(), "ch-1")
	if ch.Quiz.PassingScore != 70 || ch.Quiz.TimeLimitMinutes != 15 || len(ch.Quiz.Questions) != 2 {
		t.Errorf("chapter quiz = %+v", ch.Quiz)
	}
}

func TestCourseWorkbook(t *testing.T) {
	f := newFixture(t, false)

	rec := f.do(t, http.MethodGet, "/v1/courses/alg-1/report.xlsx", "stu-1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.Contains(ct, "spreadsheetml") {
		t.Errorf("Content-Type = %q", ct)
	}
	if !strings.Contains(rec.Header().Get("Content-Disposition"), "alg-1-progress.xlsx") {
		t.Errorf("Content-Disposition = %q", rec.Header().Get("Content-Disposition"))
	}
	// xlsx files are zip archives.
	if !strings.HasPrefix(rec.Body.String(), "PK") {
		t.Error("body is not a zip archive")
	}
}

func TestStudentID(t *testing.T) {
	tests := []struct {
		name   string
		header string
		query  string
		want   string
	}{
		{"header", "stu-1", "", "stu-1"},
		{"header wins", "stu-1", "stu-2", "stu-1"},
		{"query fallback", "", "stu-2", "stu-2"},
		{"trimmed", "  stu-3 ", "", "stu-3"},
		{"missing", "", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := "/v1/events"
			if tt.query != "" {
				path += "?student_id=" + tt.query
			}
			req := httptest.NewRequest(http.MethodGet, path, nil)
			if tt.header != "" {
				req.Header.Set(api.StudentHeader, tt.header)
			}
			if got := api.StudentID(req); got != tt.want {
				t.Errorf("StudentID() = %q, want %q", got, tt.want)
			}
		})
	}
}
