// Package api exposes the progression engine over HTTP.
package api

import (
	"bytes"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/p-n-ai/pai-learn/internal/course"
	"github.com/p-n-ai/pai-learn/internal/events"
	"github.com/p-n-ai/pai-learn/internal/progress"
	"github.com/p-n-ai/pai-learn/internal/quiz"
	"github.com/p-n-ai/pai-learn/internal/report"
	"github.com/p-n-ai/pai-learn/internal/unlock"
)

// StudentHeader carries the caller's student id. Authentication happens upstream.
const StudentHeader = "X-Student-ID"

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// Deps are the services the API is built on. Generator and Hub are optional.
type Deps struct {
	Chapters  course.Store
	Tracker   *progress.Tracker
	Resolver  *unlock.Resolver
	Quiz      *quiz.Manager
	Generator *quiz.Generator
	Reports   *report.Aggregator
	Hub       *events.Hub
}

// Server holds the HTTP handlers.
type Server struct {
	Deps
}

// New creates a Server.
func New(deps Deps) *Server {
	return &Server{Deps: deps}
}

// Register mounts every route on mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/courses/{courseID}/chapters", s.handleListChapters)
	mux.HandleFunc("GET /v1/courses/{courseID}/progress", s.handleCourseProgress)
	mux.HandleFunc("GET /v1/courses/{courseID}/report.xlsx", s.handleCourseWorkbook)
	mux.HandleFunc("GET /v1/subjects/{subjectID}/progress", s.handleSubjectProgress)

	mux.HandleFunc("GET /v1/chapters/{chapterID}/progress", s.handleChapterProgress)
	mux.HandleFunc("POST /v1/chapters/{chapterID}/slides/viewed", s.handleSlidesViewed)
	mux.HandleFunc("POST /v1/chapters/{chapterID}/lectures/{lectureID}/watched", s.handleLectureWatched)
	mux.HandleFunc("POST /v1/chapters/{chapterID}/attempts", s.handleStartAttempt)
	mux.HandleFunc("POST /v1/chapters/{chapterID}/quiz/generate", s.handleGenerateQuiz)
	mux.HandleFunc("PUT /v1/chapters/{chapterID}/quiz/settings", s.handleQuizSettings)

	mux.HandleFunc("GET /v1/attempts/{attemptID}", s.handleGetAttempt)
	mux.HandleFunc("POST /v1/attempts/{attemptID}/submit", s.handleSubmitAttempt)

	if s.Hub != nil {
		mux.Handle("GET /v1/events", s.Hub.Handler(StudentID))
	}
}

// StudentID extracts the caller's student id from the header, falling back to
// the student_id query parameter for websocket clients that cannot set headers.
func StudentID(r *http.Request) string {
	if id := strings.TrimSpace(r.Header.Get(StudentHeader)); id != "" {
		return id
	}
	return strings.TrimSpace(r.URL.Query().Get("student_id"))
}

// student returns the caller's id or writes a validation error.
func student(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := StudentID(r)
	if err := progress.RequireStudent(id); err != nil {
		writeError(w, r, err)
		return "", false
	}
	return id, true
}

func (s *Server) handleListChapters(w http.ResponseWriter, r *http.Request) {
	studentID, ok := student(w, r)
	if !ok {
		return
	}
	entries, err := s.Resolver.ChaptersFor(r.Context(), studentID, r.PathValue("courseID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	out := make([]chapterView, len(entries))
	for i, e := range entries {
		out[i] = newEntryView(e)
	}
	writeJSON(w, http.StatusOK, map[string]any{"chapters": out})
}

func (s *Server) handleCourseProgress(w http.ResponseWriter, r *http.Request) {
	studentID, ok := student(w, r)
	if !ok {
		return
	}
	rep, err := s.Reports.CourseProgress(r.Context(), studentID, r.PathValue("courseID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (s *Server) handleCourseWorkbook(w http.ResponseWriter, r *http.Request) {
	studentID, ok := student(w, r)
	if !ok {
		return
	}
	courseID := r.PathValue("courseID")
	rep, err := s.Reports.CourseProgress(r.Context(), studentID, courseID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	// Buffer so a write failure can still be reported as JSON.
	var buf bytes.Buffer
	if err := report.WriteWorkbook(&buf, rep); err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s-progress.xlsx"`, courseID))
	w.WriteHeader(http.StatusOK)
	if _, err := buf.WriteTo(w); err != nil {
		slog.Warn("write workbook response failed", "course_id", courseID, "error", err)
	}
}

func (s *Server) handleSubjectProgress(w http.ResponseWriter, r *http.Request) {
	studentID, ok := student(w, r)
	if !ok {
		return
	}
	rep, err := s.Reports.SubjectProgress(r.Context(), studentID, r.PathValue("subjectID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (s *Server) handleChapterProgress(w http.ResponseWriter, r *http.Request) {
	studentID, ok := student(w, r)
	if !ok {
		return
	}
	cp, err := s.Tracker.GetProgress(r.Context(), studentID, r.PathValue("chapterID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newProgressView(cp))
}

func (s *Server) handleSlidesViewed(w http.ResponseWriter, r *http.Request) {
	studentID, ok := student(w, r)
	if !ok {
		return
	}
	chapterID := r.PathValue("chapterID")
	if err := s.Resolver.RequireUnlocked(r.Context(), studentID, chapterID); err != nil {
		writeError(w, r, err)
		return
	}
	cp, err := s.Tracker.MarkSlidesViewed(r.Context(), studentID, chapterID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newProgressView(cp))
}

func (s *Server) handleLectureWatched(w http.ResponseWriter, r *http.Request) {
	studentID, ok := student(w, r)
	if !ok {
		return
	}
	chapterID := r.PathValue("chapterID")
	if err := s.Resolver.RequireUnlocked(r.Context(), studentID, chapterID); err != nil {
		writeError(w, r, err)
		return
	}
	cp, err := s.Tracker.MarkLectureWatched(r.Context(), studentID, chapterID, r.PathValue("lectureID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newProgressView(cp))
}

func (s *Server) handleStartAttempt(w http.ResponseWriter, r *http.Request) {
	studentID, ok := student(w, r)
	if !ok {
		return
	}
	chapterID := r.PathValue("chapterID")
	if err := s.Resolver.RequireUnlocked(r.Context(), studentID, chapterID); err != nil {
		writeError(w, r, err)
		return
	}
	res, err := s.Quiz.StartAttempt(r.Context(), studentID, chapterID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	status := http.StatusCreated
	if res.Resumed {
		status = http.StatusOK
	}
	writeJSON(w, status, newStartView(res))
}

func (s *Server) handleGetAttempt(w http.ResponseWriter, r *http.Request) {
	studentID, ok := student(w, r)
	if !ok {
		return
	}
	a, err := s.Quiz.GetAttempt(r.Context(), studentID, r.PathValue("attemptID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newAttemptView(a))
}

type submitRequest struct {
	Answers []int `json:"answers"`
}

func (s *Server) handleSubmitAttempt(w http.ResponseWriter, r *http.Request) {
	studentID, ok := student(w, r)
	if !ok {
		return
	}
	var req submitRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	res, err := s.Quiz.SubmitAttempt(r.Context(), studentID, r.PathValue("attemptID"), req.Answers)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type generateRequest struct {
	SlideText string               `json:"slide_text"`
	Settings  *course.QuizSettings `json:"settings,omitempty"`
}

func (s *Server) handleGenerateQuiz(w http.ResponseWriter, r *http.Request) {
	if s.Generator == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: errorDetail{
			Code:    "generation_disabled",
			Message: "no AI provider is configured",
		}})
		return
	}
	var req generateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	ch, err := s.Generator.Generate(r.Context(), r.PathValue("chapterID"), req.SlideText, req.Settings)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newChapterView(ch))
}

func (s *Server) handleQuizSettings(w http.ResponseWriter, r *http.Request) {
	var settings course.QuizSettings
	if err := decodeJSON(w, r, &settings); err != nil {
		writeError(w, r, err)
		return
	}
	ch, err := s.Chapters.UpdateQuizSettings(r.Context(), r.PathValue("chapterID"), settings)
	if err != nil {
		writeError(w, r, err)
		return
	}
	slog.Info("quiz settings updated",
		"chapter_id", ch.ID,
		"passing_score", settings.PassingScore,
		"max_attempts", settings.MaxAttempts,
		"time_limit_minutes", settings.TimeLimitMinutes,
	)
	writeJSON(w, http.StatusOK, newChapterView(ch))
}

