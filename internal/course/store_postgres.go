package course

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/p-n-ai/pai-learn/internal/platform/apperr"
)

const dbTimeout = 5 * time.Second

// PostgresStore is a PostgreSQL-backed Store implementation.
type PostgresStore struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewPostgresStore creates a chapter store on an existing pool.
func NewPostgresStore(pool *pgxpool.Pool) (*PostgresStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is nil")
	}
	return &PostgresStore{pool: pool, now: time.Now}, nil
}

func (s *PostgresStore) PutCourse(ctx context.Context, c Course, chapters []Chapter) error {
	ordered, err := ValidateCourse(c, chapters)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return apperr.Storage("begin put course", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`INSERT INTO courses (id, subject_id, title)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (id) DO UPDATE SET subject_id = EXCLUDED.subject_id, title = EXCLUDED.title`,
		c.ID, c.SubjectID, c.Title,
	); err != nil {
		return apperr.Storage("upsert course", err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM chapters WHERE course_id = $1`, c.ID); err != nil {
		return apperr.Storage("clear chapters", err)
	}

	for _, ch := range ordered {
		slides, lectures, quiz, err := marshalChapter(ch)
		if err != nil {
			return err
		}
		_, err = tx.Exec(ctx,
			`INSERT INTO chapters (id, course_id, chapter_number, title, slides, lectures, quiz, updated_at)
			 VALUES ($1, $2, $3, $4, $5::jsonb, $6::jsonb, $7::jsonb, NOW())`,
			ch.ID, ch.CourseID, ch.Number, ch.Title, slides, lectures, quiz,
		)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == "23505" {
				return apperr.Validation("invalid_chapter", "chapter id %s already belongs to another course", ch.ID)
			}
			return apperr.Storage("insert chapter", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return apperr.Storage("commit put course", err)
	}
	return nil
}

func (s *PostgresStore) GetCourse(ctx context.Context, id string) (Course, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	var c Course
	err := s.pool.QueryRow(ctx,
		`SELECT id, subject_id, title FROM courses WHERE id = $1`, id,
	).Scan(&c.ID, &c.SubjectID, &c.Title)
	if errors.Is(err, pgx.ErrNoRows) {
		return Course{}, apperr.NotFound("course_not_found", "course not found: %s", id)
	}
	if err != nil {
		return Course{}, apperr.Storage("get course", err)
	}
	return c, nil
}

func (s *PostgresStore) ListCourses(ctx context.Context, subjectID string) ([]Course, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	rows, err := s.pool.Query(ctx,
		`SELECT id, subject_id, title FROM courses
		 WHERE $1 = '' OR subject_id = $1
		 ORDER BY id`, subjectID,
	)
	if err != nil {
		return nil, apperr.Storage("list courses", err)
	}
	defer rows.Close()

	var out []Course
	for rows.Next() {
		var c Course
		if err := rows.Scan(&c.ID, &c.SubjectID, &c.Title); err != nil {
			return nil, apperr.Storage("scan course", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Storage("iterate courses", err)
	}
	return out, nil
}

func (s *PostgresStore) GetChapter(ctx context.Context, id string) (Chapter, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	ch, err := scanChapter(s.pool.QueryRow(ctx, selectChapter+` WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Chapter{}, apperr.NotFound("chapter_not_found", "chapter not found: %s", id)
	}
	return ch, err
}

func (s *PostgresStore) GetChapterByNumber(ctx context.Context, courseID string, number int) (Chapter, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	ch, err := scanChapter(s.pool.QueryRow(ctx,
		selectChapter+` WHERE course_id = $1 AND chapter_number = $2`, courseID, number))
	if errors.Is(err, pgx.ErrNoRows) {
		return Chapter{}, apperr.NotFound("chapter_not_found", "chapter %d not found in course %s", number, courseID)
	}
	return ch, err
}

func (s *PostgresStore) GetChaptersOrdered(ctx context.Context, courseID string) ([]Chapter, error) {
	if _, err := s.GetCourse(ctx, courseID); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	rows, err := s.pool.Query(ctx,
		selectChapter+` WHERE course_id = $1 ORDER BY chapter_number ASC`, courseID)
	if err != nil {
		return nil, apperr.Storage("query chapters", err)
	}
	defer rows.Close()

	out := []Chapter{}
	for rows.Next() {
		ch, err := scanChapter(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ch)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Storage("iterate chapters", err)
	}
	return out, nil
}

func (s *PostgresStore) ReplaceQuiz(ctx context.Context, chapterID string, questions []Question, settings QuizSettings) (Chapter, error) {
	if err := ValidateSettings(settings); err != nil {
		return Chapter{}, err
	}
	qs, err := ValidateQuestions(questions)
	if err != nil {
		return Chapter{}, err
	}

	now := s.now()
	quiz := Quiz{
		QuizSettings: settings,
		Questions:    qs,
		IsGenerated:  true,
		GeneratedAt:  &now,
		Version:      QuizVersion(qs),
	}
	return s.writeQuiz(ctx, chapterID, func(Quiz) Quiz { return quiz })
}

func (s *PostgresStore) UpdateQuizSettings(ctx context.Context, chapterID string, settings QuizSettings) (Chapter, error) {
	if err := ValidateSettings(settings); err != nil {
		return Chapter{}, err
	}
	return s.writeQuiz(ctx, chapterID, func(q Quiz) Quiz {
		q.QuizSettings = settings
		return q
	})
}

// writeQuiz rewrites the quiz column under a row lock.
func (s *PostgresStore) writeQuiz(ctx context.Context, chapterID string, mutate func(Quiz) Quiz) (Chapter, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Chapter{}, apperr.Storage("begin quiz update", err)
	}
	defer tx.Rollback(ctx)

	ch, err := scanChapter(tx.QueryRow(ctx, selectChapter+` WHERE id = $1 FOR UPDATE`, chapterID))
	if errors.Is(err, pgx.ErrNoRows) {
		return Chapter{}, apperr.NotFound("chapter_not_found", "chapter not found: %s", chapterID)
	}
	if err != nil {
		return Chapter{}, err
	}

	ch.Quiz = mutate(ch.Quiz)
	quiz, err := json.Marshal(ch.Quiz)
	if err != nil {
		return Chapter{}, fmt.Errorf("marshal quiz: %w", err)
	}
	if _, err := tx.Exec(ctx,
		`UPDATE chapters SET quiz = $2::jsonb, updated_at = NOW() WHERE id = $1`,
		chapterID, string(quiz),
	); err != nil {
		return Chapter{}, apperr.Storage("update quiz", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return Chapter{}, apperr.Storage("commit quiz update", err)
	}
	return ch, nil
}

const selectChapter = `SELECT id, course_id, chapter_number, title, slides, lectures, quiz FROM chapters`

func scanChapter(row pgx.Row) (Chapter, error) {
	var ch Chapter
	var slides, lectures, quiz []byte
	if err := row.Scan(&ch.ID, &ch.CourseID, &ch.Number, &ch.Title, &slides, &lectures, &quiz); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Chapter{}, pgx.ErrNoRows
		}
		return Chapter{}, apperr.Storage("scan chapter", err)
	}
	if err := unmarshalJSON(slides, &ch.Slides); err != nil {
		return Chapter{}, fmt.Errorf("decode slides of %s: %w", ch.ID, err)
	}
	if err := unmarshalJSON(lectures, &ch.Lectures); err != nil {
		return Chapter{}, fmt.Errorf("decode lectures of %s: %w", ch.ID, err)
	}
	if err := unmarshalJSON(quiz, &ch.Quiz); err != nil {
		return Chapter{}, fmt.Errorf("decode quiz of %s: %w", ch.ID, err)
	}
	return ch, nil
}

func marshalChapter(ch Chapter) (slides, lectures, quiz string, err error) {
	b, err := json.Marshal(nonNil(ch.Slides))
	if err != nil {
		return "", "", "", fmt.Errorf("marshal slides: %w", err)
	}
	slides = string(b)
	if b, err = json.Marshal(nonNil(ch.Lectures)); err != nil {
		return "", "", "", fmt.Errorf("marshal lectures: %w", err)
	}
	lectures = string(b)
	if b, err = json.Marshal(ch.Quiz); err != nil {
		return "", "", "", fmt.Errorf("marshal quiz: %w", err)
	}
	quiz = string(b)
	return slides, lectures, quiz, nil
}

func unmarshalJSON(data []byte, v any) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, v)
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
