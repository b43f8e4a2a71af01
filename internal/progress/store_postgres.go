package progress

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

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore is a PostgreSQL-backed Store. Update locks the progress row
// with SELECT ... FOR UPDATE, and a partial unique index on quiz_attempts
// backs the single-open-attempt rule.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a progress store on an existing pool.
func NewPostgresStore(pool *pgxpool.Pool) (*PostgresStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is nil")
	}
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Get(ctx context.Context, studentID, chapterID string) (Progress, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	if err := ensureRow(ctx, s.pool, studentID, chapterID); err != nil {
		return Progress{}, err
	}
	return loadProgress(ctx, s.pool, studentID, chapterID, false)
}

func (s *PostgresStore) GetMany(ctx context.Context, studentID string, chapterIDs []string) (map[string]Progress, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	out := make(map[string]Progress, len(chapterIDs))
	for _, id := range chapterIDs {
		out[id] = New(studentID, id)
	}
	if len(chapterIDs) == 0 {
		return out, nil
	}

	rows, err := s.pool.Query(ctx,
		selectProgress+` WHERE student_id = $1 AND chapter_id = ANY($2)`,
		studentID, chapterIDs,
	)
	if err != nil {
		return nil, apperr.Storage("query progress", err)
	}
	for rows.Next() {
		p, err := scanProgress(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		out[p.ChapterID] = p
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, apperr.Storage("iterate progress", err)
	}

	rows, err = s.pool.Query(ctx,
		selectAttempt+` WHERE student_id = $1 AND chapter_id = ANY($2) ORDER BY chapter_id, seq`,
		studentID, chapterIDs,
	)
	if err != nil {
		return nil, apperr.Storage("query attempts", err)
	}
	defer rows.Close()
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, err
		}
		p := out[a.ChapterID]
		p.Attempts = append(p.Attempts, a)
		out[a.ChapterID] = p
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Storage("iterate attempts", err)
	}
	return out, nil
}

func (s *PostgresStore) FindAttempt(ctx context.Context, attemptID string) (Attempt, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	a, err := scanAttempt(s.pool.QueryRow(ctx, selectAttempt+` WHERE id = $1`, attemptID))
	if errors.Is(err, pgx.ErrNoRows) {
		return Attempt{}, apperr.NotFound("attempt_not_found", "attempt not found: %s", attemptID)
	}
	return a, err
}

func (s *PostgresStore) Update(ctx context.Context, studentID, chapterID string, fn func(*Progress) error) (Progress, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Progress{}, apperr.Storage("begin progress update", err)
	}
	defer tx.Rollback(ctx)

	if err := ensureRow(ctx, tx, studentID, chapterID); err != nil {
		return Progress{}, err
	}
	before, err := loadProgress(ctx, tx, studentID, chapterID, true)
	if err != nil {
		return Progress{}, err
	}

	after := before.Clone()
	if err := fn(&after); err != nil {
		return Progress{}, err
	}
	after.StudentID, after.ChapterID = studentID, chapterID
	if err := checkTransition(before, after); err != nil {
		return Progress{}, err
	}

	watched, err := json.Marshal(after.LecturesWatched)
	if err != nil {
		return Progress{}, fmt.Errorf("marshal lectures watched: %w", err)
	}
	if err := tx.QueryRow(ctx,
		`UPDATE chapter_progress
		 SET slides_viewed = $3, lectures_watched = $4::jsonb, best_score = $5, chapter_completed = $6, updated_at = NOW()
		 WHERE student_id = $1 AND chapter_id = $2
		 RETURNING updated_at`,
		studentID, chapterID, after.SlidesViewed, string(watched), after.BestScore, after.ChapterCompleted,
	).Scan(&after.UpdatedAt); err != nil {
		return Progress{}, apperr.Storage("update progress", err)
	}

	for i, a := range after.Attempts {
		switch {
		case i >= len(before.Attempts):
			if err := insertAttempt(ctx, tx, i, a); err != nil {
				return Progress{}, err
			}
		case before.Attempts[i].Status == StatusInProgress && a.Status == StatusSubmitted:
			if err := submitAttempt(ctx, tx, a); err != nil {
				return Progress{}, err
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return Progress{}, apperr.Storage("commit progress update", err)
	}
	return after, nil
}

func ensureRow(ctx context.Context, q interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}, studentID, chapterID string) error {
	if _, err := q.Exec(ctx,
		`INSERT INTO chapter_progress (student_id, chapter_id)
		 VALUES ($1, $2)
		 ON CONFLICT (student_id, chapter_id) DO NOTHING`,
		studentID, chapterID,
	); err != nil {
		return apperr.Storage("ensure progress row", err)
	}
	return nil
}

func insertAttempt(ctx context.Context, tx pgx.Tx, seq int, a Attempt) error {
	snapshot, err := json.Marshal(a.QuestionSnapshot)
	if err != nil {
		return fmt.Errorf("marshal question snapshot: %w", err)
	}
	answers, err := json.Marshal(a.Answers)
	if err != nil {
		return fmt.Errorf("marshal answers: %w", err)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO quiz_attempts
		   (id, student_id, chapter_id, seq, status, question_snapshot, quiz_version, passing_score,
		    answers, started_at, submitted_at, score, passed, late)
		 VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7, $8, $9::jsonb, $10, $11, $12, $13, $14)`,
		a.ID, a.StudentID, a.ChapterID, seq, string(a.Status), string(snapshot), a.QuizVersion, a.PassingScore,
		string(answers), a.StartedAt, a.SubmittedAt, a.Score, a.Passed, a.Late,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return apperr.InvalidState("attempt_in_progress", "student %s already has an open attempt on chapter %s", a.StudentID, a.ChapterID)
		}
		return apperr.Storage("insert attempt", err)
	}
	return nil
}

// submitAttempt flips an open attempt to submitted. The status guard makes a
// second submit of the same attempt affect zero rows.
func submitAttempt(ctx context.Context, tx pgx.Tx, a Attempt) error {
	answers, err := json.Marshal(a.Answers)
	if err != nil {
		return fmt.Errorf("marshal answers: %w", err)
	}

	cmd, err := tx.Exec(ctx,
		`UPDATE quiz_attempts
		 SET status = $2, answers = $3::jsonb, submitted_at = $4, score = $5, passed = $6, late = $7
		 WHERE id = $1 AND status = $8`,
		a.ID, string(StatusSubmitted), string(answers), a.SubmittedAt, a.Score, a.Passed, a.Late, string(StatusInProgress),
	)
	if err != nil {
		return apperr.Storage("submit attempt", err)
	}
	if cmd.RowsAffected() == 0 {
		return apperr.InvalidState("attempt_already_submitted", "attempt %s is already submitted", a.ID)
	}
	return nil
}

func loadProgress(ctx context.Context, q querier, studentID, chapterID string, forUpdate bool) (Progress, error) {
	query := selectProgress + ` WHERE student_id = $1 AND chapter_id = $2`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	p, err := scanProgress(q.QueryRow(ctx, query, studentID, chapterID))
	if err != nil {
		return Progress{}, err
	}

	rows, err := q.Query(ctx,
		selectAttempt+` WHERE student_id = $1 AND chapter_id = $2 ORDER BY seq`,
		studentID, chapterID,
	)
	if err != nil {
		return Progress{}, apperr.Storage("query attempts", err)
	}
	defer rows.Close()

	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return Progress{}, err
		}
		p.Attempts = append(p.Attempts, a)
	}
	if err := rows.Err(); err != nil {
		return Progress{}, apperr.Storage("iterate attempts", err)
	}
	return p, nil
}

const selectProgress = `SELECT student_id, chapter_id, slides_viewed, lectures_watched, best_score, chapter_completed, updated_at
	FROM chapter_progress`

const selectAttempt = `SELECT id, student_id, chapter_id, status, question_snapshot, quiz_version, passing_score,
	answers, started_at, submitted_at, score, passed, late
	FROM quiz_attempts`

func scanProgress(row pgx.Row) (Progress, error) {
	p := New("", "")
	var watched []byte
	if err := row.Scan(&p.StudentID, &p.ChapterID, &p.SlidesViewed, &watched, &p.BestScore, &p.ChapterCompleted, &p.UpdatedAt); err != nil {
		return Progress{}, apperr.Storage("scan progress", err)
	}
	if len(watched) > 0 {
		if err := json.Unmarshal(watched, &p.LecturesWatched); err != nil {
			return Progress{}, fmt.Errorf("decode lectures watched: %w", err)
		}
	}
	if p.LecturesWatched == nil {
		p.LecturesWatched = []string{}
	}
	return p, nil
}

func scanAttempt(row pgx.Row) (Attempt, error) {
	var a Attempt
	var status string
	var snapshot, answers []byte
	err := row.Scan(&a.ID, &a.StudentID, &a.ChapterID, &status, &snapshot, &a.QuizVersion, &a.PassingScore,
		&answers, &a.StartedAt, &a.SubmittedAt, &a.Score, &a.Passed, &a.Late)
	if errors.Is(err, pgx.ErrNoRows) {
		return Attempt{}, pgx.ErrNoRows
	}
	if err != nil {
		return Attempt{}, apperr.Storage("scan attempt", err)
	}
	a.Status = Status(status)
	if err := json.Unmarshal(snapshot, &a.QuestionSnapshot); err != nil {
		return Attempt{}, fmt.Errorf("decode question snapshot of %s: %w", a.ID, err)
	}
	if err := json.Unmarshal(answers, &a.Answers); err != nil {
		return Attempt{}, fmt.Errorf("decode answers of %s: %w", a.ID, err)
	}
	return a, nil
}
