package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/proctorhq/invigil-backend/internal/model"
)

// AttemptRepository handles attempt data access. The attempt row is the
// only hot mutable resource in the system: every mutation here is either a
// single SQL statement or a transaction holding the row lock.
type AttemptRepository struct {
	pool *pgxpool.Pool
}

// NewAttemptRepository creates a new AttemptRepository.
func NewAttemptRepository(pool *pgxpool.Pool) *AttemptRepository {
	return &AttemptRepository{pool: pool}
}

const attemptColumns = `id, student_id, exam_id, total_marks, answers, score,
	started_at, submitted_at, status, warnings_count, violation_reason`

func scanAttempt(row pgx.Row) (*model.Attempt, error) {
	a := &model.Attempt{}
	var answersRaw []byte
	err := row.Scan(&a.ID, &a.StudentID, &a.ExamID, &a.TotalMarks, &answersRaw,
		&a.Score, &a.StartedAt, &a.SubmittedAt, &a.Status, &a.WarningsCount, &a.ViolationReason)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	a.Answers = map[string]string{}
	if len(answersRaw) > 0 {
		if err := json.Unmarshal(answersRaw, &a.Answers); err != nil {
			return nil, fmt.Errorf("decode answers: %w", err)
		}
	}
	return a, nil
}

// Create inserts a new in_progress attempt. The (student_id, exam_id)
// unique constraint closes the concurrent double-start race; a conflicting
// insert surfaces as model.ErrAlreadyAttempted.
func (r *AttemptRepository) Create(ctx context.Context, a *model.Attempt) error {
	err := r.pool.QueryRow(ctx,
		`INSERT INTO attempts (student_id, exam_id, total_marks, status)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (student_id, exam_id) DO NOTHING
		 RETURNING id, started_at`,
		a.StudentID, a.ExamID, a.TotalMarks, model.AttemptStatusInProgress,
	).Scan(&a.ID, &a.StartedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.ErrAlreadyAttempted
	}
	if err != nil {
		return err
	}
	a.Status = model.AttemptStatusInProgress
	a.Answers = map[string]string{}
	return nil
}

// GetByID retrieves an attempt.
func (r *AttemptRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Attempt, error) {
	return scanAttempt(r.pool.QueryRow(ctx,
		`SELECT `+attemptColumns+` FROM attempts WHERE id = $1`, id))
}

// GetByStudentAndExam retrieves a student's attempt for an exam.
func (r *AttemptRepository) GetByStudentAndExam(ctx context.Context, studentID int, examID uuid.UUID) (*model.Attempt, error) {
	return scanAttempt(r.pool.QueryRow(ctx,
		`SELECT `+attemptColumns+` FROM attempts WHERE student_id = $1 AND exam_id = $2`,
		studentID, examID))
}

// MergeAnswer merges one answer into the attempt's answers map. Last write
// per question wins. The ownership guard, status guard and merge happen in
// a single statement, so a concurrent submit cannot interleave. Terminal
// attempts reject the write with model.ErrAttemptClosed; attempts owned by
// another student are indistinguishable from missing ones.
func (r *AttemptRepository) MergeAnswer(ctx context.Context, attemptID uuid.UUID, studentID int, questionID, answer string) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE attempts
		 SET answers = answers || jsonb_build_object($3::text, $4::text)
		 WHERE id = $1 AND student_id = $2 AND status = $5`,
		attemptID, studentID, questionID, answer, model.AttemptStatusInProgress,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		// Either the attempt does not exist (or is not this student's),
		// or it is terminal.
		a, err := r.GetByID(ctx, attemptID)
		if err != nil {
			return err
		}
		if a.StudentID != studentID {
			return model.ErrNotFound
		}
		return model.ErrAttemptClosed
	}
	return nil
}

// IssueWarning atomically increments the warning counter and appends the
// WARNING journal entry in one transaction. The increment-and-fetch is a
// single statement gated on the in_progress status, so two concurrent
// warnings can never observe the same count and a warning racing a submit
// cannot touch a just-closed attempt. Returns the new count.
func (r *AttemptRepository) IssueWarning(ctx context.Context, attemptID uuid.UUID) (int, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	var count int
	err = tx.QueryRow(ctx,
		`UPDATE attempts
		 SET warnings_count = warnings_count + 1
		 WHERE id = $1 AND status = $2
		 RETURNING warnings_count`, attemptID, model.AttemptStatusInProgress,
	).Scan(&count)
	if errors.Is(err, pgx.ErrNoRows) {
		if _, err := r.GetByID(ctx, attemptID); err != nil {
			return 0, err
		}
		return 0, model.ErrAttemptClosed
	}
	if err != nil {
		return 0, err
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO monitoring_logs (attempt_id, event_type, warning_issued, details)
		 VALUES ($1, $2, TRUE, $3)`,
		attemptID, model.EventTypeWarning, fmt.Sprintf("Warning %d issued", count),
	)
	if err != nil {
		return 0, err
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return count, nil
}

// GradeFunc computes the final score and question count for an attempt's
// answers against the exam's canonical question set. It runs while the
// attempt row is locked.
type GradeFunc func(ctx context.Context, examID uuid.UUID, answers map[string]string) (score float64, total int, err error)

// Submit performs the terminal transition. The row is locked for the whole
// read-grade-write cycle; a second submit observes a terminal status and
// fails with model.ErrAttemptClosed instead of re-grading. The
// EXAM_SUBMITTED journal marker is appended in the same transaction.
func (r *AttemptRepository) Submit(ctx context.Context, attemptID uuid.UUID, reason string, status model.AttemptStatus, grade GradeFunc) (*model.Attempt, int, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	a, err := scanAttempt(tx.QueryRow(ctx,
		`SELECT `+attemptColumns+` FROM attempts WHERE id = $1 FOR UPDATE`, attemptID))
	if err != nil {
		return nil, 0, err
	}
	if a.Status.Terminal() {
		return nil, 0, model.ErrAttemptClosed
	}

	score, total, err := grade(ctx, a.ExamID, a.Answers)
	if err != nil {
		return nil, 0, fmt.Errorf("grade attempt: %w", err)
	}

	now := time.Now()
	_, err = tx.Exec(ctx,
		`UPDATE attempts
		 SET score = $2, submitted_at = $3, status = $4, violation_reason = $5
		 WHERE id = $1`,
		attemptID, score, now, status, reason,
	)
	if err != nil {
		return nil, 0, err
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO monitoring_logs (attempt_id, event_type, details)
		 VALUES ($1, $2, $3)`,
		attemptID, model.EventTypeExamSubmitted, fmt.Sprintf("Reason: %s", reason),
	)
	if err != nil {
		return nil, 0, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, 0, err
	}

	a.Score = &score
	a.SubmittedAt = &now
	a.Status = status
	a.ViolationReason = &reason
	return a, total, nil
}

// ListExamIDsByStudent returns the exam ids the student has an attempt for.
func (r *AttemptRepository) ListExamIDsByStudent(ctx context.Context, studentID int) (map[uuid.UUID]struct{}, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT exam_id FROM attempts WHERE student_id = $1`, studentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := make(map[uuid.UUID]struct{})
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids[id] = struct{}{}
	}
	return ids, rows.Err()
}
