package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/proctorhq/invigil-backend/internal/model"
)

// ExamResultRow combines student identity with their attempt outcome.
type ExamResultRow struct {
	AttemptID     uuid.UUID           `json:"attempt_id"`
	StudentID     int                 `json:"student_id"`
	Username      string              `json:"username"`
	FullName      string              `json:"full_name"`
	Score         *float64            `json:"score"`
	TotalMarks    int                 `json:"total_marks"`
	Status        model.AttemptStatus `json:"status"`
	WarningsCount int                 `json:"warnings_count"`
	SubmittedAt   *time.Time          `json:"submitted_at"`
}

// AttemptHeader identifies an attempt for the audit view.
type AttemptHeader struct {
	AttemptID uuid.UUID           `json:"attempt_id"`
	StudentID int                 `json:"student_id"`
	Username  string              `json:"username"`
	FullName  string              `json:"full_name"`
	ExamID    uuid.UUID           `json:"exam_id"`
	ExamTitle string              `json:"exam_title"`
	Status    model.AttemptStatus `json:"status"`
	StartedAt time.Time           `json:"started_at"`
}

// ReportRepository provides read-only joins for administrator reporting.
// No mutation happens here.
type ReportRepository struct {
	pool *pgxpool.Pool
}

// NewReportRepository creates a new ReportRepository.
func NewReportRepository(pool *pgxpool.Pool) *ReportRepository {
	return &ReportRepository{pool: pool}
}

// ListResultsByExam returns terminal attempts for an exam with student
// identity, newest submissions first.
func (r *ReportRepository) ListResultsByExam(ctx context.Context, examID uuid.UUID) ([]ExamResultRow, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT a.id, a.student_id, u.username, u.full_name,
		        a.score, a.total_marks, a.status, a.warnings_count, a.submitted_at
		 FROM attempts a
		 JOIN users u ON a.student_id = u.id
		 WHERE a.exam_id = $1 AND a.status IN ($2, $3)
		 ORDER BY a.submitted_at DESC`,
		examID, model.AttemptStatusCompleted, model.AttemptStatusTerminated,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []ExamResultRow
	for rows.Next() {
		var row ExamResultRow
		if err := rows.Scan(&row.AttemptID, &row.StudentID, &row.Username, &row.FullName,
			&row.Score, &row.TotalMarks, &row.Status, &row.WarningsCount, &row.SubmittedAt); err != nil {
			return nil, err
		}
		results = append(results, row)
	}
	return results, rows.Err()
}

// GetAttemptHeader returns the identity row shown above an audit log.
func (r *ReportRepository) GetAttemptHeader(ctx context.Context, attemptID uuid.UUID) (*AttemptHeader, error) {
	h := &AttemptHeader{}
	err := r.pool.QueryRow(ctx,
		`SELECT a.id, a.student_id, u.username, u.full_name, a.exam_id, e.title, a.status, a.started_at
		 FROM attempts a
		 JOIN users u ON a.student_id = u.id
		 JOIN exams e ON a.exam_id = e.id
		 WHERE a.id = $1`, attemptID,
	).Scan(&h.AttemptID, &h.StudentID, &h.Username, &h.FullName, &h.ExamID, &h.ExamTitle, &h.Status, &h.StartedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return h, nil
}
