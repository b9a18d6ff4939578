package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/proctorhq/invigil-backend/internal/model"
)

// MonitoringRepository handles the append-only monitoring journal.
// Entries are inserted, never updated or deleted; removal happens only via
// the exam cascade.
type MonitoringRepository struct {
	pool *pgxpool.Pool
}

// NewMonitoringRepository creates a new MonitoringRepository.
func NewMonitoringRepository(pool *pgxpool.Pool) *MonitoringRepository {
	return &MonitoringRepository{pool: pool}
}

// Append inserts a single journal entry.
func (r *MonitoringRepository) Append(ctx context.Context, l *model.MonitoringLog) error {
	return r.pool.QueryRow(ctx,
		`INSERT INTO monitoring_logs
		 (attempt_id, created_at, event_type, face_detected, gaze_direction, head_pose, warning_issued, details)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING id`,
		l.AttemptID, l.Timestamp, l.EventType, l.FaceDetected, l.GazeDirection, l.HeadPose, l.WarningIssued, l.Details,
	).Scan(&l.ID)
}

// AppendBatch bulk-inserts journal entries via COPY. Used by the
// monitoring worker; entries arrive in enqueue order from a single
// consumer, so insertion ids follow submission order.
func (r *MonitoringRepository) AppendBatch(ctx context.Context, logs []*model.MonitoringLog) error {
	rows := make([][]interface{}, 0, len(logs))
	for _, l := range logs {
		ts := l.Timestamp
		if ts.IsZero() {
			ts = time.Now()
		}
		rows = append(rows, []interface{}{
			l.AttemptID, ts, l.EventType, l.FaceDetected, l.GazeDirection, l.HeadPose, l.WarningIssued, l.Details,
		})
	}

	_, err := r.pool.CopyFrom(
		ctx,
		pgx.Identifier{"monitoring_logs"},
		[]string{"attempt_id", "created_at", "event_type", "face_detected", "gaze_direction", "head_pose", "warning_issued", "details"},
		pgx.CopyFromRows(rows),
	)
	return err
}

// ListByAttempt returns the full journal for an attempt, non-decreasing in
// (timestamp, id). The id tie-break keeps same-second entries stable.
func (r *MonitoringRepository) ListByAttempt(ctx context.Context, attemptID uuid.UUID) ([]model.MonitoringLog, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, attempt_id, created_at, event_type, face_detected,
		        gaze_direction, head_pose, warning_issued, details
		 FROM monitoring_logs
		 WHERE attempt_id = $1
		 ORDER BY created_at, id`, attemptID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []model.MonitoringLog
	for rows.Next() {
		var l model.MonitoringLog
		if err := rows.Scan(&l.ID, &l.AttemptID, &l.Timestamp, &l.EventType, &l.FaceDetected,
			&l.GazeDirection, &l.HeadPose, &l.WarningIssued, &l.Details); err != nil {
			return nil, err
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}
