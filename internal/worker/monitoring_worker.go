package worker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/proctorhq/invigil-backend/internal/config"
	"github.com/proctorhq/invigil-backend/internal/model"
	"github.com/proctorhq/invigil-backend/internal/repository"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	BatchSize    = 50
	BatchTimeout = 2 * time.Second
	PollTimeout  = 1 * time.Second // Must be >= 1s to satisfy Redis
)

// MonitoringWorker drains the monitoring event queue and persists the
// journal entries in batches. Queue order is preserved, so entries land
// in arrival order.
type MonitoringWorker struct {
	repo *repository.MonitoringRepository
	rdb  *redis.Client
	log  zerolog.Logger
}

// NewMonitoringWorker creates a new MonitoringWorker.
func NewMonitoringWorker(repo *repository.MonitoringRepository, rdb *redis.Client, log zerolog.Logger) *MonitoringWorker {
	return &MonitoringWorker{
		repo: repo,
		rdb:  rdb,
		log:  log.With().Str("component", "monitoring_worker").Logger(),
	}
}

// eventPayload mirrors the queue wire form produced by the attempt
// service. Timestamp is UnixNano; the journal sorts on it at full
// precision.
type eventPayload struct {
	AttemptID     string `json:"attempt_id"`
	Timestamp     int64  `json:"timestamp"`
	EventType     string `json:"event_type"`
	FaceDetected  *bool  `json:"face_detected,omitempty"`
	GazeDirection string `json:"gaze_direction,omitempty"`
	HeadPose      string `json:"head_pose,omitempty"`
	WarningIssued bool   `json:"warning_issued"`
	Details       string `json:"details,omitempty"`
}

// Start runs the drain loop until ctx is cancelled, then flushes what is
// buffered.
func (w *MonitoringWorker) Start(ctx context.Context) {
	w.log.Info().Msg("MonitoringWorker started")

	buffer := make([]*eventPayload, 0, BatchSize)
	lastFlushTime := time.Now()

	for {
		// 1. Check flush conditions (time or size)
		if len(buffer) > 0 {
			if len(buffer) >= BatchSize || time.Since(lastFlushTime) >= BatchTimeout {
				w.flushSafe(ctx, buffer)
				buffer = buffer[:0]
				lastFlushTime = time.Now()
			}
		}

		// 2. Check context (graceful shutdown)
		select {
		case <-ctx.Done():
			w.shutdown(buffer)
			return
		default:
		}

		// 3. Fetch from Redis. BLPop blocks for 1 second and returns
		// immediately if data exists.
		result, err := w.rdb.BLPop(ctx, PollTimeout, config.WorkerKey.MonitoringEventsQueue).Result()
		if err != nil {
			if err == redis.Nil {
				continue // queue empty, loop back to check the flush timer
			}
			if ctx.Err() != nil {
				return
			}
			w.log.Error().Err(err).Msg("Redis connection error, sleeping 3s")
			time.Sleep(3 * time.Second)
			continue
		}

		// 4. Process data
		if len(result) < 2 {
			continue
		}

		var payload eventPayload
		if err := json.Unmarshal([]byte(result[1]), &payload); err != nil {
			// Malformed JSON can never succeed on retry. Log and discard.
			w.log.Error().Err(err).Str("data", result[1]).Msg("Discarding malformed JSON")
			continue
		}

		buffer = append(buffer, &payload)
	}
}

// flushSafe attempts bulk insert, then fallback insert, then requeue.
func (w *MonitoringWorker) flushSafe(ctx context.Context, batch []*eventPayload) {
	if err := w.bulkInsert(ctx, batch); err != nil {
		w.log.Warn().Err(err).Int("count", len(batch)).Msg("Bulk insert failed, attempting row-by-row recovery")
		w.fallbackInsert(ctx, batch)
	}
}

func (w *MonitoringWorker) toLog(p *eventPayload) (*model.MonitoringLog, error) {
	attemptID, err := uuid.Parse(p.AttemptID)
	if err != nil {
		return nil, err
	}
	return &model.MonitoringLog{
		AttemptID:     attemptID,
		Timestamp:     time.Unix(0, p.Timestamp),
		EventType:     p.EventType,
		FaceDetected:  p.FaceDetected,
		GazeDirection: p.GazeDirection,
		HeadPose:      p.HeadPose,
		WarningIssued: p.WarningIssued,
		Details:       p.Details,
	}, nil
}

func (w *MonitoringWorker) bulkInsert(ctx context.Context, batch []*eventPayload) error {
	logs := make([]*model.MonitoringLog, 0, len(batch))
	for _, p := range batch {
		l, err := w.toLog(p)
		if err != nil {
			// Trigger the fallback, which handles the bad UUID individually.
			return err
		}
		logs = append(logs, l)
	}
	return w.repo.AppendBatch(ctx, logs)
}

func (w *MonitoringWorker) fallbackInsert(ctx context.Context, batch []*eventPayload) {
	requeueList := make([]*eventPayload, 0)

	for _, p := range batch {
		l, err := w.toLog(p)
		if err != nil {
			w.log.Error().Str("attempt_id", p.AttemptID).Msg("Dropping event with invalid UUID")
			continue
		}

		if err := w.repo.Append(ctx, l); err != nil {
			w.log.Error().Err(err).Str("attempt_id", p.AttemptID).Msg("Insert failed, requeueing")
			requeueList = append(requeueList, p)
		}
	}

	if len(requeueList) > 0 {
		w.requeue(ctx, requeueList)
	}
}

func (w *MonitoringWorker) requeue(ctx context.Context, items []*eventPayload) {
	pipe := w.rdb.Pipeline()
	for _, p := range items {
		data, _ := json.Marshal(p)
		pipe.RPush(ctx, config.WorkerKey.MonitoringEventsQueue, data)
	}
	_, err := pipe.Exec(ctx)
	if err != nil {
		w.log.Error().Err(err).Msg("CRITICAL: Failed to requeue items to Redis. Data loss occurred.")
	} else {
		w.log.Info().Int("count", len(items)).Msg("Requeued failed items back to Redis")
		// Avoid thrashing if the database is down hard
		time.Sleep(2 * time.Second)
	}
}

func (w *MonitoringWorker) shutdown(buffer []*eventPayload) {
	w.log.Info().Msg("Worker stopping, flushing remaining buffer...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if len(buffer) > 0 {
		w.flushSafe(shutdownCtx, buffer)
	}
}
