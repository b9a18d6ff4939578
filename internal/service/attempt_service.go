package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	"github.com/proctorhq/invigil-backend/internal/config"
	"github.com/proctorhq/invigil-backend/internal/model"
	"github.com/proctorhq/invigil-backend/internal/repository"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// warningThreshold is the number of warnings at which an attempt is
// terminated. The attempt that receives warning number three is
// submitted with reason "violations" before the call returns.
const warningThreshold = 3

// terminationReason marks a submit caused by the warning policy rather
// than the student.
const terminationReason = "violations"

// AttemptStore is the attempt persistence surface. Uniqueness, the
// answer merge, the warning increment and the terminal transition are
// all enforced at this layer so concurrent callers cannot race.
type AttemptStore interface {
	Create(ctx context.Context, a *model.Attempt) error
	GetByID(ctx context.Context, id uuid.UUID) (*model.Attempt, error)
	GetByStudentAndExam(ctx context.Context, studentID int, examID uuid.UUID) (*model.Attempt, error)
	MergeAnswer(ctx context.Context, attemptID uuid.UUID, studentID int, questionID, answer string) error
	IssueWarning(ctx context.Context, attemptID uuid.UUID) (int, error)
	Submit(ctx context.Context, attemptID uuid.UUID, reason string, status model.AttemptStatus, grade repository.GradeFunc) (*model.Attempt, int, error)
	ListExamIDsByStudent(ctx context.Context, studentID int) (map[uuid.UUID]struct{}, error)
}

// MonitoringStore is the journal persistence surface used for the
// synchronous fallback when the event queue is unreachable.
type MonitoringStore interface {
	Append(ctx context.Context, l *model.MonitoringLog) error
}

// EventQueue hands a monitoring event to the async persistence worker.
type EventQueue interface {
	Enqueue(ctx context.Context, payload []byte) error
}

// Broadcaster fans an event out to live monitor subscribers of an exam.
type Broadcaster interface {
	Broadcast(ctx context.Context, examID uuid.UUID, event any)
}

// AttemptService owns the attempt lifecycle: start, answer accumulation,
// monitoring ingestion, the warning policy and the terminal submit.
type AttemptService struct {
	attempts  AttemptStore
	exams     ExamStore
	questions QuestionStore
	journal   MonitoringStore
	queue     EventQueue
	broadcast Broadcaster
	rdb       *redis.Client
	log       zerolog.Logger
}

// NewAttemptService creates a new AttemptService. queue, broadcast and
// rdb may be nil; the service then degrades to synchronous journal
// writes and skips fan-out.
func NewAttemptService(
	attempts AttemptStore,
	exams ExamStore,
	questions QuestionStore,
	journal MonitoringStore,
	queue EventQueue,
	broadcast Broadcaster,
	rdb *redis.Client,
	log zerolog.Logger,
) *AttemptService {
	return &AttemptService{
		attempts:  attempts,
		exams:     exams,
		questions: questions,
		journal:   journal,
		queue:     queue,
		broadcast: broadcast,
		rdb:       rdb,
		log:       log.With().Str("component", "attempt_service").Logger(),
	}
}

// StudentExamView is one dashboard row: an active exam plus whether the
// student already has an attempt for it.
type StudentExamView struct {
	Exam      model.Exam `json:"exam"`
	Attempted bool       `json:"attempted"`
}

// Dashboard lists the active exams with the student's attempt state.
func (s *AttemptService) Dashboard(ctx context.Context, studentID int) ([]StudentExamView, error) {
	exams, err := s.exams.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("list exams: %w", err)
	}

	attempted, err := s.attempts.ListExamIDsByStudent(ctx, studentID)
	if err != nil {
		return nil, fmt.Errorf("list attempts: %w", err)
	}

	views := make([]StudentExamView, 0, len(exams))
	for _, e := range exams {
		_, has := attempted[e.ID]
		views = append(views, StudentExamView{Exam: e, Attempted: has})
	}
	return views, nil
}

// StartAttempt creates the student's single attempt for an exam and
// returns the exam plus its questions in a fresh shuffled order with the
// correct answers stripped. An exam with no questions cannot be started.
// A second start for the same (student, exam) pair fails with
// model.ErrAlreadyAttempted regardless of how the calls interleave; the
// storage layer enforces the pair's uniqueness.
func (s *AttemptService) StartAttempt(ctx context.Context, studentID int, examID uuid.UUID) (*model.StartedAttempt, error) {
	exam, err := s.exams.GetByID(ctx, examID)
	if err != nil {
		return nil, err
	}
	if !exam.IsActive {
		return nil, model.ErrNotFound
	}

	questions, err := s.questions.ListByExam(ctx, examID)
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}
	if len(questions) == 0 {
		return nil, model.ErrNoQuestions
	}

	attempt := &model.Attempt{
		StudentID:  studentID,
		ExamID:     examID,
		TotalMarks: len(questions),
		Answers:    map[string]string{},
	}
	if err := s.attempts.Create(ctx, attempt); err != nil {
		return nil, err
	}

	presented := make([]model.QuestionForStudent, len(questions))
	for i, q := range questions {
		presented[i] = q.ForStudent()
	}
	rand.Shuffle(len(presented), func(i, j int) {
		presented[i], presented[j] = presented[j], presented[i]
	})

	s.cacheActiveAttempt(ctx, studentID, attempt.ID)
	s.fanOut(ctx, examID, map[string]any{
		"type":       "student_joined",
		"attempt_id": attempt.ID.String(),
		"student_id": studentID,
	})

	s.log.Info().
		Str("attempt_id", attempt.ID.String()).
		Str("exam_id", examID.String()).
		Int("student_id", studentID).
		Msg("Attempt started")

	return &model.StartedAttempt{
		AttemptID: attempt.ID,
		Exam:      *exam,
		Questions: presented,
	}, nil
}

// GetAttempt returns one of the student's own attempts.
func (s *AttemptService) GetAttempt(ctx context.Context, studentID int, attemptID uuid.UUID) (*model.Attempt, error) {
	return s.ownAttempt(ctx, studentID, attemptID)
}

// RecordAnswer merges a single answer into an in-progress attempt.
// Repeated answers to the same question overwrite; earlier answers to
// other questions are untouched. A terminal attempt rejects the write
// with model.ErrAttemptClosed.
func (s *AttemptService) RecordAnswer(ctx context.Context, studentID int, attemptID uuid.UUID, req *model.RecordAnswerRequest) error {
	return s.attempts.MergeAnswer(ctx, attemptID, studentID, req.QuestionID.String(), req.Answer)
}

// monitoringPayload is the queue wire form of one monitoring event. The
// persistence worker unmarshals the same shape. Timestamp is UnixNano;
// whole seconds are not enough, because journal order is created_at then
// id and a second-truncated queued event would sort ahead of a
// synchronous row written in the same second.
type monitoringPayload struct {
	AttemptID     string `json:"attempt_id"`
	Timestamp     int64  `json:"timestamp"`
	EventType     string `json:"event_type"`
	FaceDetected  *bool  `json:"face_detected,omitempty"`
	GazeDirection string `json:"gaze_direction,omitempty"`
	HeadPose      string `json:"head_pose,omitempty"`
	WarningIssued bool   `json:"warning_issued"`
	Details       string `json:"details,omitempty"`
}

// RecordMonitoringEvent appends a client-reported detection event to the
// attempt's journal. Ingestion is best-effort: the event goes to the
// async queue, falls back to a direct journal write when the queue is
// unreachable, and a failure on both paths is logged, not surfaced.
// Events are accepted for terminal attempts too; detections can arrive
// after the submit that raced them.
func (s *AttemptService) RecordMonitoringEvent(ctx context.Context, studentID int, attemptID uuid.UUID, req *model.MonitoringEventRequest) error {
	if _, err := s.ownAttempt(ctx, studentID, attemptID); err != nil {
		return err
	}

	now := time.Now()
	payload := monitoringPayload{
		AttemptID:     attemptID.String(),
		Timestamp:     now.UnixNano(),
		EventType:     req.EventType,
		FaceDetected:  req.FaceDetected,
		GazeDirection: req.GazeDirection,
		HeadPose:      req.HeadPose,
		WarningIssued: req.WarningIssued,
		Details:       req.Details,
	}

	if s.queue != nil {
		data, err := json.Marshal(payload)
		if err == nil {
			if err := s.queue.Enqueue(ctx, data); err == nil {
				return nil
			}
			s.log.Warn().Err(err).Msg("Event queue unreachable, writing journal directly")
		}
	}

	entry := &model.MonitoringLog{
		AttemptID:     attemptID,
		Timestamp:     now,
		EventType:     req.EventType,
		FaceDetected:  req.FaceDetected,
		GazeDirection: req.GazeDirection,
		HeadPose:      req.HeadPose,
		WarningIssued: req.WarningIssued,
		Details:       req.Details,
	}
	if err := s.journal.Append(ctx, entry); err != nil {
		s.log.Error().Err(err).Str("attempt_id", attemptID.String()).Msg("Dropping monitoring event")
	}
	return nil
}

// IssueWarning increments the attempt's warning counter and journals
// the warning. The counter only ever grows. When the new count reaches
// the threshold the attempt is terminated in the same call, so a
// malicious client cannot collect warnings indefinitely by ignoring the
// terminate flag.
func (s *AttemptService) IssueWarning(ctx context.Context, studentID int, attemptID uuid.UUID) (*model.WarningResult, error) {
	attempt, err := s.ownAttempt(ctx, studentID, attemptID)
	if err != nil {
		return nil, err
	}
	if attempt.Status.Terminal() {
		return nil, model.ErrAttemptClosed
	}

	count, err := s.attempts.IssueWarning(ctx, attemptID)
	if err != nil {
		return nil, err
	}

	s.fanOut(ctx, attempt.ExamID, map[string]any{
		"type":       "warning",
		"attempt_id": attemptID.String(),
		"student_id": studentID,
		"warnings":   count,
	})

	result := &model.WarningResult{
		Warnings:        count,
		ShouldTerminate: count >= warningThreshold,
	}
	if result.ShouldTerminate {
		if _, err := s.SubmitExam(ctx, studentID, attemptID, terminationReason); err != nil {
			// A concurrent warning may have terminated it already.
			if !errors.Is(err, model.ErrAttemptClosed) {
				return nil, err
			}
		}
		s.log.Warn().
			Str("attempt_id", attemptID.String()).
			Int("warnings", count).
			Msg("Attempt terminated by warning policy")
	}
	return result, nil
}

// SubmitExam performs the terminal transition: the attempt is graded
// against the canonical question set, stamped with its score and
// submission time, and closed. reason "violations" closes it as
// terminated; any other reason (default "manual_submit") as completed.
// A second submit fails with model.ErrAttemptClosed and never re-grades.
func (s *AttemptService) SubmitExam(ctx context.Context, studentID int, attemptID uuid.UUID, reason string) (*model.SubmitResult, error) {
	attempt, err := s.ownAttempt(ctx, studentID, attemptID)
	if err != nil {
		return nil, err
	}

	if reason == "" {
		reason = "manual_submit"
	}
	status := model.AttemptStatusCompleted
	if reason == terminationReason {
		status = model.AttemptStatusTerminated
	}

	graded, total, err := s.attempts.Submit(ctx, attemptID, reason, status, s.grade)
	if err != nil {
		return nil, err
	}

	s.clearActiveAttempt(ctx, studentID)
	s.fanOut(ctx, attempt.ExamID, map[string]any{
		"type":       "exam_submitted",
		"attempt_id": attemptID.String(),
		"student_id": studentID,
		"status":     string(graded.Status),
		"score":      *graded.Score,
	})

	s.log.Info().
		Str("attempt_id", attemptID.String()).
		Str("status", string(graded.Status)).
		Float64("score", *graded.Score).
		Msg("Attempt submitted")

	return &model.SubmitResult{
		Score:          *graded.Score,
		TotalQuestions: total,
		Status:         graded.Status,
	}, nil
}

// grade is the repository.GradeFunc used under the submit lock.
func (s *AttemptService) grade(ctx context.Context, examID uuid.UUID, answers map[string]string) (float64, int, error) {
	questions, err := s.questions.ListByExam(ctx, examID)
	if err != nil {
		return 0, 0, err
	}
	return ScoreAnswers(questions, answers), len(questions), nil
}

// ownAttempt loads an attempt and hides other students' attempts behind
// model.ErrNotFound.
func (s *AttemptService) ownAttempt(ctx context.Context, studentID int, attemptID uuid.UUID) (*model.Attempt, error) {
	attempt, err := s.attempts.GetByID(ctx, attemptID)
	if err != nil {
		return nil, err
	}
	if attempt.StudentID != studentID {
		return nil, model.ErrNotFound
	}
	return attempt, nil
}

func (s *AttemptService) fanOut(ctx context.Context, examID uuid.UUID, event any) {
	if s.broadcast == nil {
		return
	}
	s.broadcast.Broadcast(ctx, examID, event)
}

func (s *AttemptService) cacheActiveAttempt(ctx context.Context, studentID int, attemptID uuid.UUID) {
	if s.rdb == nil {
		return
	}
	// Cache-only convenience; losing it costs nothing.
	if err := s.rdb.Set(ctx, config.CacheKey.StudentActiveAttemptKey(studentID), attemptID.String(), 24*time.Hour).Err(); err != nil {
		s.log.Warn().Err(err).Msg("Failed to cache active attempt")
	}
}

func (s *AttemptService) clearActiveAttempt(ctx context.Context, studentID int) {
	if s.rdb == nil {
		return
	}
	if err := s.rdb.Del(ctx, config.CacheKey.StudentActiveAttemptKey(studentID)).Err(); err != nil {
		s.log.Warn().Err(err).Msg("Failed to clear active attempt cache")
	}
}
