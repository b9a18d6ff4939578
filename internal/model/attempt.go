package model

import (
	"time"

	"github.com/google/uuid"
)

// AttemptStatus enumerates attempt states. in_progress is the only
// non-terminal state; completed and terminated are terminal.
type AttemptStatus string

const (
	AttemptStatusInProgress AttemptStatus = "in_progress"
	AttemptStatusCompleted  AttemptStatus = "completed"
	AttemptStatusTerminated AttemptStatus = "terminated"
)

// Terminal reports whether the status permits no further transitions.
func (s AttemptStatus) Terminal() bool {
	return s == AttemptStatusCompleted || s == AttemptStatusTerminated
}

// Attempt is a student's single authorized instance of taking one exam.
// At most one attempt exists per (student, exam) pair, enforced by a
// storage-level unique constraint. TotalMarks is the exam's question
// count captured when the attempt starts; later edits to the question
// set do not change it.
type Attempt struct {
	ID              uuid.UUID         `json:"id"`
	StudentID       int               `json:"student_id"`
	ExamID          uuid.UUID         `json:"exam_id"`
	TotalMarks      int               `json:"total_marks"`
	Answers         map[string]string `json:"answers"`
	Score           *float64          `json:"score,omitempty"`
	StartedAt       time.Time         `json:"started_at"`
	SubmittedAt     *time.Time        `json:"submitted_at,omitempty"`
	Status          AttemptStatus     `json:"status"`
	WarningsCount   int               `json:"warnings_count"`
	ViolationReason *string           `json:"violation_reason,omitempty"`
}

// RecordAnswerRequest is the payload for an incremental answer save.
type RecordAnswerRequest struct {
	QuestionID uuid.UUID `json:"question_id" binding:"required"`
	Answer     string    `json:"answer" binding:"required,answerletter"`
}

// SubmitExamRequest is the payload for the terminal submit call.
type SubmitExamRequest struct {
	Reason string `json:"reason" binding:"omitempty,max=100"`
}

// SubmitResult is returned once an attempt has been graded.
type SubmitResult struct {
	Score          float64       `json:"score"`
	TotalQuestions int           `json:"total"`
	Status         AttemptStatus `json:"status"`
}

// WarningResult is returned by the warning policy.
type WarningResult struct {
	Warnings        int  `json:"warnings"`
	ShouldTerminate bool `json:"terminate"`
}

// StartedAttempt is the student-facing result of starting an attempt:
// the attempt, the exam metadata, and the shuffled presentation order.
// Questions never carry correct answers here.
type StartedAttempt struct {
	AttemptID uuid.UUID            `json:"attempt_id"`
	Exam      Exam                 `json:"exam"`
	Questions []QuestionForStudent `json:"questions"`
}
