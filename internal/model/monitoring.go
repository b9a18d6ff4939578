package model

import (
	"time"

	"github.com/google/uuid"
)

// Monitoring journal event types. Clients report detection events;
// the server appends WARNING and EXAM_SUBMITTED markers itself.
const (
	EventTypeFaceCheck     = "FACE_CHECK"
	EventTypeGazeCheck     = "GAZE_CHECK"
	EventTypeHeadPoseCheck = "HEAD_POSE_CHECK"
	EventTypeWarning       = "WARNING"
	EventTypeExamSubmitted = "EXAM_SUBMITTED"
)

// MonitoringLog is one append-only journal entry tied to an attempt.
// Entries are never mutated; ordering is (timestamp, id).
type MonitoringLog struct {
	ID            int64     `json:"id"`
	AttemptID     uuid.UUID `json:"attempt_id"`
	Timestamp     time.Time `json:"timestamp"`
	EventType     string    `json:"event_type"`
	FaceDetected  *bool     `json:"face_detected,omitempty"`
	GazeDirection string    `json:"gaze_direction,omitempty"`
	HeadPose      string    `json:"head_pose,omitempty"`
	WarningIssued bool      `json:"warning_issued"`
	Details       string    `json:"details"`
}

// MonitoringEventRequest is the payload of a client-reported detection
// event. Best-effort: the server acks before the entry is durable.
type MonitoringEventRequest struct {
	EventType     string `json:"event_type" binding:"required,max=50"`
	FaceDetected  *bool  `json:"face_detected"`
	GazeDirection string `json:"gaze_direction" binding:"max=50"`
	HeadPose      string `json:"head_pose" binding:"max=50"`
	WarningIssued bool   `json:"warning_issued"`
	Details       string `json:"details" binding:"max=500"`
}
