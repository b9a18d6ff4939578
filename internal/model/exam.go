package model

import (
	"time"

	"github.com/google/uuid"
)

// Exam represents an exam definition. It exists independently of attempts.
type Exam struct {
	ID              uuid.UUID `json:"id"`
	Title           string    `json:"title"`
	Description     string    `json:"description"`
	DurationMinutes int       `json:"duration_minutes"`
	PassingScore    float64   `json:"passing_score"`
	IsActive        bool      `json:"is_active"`
	CreatedAt       time.Time `json:"created_at"`
}

// CreateExamRequest is the payload for creating a new exam.
type CreateExamRequest struct {
	Title           string  `json:"title" binding:"required,min=3,max=255"`
	Description     string  `json:"description" binding:"max=2000"`
	DurationMinutes int     `json:"duration_minutes" binding:"required,min=1,max=480"`
	PassingScore    float64 `json:"passing_score" binding:"min=0"`
}
