package service

import (
	"strings"

	"github.com/proctorhq/invigil-backend/internal/model"
)

// ScoreAnswers grades an answer map against the canonical question set.
// Comparison is case-insensitive; an unanswered or unknown question
// contributes zero. The result is deterministic for a given question
// set and answer map.
func ScoreAnswers(questions []model.Question, answers map[string]string) float64 {
	var score float64
	for _, q := range questions {
		given, ok := answers[q.ID.String()]
		if !ok {
			continue
		}
		if strings.EqualFold(strings.TrimSpace(given), q.CorrectAnswer) {
			score += float64(q.Marks)
		}
	}
	return score
}
