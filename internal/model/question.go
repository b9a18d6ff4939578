package model

import (
	"github.com/google/uuid"
)

// Question represents a single four-option multiple-choice question.
// CorrectAnswer is one of "A".."D".
type Question struct {
	ID            uuid.UUID `json:"id"`
	ExamID        uuid.UUID `json:"exam_id"`
	QuestionText  string    `json:"question_text"`
	OptionA       string    `json:"option_a"`
	OptionB       string    `json:"option_b"`
	OptionC       string    `json:"option_c"`
	OptionD       string    `json:"option_d"`
	CorrectAnswer string    `json:"correct_answer"`
	Marks         int       `json:"marks"`
	Position      int       `json:"position"`
}

// QuestionRow is one row of an imported question sheet, prior to
// normalization.
type QuestionRow struct {
	QuestionText  string `json:"question_text"`
	OptionA       string `json:"option_a"`
	OptionB       string `json:"option_b"`
	OptionC       string `json:"option_c"`
	OptionD       string `json:"option_d"`
	CorrectAnswer string `json:"correct_answer"`
}

// ImportQuestionsRequest is the JSON payload for importing questions
// without a spreadsheet upload.
type ImportQuestionsRequest struct {
	Rows []QuestionRow `json:"rows" binding:"required,dive"`
}

// QuestionForStudent is a question stripped of its correct answer,
// safe to hand to a student client.
type QuestionForStudent struct {
	ID           uuid.UUID `json:"id"`
	QuestionText string    `json:"question_text"`
	OptionA      string    `json:"option_a"`
	OptionB      string    `json:"option_b"`
	OptionC      string    `json:"option_c"`
	OptionD      string    `json:"option_d"`
	Marks        int       `json:"marks"`
}

// ForStudent strips the grading fields from a question.
func (q Question) ForStudent() QuestionForStudent {
	return QuestionForStudent{
		ID:           q.ID,
		QuestionText: q.QuestionText,
		OptionA:      q.OptionA,
		OptionB:      q.OptionB,
		OptionC:      q.OptionC,
		OptionD:      q.OptionD,
		Marks:        q.Marks,
	}
}
