package service

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/proctorhq/invigil-backend/internal/model"
	"github.com/rs/zerolog"
)

func newExamFixture() (*ExamService, *fakeExamStore, *fakeQuestionStore, uuid.UUID) {
	examID := uuid.New()
	exams := &fakeExamStore{exams: map[uuid.UUID]*model.Exam{
		examID: {ID: examID, Title: "History Midterm", IsActive: true},
	}}
	questions := &fakeQuestionStore{questions: map[uuid.UUID][]model.Question{}}
	svc := NewExamService(exams, questions, zerolog.Nop())
	return svc, exams, questions, examID
}

func TestImportQuestionsNormalization(t *testing.T) {
	svc, _, questions, examID := newExamFixture()

	rows := []model.QuestionRow{
		{QuestionText: "Capital of France?", OptionA: "Paris", OptionB: "Lyon", OptionC: "Nice", OptionD: "Lille", CorrectAnswer: "a"},
		{QuestionText: "   ", OptionA: "x"}, // sheet padding, skipped
		{QuestionText: "2+2?", OptionA: "3", OptionB: "4", OptionC: "5", OptionD: "6", CorrectAnswer: " b "},
		{QuestionText: "Largest ocean?", OptionA: "Pacific", OptionB: "Atlantic", OptionC: "Indian", OptionD: "Arctic"},
		{QuestionText: "Stray label?", OptionA: "x", OptionB: "y", OptionC: "z", OptionD: "w", CorrectAnswer: "E"},
	}

	inserted, err := svc.ImportQuestions(context.Background(), examID, rows)
	if err != nil {
		t.Fatalf("ImportQuestions: %v", err)
	}
	if inserted != 4 {
		t.Fatalf("inserted = %d, want 4", inserted)
	}

	stored := questions.questions[examID]
	if len(stored) != 4 {
		t.Fatalf("stored = %d, want 4", len(stored))
	}

	if stored[0].CorrectAnswer != "A" {
		t.Errorf("row 0 correct = %q, want A (uppercased)", stored[0].CorrectAnswer)
	}
	if stored[1].CorrectAnswer != "B" {
		t.Errorf("row 1 correct = %q, want B (trimmed, uppercased)", stored[1].CorrectAnswer)
	}
	if stored[2].CorrectAnswer != "A" {
		t.Errorf("row 2 correct = %q, want A (default)", stored[2].CorrectAnswer)
	}
	if stored[3].CorrectAnswer != "A" {
		t.Errorf("row 3 correct = %q, want A (clamped)", stored[3].CorrectAnswer)
	}

	for i, q := range stored {
		if q.Position != i {
			t.Errorf("row %d position = %d", i, q.Position)
		}
		if q.Marks != 1 {
			t.Errorf("row %d marks = %d, want 1", i, q.Marks)
		}
	}
}

func TestImportQuestionsAppendsPositions(t *testing.T) {
	svc, _, questions, examID := newExamFixture()

	first := []model.QuestionRow{{QuestionText: "One?", CorrectAnswer: "A"}}
	if _, err := svc.ImportQuestions(context.Background(), examID, first); err != nil {
		t.Fatalf("first import: %v", err)
	}

	second := []model.QuestionRow{{QuestionText: "Two?", CorrectAnswer: "B"}}
	if _, err := svc.ImportQuestions(context.Background(), examID, second); err != nil {
		t.Fatalf("second import: %v", err)
	}

	stored := questions.questions[examID]
	if len(stored) != 2 {
		t.Fatalf("stored = %d, want 2", len(stored))
	}
	if stored[1].Position != 1 {
		t.Errorf("appended position = %d, want 1", stored[1].Position)
	}
}

func TestImportQuestionsUnknownExam(t *testing.T) {
	svc, _, _, _ := newExamFixture()

	_, err := svc.ImportQuestions(context.Background(), uuid.New(), []model.QuestionRow{{QuestionText: "?"}})
	if !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}

func TestDeleteExam(t *testing.T) {
	svc, exams, _, examID := newExamFixture()

	if err := svc.Delete(context.Background(), examID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok := exams.exams[examID]; ok {
		t.Error("exam still present after delete")
	}

	if err := svc.Delete(context.Background(), examID); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("second delete: got %v, want ErrNotFound", err)
	}
}
