package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/proctorhq/invigil-backend/internal/model"
	"github.com/rs/zerolog"
)

// ExamStore is the exam persistence surface.
type ExamStore interface {
	Create(ctx context.Context, e *model.Exam) error
	GetByID(ctx context.Context, id uuid.UUID) (*model.Exam, error)
	List(ctx context.Context) ([]model.Exam, error)
	ListActive(ctx context.Context) ([]model.Exam, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// QuestionStore is the question persistence surface.
type QuestionStore interface {
	ListByExam(ctx context.Context, examID uuid.UUID) ([]model.Question, error)
	CountByExam(ctx context.Context, examID uuid.UUID) (int, error)
	CreateBatch(ctx context.Context, questions []model.Question) error
}

// ExamService handles exam authoring. It never touches attempts.
type ExamService struct {
	exams     ExamStore
	questions QuestionStore
	log       zerolog.Logger
}

// NewExamService creates a new ExamService.
func NewExamService(exams ExamStore, questions QuestionStore, log zerolog.Logger) *ExamService {
	return &ExamService{
		exams:     exams,
		questions: questions,
		log:       log.With().Str("component", "exam_service").Logger(),
	}
}

// Create inserts a new exam, active by default.
func (s *ExamService) Create(ctx context.Context, req *model.CreateExamRequest) (*model.Exam, error) {
	exam := &model.Exam{
		Title:           req.Title,
		Description:     req.Description,
		DurationMinutes: req.DurationMinutes,
		PassingScore:    req.PassingScore,
	}
	if err := s.exams.Create(ctx, exam); err != nil {
		return nil, fmt.Errorf("create exam: %w", err)
	}

	s.log.Info().Str("exam_id", exam.ID.String()).Str("title", exam.Title).Msg("Exam created")
	return exam, nil
}

// GetByID retrieves an exam.
func (s *ExamService) GetByID(ctx context.Context, id uuid.UUID) (*model.Exam, error) {
	return s.exams.GetByID(ctx, id)
}

// List retrieves all exams for the admin dashboard.
func (s *ExamService) List(ctx context.Context) ([]model.Exam, error) {
	exams, err := s.exams.List(ctx)
	if err != nil {
		return nil, err
	}
	if exams == nil {
		exams = []model.Exam{}
	}
	return exams, nil
}

// ImportQuestions normalizes and inserts a batch of question rows for an
// exam. Rows with an empty question text are sheet padding and skipped
// silently; the correct answer is uppercased and defaults to "A". The
// whole batch is one transaction at the storage layer, so a mid-import
// failure leaves nothing behind. Returns the number of rows inserted.
func (s *ExamService) ImportQuestions(ctx context.Context, examID uuid.UUID, rows []model.QuestionRow) (int, error) {
	if _, err := s.exams.GetByID(ctx, examID); err != nil {
		return 0, err
	}

	existing, err := s.questions.CountByExam(ctx, examID)
	if err != nil {
		return 0, fmt.Errorf("count questions: %w", err)
	}

	questions := make([]model.Question, 0, len(rows))
	for _, row := range rows {
		if strings.TrimSpace(row.QuestionText) == "" {
			continue
		}
		questions = append(questions, model.Question{
			ExamID:        examID,
			QuestionText:  row.QuestionText,
			OptionA:       row.OptionA,
			OptionB:       row.OptionB,
			OptionC:       row.OptionC,
			OptionD:       row.OptionD,
			CorrectAnswer: normalizeCorrectAnswer(row.CorrectAnswer),
			Marks:         1,
			Position:      existing + len(questions),
		})
	}

	if err := s.questions.CreateBatch(ctx, questions); err != nil {
		return 0, fmt.Errorf("insert questions: %w", err)
	}

	s.log.Info().
		Str("exam_id", examID.String()).
		Int("inserted", len(questions)).
		Int("skipped", len(rows)-len(questions)).
		Msg("Questions imported")
	return len(questions), nil
}

// Delete removes an exam and, via storage-level cascade, its questions,
// attempts and monitoring logs in a single transaction.
func (s *ExamService) Delete(ctx context.Context, id uuid.UUID) error {
	if err := s.exams.Delete(ctx, id); err != nil {
		return err
	}
	s.log.Info().Str("exam_id", id.String()).Msg("Exam deleted with cascade")
	return nil
}

// normalizeCorrectAnswer uppercases the answer label. Anything outside
// A-D, including a blank cell, falls back to "A"; the storage layer
// enforces the same set.
func normalizeCorrectAnswer(raw string) string {
	answer := strings.ToUpper(strings.TrimSpace(raw))
	switch answer {
	case "A", "B", "C", "D":
		return answer
	}
	return "A"
}
