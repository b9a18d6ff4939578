package service

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/proctorhq/invigil-backend/internal/model"
	"github.com/proctorhq/invigil-backend/internal/repository"
	"github.com/rs/zerolog"
	"github.com/xuri/excelize/v2"
)

// ReportStore is the read-only reporting surface.
type ReportStore interface {
	ListResultsByExam(ctx context.Context, examID uuid.UUID) ([]repository.ExamResultRow, error)
	GetAttemptHeader(ctx context.Context, attemptID uuid.UUID) (*repository.AttemptHeader, error)
}

// MonitoringReader reads an attempt's journal in canonical order.
type MonitoringReader interface {
	ListByAttempt(ctx context.Context, attemptID uuid.UUID) ([]model.MonitoringLog, error)
}

// ReportService builds administrator views over finished attempts and
// their monitoring journals.
type ReportService struct {
	exams   ExamStore
	reports ReportStore
	journal MonitoringReader
	log     zerolog.Logger
}

// NewReportService creates a new ReportService.
func NewReportService(exams ExamStore, reports ReportStore, journal MonitoringReader, log zerolog.Logger) *ReportService {
	return &ReportService{
		exams:   exams,
		reports: reports,
		journal: journal,
		log:     log.With().Str("component", "report_service").Logger(),
	}
}

// ListResults returns the terminal attempts of an exam with student
// identity, newest submissions first.
func (s *ReportService) ListResults(ctx context.Context, examID uuid.UUID) ([]repository.ExamResultRow, error) {
	if _, err := s.exams.GetByID(ctx, examID); err != nil {
		return nil, err
	}
	rows, err := s.reports.ListResultsByExam(ctx, examID)
	if err != nil {
		return nil, fmt.Errorf("list results: %w", err)
	}
	if rows == nil {
		rows = []repository.ExamResultRow{}
	}
	return rows, nil
}

// AuditLog is the full monitoring picture of one attempt: the journal in
// order, the warning subset, and the session window derived from the
// first and last entry.
type AuditLog struct {
	Attempt      *repository.AttemptHeader `json:"attempt"`
	Entries      []model.MonitoringLog     `json:"entries"`
	Warnings     []model.MonitoringLog     `json:"warnings"`
	SessionStart *time.Time                `json:"session_start,omitempty"`
	SessionEnd   *time.Time                `json:"session_end,omitempty"`
	TotalSeconds int                       `json:"total_seconds"`
	TotalMinutes float64                   `json:"total_minutes"`
}

// GetAuditLog assembles the audit view for an attempt. An attempt with
// an empty journal yields a zero session window, not an error.
func (s *ReportService) GetAuditLog(ctx context.Context, attemptID uuid.UUID) (*AuditLog, error) {
	header, err := s.reports.GetAttemptHeader(ctx, attemptID)
	if err != nil {
		return nil, err
	}

	entries, err := s.journal.ListByAttempt(ctx, attemptID)
	if err != nil {
		return nil, fmt.Errorf("list journal: %w", err)
	}

	audit := &AuditLog{
		Attempt:  header,
		Entries:  entries,
		Warnings: []model.MonitoringLog{},
	}
	if len(entries) == 0 {
		audit.Entries = []model.MonitoringLog{}
		return audit, nil
	}

	first := entries[0].Timestamp
	last := entries[len(entries)-1].Timestamp
	audit.SessionStart = &first
	audit.SessionEnd = &last
	audit.TotalSeconds = int(math.Round(last.Sub(first).Seconds()))
	audit.TotalMinutes = math.Round(float64(audit.TotalSeconds)/60*10) / 10

	for _, e := range entries {
		if e.WarningIssued {
			audit.Warnings = append(audit.Warnings, e)
		}
	}
	return audit, nil
}

// ExportMonitoringXLSX renders an attempt's journal as a one-sheet
// workbook with a bold header row. Returns the workbook bytes and a
// suggested filename.
func (s *ReportService) ExportMonitoringXLSX(ctx context.Context, attemptID uuid.UUID) ([]byte, string, error) {
	if _, err := s.reports.GetAttemptHeader(ctx, attemptID); err != nil {
		return nil, "", err
	}

	entries, err := s.journal.ListByAttempt(ctx, attemptID)
	if err != nil {
		return nil, "", fmt.Errorf("list journal: %w", err)
	}

	f := excelize.NewFile()
	defer f.Close()

	const sheet = "Monitoring Logs"
	f.SetSheetName("Sheet1", sheet)

	headers := []any{
		"ID", "Attempt ID", "Event Type", "Face Detected",
		"Gaze Direction", "Head Pose", "Warning Issued",
		"Details", "Created At",
	}
	if err := f.SetSheetRow(sheet, "A1", &headers); err != nil {
		return nil, "", fmt.Errorf("write header: %w", err)
	}

	boldStyle, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return nil, "", fmt.Errorf("header style: %w", err)
	}
	lastCol, _ := excelize.CoordinatesToCellName(len(headers), 1)
	if err := f.SetCellStyle(sheet, "A1", lastCol, boldStyle); err != nil {
		return nil, "", fmt.Errorf("header style: %w", err)
	}

	for i, e := range entries {
		faceDetected := ""
		if e.FaceDetected != nil {
			faceDetected = fmt.Sprintf("%t", *e.FaceDetected)
		}
		row := []any{
			e.ID,
			e.AttemptID.String(),
			e.EventType,
			faceDetected,
			e.GazeDirection,
			e.HeadPose,
			e.WarningIssued,
			e.Details,
			e.Timestamp.Format(time.RFC3339),
		}
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return nil, "", fmt.Errorf("write row: %w", err)
		}
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, "", fmt.Errorf("render workbook: %w", err)
	}

	s.log.Info().
		Str("attempt_id", attemptID.String()).
		Int("entries", len(entries)).
		Msg("Monitoring journal exported")

	filename := fmt.Sprintf("monitoring_attempt_%s.xlsx", attemptID.String())
	return buf.Bytes(), filename, nil
}
