package service

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/proctorhq/invigil-backend/internal/model"
	"github.com/proctorhq/invigil-backend/internal/repository"
	"github.com/rs/zerolog"
	"github.com/xuri/excelize/v2"
)

type fakeReportStore struct {
	results map[uuid.UUID][]repository.ExamResultRow
	headers map[uuid.UUID]*repository.AttemptHeader
}

func (f *fakeReportStore) ListResultsByExam(_ context.Context, examID uuid.UUID) ([]repository.ExamResultRow, error) {
	return f.results[examID], nil
}

func (f *fakeReportStore) GetAttemptHeader(_ context.Context, attemptID uuid.UUID) (*repository.AttemptHeader, error) {
	h, ok := f.headers[attemptID]
	if !ok {
		return nil, model.ErrNotFound
	}
	return h, nil
}

type fakeMonitoringReader struct {
	logs map[uuid.UUID][]model.MonitoringLog
}

func (f *fakeMonitoringReader) ListByAttempt(_ context.Context, attemptID uuid.UUID) ([]model.MonitoringLog, error) {
	return f.logs[attemptID], nil
}

func newReportFixture() (*ReportService, *fakeReportStore, *fakeMonitoringReader, uuid.UUID, uuid.UUID) {
	examID := uuid.New()
	attemptID := uuid.New()

	exams := &fakeExamStore{exams: map[uuid.UUID]*model.Exam{
		examID: {ID: examID, Title: "Physics Final", IsActive: true},
	}}
	reports := &fakeReportStore{
		results: map[uuid.UUID][]repository.ExamResultRow{},
		headers: map[uuid.UUID]*repository.AttemptHeader{
			attemptID: {AttemptID: attemptID, StudentID: 7, Username: "jdoe", ExamID: examID, ExamTitle: "Physics Final"},
		},
	}
	journal := &fakeMonitoringReader{logs: map[uuid.UUID][]model.MonitoringLog{}}

	svc := NewReportService(exams, reports, journal, zerolog.Nop())
	return svc, reports, journal, examID, attemptID
}

func TestGetAuditLogDerivesSessionWindow(t *testing.T) {
	svc, _, journal, _, attemptID := newReportFixture()

	base := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	journal.logs[attemptID] = []model.MonitoringLog{
		{ID: 1, AttemptID: attemptID, Timestamp: base, EventType: model.EventTypeFaceCheck},
		{ID: 2, AttemptID: attemptID, Timestamp: base.Add(40 * time.Second), EventType: model.EventTypeWarning, WarningIssued: true},
		{ID: 3, AttemptID: attemptID, Timestamp: base.Add(90 * time.Second), EventType: model.EventTypeExamSubmitted},
	}

	audit, err := svc.GetAuditLog(context.Background(), attemptID)
	if err != nil {
		t.Fatalf("GetAuditLog: %v", err)
	}

	if audit.SessionStart == nil || !audit.SessionStart.Equal(base) {
		t.Errorf("session start = %v, want %v", audit.SessionStart, base)
	}
	if audit.SessionEnd == nil || !audit.SessionEnd.Equal(base.Add(90*time.Second)) {
		t.Errorf("session end = %v", audit.SessionEnd)
	}
	if audit.TotalSeconds != 90 {
		t.Errorf("total seconds = %d, want 90", audit.TotalSeconds)
	}
	if audit.TotalMinutes != 1.5 {
		t.Errorf("total minutes = %v, want 1.5", audit.TotalMinutes)
	}
	if len(audit.Warnings) != 1 || audit.Warnings[0].ID != 2 {
		t.Errorf("warnings subset = %+v", audit.Warnings)
	}
	if len(audit.Entries) != 3 {
		t.Errorf("entries = %d, want 3", len(audit.Entries))
	}
}

func TestGetAuditLogEmptyJournal(t *testing.T) {
	svc, _, _, _, attemptID := newReportFixture()

	audit, err := svc.GetAuditLog(context.Background(), attemptID)
	if err != nil {
		t.Fatalf("GetAuditLog: %v", err)
	}
	if audit.SessionStart != nil || audit.SessionEnd != nil {
		t.Errorf("empty journal should have no session window: %+v", audit)
	}
	if audit.TotalSeconds != 0 {
		t.Errorf("total seconds = %d", audit.TotalSeconds)
	}
	if audit.Entries == nil || audit.Warnings == nil {
		t.Error("entries and warnings should be empty slices, not nil")
	}
}

func TestGetAuditLogUnknownAttempt(t *testing.T) {
	svc, _, _, _, _ := newReportFixture()

	if _, err := svc.GetAuditLog(context.Background(), uuid.New()); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}

func TestListResultsUnknownExam(t *testing.T) {
	svc, _, _, _, _ := newReportFixture()

	if _, err := svc.ListResults(context.Background(), uuid.New()); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}

func TestListResultsEmpty(t *testing.T) {
	svc, _, _, examID, _ := newReportFixture()

	results, err := svc.ListResults(context.Background(), examID)
	if err != nil {
		t.Fatalf("ListResults: %v", err)
	}
	if results == nil {
		t.Error("results should be an empty slice, not nil")
	}
}

func TestExportMonitoringXLSX(t *testing.T) {
	svc, _, journal, _, attemptID := newReportFixture()

	detected := true
	journal.logs[attemptID] = []model.MonitoringLog{
		{ID: 1, AttemptID: attemptID, Timestamp: time.Now(), EventType: model.EventTypeFaceCheck, FaceDetected: &detected},
		{ID: 2, AttemptID: attemptID, Timestamp: time.Now(), EventType: model.EventTypeWarning, WarningIssued: true, Details: "Warning 1 issued"},
	}

	data, filename, err := svc.ExportMonitoringXLSX(context.Background(), attemptID)
	if err != nil {
		t.Fatalf("ExportMonitoringXLSX: %v", err)
	}
	if filename == "" {
		t.Error("empty filename")
	}

	wb, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("reopen workbook: %v", err)
	}
	defer wb.Close()

	rows, err := wb.GetRows("Monitoring Logs")
	if err != nil {
		t.Fatalf("read sheet: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("rows = %d, want header + 2 entries", len(rows))
	}
	if rows[0][0] != "ID" || rows[0][2] != "Event Type" {
		t.Errorf("header = %v", rows[0])
	}
	if rows[2][7] != "Warning 1 issued" {
		t.Errorf("details cell = %q", rows[2][7])
	}
}

func TestExportMonitoringXLSXUnknownAttempt(t *testing.T) {
	svc, _, _, _, _ := newReportFixture()

	if _, _, err := svc.ExportMonitoringXLSX(context.Background(), uuid.New()); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}
