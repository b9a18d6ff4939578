package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/proctorhq/invigil-backend/internal/model"
	"github.com/proctorhq/invigil-backend/internal/repository"
	"github.com/rs/zerolog"
)

// ─── Fakes ───────────────────────────────────────────────────────────

type fakeExamStore struct {
	exams map[uuid.UUID]*model.Exam
}

func (f *fakeExamStore) Create(_ context.Context, e *model.Exam) error {
	e.ID = uuid.New()
	e.IsActive = true
	f.exams[e.ID] = e
	return nil
}

func (f *fakeExamStore) GetByID(_ context.Context, id uuid.UUID) (*model.Exam, error) {
	e, ok := f.exams[id]
	if !ok {
		return nil, model.ErrNotFound
	}
	return e, nil
}

func (f *fakeExamStore) List(_ context.Context) ([]model.Exam, error) {
	var out []model.Exam
	for _, e := range f.exams {
		out = append(out, *e)
	}
	return out, nil
}

func (f *fakeExamStore) ListActive(_ context.Context) ([]model.Exam, error) {
	var out []model.Exam
	for _, e := range f.exams {
		if e.IsActive {
			out = append(out, *e)
		}
	}
	return out, nil
}

func (f *fakeExamStore) Delete(_ context.Context, id uuid.UUID) error {
	if _, ok := f.exams[id]; !ok {
		return model.ErrNotFound
	}
	delete(f.exams, id)
	return nil
}

type fakeQuestionStore struct {
	questions map[uuid.UUID][]model.Question
}

func (f *fakeQuestionStore) ListByExam(_ context.Context, examID uuid.UUID) ([]model.Question, error) {
	return f.questions[examID], nil
}

func (f *fakeQuestionStore) CountByExam(_ context.Context, examID uuid.UUID) (int, error) {
	return len(f.questions[examID]), nil
}

func (f *fakeQuestionStore) CreateBatch(_ context.Context, questions []model.Question) error {
	for i := range questions {
		questions[i].ID = uuid.New()
		f.questions[questions[i].ExamID] = append(f.questions[questions[i].ExamID], questions[i])
	}
	return nil
}

// fakeAttemptStore mirrors the storage-level guarantees: pair uniqueness
// on create, status guard on merge, atomic warning counts, a terminal
// check before grading.
type fakeAttemptStore struct {
	attempts map[uuid.UUID]*model.Attempt
	byPair   map[string]uuid.UUID
}

func newFakeAttemptStore() *fakeAttemptStore {
	return &fakeAttemptStore{
		attempts: make(map[uuid.UUID]*model.Attempt),
		byPair:   make(map[string]uuid.UUID),
	}
}

func pairKey(studentID int, examID uuid.UUID) string {
	return fmt.Sprintf("%d/%s", studentID, examID)
}

func (f *fakeAttemptStore) Create(_ context.Context, a *model.Attempt) error {
	key := pairKey(a.StudentID, a.ExamID)
	if _, exists := f.byPair[key]; exists {
		return model.ErrAlreadyAttempted
	}
	a.ID = uuid.New()
	a.Status = model.AttemptStatusInProgress
	a.StartedAt = time.Now()
	if a.Answers == nil {
		a.Answers = map[string]string{}
	}
	f.attempts[a.ID] = a
	f.byPair[key] = a.ID
	return nil
}

func (f *fakeAttemptStore) GetByID(_ context.Context, id uuid.UUID) (*model.Attempt, error) {
	a, ok := f.attempts[id]
	if !ok {
		return nil, model.ErrNotFound
	}
	copied := *a
	return &copied, nil
}

func (f *fakeAttemptStore) GetByStudentAndExam(_ context.Context, studentID int, examID uuid.UUID) (*model.Attempt, error) {
	id, ok := f.byPair[pairKey(studentID, examID)]
	if !ok {
		return nil, model.ErrNotFound
	}
	copied := *f.attempts[id]
	return &copied, nil
}

func (f *fakeAttemptStore) MergeAnswer(_ context.Context, attemptID uuid.UUID, studentID int, questionID, answer string) error {
	a, ok := f.attempts[attemptID]
	if !ok {
		return model.ErrNotFound
	}
	if a.StudentID != studentID {
		return model.ErrNotFound
	}
	if a.Status.Terminal() {
		return model.ErrAttemptClosed
	}
	a.Answers[questionID] = answer
	return nil
}

func (f *fakeAttemptStore) IssueWarning(_ context.Context, attemptID uuid.UUID) (int, error) {
	a, ok := f.attempts[attemptID]
	if !ok {
		return 0, model.ErrNotFound
	}
	if a.Status.Terminal() {
		return 0, model.ErrAttemptClosed
	}
	a.WarningsCount++
	return a.WarningsCount, nil
}

func (f *fakeAttemptStore) Submit(ctx context.Context, attemptID uuid.UUID, reason string, status model.AttemptStatus, grade repository.GradeFunc) (*model.Attempt, int, error) {
	a, ok := f.attempts[attemptID]
	if !ok {
		return nil, 0, model.ErrNotFound
	}
	if a.Status.Terminal() {
		return nil, 0, model.ErrAttemptClosed
	}

	score, total, err := grade(ctx, a.ExamID, a.Answers)
	if err != nil {
		return nil, 0, err
	}

	now := time.Now()
	a.Score = &score
	a.SubmittedAt = &now
	a.Status = status
	a.ViolationReason = &reason

	copied := *a
	return &copied, total, nil
}

func (f *fakeAttemptStore) ListExamIDsByStudent(_ context.Context, studentID int) (map[uuid.UUID]struct{}, error) {
	ids := make(map[uuid.UUID]struct{})
	for _, a := range f.attempts {
		if a.StudentID == studentID {
			ids[a.ExamID] = struct{}{}
		}
	}
	return ids, nil
}

type fakeJournal struct {
	entries []*model.MonitoringLog
}

func (f *fakeJournal) Append(_ context.Context, l *model.MonitoringLog) error {
	f.entries = append(f.entries, l)
	return nil
}

type fakeQueue struct {
	payloads [][]byte
	fail     bool
}

func (f *fakeQueue) Enqueue(_ context.Context, payload []byte) error {
	if f.fail {
		return errors.New("queue down")
	}
	f.payloads = append(f.payloads, payload)
	return nil
}

type fakeBroadcaster struct {
	events []any
}

func (f *fakeBroadcaster) Broadcast(_ context.Context, _ uuid.UUID, event any) {
	f.events = append(f.events, event)
}

// ─── Harness ─────────────────────────────────────────────────────────

type attemptFixture struct {
	svc       *AttemptService
	exams     *fakeExamStore
	questions *fakeQuestionStore
	attempts  *fakeAttemptStore
	journal   *fakeJournal
	queue     *fakeQueue
	bcast     *fakeBroadcaster
	examID    uuid.UUID
	q1        model.Question
	q2        model.Question
}

// newAttemptFixture seeds one active exam with two questions:
// q1 correct B worth 2 marks, q2 correct C worth 1 mark.
func newAttemptFixture(t *testing.T) *attemptFixture {
	t.Helper()

	examID := uuid.New()
	exams := &fakeExamStore{exams: map[uuid.UUID]*model.Exam{
		examID: {ID: examID, Title: "Algebra Final", DurationMinutes: 60, IsActive: true},
	}}

	q1 := model.Question{ID: uuid.New(), ExamID: examID, QuestionText: "Q1", CorrectAnswer: "B", Marks: 2, Position: 0}
	q2 := model.Question{ID: uuid.New(), ExamID: examID, QuestionText: "Q2", CorrectAnswer: "C", Marks: 1, Position: 1}
	questions := &fakeQuestionStore{questions: map[uuid.UUID][]model.Question{
		examID: {q1, q2},
	}}

	attempts := newFakeAttemptStore()
	journal := &fakeJournal{}
	queue := &fakeQueue{}
	bcast := &fakeBroadcaster{}

	svc := NewAttemptService(attempts, exams, questions, journal, queue, bcast, nil, zerolog.Nop())

	return &attemptFixture{
		svc:       svc,
		exams:     exams,
		questions: questions,
		attempts:  attempts,
		journal:   journal,
		queue:     queue,
		bcast:     bcast,
		examID:    examID,
		q1:        q1,
		q2:        q2,
	}
}

func (fx *attemptFixture) start(t *testing.T, studentID int) *model.StartedAttempt {
	t.Helper()
	started, err := fx.svc.StartAttempt(context.Background(), studentID, fx.examID)
	if err != nil {
		t.Fatalf("StartAttempt: %v", err)
	}
	return started
}

// ─── Start ───────────────────────────────────────────────────────────

func TestStartAttemptNoQuestions(t *testing.T) {
	fx := newAttemptFixture(t)
	emptyExam := uuid.New()
	fx.exams.exams[emptyExam] = &model.Exam{ID: emptyExam, Title: "Empty", IsActive: true}

	_, err := fx.svc.StartAttempt(context.Background(), 1, emptyExam)
	if !errors.Is(err, model.ErrNoQuestions) {
		t.Fatalf("got %v, want ErrNoQuestions", err)
	}
}

func TestStartAttemptInactiveExam(t *testing.T) {
	fx := newAttemptFixture(t)
	fx.exams.exams[fx.examID].IsActive = false

	_, err := fx.svc.StartAttempt(context.Background(), 1, fx.examID)
	if !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}

func TestStartAttemptSingleAttemptPerStudent(t *testing.T) {
	fx := newAttemptFixture(t)
	fx.start(t, 1)

	_, err := fx.svc.StartAttempt(context.Background(), 1, fx.examID)
	if !errors.Is(err, model.ErrAlreadyAttempted) {
		t.Fatalf("got %v, want ErrAlreadyAttempted", err)
	}

	// A different student is unaffected.
	if _, err := fx.svc.StartAttempt(context.Background(), 2, fx.examID); err != nil {
		t.Fatalf("second student: %v", err)
	}
}

func TestStartAttemptReturnsAllQuestions(t *testing.T) {
	fx := newAttemptFixture(t)
	started := fx.start(t, 1)

	if len(started.Questions) != 2 {
		t.Fatalf("got %d questions, want 2", len(started.Questions))
	}

	seen := map[uuid.UUID]bool{}
	for _, q := range started.Questions {
		seen[q.ID] = true
	}
	if !seen[fx.q1.ID] || !seen[fx.q2.ID] {
		t.Errorf("shuffled set lost a question: %v", seen)
	}
	if started.Exam.ID != fx.examID {
		t.Errorf("exam id = %s, want %s", started.Exam.ID, fx.examID)
	}
}

func TestStartAttemptTotalMarksIsQuestionCount(t *testing.T) {
	fx := newAttemptFixture(t)
	started := fx.start(t, 1)

	// The fixture's marks weights sum to 3; total_marks must still be
	// the question count, not the weight sum.
	attempt, err := fx.attempts.GetByID(context.Background(), started.AttemptID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if attempt.TotalMarks != 2 {
		t.Errorf("total_marks = %d, want 2 (question count)", attempt.TotalMarks)
	}
}

// ─── Answers ─────────────────────────────────────────────────────────

func TestRecordAnswerLastWriteWins(t *testing.T) {
	fx := newAttemptFixture(t)
	started := fx.start(t, 1)
	ctx := context.Background()

	first := &model.RecordAnswerRequest{QuestionID: fx.q1.ID, Answer: "A"}
	if err := fx.svc.RecordAnswer(ctx, 1, started.AttemptID, first); err != nil {
		t.Fatalf("first answer: %v", err)
	}
	second := &model.RecordAnswerRequest{QuestionID: fx.q1.ID, Answer: "B"}
	if err := fx.svc.RecordAnswer(ctx, 1, started.AttemptID, second); err != nil {
		t.Fatalf("second answer: %v", err)
	}
	other := &model.RecordAnswerRequest{QuestionID: fx.q2.ID, Answer: "C"}
	if err := fx.svc.RecordAnswer(ctx, 1, started.AttemptID, other); err != nil {
		t.Fatalf("other answer: %v", err)
	}

	attempt, err := fx.svc.GetAttempt(ctx, 1, started.AttemptID)
	if err != nil {
		t.Fatalf("GetAttempt: %v", err)
	}
	if got := attempt.Answers[fx.q1.ID.String()]; got != "B" {
		t.Errorf("q1 answer = %q, want B", got)
	}
	if got := attempt.Answers[fx.q2.ID.String()]; got != "C" {
		t.Errorf("q2 answer = %q, want C", got)
	}
}

func TestRecordAnswerRejectedAfterSubmit(t *testing.T) {
	fx := newAttemptFixture(t)
	started := fx.start(t, 1)
	ctx := context.Background()

	if _, err := fx.svc.SubmitExam(ctx, 1, started.AttemptID, ""); err != nil {
		t.Fatalf("SubmitExam: %v", err)
	}

	req := &model.RecordAnswerRequest{QuestionID: fx.q1.ID, Answer: "B"}
	if err := fx.svc.RecordAnswer(ctx, 1, started.AttemptID, req); !errors.Is(err, model.ErrAttemptClosed) {
		t.Fatalf("got %v, want ErrAttemptClosed", err)
	}
}

func TestRecordAnswerOtherStudentsAttemptHidden(t *testing.T) {
	fx := newAttemptFixture(t)
	started := fx.start(t, 1)

	req := &model.RecordAnswerRequest{QuestionID: fx.q1.ID, Answer: "B"}
	if err := fx.svc.RecordAnswer(context.Background(), 2, started.AttemptID, req); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}

// ─── Warnings ────────────────────────────────────────────────────────

func TestWarningsAccumulateAndTerminate(t *testing.T) {
	fx := newAttemptFixture(t)
	started := fx.start(t, 1)
	ctx := context.Background()

	for i := 1; i <= 2; i++ {
		result, err := fx.svc.IssueWarning(ctx, 1, started.AttemptID)
		if err != nil {
			t.Fatalf("warning %d: %v", i, err)
		}
		if result.Warnings != i {
			t.Errorf("warning %d: count = %d", i, result.Warnings)
		}
		if result.ShouldTerminate {
			t.Errorf("warning %d: premature terminate", i)
		}
	}

	result, err := fx.svc.IssueWarning(ctx, 1, started.AttemptID)
	if err != nil {
		t.Fatalf("third warning: %v", err)
	}
	if !result.ShouldTerminate {
		t.Fatal("third warning should terminate")
	}

	attempt, err := fx.svc.GetAttempt(ctx, 1, started.AttemptID)
	if err != nil {
		t.Fatalf("GetAttempt: %v", err)
	}
	if attempt.Status != model.AttemptStatusTerminated {
		t.Errorf("status = %s, want terminated", attempt.Status)
	}
	if attempt.ViolationReason == nil || *attempt.ViolationReason != "violations" {
		t.Errorf("violation reason = %v, want violations", attempt.ViolationReason)
	}
	if attempt.Score == nil {
		t.Error("terminated attempt should still be graded")
	}
}

func TestWarningOnTerminalAttempt(t *testing.T) {
	fx := newAttemptFixture(t)
	started := fx.start(t, 1)
	ctx := context.Background()

	if _, err := fx.svc.SubmitExam(ctx, 1, started.AttemptID, ""); err != nil {
		t.Fatalf("SubmitExam: %v", err)
	}

	if _, err := fx.svc.IssueWarning(ctx, 1, started.AttemptID); !errors.Is(err, model.ErrAttemptClosed) {
		t.Fatalf("got %v, want ErrAttemptClosed", err)
	}

	// The rejection must leave the counter alone even at the store
	// level, where a warning can race the submit.
	if _, err := fx.attempts.IssueWarning(ctx, started.AttemptID); !errors.Is(err, model.ErrAttemptClosed) {
		t.Fatalf("store: got %v, want ErrAttemptClosed", err)
	}
	attempt, err := fx.attempts.GetByID(ctx, started.AttemptID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if attempt.WarningsCount != 0 {
		t.Errorf("warnings_count = %d, want 0 after close", attempt.WarningsCount)
	}
}

// ─── Submit ──────────────────────────────────────────────────────────

func TestSubmitGradesAgainstCanonicalQuestions(t *testing.T) {
	fx := newAttemptFixture(t)
	started := fx.start(t, 1)
	ctx := context.Background()

	// q1 answered correctly in lowercase, q2 answered wrong.
	answers := []model.RecordAnswerRequest{
		{QuestionID: fx.q1.ID, Answer: "b"},
		{QuestionID: fx.q2.ID, Answer: "D"},
	}
	for i := range answers {
		if err := fx.svc.RecordAnswer(ctx, 1, started.AttemptID, &answers[i]); err != nil {
			t.Fatalf("RecordAnswer: %v", err)
		}
	}

	result, err := fx.svc.SubmitExam(ctx, 1, started.AttemptID, "")
	if err != nil {
		t.Fatalf("SubmitExam: %v", err)
	}
	if result.Score != 2 {
		t.Errorf("score = %v, want 2", result.Score)
	}
	if result.TotalQuestions != 2 {
		t.Errorf("total = %d, want 2", result.TotalQuestions)
	}
	if result.Status != model.AttemptStatusCompleted {
		t.Errorf("status = %s, want completed", result.Status)
	}
}

func TestSubmitTwiceRejected(t *testing.T) {
	fx := newAttemptFixture(t)
	started := fx.start(t, 1)
	ctx := context.Background()

	if _, err := fx.svc.SubmitExam(ctx, 1, started.AttemptID, ""); err != nil {
		t.Fatalf("first submit: %v", err)
	}
	if _, err := fx.svc.SubmitExam(ctx, 1, started.AttemptID, ""); !errors.Is(err, model.ErrAttemptClosed) {
		t.Fatalf("got %v, want ErrAttemptClosed", err)
	}
}

func TestSubmitViolationsTerminates(t *testing.T) {
	fx := newAttemptFixture(t)
	started := fx.start(t, 1)

	result, err := fx.svc.SubmitExam(context.Background(), 1, started.AttemptID, "violations")
	if err != nil {
		t.Fatalf("SubmitExam: %v", err)
	}
	if result.Status != model.AttemptStatusTerminated {
		t.Errorf("status = %s, want terminated", result.Status)
	}
}

func TestSubmitUnansweredScoresZero(t *testing.T) {
	fx := newAttemptFixture(t)
	started := fx.start(t, 1)

	result, err := fx.svc.SubmitExam(context.Background(), 1, started.AttemptID, "")
	if err != nil {
		t.Fatalf("SubmitExam: %v", err)
	}
	if result.Score != 0 {
		t.Errorf("score = %v, want 0", result.Score)
	}
}

// ─── Monitoring ──────────────────────────────────────────────────────

func TestMonitoringEventEnqueued(t *testing.T) {
	fx := newAttemptFixture(t)
	started := fx.start(t, 1)

	req := &model.MonitoringEventRequest{EventType: model.EventTypeFaceCheck, Details: "no face"}
	if err := fx.svc.RecordMonitoringEvent(context.Background(), 1, started.AttemptID, req); err != nil {
		t.Fatalf("RecordMonitoringEvent: %v", err)
	}

	if len(fx.queue.payloads) != 1 {
		t.Fatalf("queued %d payloads, want 1", len(fx.queue.payloads))
	}
	if len(fx.journal.entries) != 0 {
		t.Errorf("journal written directly despite healthy queue")
	}
}

func TestMonitoringEventFallsBackWhenQueueDown(t *testing.T) {
	fx := newAttemptFixture(t)
	started := fx.start(t, 1)
	fx.queue.fail = true

	req := &model.MonitoringEventRequest{EventType: model.EventTypeGazeCheck, GazeDirection: "left"}
	if err := fx.svc.RecordMonitoringEvent(context.Background(), 1, started.AttemptID, req); err != nil {
		t.Fatalf("RecordMonitoringEvent: %v", err)
	}

	if len(fx.journal.entries) != 1 {
		t.Fatalf("journal entries = %d, want 1", len(fx.journal.entries))
	}
	if fx.journal.entries[0].EventType != model.EventTypeGazeCheck {
		t.Errorf("event type = %s", fx.journal.entries[0].EventType)
	}
}

func TestMonitoringEventOtherStudentsAttemptHidden(t *testing.T) {
	fx := newAttemptFixture(t)
	started := fx.start(t, 1)

	req := &model.MonitoringEventRequest{EventType: model.EventTypeFaceCheck}
	if err := fx.svc.RecordMonitoringEvent(context.Background(), 2, started.AttemptID, req); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}

// ─── Dashboard ───────────────────────────────────────────────────────

func TestDashboardMarksAttemptedExams(t *testing.T) {
	fx := newAttemptFixture(t)
	otherExam := uuid.New()
	fx.exams.exams[otherExam] = &model.Exam{ID: otherExam, Title: "Geometry", IsActive: true}
	fx.questions.questions[otherExam] = []model.Question{
		{ID: uuid.New(), ExamID: otherExam, CorrectAnswer: "A", Marks: 1},
	}

	fx.start(t, 1)

	views, err := fx.svc.Dashboard(context.Background(), 1)
	if err != nil {
		t.Fatalf("Dashboard: %v", err)
	}
	if len(views) != 2 {
		t.Fatalf("got %d exams, want 2", len(views))
	}
	for _, v := range views {
		want := v.Exam.ID == fx.examID
		if v.Attempted != want {
			t.Errorf("exam %s attempted = %v, want %v", v.Exam.Title, v.Attempted, want)
		}
	}
}
