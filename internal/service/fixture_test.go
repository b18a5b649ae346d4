package service

import (
	"bytes"
	"context"
	"errors"
	"io"
	"school_exam_backend/internal/config"
	"school_exam_backend/internal/model"
	"school_exam_backend/internal/repository"
	"school_exam_backend/pkg/database"
	"school_exam_backend/pkg/lock"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// memoryStorage 内存存储，可模拟上传失败；onDelete 在删除前调用，可用于模拟请求中途取消
type memoryStorage struct {
	mu         sync.Mutex
	files      map[string][]byte
	failUpload bool
	onDelete   func()
}

func newMemoryStorage() *memoryStorage {
	return &memoryStorage{files: make(map[string][]byte)}
}

func (m *memoryStorage) Upload(ctx context.Context, key string, reader io.Reader, size int64, contentType string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failUpload {
		return "", errors.New("storage unavailable")
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return "", err
	}
	m.files[key] = data
	return key, nil
}

func (m *memoryStorage) Delete(ctx context.Context, key string) error {
	if m.onDelete != nil {
		m.onDelete()
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.files, key)
	return nil
}

func (m *memoryStorage) GetURL(key string) string {
	return "/files/" + key
}

func (m *memoryStorage) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.files)
}

type fixture struct {
	t   *testing.T
	db  *gorm.DB
	now time.Time

	store *memoryStorage

	classRepo   *repository.ClassRepository
	userRepo    *repository.UserRepository
	attemptRepo *repository.AttemptRepository

	exams       *ExamService
	assignments *AssignmentService
	attempts    *AttemptService
	responses   *ResponseService
	scoring     *ScoringService

	teacher Principal
	student Principal
	class   *model.Class
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db := database.NewTestDB(t)
	f := &fixture{
		t:     t,
		db:    db,
		now:   time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC),
		store: newMemoryStorage(),
	}
	clock := func() time.Time { return f.now }

	storage := &StorageService{Provider: f.store}
	settings := NewExamSettings(config.ExamConfig{SubmitGraceSeconds: 30, LockWaitMillis: 5000})
	locker := lock.NewLocalLocker()

	f.userRepo = repository.NewUserRepository(db)
	f.classRepo = repository.NewClassRepository(db)
	f.attemptRepo = repository.NewAttemptRepository(db)
	examRepo := repository.NewExamRepository(db)
	assignmentRepo := repository.NewAssignmentRepository(db)
	responseRepo := repository.NewResponseRepository(db)

	f.scoring = NewScoringService(db, assignmentRepo, f.attemptRepo, responseRepo, f.userRepo, storage)
	f.scoring.Now = clock
	f.exams = NewExamService(db, examRepo, storage)
	f.assignments = NewAssignmentService(assignmentRepo, examRepo, f.classRepo, f.attemptRepo, storage)
	f.assignments.Now = clock
	f.attempts = NewAttemptService(db, assignmentRepo, f.classRepo, examRepo, f.attemptRepo, responseRepo, f.scoring, storage, locker, settings)
	f.attempts.Now = clock
	f.responses = NewResponseService(db, f.attemptRepo, responseRepo, f.scoring, storage, locker, settings)
	f.responses.Now = clock

	f.teacher = f.newUser("Ms. Rivera", model.Teacher)
	f.student = f.newUser("Sam", model.Student)
	f.class = f.newClass("Grade 9 Science", f.teacher.ID)
	f.enroll(f.class.ID, f.student.ID)
	return f
}

func (f *fixture) newUser(name string, role model.UserRole) Principal {
	f.t.Helper()
	u := &model.User{
		Name:     name,
		Email:    strings.ToLower(strings.ReplaceAll(name, " ", "")) + "-" + model.NewExamCode() + "@school.test",
		Password: "x",
		Role:     role,
	}
	require.NoError(f.t, f.userRepo.Create(context.Background(), u))
	return Principal{ID: u.ID, Role: role}
}

func (f *fixture) newClass(name string, teacherID uint) *model.Class {
	f.t.Helper()
	c := &model.Class{Name: name, TeacherID: teacherID}
	require.NoError(f.t, f.classRepo.Create(context.Background(), c))
	return c
}

func (f *fixture) enroll(classID, studentID uint) {
	f.t.Helper()
	require.NoError(f.t, f.classRepo.Enroll(context.Background(), classID, studentID))
}

func (f *fixture) advance(d time.Duration) {
	f.now = f.now.Add(d)
}

type examOpts struct {
	duration         int
	shuffleQuestions bool
	shuffleOptions   bool
	passing          *float64
}

func mcq(points float64, correct int, texts ...string) QuestionRequest {
	req := QuestionRequest{Type: model.QuestionMCQ, Points: points, Body: "Pick " + texts[correct]}
	for i, text := range texts {
		req.Options = append(req.Options, OptionInput{Text: text, IsCorrect: i == correct})
	}
	return req
}

func essay(points float64, body string) QuestionRequest {
	return QuestionRequest{Type: model.QuestionEssay, Points: points, Body: body}
}

func (f *fixture) newExam(opts examOpts, questions ...QuestionRequest) (*model.Exam, []*model.Question) {
	f.t.Helper()
	ctx := context.Background()
	if opts.duration == 0 {
		opts.duration = 30
	}
	exam, err := f.exams.CreateExam(ctx, f.teacher, ExamRequest{
		Title:            "Unit Test",
		DurationMinutes:  opts.duration,
		PassingPoints:    opts.passing,
		ShuffleQuestions: opts.shuffleQuestions,
		ShuffleOptions:   opts.shuffleOptions,
	})
	require.NoError(f.t, err)

	var created []*model.Question
	for _, q := range questions {
		added, err := f.exams.AddQuestion(ctx, f.teacher, uintString(exam.ID), q, nil)
		require.NoError(f.t, err)
		created = append(created, added)
	}
	return exam, created
}

// assign 默认窗口：当前时间前一小时开放，一天后关闭
func (f *fixture) assign(examID uint, maxAttempts *int) *model.ExamAssignment {
	f.t.Helper()
	a, err := f.assignments.CreateAssignment(context.Background(), f.teacher, examID, CreateAssignmentRequest{
		ClassID:     f.class.ID,
		OpenAt:      f.now.Add(-time.Hour),
		CloseAt:     f.now.Add(24 * time.Hour),
		MaxAttempts: maxAttempts,
	})
	require.NoError(f.t, err)
	return a
}

func (f *fixture) start(assignmentID uint) *AttemptView {
	f.t.Helper()
	view, err := f.attempts.StartOrResume(context.Background(), assignmentID, f.student.ID)
	require.NoError(f.t, err)
	return view
}

func (f *fixture) attempt(id uint) *model.Attempt {
	f.t.Helper()
	var a model.Attempt
	require.NoError(f.t, f.db.First(&a, id).Error)
	return &a
}

// optionByText 在作答视图中查找选项实例
func optionByText(t *testing.T, q QuestionView, text string) OptionView {
	t.Helper()
	for _, o := range q.Options {
		if o.Text == text {
			return o
		}
	}
	t.Fatalf("option %q not found in question %d", text, q.QuestionID)
	return OptionView{}
}

func optionID(t *testing.T, q QuestionView, text string) *uint {
	t.Helper()
	id := optionByText(t, q, text).ID
	return &id
}

func questionByType(t *testing.T, view *AttemptView, typ model.QuestionType, n int) QuestionView {
	t.Helper()
	seen := 0
	for _, q := range view.Questions {
		if q.Type == typ {
			if seen == n {
				return q
			}
			seen++
		}
	}
	t.Fatalf("question %s #%d not found", typ, n)
	return QuestionView{}
}

func questionByID(t *testing.T, view *AttemptView, id uint) QuestionView {
	t.Helper()
	for _, q := range view.Questions {
		if q.QuestionID == id {
			return q
		}
	}
	t.Fatalf("question %d not in attempt", id)
	return QuestionView{}
}

func textFile(questionID uint, name, content string) UploadFile {
	return UploadFile{
		QuestionID:  questionID,
		FileName:    name,
		Size:        int64(len(content)),
		ContentType: "text/plain",
		Reader:      bytes.NewReader([]byte(content)),
	}
}

func uintString(id uint) string {
	return strconv.FormatUint(uint64(id), 10)
}

func intPtr(v int) *int { return &v }

func floatPtr(v float64) *float64 { return &v }

func strPtr(v string) *string { return &v }
