package service

import (
	"context"
	"school_exam_backend/internal/model"
	"school_exam_backend/internal/repository"
	"school_exam_backend/internal/util"
	"school_exam_backend/pkg/logger"
	"time"

	"go.uber.org/zap"
)

// AssignmentService 试卷与班级的布置关系
type AssignmentService struct {
	AssignmentRepo *repository.AssignmentRepository
	ExamRepo       *repository.ExamRepository
	ClassRepo      *repository.ClassRepository
	AttemptRepo    *repository.AttemptRepository
	Storage        *StorageService
	Now            Clock
}

func NewAssignmentService(
	assignmentRepo *repository.AssignmentRepository,
	examRepo *repository.ExamRepository,
	classRepo *repository.ClassRepository,
	attemptRepo *repository.AttemptRepository,
	storage *StorageService,
) *AssignmentService {
	return &AssignmentService{
		AssignmentRepo: assignmentRepo,
		ExamRepo:       examRepo,
		ClassRepo:      classRepo,
		AttemptRepo:    attemptRepo,
		Storage:        storage,
		Now:            time.Now,
	}
}

type CreateAssignmentRequest struct {
	ClassID     uint      `json:"classId" binding:"required"`
	OpenAt      time.Time `json:"openAt" binding:"required"`
	CloseAt     time.Time `json:"closeAt" binding:"required,gtfield=OpenAt"`
	MaxAttempts *int      `json:"maxAttempts" binding:"omitempty,min=1"`
}

func (s *AssignmentService) ownedExam(ctx context.Context, p Principal, examID uint) (*model.Exam, error) {
	exam, err := s.ExamRepo.FindByID(ctx, examID)
	if err != nil {
		return nil, notFoundAs(err, util.ErrExamNotFound)
	}
	if !p.Owns(exam.TeacherID) {
		return nil, util.ErrUnauthorized
	}
	return exam, nil
}

// CreateAssignment 先校验试卷归属，再校验班级归属
func (s *AssignmentService) CreateAssignment(ctx context.Context, p Principal, examID uint, req CreateAssignmentRequest) (*model.ExamAssignment, error) {
	exam, err := s.ownedExam(ctx, p, examID)
	if err != nil {
		return nil, err
	}
	class, err := s.ClassRepo.FindByID(ctx, req.ClassID)
	if err != nil || !p.Owns(class.TeacherID) {
		return nil, util.ErrInvalidClass
	}
	if !req.CloseAt.After(req.OpenAt) {
		return nil, util.ErrInvalidWindow
	}
	if req.MaxAttempts != nil && *req.MaxAttempts < 1 {
		return nil, util.Validationf("maxAttempts must be at least 1")
	}

	a := &model.ExamAssignment{
		ExamID:      exam.ID,
		ClassID:     class.ID,
		OpenAt:      req.OpenAt,
		CloseAt:     req.CloseAt,
		MaxAttempts: req.MaxAttempts,
	}
	if err := s.AssignmentRepo.Create(ctx, a); err != nil {
		return nil, err
	}

	logger.Log.Info("exam assigned",
		zap.Uint("examId", exam.ID),
		zap.Uint("classId", class.ID),
		zap.Uint("assignmentId", a.ID))
	return a, nil
}

func (s *AssignmentService) ListAssignments(ctx context.Context, p Principal, examID uint) ([]repository.AssignmentListRow, error) {
	if _, err := s.ownedExam(ctx, p, examID); err != nil {
		return nil, err
	}
	return s.AssignmentRepo.ListByExam(ctx, examID)
}

func (s *AssignmentService) ListAvailableClasses(ctx context.Context, p Principal, examID uint) ([]model.Class, error) {
	exam, err := s.ownedExam(ctx, p, examID)
	if err != nil {
		return nil, err
	}
	return s.AssignmentRepo.ListAvailableClasses(ctx, examID, exam.TeacherID)
}

func (s *AssignmentService) ownedAssignment(ctx context.Context, p Principal, id uint) (*model.ExamAssignment, error) {
	a, err := s.AssignmentRepo.FindByID(ctx, id)
	if err != nil {
		return nil, notFoundAs(err, util.ErrAssignmentNotFound)
	}
	if a.Exam == nil {
		return nil, util.ErrAssignmentNotFound
	}
	if !p.Owns(a.Exam.TeacherID) {
		return nil, util.ErrUnauthorized
	}
	return a, nil
}

// DeleteAssignment 级联删除作答，事务提交后再删除附件文件
func (s *AssignmentService) DeleteAssignment(ctx context.Context, p Principal, id uint) error {
	if _, err := s.ownedAssignment(ctx, p, id); err != nil {
		return err
	}
	paths, err := s.AssignmentRepo.Delete(ctx, id)
	if err != nil {
		return err
	}
	s.Storage.DeleteAll(context.WithoutCancel(ctx), paths)
	logger.Log.Info("assignment deleted", zap.Uint("assignmentId", id), zap.Int("files", len(paths)))
	return nil
}

const (
	ScoreCompleted       = "Completed"
	ScoreAwaitingGrading = "Awaiting Grading"
	ScoreInProgress      = "In Progress"
	ScoreNotStarted      = "Not Started"
)

type ScoreRow struct {
	StudentID     uint       `json:"studentId"`
	StudentName   string     `json:"studentName"`
	StudentEmail  string     `json:"studentEmail"`
	AttemptCount  int        `json:"attemptCount"`
	AttemptID     *uint      `json:"attemptId"`
	AttemptNumber int        `json:"attemptNumber,omitempty"`
	Status        string     `json:"status"`
	AutoScore     *float64   `json:"autoScore"`
	ManualScore   *float64   `json:"manualScore"`
	TotalScore    *float64   `json:"totalScore"`
	SubmittedAt   *time.Time `json:"submittedAt"`
}

type ScoreBoard struct {
	AssignmentID uint       `json:"assignmentId"`
	ExamTitle    string     `json:"examTitle"`
	ClassName    string     `json:"className"`
	TotalPoints  float64    `json:"totalPoints"`
	Rows         []ScoreRow `json:"rows"`
}

func scoreStatus(status model.AttemptStatus) string {
	switch status {
	case model.AttemptGraded:
		return ScoreCompleted
	case model.AttemptNeedsGrading:
		return ScoreAwaitingGrading
	default:
		return ScoreInProgress
	}
}

// ListAssignmentScores 班级每个学生最近一次作答的成绩
func (s *AssignmentService) ListAssignmentScores(ctx context.Context, p Principal, id uint) (*ScoreBoard, error) {
	a, err := s.ownedAssignment(ctx, p, id)
	if err != nil {
		return nil, err
	}
	students, err := s.ClassRepo.ListStudents(ctx, a.ClassID)
	if err != nil {
		return nil, err
	}
	attempts, err := s.AttemptRepo.ListByAssignment(ctx, id)
	if err != nil {
		return nil, err
	}

	latest := make(map[uint]model.Attempt)
	counts := make(map[uint]int)
	for _, at := range attempts {
		counts[at.StudentID]++
		latest[at.StudentID] = at
	}

	board := &ScoreBoard{
		AssignmentID: a.ID,
		ExamTitle:    a.Exam.Title,
		TotalPoints:  a.Exam.TotalPoints,
		Rows:         make([]ScoreRow, 0, len(students)),
	}
	if a.Class != nil {
		board.ClassName = a.Class.Name
	}
	for _, st := range students {
		row := ScoreRow{
			StudentID:    st.ID,
			StudentName:  st.Name,
			StudentEmail: st.Email,
			AttemptCount: counts[st.ID],
			Status:       ScoreNotStarted,
		}
		if at, ok := latest[st.ID]; ok {
			id := at.ID
			auto, manual := at.AutoScore, at.ManualScore
			row.AttemptID = &id
			row.AttemptNumber = at.AttemptNumber
			row.Status = scoreStatus(at.Status)
			row.SubmittedAt = at.SubmittedAt
			if at.Status != model.AttemptInProgress {
				row.AutoScore = &auto
				row.TotalScore = at.TotalScore
			}
			if at.Status == model.AttemptGraded {
				row.ManualScore = &manual
			}
		}
		board.Rows = append(board.Rows, row)
	}
	return board, nil
}

const (
	StudentAvailable  = "Available"
	StudentUpcoming   = "Upcoming"
	StudentExpired    = "Expired"
	StudentCompleted  = "Completed"
	StudentInProgress = "In Progress"
)

type StudentAssignment struct {
	AssignmentID    uint       `json:"assignmentId"`
	ExamID          uint       `json:"examId"`
	ExamTitle       string     `json:"examTitle"`
	Description     string     `json:"description"`
	ClassName       string     `json:"className"`
	OpenAt          time.Time  `json:"openAt"`
	CloseAt         time.Time  `json:"closeAt"`
	DurationMinutes int        `json:"durationMinutes"`
	TotalPoints     float64    `json:"totalPoints"`
	MaxAttempts     *int       `json:"maxAttempts"`
	AttemptsUsed    int        `json:"attemptsUsed"`
	Status          string     `json:"status"`
	LatestAttemptID *uint      `json:"latestAttemptId"`
	LatestScore     *float64   `json:"latestScore"`
	LatestStatus    string     `json:"latestAttemptStatus,omitempty"`
	SubmittedAt     *time.Time `json:"submittedAt,omitempty"`
}

// studentStatus 进行中优先，其次是次数用尽，最后按时间窗口判断
func studentStatus(a *model.ExamAssignment, finished int, inProgress bool, now time.Time) string {
	switch {
	case inProgress:
		return StudentInProgress
	case a.AttemptsExhausted(int64(finished)):
		return StudentCompleted
	case now.Before(a.OpenAt):
		return StudentUpcoming
	case now.After(a.CloseAt):
		if finished > 0 {
			return StudentCompleted
		}
		return StudentExpired
	default:
		return StudentAvailable
	}
}

// ListStudentAssignments 学生所在班级的全部布置
func (s *AssignmentService) ListStudentAssignments(ctx context.Context, studentID uint) ([]StudentAssignment, error) {
	assignments, err := s.AssignmentRepo.ListForStudent(ctx, studentID)
	if err != nil {
		return nil, err
	}
	ids := make([]uint, len(assignments))
	for i, a := range assignments {
		ids[i] = a.ID
	}
	attempts, err := s.AttemptRepo.ListByStudent(ctx, studentID, ids)
	if err != nil {
		return nil, err
	}

	type summary struct {
		finished   int
		inProgress bool
		latest     *model.Attempt
	}
	byAssignment := make(map[uint]*summary)
	for i := range attempts {
		at := &attempts[i]
		sm := byAssignment[at.AssignmentID]
		if sm == nil {
			sm = &summary{}
			byAssignment[at.AssignmentID] = sm
		}
		if at.Status == model.AttemptInProgress {
			sm.inProgress = true
		} else {
			sm.finished++
		}
		sm.latest = at
	}

	now := s.Now()
	out := make([]StudentAssignment, 0, len(assignments))
	for i := range assignments {
		a := &assignments[i]
		if a.Exam == nil {
			continue
		}
		sm := byAssignment[a.ID]
		if sm == nil {
			sm = &summary{}
		}
		row := StudentAssignment{
			AssignmentID:    a.ID,
			ExamID:          a.ExamID,
			ExamTitle:       a.Exam.Title,
			Description:     a.Exam.Description,
			OpenAt:          a.OpenAt,
			CloseAt:         a.CloseAt,
			DurationMinutes: a.Exam.DurationMinutes,
			TotalPoints:     a.Exam.TotalPoints,
			MaxAttempts:     a.MaxAttempts,
			AttemptsUsed:    sm.finished,
			Status:          studentStatus(a, sm.finished, sm.inProgress, now),
		}
		if a.Class != nil {
			row.ClassName = a.Class.Name
		}
		if sm.latest != nil {
			id := sm.latest.ID
			row.LatestAttemptID = &id
			row.LatestScore = sm.latest.TotalScore
			row.LatestStatus = string(sm.latest.Status)
			row.SubmittedAt = sm.latest.SubmittedAt
		}
		out = append(out, row)
	}
	return out, nil
}
