package service

import (
	"context"
	"errors"
	"school_exam_backend/internal/model"
	"school_exam_backend/internal/repository"
	"school_exam_backend/internal/util"
	"school_exam_backend/pkg/lock"
	"school_exam_backend/pkg/logger"
	"school_exam_backend/pkg/monitoring"
	"school_exam_backend/pkg/tracing"
	"slices"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// AttemptService 开始/继续作答，维护作答次数与时间窗口，生成题目与选项快照
type AttemptService struct {
	DB             *gorm.DB
	AssignmentRepo *repository.AssignmentRepository
	ClassRepo      *repository.ClassRepository
	ExamRepo       *repository.ExamRepository
	AttemptRepo    *repository.AttemptRepository
	ResponseRepo   *repository.ResponseRepository
	Scoring        *ScoringService
	Storage        *StorageService
	Locker         lock.Locker
	Settings       *ExamSettings
	Shuffler       Shuffler
	Now            Clock
}

func NewAttemptService(
	db *gorm.DB,
	assignmentRepo *repository.AssignmentRepository,
	classRepo *repository.ClassRepository,
	examRepo *repository.ExamRepository,
	attemptRepo *repository.AttemptRepository,
	responseRepo *repository.ResponseRepository,
	scoring *ScoringService,
	storage *StorageService,
	locker lock.Locker,
	settings *ExamSettings,
) *AttemptService {
	return &AttemptService{
		DB:             db,
		AssignmentRepo: assignmentRepo,
		ClassRepo:      classRepo,
		ExamRepo:       examRepo,
		AttemptRepo:    attemptRepo,
		ResponseRepo:   responseRepo,
		Scoring:        scoring,
		Storage:        storage,
		Locker:         locker,
		Settings:       settings,
		Shuffler:       NewFisherYates(nil),
		Now:            time.Now,
	}
}

type OptionView struct {
	ID           uint   `json:"id"`
	DisplayOrder int    `json:"displayOrder"`
	Label        string `json:"label"`
	Text         string `json:"text"`
}

type DraftAnswer struct {
	OptionInstanceID *uint   `json:"optionInstanceId,omitempty"`
	EssayText        *string `json:"essayText,omitempty"`
}

type QuestionView struct {
	QuestionID   uint               `json:"questionId"`
	DisplayOrder int                `json:"displayOrder"`
	Type         model.QuestionType `json:"type"`
	Body         string             `json:"body"`
	Points       float64            `json:"points"`
	Options      []OptionView       `json:"options,omitempty"`
	Media        []MediaView        `json:"media,omitempty"`
	Answer       *DraftAnswer       `json:"answer,omitempty"`
}

// AttemptView 开始或继续作答时返回给学生的试卷
type AttemptView struct {
	AttemptID        uint                `json:"attemptId"`
	AttemptNumber    int                 `json:"attemptNumber"`
	AssignmentID     uint                `json:"assignmentId"`
	ExamTitle        string              `json:"examTitle"`
	Status           model.AttemptStatus `json:"status"`
	Resumed          bool                `json:"resumed"`
	StartedAt        time.Time           `json:"startedAt"`
	Deadline         time.Time           `json:"deadline"`
	RemainingSeconds int64               `json:"remainingSeconds"`
	Questions        []QuestionView      `json:"questions"`
}

// StartOrResume 同一 (学生, 布置) 在锁内串行执行，保证作答次数上限与唯一的进行中作答
func (s *AttemptService) StartOrResume(ctx context.Context, assignmentID, studentID uint) (view *AttemptView, err error) {
	ctx, span := tracing.StartSpan(ctx, "attempt.StartOrResume")
	defer func() { tracing.EndSpan(span, err) }()

	release, err := acquireAttemptLock(ctx, s.Locker, s.Settings, assignmentID, studentID)
	if err != nil {
		return nil, err
	}
	defer release()

	expired := false
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		assignment, err := s.AssignmentRepo.WithTx(tx).FindForStudent(ctx, assignmentID, studentID)
		if err != nil {
			return notFoundAs(err, util.ErrAssignmentNotFound)
		}
		if _, err := s.ClassRepo.WithTx(tx).LockEnrollment(ctx, assignment.ClassID, studentID); err != nil {
			return notFoundAs(err, util.ErrAssignmentNotFound)
		}
		exam := assignment.Exam
		if exam == nil {
			return util.ErrAssignmentNotFound
		}

		now := s.Now()
		if now.Before(assignment.OpenAt) {
			return util.ErrNotYetOpen
		}
		if now.After(assignment.CloseAt) {
			return util.ErrClosed
		}

		attemptRepo := s.AttemptRepo.WithTx(tx)
		finished, err := attemptRepo.CountFinished(ctx, assignment.ID, studentID)
		if err != nil {
			return err
		}
		if assignment.AttemptsExhausted(finished) {
			return util.ErrMaxAttemptsReached
		}

		current, err := attemptRepo.FindInProgress(ctx, assignment.ID, studentID)
		switch {
		case err == nil:
			if !now.Before(current.Deadline(exam.DurationMinutes)) {
				// 超时作答按已保存的答案走正常评分流程
				if err := s.Scoring.Finalize(ctx, tx, current, true); err != nil {
					return err
				}
				expired = true
				return nil
			}
			view, err = s.buildView(ctx, tx, exam, current, now)
			if err != nil {
				return err
			}
			view.Resumed = true
			return nil
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return err
		}

		attempt := &model.Attempt{
			AssignmentID:  assignment.ID,
			StudentID:     studentID,
			AttemptNumber: int(finished) + 1,
			StartedAt:     now,
			Status:        model.AttemptInProgress,
		}
		if err := attemptRepo.Create(ctx, attempt); err != nil {
			return err
		}
		if err := s.snapshot(ctx, tx, exam, attempt); err != nil {
			return err
		}
		view, err = s.buildView(ctx, tx, exam, attempt, now)
		return err
	})
	if err != nil {
		monitoring.RecordAttemptEvent("rejected")
		return nil, err
	}
	if expired {
		return nil, util.ErrAttemptExpired
	}

	event := "started"
	if view.Resumed {
		event = "resumed"
	}
	monitoring.RecordAttemptEvent(event)
	logger.Log.Info("attempt "+event,
		zap.Uint("attemptId", view.AttemptID),
		zap.Uint("assignmentId", assignmentID),
		zap.Uint("studentId", studentID),
		zap.Int("attemptNumber", view.AttemptNumber))
	return view, nil
}

// snapshot 固化题目顺序、分值与选项顺序；之后对题目的修改不影响本次作答
func (s *AttemptService) snapshot(ctx context.Context, tx *gorm.DB, exam *model.Exam, attempt *model.Attempt) error {
	questions, err := s.ExamRepo.WithTx(tx).ListQuestionsForAttempt(ctx, exam.ID)
	if err != nil {
		return err
	}
	if len(questions) == 0 {
		return util.Validationf("exam %d has no questions", exam.ID)
	}
	if exam.ShuffleQuestions {
		shuffleSlice(s.Shuffler, questions)
	}

	aqs := make([]model.AttemptQuestion, 0, len(questions))
	var instances []model.OptionInstance
	for i, q := range questions {
		aqs = append(aqs, model.AttemptQuestion{
			AttemptID:      attempt.ID,
			QuestionID:     q.ID,
			DisplayOrder:   i + 1,
			TypeSnapshot:   q.Type,
			BodySnapshot:   q.Body,
			PointsSnapshot: q.Points,
		})
		if q.Type != model.QuestionMCQ {
			continue
		}
		options := slices.Clone(q.Options)
		if exam.ShuffleOptions {
			shuffleSlice(s.Shuffler, options)
		}
		for j, opt := range options {
			instances = append(instances, model.OptionInstance{
				AttemptID:          attempt.ID,
				QuestionID:         q.ID,
				SourceOptionID:     opt.ID,
				DisplayOrder:       j + 1,
				DisplayLabel:       util.DisplayLabel(j + 1),
				OptionTextSnapshot: opt.Text,
				IsCorrectSnapshot:  opt.IsCorrect,
			})
		}
	}

	attemptRepo := s.AttemptRepo.WithTx(tx)
	if err := attemptRepo.CreateQuestions(ctx, aqs); err != nil {
		return err
	}
	return attemptRepo.CreateOptionInstances(ctx, instances)
}

// buildView 只读取快照，继续作答时顺序与首次完全一致
func (s *AttemptService) buildView(ctx context.Context, tx *gorm.DB, exam *model.Exam, attempt *model.Attempt, now time.Time) (*AttemptView, error) {
	attemptRepo := s.AttemptRepo.WithTx(tx)
	questions, err := attemptRepo.ListQuestions(ctx, attempt.ID)
	if err != nil {
		return nil, err
	}
	instances, err := attemptRepo.ListOptionInstances(ctx, attempt.ID)
	if err != nil {
		return nil, err
	}
	responses, err := s.ResponseRepo.WithTx(tx).ListByAttempt(ctx, attempt.ID)
	if err != nil {
		return nil, err
	}

	questionIDs := make([]uint, len(questions))
	for i, q := range questions {
		questionIDs[i] = q.QuestionID
	}
	media, err := s.ExamRepo.WithTx(tx).ListMediaByQuestions(ctx, questionIDs)
	if err != nil {
		return nil, err
	}

	optionsByQuestion := make(map[uint][]OptionView)
	for _, inst := range instances {
		optionsByQuestion[inst.QuestionID] = append(optionsByQuestion[inst.QuestionID], OptionView{
			ID:           inst.ID,
			DisplayOrder: inst.DisplayOrder,
			Label:        inst.DisplayLabel,
			Text:         inst.OptionTextSnapshot,
		})
	}
	mediaByQuestion := make(map[uint][]MediaView)
	for _, m := range media {
		mediaByQuestion[m.QuestionID] = append(mediaByQuestion[m.QuestionID], MediaView{
			ID:       m.ID,
			FileName: m.FileName,
			URL:      s.Storage.GetURL(m.StoredPath),
		})
	}
	answers := make(map[uint]*DraftAnswer, len(responses))
	for _, r := range responses {
		answers[r.QuestionID] = &DraftAnswer{OptionInstanceID: r.ChosenOptionInstanceID, EssayText: r.EssayText}
	}

	deadline := attempt.Deadline(exam.DurationMinutes)
	remaining := int64(deadline.Sub(now) / time.Second)
	if remaining < 0 {
		remaining = 0
	}

	view := &AttemptView{
		AttemptID:        attempt.ID,
		AttemptNumber:    attempt.AttemptNumber,
		AssignmentID:     attempt.AssignmentID,
		ExamTitle:        exam.Title,
		Status:           attempt.Status,
		StartedAt:        attempt.StartedAt,
		Deadline:         deadline,
		RemainingSeconds: remaining,
		Questions:        make([]QuestionView, 0, len(questions)),
	}
	for _, q := range questions {
		view.Questions = append(view.Questions, QuestionView{
			QuestionID:   q.QuestionID,
			DisplayOrder: q.DisplayOrder,
			Type:         q.TypeSnapshot,
			Body:         q.BodySnapshot,
			Points:       q.PointsSnapshot,
			Options:      optionsByQuestion[q.QuestionID],
			Media:        mediaByQuestion[q.QuestionID],
			Answer:       answers[q.QuestionID],
		})
	}
	return view, nil
}

// AttemptResult 学生查看的作答结果
type AttemptResult struct {
	Attempt       *model.Attempt `json:"attempt"`
	ExamTitle     string         `json:"examTitle"`
	TotalPoints   float64        `json:"totalPoints"`
	PassingPoints *float64       `json:"passingPoints,omitempty"`
	Pending       bool           `json:"pendingManualGrading"`
	Passed        *bool          `json:"passed,omitempty"`
	Items         []GradingItem  `json:"items,omitempty"`
}

// GetAttemptResult 超时未提交的作答在此处按超时处理
func (s *AttemptService) GetAttemptResult(ctx context.Context, studentID, attemptID uint) (*AttemptResult, error) {
	attempt, err := s.AttemptRepo.FindByID(ctx, attemptID)
	if err != nil {
		return nil, notFoundAs(err, util.ErrAttemptNotFound)
	}
	if attempt.StudentID != studentID || attempt.Assignment == nil || attempt.Assignment.Exam == nil {
		return nil, util.ErrAttemptNotFound
	}
	exam := attempt.Assignment.Exam

	if attempt.Status == model.AttemptInProgress && !s.Now().Before(attempt.Deadline(exam.DurationMinutes)) {
		if err := s.expire(ctx, attempt); err != nil {
			return nil, err
		}
	}

	result := &AttemptResult{
		Attempt:       attempt,
		ExamTitle:     exam.Title,
		TotalPoints:   exam.TotalPoints,
		PassingPoints: exam.PassingPoints,
		Pending:       attempt.Status == model.AttemptNeedsGrading,
	}
	if attempt.Status != model.AttemptInProgress {
		items, err := s.Scoring.answerSheet(ctx, attempt.ID, true)
		if err != nil {
			return nil, err
		}
		result.Items = items
	}
	if attempt.Status == model.AttemptGraded && attempt.TotalScore != nil && exam.PassingPoints != nil {
		passed := *attempt.TotalScore >= *exam.PassingPoints
		result.Passed = &passed
	}
	attempt.Assignment = nil
	return result, nil
}

// expire 在锁内重新读取作答，若仍为进行中则自动提交
func (s *AttemptService) expire(ctx context.Context, attempt *model.Attempt) error {
	release, err := acquireAttemptLock(ctx, s.Locker, s.Settings, attempt.AssignmentID, attempt.StudentID)
	if err != nil {
		return err
	}
	defer release()

	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := s.AttemptRepo.WithTx(tx).FindForUpdate(ctx, attempt.ID)
		if err != nil {
			return err
		}
		if current.Status == model.AttemptInProgress {
			if err := s.Scoring.Finalize(ctx, tx, current, true); err != nil {
				return err
			}
		}
		assignment := attempt.Assignment
		*attempt = *current
		attempt.Assignment = assignment
		return nil
	})
}
