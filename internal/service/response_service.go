package service

import (
	"context"
	"encoding/json"
	"school_exam_backend/internal/model"
	"school_exam_backend/internal/repository"
	"school_exam_backend/internal/util"
	"school_exam_backend/pkg/lock"
	"school_exam_backend/pkg/tracing"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ResponseService 记录学生作答（草稿保存与最终提交）
type ResponseService struct {
	DB           *gorm.DB
	AttemptRepo  *repository.AttemptRepository
	ResponseRepo *repository.ResponseRepository
	Scoring      *ScoringService
	Storage      *StorageService
	Locker       lock.Locker
	Settings     *ExamSettings
	Now          Clock
}

func NewResponseService(
	db *gorm.DB,
	attemptRepo *repository.AttemptRepository,
	responseRepo *repository.ResponseRepository,
	scoring *ScoringService,
	storage *StorageService,
	locker lock.Locker,
	settings *ExamSettings,
) *ResponseService {
	return &ResponseService{
		DB:           db,
		AttemptRepo:  attemptRepo,
		ResponseRepo: responseRepo,
		Scoring:      scoring,
		Storage:      storage,
		Locker:       locker,
		Settings:     settings,
		Now:          time.Now,
	}
}

// AnswerInput MCQ 可以传 optionInstanceId，或传原始 optionId 由本次作答的快照解析
type AnswerInput struct {
	QuestionID       uint    `json:"questionId" binding:"required"`
	OptionInstanceID *uint   `json:"optionInstanceId"`
	OptionID         *uint   `json:"optionId"`
	EssayText        *string `json:"essayText"`
}

type SubmitResult struct {
	AttemptID     uint                `json:"attemptId"`
	Status        model.AttemptStatus `json:"status"`
	AutoScore     float64             `json:"autoScore"`
	TotalScore    *float64            `json:"totalScore"`
	Pending       bool                `json:"pendingManualGrading"`
	AutoSubmitted bool                `json:"autoSubmitted"`
	SubmittedAt   *time.Time          `json:"submittedAt"`
}

type DraftResult struct {
	AttemptID        uint  `json:"attemptId"`
	Saved            int   `json:"saved"`
	RemainingSeconds int64 `json:"remainingSeconds"`
}

// loadOwned 锁外预读，确定锁的 key 并尽早拒绝
func (s *ResponseService) loadOwned(ctx context.Context, studentID, attemptID uint) (*model.Attempt, int, error) {
	attempt, err := s.AttemptRepo.FindByID(ctx, attemptID)
	if err != nil {
		return nil, 0, notFoundAs(err, util.ErrAttemptNotFound)
	}
	if attempt.Assignment == nil || attempt.Assignment.Exam == nil {
		return nil, 0, util.ErrAttemptNotFound
	}
	if attempt.StudentID != studentID || attempt.Status != model.AttemptInProgress {
		return nil, 0, util.ErrInvalidAttemptState
	}
	return attempt, attempt.Assignment.Exam.DurationMinutes, nil
}

// lockInTx 事务中加行锁并复查状态；超过截止时间加宽限期时自动提交并返回 expired
func (s *ResponseService) lockInTx(ctx context.Context, tx *gorm.DB, studentID, attemptID uint, duration int) (*model.Attempt, bool, error) {
	attempt, err := s.AttemptRepo.WithTx(tx).FindForUpdate(ctx, attemptID)
	if err != nil {
		return nil, false, notFoundAs(err, util.ErrAttemptNotFound)
	}
	if attempt.StudentID != studentID || attempt.Status != model.AttemptInProgress {
		return nil, false, util.ErrInvalidAttemptState
	}

	grace := s.Settings.Get().SubmitGrace()
	if s.Now().After(attempt.Deadline(duration).Add(grace)) {
		if err := s.Scoring.Finalize(ctx, tx, attempt, true); err != nil {
			return nil, false, err
		}
		return nil, true, nil
	}
	return attempt, false, nil
}

// SubmitAttempt 文件先写入存储，事务失败或作答已超时时删除本次上传的文件
func (s *ResponseService) SubmitAttempt(ctx context.Context, studentID, attemptID uint, answers []AnswerInput, files []UploadFile) (result *SubmitResult, err error) {
	ctx, span := tracing.StartSpan(ctx, "response.SubmitAttempt")
	defer func() { tracing.EndSpan(span, err) }()

	pre, duration, err := s.loadOwned(ctx, studentID, attemptID)
	if err != nil {
		return nil, err
	}

	release, err := acquireAttemptLock(ctx, s.Locker, s.Settings, pre.AssignmentID, studentID)
	if err != nil {
		return nil, err
	}
	defer release()

	stored, err := uploadAll(ctx, s.Storage, util.ResponseMediaDir, files)
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(answers)
	if err != nil {
		s.Storage.DeleteAll(context.WithoutCancel(ctx), storedPaths(stored))
		return nil, err
	}

	var attempt *model.Attempt
	expired := false
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, exp, err := s.lockInTx(ctx, tx, studentID, attemptID, duration)
		if err != nil {
			return err
		}
		if exp {
			expired = true
			return nil
		}
		if err := s.record(ctx, tx, current, answers, stored); err != nil {
			return err
		}
		current.Payload = datatypes.JSON(payload)
		if err := s.Scoring.Finalize(ctx, tx, current, false); err != nil {
			return err
		}
		attempt = current
		return nil
	})
	if err != nil || expired {
		s.Storage.DeleteAll(context.WithoutCancel(ctx), storedPaths(stored))
	}
	if err != nil {
		return nil, err
	}
	if expired {
		return nil, util.ErrAttemptExpired
	}

	return &SubmitResult{
		AttemptID:     attempt.ID,
		Status:        attempt.Status,
		AutoScore:     attempt.AutoScore,
		TotalScore:    attempt.TotalScore,
		Pending:       attempt.Status == model.AttemptNeedsGrading,
		AutoSubmitted: attempt.AutoSubmitted,
		SubmittedAt:   attempt.SubmittedAt,
	}, nil
}

// SaveProgress 保存草稿答案，不改变作答状态
func (s *ResponseService) SaveProgress(ctx context.Context, studentID, attemptID uint, answers []AnswerInput) (*DraftResult, error) {
	pre, duration, err := s.loadOwned(ctx, studentID, attemptID)
	if err != nil {
		return nil, err
	}

	release, err := acquireAttemptLock(ctx, s.Locker, s.Settings, pre.AssignmentID, studentID)
	if err != nil {
		return nil, err
	}
	defer release()

	var result *DraftResult
	expired := false
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, exp, err := s.lockInTx(ctx, tx, studentID, attemptID, duration)
		if err != nil {
			return err
		}
		if exp {
			expired = true
			return nil
		}
		if err := s.record(ctx, tx, current, answers, nil); err != nil {
			return err
		}
		remaining := int64(current.Deadline(duration).Sub(s.Now()) / time.Second)
		if remaining < 0 {
			remaining = 0
		}
		result = &DraftResult{AttemptID: attemptID, Saved: len(answers), RemainingSeconds: remaining}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if expired {
		return nil, util.ErrAttemptExpired
	}
	return result, nil
}

// record 校验并写入答案；同一题目多次出现时以最后一次为准
func (s *ResponseService) record(ctx context.Context, tx *gorm.DB, attempt *model.Attempt, answers []AnswerInput, files []storedFile) error {
	attemptRepo := s.AttemptRepo.WithTx(tx)
	responseRepo := s.ResponseRepo.WithTx(tx)

	questions, err := attemptRepo.ListQuestions(ctx, attempt.ID)
	if err != nil {
		return err
	}
	qByID := make(map[uint]model.AttemptQuestion, len(questions))
	for _, q := range questions {
		qByID[q.QuestionID] = q
	}
	instances, err := attemptRepo.ListOptionInstances(ctx, attempt.ID)
	if err != nil {
		return err
	}
	instByID := make(map[uint]model.OptionInstance, len(instances))
	instBySource := make(map[[2]uint]model.OptionInstance, len(instances))
	for _, inst := range instances {
		instByID[inst.ID] = inst
		instBySource[[2]uint{inst.QuestionID, inst.SourceOptionID}] = inst
	}

	filesByQuestion := make(map[uint][]storedFile)
	for _, f := range files {
		q, ok := qByID[f.QuestionID]
		if !ok {
			return util.ErrInvalidQuestion
		}
		if q.TypeSnapshot != model.QuestionEssay {
			return util.Validationf("attachments are only accepted for essay questions")
		}
		filesByQuestion[f.QuestionID] = append(filesByQuestion[f.QuestionID], f)
	}

	latest := make(map[uint]AnswerInput, len(answers))
	order := make([]uint, 0, len(answers))
	for _, a := range answers {
		if _, ok := qByID[a.QuestionID]; !ok {
			return util.ErrInvalidQuestion
		}
		if _, seen := latest[a.QuestionID]; !seen {
			order = append(order, a.QuestionID)
		}
		latest[a.QuestionID] = a
	}
	// 只有附件没有文本的问答题：保留已保存的草稿，只追加附件
	attachOnly := make(map[uint]bool)
	for qid := range filesByQuestion {
		if _, ok := latest[qid]; !ok {
			latest[qid] = AnswerInput{QuestionID: qid}
			attachOnly[qid] = true
			order = append(order, qid)
		}
	}

	now := s.Now()
	for _, qid := range order {
		a := latest[qid]
		q := qByID[qid]
		resp := &model.Response{
			AttemptID:  attempt.ID,
			QuestionID: qid,
			AnsweredAt: now,
		}

		switch q.TypeSnapshot {
		case model.QuestionMCQ:
			if a.OptionInstanceID != nil {
				inst, ok := instByID[*a.OptionInstanceID]
				if !ok || inst.QuestionID != qid {
					return util.ErrInvalidOption
				}
				id := inst.ID
				resp.ChosenOptionInstanceID = &id
			} else if a.OptionID != nil {
				inst, ok := instBySource[[2]uint{qid, *a.OptionID}]
				if !ok {
					return util.ErrInvalidOption
				}
				id := inst.ID
				resp.ChosenOptionInstanceID = &id
			}
		case model.QuestionEssay:
			resp.EssayText = a.EssayText
		}

		if attachOnly[qid] {
			if err := responseRepo.FindOrCreate(ctx, resp); err != nil {
				return err
			}
		} else if err := responseRepo.Upsert(ctx, resp); err != nil {
			return err
		}

		media := make([]model.ResponseMedia, 0, len(filesByQuestion[qid]))
		for _, f := range filesByQuestion[qid] {
			media = append(media, model.ResponseMedia{ResponseID: resp.ID, FileName: f.FileName, StoredPath: f.Path})
		}
		if err := responseRepo.CreateMedia(ctx, media); err != nil {
			return err
		}
	}
	return nil
}
