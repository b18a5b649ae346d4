package service

import (
	"context"
	"school_exam_backend/internal/model"
	"school_exam_backend/internal/repository"
	"school_exam_backend/internal/util"
	"school_exam_backend/pkg/logger"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ExamService 试卷与题库管理
type ExamService struct {
	DB       *gorm.DB
	ExamRepo *repository.ExamRepository
	Storage  *StorageService
}

func NewExamService(db *gorm.DB, examRepo *repository.ExamRepository, storage *StorageService) *ExamService {
	return &ExamService{DB: db, ExamRepo: examRepo, Storage: storage}
}

type ExamRequest struct {
	Title            string   `json:"title" binding:"required,max=255"`
	Description      string   `json:"description"`
	DurationMinutes  int      `json:"durationMinutes" binding:"required,min=1"`
	PassingPoints    *float64 `json:"passingPoints" binding:"omitempty,min=0"`
	ShuffleQuestions bool     `json:"shuffleQuestions"`
	ShuffleOptions   bool     `json:"shuffleOptions"`
}

type OptionInput struct {
	Text        string `json:"text" binding:"required"`
	IsCorrect   bool   `json:"isCorrect"`
	Explanation string `json:"explanation"`
}

type QuestionRequest struct {
	Type       model.QuestionType `json:"type" binding:"required,questiontype"`
	Points     float64            `json:"points" binding:"required,gt=0"`
	Body       string             `json:"body" binding:"required"`
	Difficulty *int               `json:"difficulty" binding:"omitempty,min=1,max=5"`
	Options    []OptionInput      `json:"options" binding:"dive"`
}

// Validate MCQ 至少两个选项且至少一个正确答案
func (r *QuestionRequest) Validate() error {
	if !r.Type.Valid() {
		return util.Validationf("unknown question type %q", r.Type)
	}
	if r.Points <= 0 {
		return util.Validationf("points must be positive")
	}
	if strings.TrimSpace(r.Body) == "" {
		return util.Validationf("question body is required")
	}
	if r.Type != model.QuestionMCQ {
		return nil
	}
	if len(r.Options) < 2 {
		return util.Validationf("multiple choice questions need at least two options")
	}
	correct := 0
	for _, o := range r.Options {
		if strings.TrimSpace(o.Text) == "" {
			return util.Validationf("option text is required")
		}
		if o.IsCorrect {
			correct++
		}
	}
	if correct == 0 {
		return util.Validationf("multiple choice questions need a correct option")
	}
	return nil
}

func (r *QuestionRequest) options() []model.MCQOption {
	if r.Type != model.QuestionMCQ {
		return []model.MCQOption{}
	}
	opts := make([]model.MCQOption, len(r.Options))
	for i, o := range r.Options {
		opts[i] = model.MCQOption{Text: o.Text, IsCorrect: o.IsCorrect, Explanation: o.Explanation}
	}
	return opts
}

func (s *ExamService) CreateExam(ctx context.Context, p Principal, req ExamRequest) (*model.Exam, error) {
	exam := &model.Exam{
		TeacherID:        p.ID,
		Code:             model.NewExamCode(),
		Title:            req.Title,
		Description:      req.Description,
		DurationMinutes:  req.DurationMinutes,
		PassingPoints:    req.PassingPoints,
		ShuffleQuestions: req.ShuffleQuestions,
		ShuffleOptions:   req.ShuffleOptions,
	}
	if err := s.ExamRepo.Create(ctx, exam); err != nil {
		return nil, err
	}
	logger.Log.Info("exam created", zap.Uint("examId", exam.ID), zap.Uint("teacherId", p.ID))
	return exam, nil
}

func (s *ExamService) ListExams(ctx context.Context, p Principal) ([]repository.ExamListRow, error) {
	return s.ExamRepo.ListByTeacher(ctx, p.ID)
}

func (s *ExamService) ownedExam(ctx context.Context, p Principal, id uint) (*model.Exam, error) {
	exam, err := s.ExamRepo.FindByID(ctx, id)
	if err != nil {
		return nil, notFoundAs(err, util.ErrExamNotFound)
	}
	if !p.Owns(exam.TeacherID) {
		return nil, util.ErrUnauthorized
	}
	return exam, nil
}

// GetExam 含题目、选项（含正确答案）与附件地址，仅供出卷教师查看
func (s *ExamService) GetExam(ctx context.Context, p Principal, id uint) (*model.Exam, error) {
	if _, err := s.ownedExam(ctx, p, id); err != nil {
		return nil, err
	}
	exam, err := s.ExamRepo.FindWithQuestions(ctx, id)
	if err != nil {
		return nil, notFoundAs(err, util.ErrExamNotFound)
	}
	for i := range exam.Questions {
		s.fillMediaURLs(&exam.Questions[i])
	}
	return exam, nil
}

func (s *ExamService) UpdateExam(ctx context.Context, p Principal, id uint, req ExamRequest) (*model.Exam, error) {
	exam, err := s.ownedExam(ctx, p, id)
	if err != nil {
		return nil, err
	}
	exam.Title = req.Title
	exam.Description = req.Description
	exam.DurationMinutes = req.DurationMinutes
	exam.PassingPoints = req.PassingPoints
	exam.ShuffleQuestions = req.ShuffleQuestions
	exam.ShuffleOptions = req.ShuffleOptions
	if err := s.ExamRepo.Update(ctx, exam); err != nil {
		return nil, err
	}
	return exam, nil
}

// DeleteExam 数据库级联删除在一个事务中完成，成功后再清理存储文件
func (s *ExamService) DeleteExam(ctx context.Context, p Principal, id uint) error {
	if _, err := s.ownedExam(ctx, p, id); err != nil {
		return err
	}
	paths, err := s.ExamRepo.Delete(ctx, id)
	if err != nil {
		return err
	}
	s.Storage.DeleteAll(context.WithoutCancel(ctx), paths)
	logger.Log.Info("exam deleted", zap.Uint("examId", id), zap.Int("files", len(paths)))
	return nil
}

// AddQuestion examRef 为试卷 ID 或 "bank"（题库）
func (s *ExamService) AddQuestion(ctx context.Context, p Principal, examRef string, req QuestionRequest, files []UploadFile) (*model.Question, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	var examID *uint
	if examRef != util.BankExamID {
		id := util.MustParseUint(examRef)
		if id == 0 {
			return nil, util.ErrExamNotFound
		}
		if _, err := s.ownedExam(ctx, p, id); err != nil {
			return nil, err
		}
		examID = &id
	}

	stored, err := uploadAll(ctx, s.Storage, util.ExamMediaDir, files)
	if err != nil {
		return nil, err
	}

	q := &model.Question{
		ExamID:     examID,
		TeacherID:  p.ID,
		Type:       req.Type,
		Points:     req.Points,
		Body:       req.Body,
		Difficulty: req.Difficulty,
		Options:    req.options(),
	}
	for _, f := range stored {
		q.Media = append(q.Media, model.QuestionMedia{FileName: f.FileName, StoredPath: f.Path})
	}

	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := s.ExamRepo.WithTx(tx)
		if err := repo.CreateQuestion(ctx, q); err != nil {
			return err
		}
		if examID != nil {
			return repo.RecalculateTotalPoints(ctx, *examID)
		}
		return nil
	})
	if err != nil {
		s.Storage.DeleteAll(context.WithoutCancel(ctx), storedPaths(stored))
		return nil, err
	}
	s.fillMediaURLs(q)
	return q, nil
}

func (s *ExamService) ownedQuestion(ctx context.Context, p Principal, id uint) (*model.Question, error) {
	q, err := s.ExamRepo.FindQuestion(ctx, id)
	if err != nil {
		return nil, notFoundAs(err, util.ErrQuestionNotFound)
	}
	if !p.Owns(q.TeacherID) {
		return nil, util.ErrUnauthorized
	}
	return q, nil
}

// UpdateQuestion 已开始的作答使用快照，不受修改影响
func (s *ExamService) UpdateQuestion(ctx context.Context, p Principal, id uint, req QuestionRequest) (*model.Question, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	q, err := s.ownedQuestion(ctx, p, id)
	if err != nil {
		return nil, err
	}

	q.Type = req.Type
	q.Points = req.Points
	q.Body = req.Body
	q.Difficulty = req.Difficulty

	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := s.ExamRepo.WithTx(tx)
		if err := repo.UpdateQuestion(ctx, q, req.options()); err != nil {
			return err
		}
		if q.ExamID != nil {
			return repo.RecalculateTotalPoints(ctx, *q.ExamID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.fillMediaURLs(q)
	return q, nil
}

func (s *ExamService) DeleteQuestion(ctx context.Context, p Principal, id uint) error {
	q, err := s.ownedQuestion(ctx, p, id)
	if err != nil {
		return err
	}

	var paths []string
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := s.ExamRepo.WithTx(tx)
		var err error
		if paths, err = repo.DeleteQuestion(ctx, id); err != nil {
			return err
		}
		if q.ExamID != nil {
			return repo.RecalculateTotalPoints(ctx, *q.ExamID)
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.Storage.DeleteAll(context.WithoutCancel(ctx), paths)
	return nil
}

// DeleteQuestionMedia 先删除记录，再删除存储文件
func (s *ExamService) DeleteQuestionMedia(ctx context.Context, p Principal, mediaID uint) error {
	media, err := s.ExamRepo.FindMedia(ctx, mediaID)
	if err != nil {
		return notFoundAs(err, util.ErrMediaNotFound)
	}
	if _, err := s.ownedQuestion(ctx, p, media.QuestionID); err != nil {
		return err
	}
	if err := s.ExamRepo.DeleteMedia(ctx, mediaID); err != nil {
		return err
	}
	s.Storage.DeleteAll(context.WithoutCancel(ctx), []string{media.StoredPath})
	return nil
}

func (s *ExamService) ListBankQuestions(ctx context.Context, p Principal) ([]model.Question, error) {
	qs, err := s.ExamRepo.ListBank(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	for i := range qs {
		s.fillMediaURLs(&qs[i])
	}
	return qs, nil
}

func (s *ExamService) fillMediaURLs(q *model.Question) {
	for i := range q.Media {
		q.Media[i].URL = s.Storage.GetURL(q.Media[i].StoredPath)
	}
}
