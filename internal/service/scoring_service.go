package service

import (
	"bytes"
	"context"
	"encoding/json"
	"school_exam_backend/internal/model"
	"school_exam_backend/internal/repository"
	"school_exam_backend/internal/util"
	"school_exam_backend/pkg/logger"
	"school_exam_backend/pkg/monitoring"
	"school_exam_backend/pkg/tracing"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ScoringService 提交时自动评分 MCQ，教师批改问答题
type ScoringService struct {
	DB             *gorm.DB
	AssignmentRepo *repository.AssignmentRepository
	AttemptRepo    *repository.AttemptRepository
	ResponseRepo   *repository.ResponseRepository
	UserRepo       *repository.UserRepository
	Storage        *StorageService
	Now            Clock
}

func NewScoringService(
	db *gorm.DB,
	assignmentRepo *repository.AssignmentRepository,
	attemptRepo *repository.AttemptRepository,
	responseRepo *repository.ResponseRepository,
	userRepo *repository.UserRepository,
	storage *StorageService,
) *ScoringService {
	return &ScoringService{
		DB:             db,
		AssignmentRepo: assignmentRepo,
		AttemptRepo:    attemptRepo,
		ResponseRepo:   responseRepo,
		UserRepo:       userRepo,
		Storage:        storage,
		Now:            time.Now,
	}
}

// AutoScore 自动评分结果
type AutoScore struct {
	Score       float64
	NeedsManual bool
	// MCQ 回答的得分，按 Response.ID
	Awarded map[uint]float64
}

// ScoreResponses 按作答快照计算 MCQ 得分；缺失或无效的选择计 0 分，问答题保持未评分
func ScoreResponses(questions []model.AttemptQuestion, instances []model.OptionInstance, responses []model.Response) AutoScore {
	byQuestion := make(map[uint]model.AttemptQuestion, len(questions))
	result := AutoScore{Awarded: make(map[uint]float64)}
	for _, q := range questions {
		byQuestion[q.QuestionID] = q
		if q.TypeSnapshot == model.QuestionEssay {
			result.NeedsManual = true
		}
	}

	byID := make(map[uint]model.OptionInstance, len(instances))
	for _, inst := range instances {
		byID[inst.ID] = inst
	}

	for _, r := range responses {
		q, ok := byQuestion[r.QuestionID]
		if !ok || q.TypeSnapshot != model.QuestionMCQ {
			continue
		}
		awarded := 0.0
		if r.ChosenOptionInstanceID != nil {
			inst, ok := byID[*r.ChosenOptionInstanceID]
			if ok && inst.QuestionID == r.QuestionID && inst.IsCorrectSnapshot {
				awarded = q.PointsSnapshot
			}
		}
		result.Awarded[r.ID] = awarded
		result.Score += awarded
	}
	return result
}

// Finalize 在调用方事务中结束作答：计算自动分并更新状态
func (s *ScoringService) Finalize(ctx context.Context, tx *gorm.DB, attempt *model.Attempt, autoSubmitted bool) error {
	attemptRepo := s.AttemptRepo.WithTx(tx)
	responseRepo := s.ResponseRepo.WithTx(tx)

	questions, err := attemptRepo.ListQuestions(ctx, attempt.ID)
	if err != nil {
		return err
	}
	instances, err := attemptRepo.ListOptionInstances(ctx, attempt.ID)
	if err != nil {
		return err
	}
	responses, err := responseRepo.ListByAttempt(ctx, attempt.ID)
	if err != nil {
		return err
	}

	score := ScoreResponses(questions, instances, responses)
	if err := responseRepo.SetScores(ctx, score.Awarded); err != nil {
		return err
	}

	now := s.Now()
	attempt.SubmittedAt = &now
	attempt.AutoScore = score.Score
	attempt.ManualScore = 0
	attempt.AutoSubmitted = autoSubmitted
	if score.NeedsManual {
		attempt.Status = model.AttemptNeedsGrading
		attempt.TotalScore = nil
	} else {
		total := score.Score
		attempt.Status = model.AttemptGraded
		attempt.TotalScore = &total
	}
	if err := attemptRepo.Save(ctx, attempt); err != nil {
		return err
	}

	event := "submitted"
	if autoSubmitted {
		event = "expired"
	}
	monitoring.RecordAttemptEvent(event)
	if attempt.TotalScore != nil {
		monitoring.AttemptScore.Observe(*attempt.TotalScore)
	}
	logger.Log.Info("attempt "+event,
		zap.Uint("attemptId", attempt.ID),
		zap.Uint("studentId", attempt.StudentID),
		zap.Float64("autoScore", attempt.AutoScore),
		zap.String("status", string(attempt.Status)))
	return nil
}

// RawScore 接受数字或字符串形式的分数
type RawScore string

func (r *RawScore) UnmarshalJSON(data []byte) error {
	if bytes.HasPrefix(data, []byte(`"`)) {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*r = RawScore(s)
		return nil
	}
	*r = RawScore(data)
	return nil
}

type GradeRequest struct {
	Scores   map[uint]RawScore `json:"scores"`
	Comments map[uint]string   `json:"comments"`
}

// GradeAttempt 覆盖式批改：manualScore 只取本次提交的分数之和
func (s *ScoringService) GradeAttempt(ctx context.Context, p Principal, attemptID uint, req GradeRequest) (attempt *model.Attempt, err error) {
	ctx, span := tracing.StartSpan(ctx, "scoring.GradeAttempt")
	defer func() { tracing.EndSpan(span, err) }()

	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		attemptRepo := s.AttemptRepo.WithTx(tx)
		responseRepo := s.ResponseRepo.WithTx(tx)

		a, err := attemptRepo.FindForUpdate(ctx, attemptID)
		if err != nil {
			return notFoundAs(err, util.ErrAttemptNotFound)
		}
		assignment, err := s.AssignmentRepo.WithTx(tx).FindByID(ctx, a.AssignmentID)
		if err != nil {
			return notFoundAs(err, util.ErrAttemptNotFound)
		}
		if assignment.Exam == nil || !p.Owns(assignment.Exam.TeacherID) {
			return util.ErrUnauthorized
		}
		if a.Status != model.AttemptNeedsGrading && a.Status != model.AttemptGraded {
			return util.ErrInvalidAttemptState
		}

		questions, err := attemptRepo.ListQuestions(ctx, a.ID)
		if err != nil {
			return err
		}
		qByID := make(map[uint]model.AttemptQuestion, len(questions))
		for _, q := range questions {
			qByID[q.QuestionID] = q
		}
		responses, err := responseRepo.ListByAttempt(ctx, a.ID)
		if err != nil {
			return err
		}
		rByID := make(map[uint]model.Response, len(responses))
		for _, r := range responses {
			rByID[r.ID] = r
		}

		updates := make(map[uint]map[string]interface{})
		manual := 0.0
		for responseID, raw := range req.Scores {
			r, ok := rByID[responseID]
			if !ok {
				return util.Validationf("response %d does not belong to this attempt", responseID)
			}
			q := qByID[r.QuestionID]
			if q.TypeSnapshot != model.QuestionEssay {
				return util.Validationf("response %d is not an essay response", responseID)
			}
			score := util.Clamp(util.LenientFloat(string(raw)), 0, q.PointsSnapshot)
			manual += score
			updates[responseID] = map[string]interface{}{"score_awarded": score}
		}
		// 本次未给分的问答题清空旧分数，保证各题得分与 manualScore 一致
		for _, r := range responses {
			if _, scored := req.Scores[r.ID]; scored || r.ScoreAwarded == nil {
				continue
			}
			if qByID[r.QuestionID].TypeSnapshot != model.QuestionEssay {
				continue
			}
			updates[r.ID] = map[string]interface{}{"score_awarded": nil}
		}
		for responseID, comment := range req.Comments {
			if _, ok := rByID[responseID]; !ok {
				return util.Validationf("response %d does not belong to this attempt", responseID)
			}
			if updates[responseID] == nil {
				updates[responseID] = map[string]interface{}{}
			}
			updates[responseID]["grader_comment"] = comment
		}

		for responseID, fields := range updates {
			if err := responseRepo.UpdateFields(ctx, responseID, fields); err != nil {
				return err
			}
		}

		total := a.AutoScore + manual
		a.ManualScore = manual
		a.TotalScore = &total
		a.Status = model.AttemptGraded
		if err := attemptRepo.Save(ctx, a); err != nil {
			return err
		}
		attempt = a
		return nil
	})
	if err != nil {
		return nil, err
	}

	monitoring.RecordAttemptEvent("graded")
	monitoring.AttemptScore.Observe(*attempt.TotalScore)
	logger.Log.Info("attempt graded",
		zap.Uint("attemptId", attempt.ID),
		zap.Uint("teacherId", p.ID),
		zap.Float64("manualScore", attempt.ManualScore),
		zap.Float64("totalScore", *attempt.TotalScore))
	return attempt, nil
}

type MediaView struct {
	ID       uint   `json:"id"`
	FileName string `json:"fileName"`
	URL      string `json:"url"`
}

type GradingItem struct {
	ResponseID   uint               `json:"responseId,omitempty"`
	QuestionID   uint               `json:"questionId"`
	DisplayOrder int                `json:"displayOrder"`
	Type         model.QuestionType `json:"type"`
	Body         string             `json:"body"`
	Points       float64            `json:"points"`
	ChosenLabel  string             `json:"chosenLabel,omitempty"`
	ChosenText   string             `json:"chosenText,omitempty"`
	IsCorrect    *bool              `json:"isCorrect,omitempty"`
	EssayText    *string            `json:"essayText,omitempty"`
	Score        *float64           `json:"score"`
	Comment      *string            `json:"comment,omitempty"`
	Media        []MediaView        `json:"media,omitempty"`
}

type GradingView struct {
	Attempt     *model.Attempt `json:"attempt"`
	ExamTitle   string         `json:"examTitle"`
	StudentName string         `json:"studentName"`
	TotalPoints float64        `json:"totalPoints"`
	Items       []GradingItem  `json:"items"`
}

// GetGradingView 教师批改页面数据，按作答展示顺序
func (s *ScoringService) GetGradingView(ctx context.Context, p Principal, attemptID uint) (*GradingView, error) {
	attempt, err := s.AttemptRepo.FindByID(ctx, attemptID)
	if err != nil {
		return nil, notFoundAs(err, util.ErrAttemptNotFound)
	}
	if attempt.Assignment == nil || attempt.Assignment.Exam == nil {
		return nil, util.ErrAttemptNotFound
	}
	exam := attempt.Assignment.Exam
	if !p.Owns(exam.TeacherID) {
		return nil, util.ErrUnauthorized
	}

	items, err := s.answerSheet(ctx, attempt.ID, true)
	if err != nil {
		return nil, err
	}

	view := &GradingView{
		Attempt:     attempt,
		ExamTitle:   exam.Title,
		TotalPoints: exam.TotalPoints,
		Items:       items,
	}
	if student, err := s.UserRepo.FindByID(ctx, attempt.StudentID); err == nil {
		view.StudentName = student.Name
	}
	attempt.Assignment = nil
	return view, nil
}

// answerSheet 合并题目快照、选项快照与作答记录
func (s *ScoringService) answerSheet(ctx context.Context, attemptID uint, revealCorrect bool) ([]GradingItem, error) {
	questions, err := s.AttemptRepo.ListQuestions(ctx, attemptID)
	if err != nil {
		return nil, err
	}
	instances, err := s.AttemptRepo.ListOptionInstances(ctx, attemptID)
	if err != nil {
		return nil, err
	}
	responses, err := s.ResponseRepo.ListByAttempt(ctx, attemptID)
	if err != nil {
		return nil, err
	}

	instByID := make(map[uint]model.OptionInstance, len(instances))
	for _, inst := range instances {
		instByID[inst.ID] = inst
	}
	respByQuestion := make(map[uint]model.Response, len(responses))
	for _, r := range responses {
		respByQuestion[r.QuestionID] = r
	}

	items := make([]GradingItem, 0, len(questions))
	for _, q := range questions {
		item := GradingItem{
			QuestionID:   q.QuestionID,
			DisplayOrder: q.DisplayOrder,
			Type:         q.TypeSnapshot,
			Body:         q.BodySnapshot,
			Points:       q.PointsSnapshot,
		}
		if r, ok := respByQuestion[q.QuestionID]; ok {
			item.ResponseID = r.ID
			item.EssayText = r.EssayText
			item.Score = r.ScoreAwarded
			item.Comment = r.GraderComment
			if r.ChosenOptionInstanceID != nil {
				if inst, ok := instByID[*r.ChosenOptionInstanceID]; ok {
					item.ChosenLabel = inst.DisplayLabel
					item.ChosenText = inst.OptionTextSnapshot
					if revealCorrect {
						correct := inst.IsCorrectSnapshot
						item.IsCorrect = &correct
					}
				}
			}
			for _, m := range r.Media {
				item.Media = append(item.Media, MediaView{ID: m.ID, FileName: m.FileName, URL: s.Storage.GetURL(m.StoredPath)})
			}
		}
		items = append(items, item)
	}
	return items, nil
}
