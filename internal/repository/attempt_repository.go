package repository

import (
	"context"
	"school_exam_backend/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AttemptRepository 作答、题目快照与选项快照
type AttemptRepository struct {
	DB *gorm.DB
}

func NewAttemptRepository(db *gorm.DB) *AttemptRepository {
	return &AttemptRepository{DB: db}
}

func (r *AttemptRepository) WithTx(tx *gorm.DB) *AttemptRepository {
	return &AttemptRepository{DB: tx}
}

func (r *AttemptRepository) Create(ctx context.Context, a *model.Attempt) error {
	return r.DB.WithContext(ctx).Create(a).Error
}

func (r *AttemptRepository) Save(ctx context.Context, a *model.Attempt) error {
	return r.DB.WithContext(ctx).Save(a).Error
}

func (r *AttemptRepository) FindByID(ctx context.Context, id uint) (*model.Attempt, error) {
	var a model.Attempt
	err := r.DB.WithContext(ctx).Preload("Assignment.Exam").First(&a, id).Error
	return &a, err
}

// FindForUpdate 在事务中锁定作答行
func (r *AttemptRepository) FindForUpdate(ctx context.Context, id uint) (*model.Attempt, error) {
	var a model.Attempt
	err := r.DB.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&a, id).Error
	return &a, err
}

// CountFinished 已结束（非 in_progress）的作答数
func (r *AttemptRepository) CountFinished(ctx context.Context, assignmentID, studentID uint) (int64, error) {
	var count int64
	err := r.DB.WithContext(ctx).Model(&model.Attempt{}).
		Where("assignment_id = ? AND student_id = ? AND status <> ?", assignmentID, studentID, model.AttemptInProgress).
		Count(&count).Error
	return count, err
}

// FindInProgress 不存在时返回 gorm.ErrRecordNotFound
func (r *AttemptRepository) FindInProgress(ctx context.Context, assignmentID, studentID uint) (*model.Attempt, error) {
	var a model.Attempt
	err := r.DB.WithContext(ctx).
		Where("assignment_id = ? AND student_id = ? AND status = ?", assignmentID, studentID, model.AttemptInProgress).
		Order("attempt_number DESC").
		First(&a).Error
	return &a, err
}

func (r *AttemptRepository) CreateQuestions(ctx context.Context, qs []model.AttemptQuestion) error {
	if len(qs) == 0 {
		return nil
	}
	return r.DB.WithContext(ctx).CreateInBatches(qs, 100).Error
}

func (r *AttemptRepository) CreateOptionInstances(ctx context.Context, opts []model.OptionInstance) error {
	if len(opts) == 0 {
		return nil
	}
	return r.DB.WithContext(ctx).CreateInBatches(opts, 200).Error
}

func (r *AttemptRepository) ListQuestions(ctx context.Context, attemptID uint) ([]model.AttemptQuestion, error) {
	var qs []model.AttemptQuestion
	err := r.DB.WithContext(ctx).
		Where("attempt_id = ?", attemptID).
		Order("display_order ASC").
		Find(&qs).Error
	return qs, err
}

func (r *AttemptRepository) ListOptionInstances(ctx context.Context, attemptID uint) ([]model.OptionInstance, error) {
	var opts []model.OptionInstance
	err := r.DB.WithContext(ctx).
		Where("attempt_id = ?", attemptID).
		Order("question_id ASC, display_order ASC").
		Find(&opts).Error
	return opts, err
}

// ListByAssignment 各学生的全部作答，按作答序号升序
func (r *AttemptRepository) ListByAssignment(ctx context.Context, assignmentID uint) ([]model.Attempt, error) {
	var list []model.Attempt
	err := r.DB.WithContext(ctx).
		Where("assignment_id = ?", assignmentID).
		Order("student_id ASC, attempt_number ASC").
		Find(&list).Error
	return list, err
}

func (r *AttemptRepository) ListByStudent(ctx context.Context, studentID uint, assignmentIDs []uint) ([]model.Attempt, error) {
	var list []model.Attempt
	if len(assignmentIDs) == 0 {
		return list, nil
	}
	err := r.DB.WithContext(ctx).
		Where("student_id = ? AND assignment_id IN ?", studentID, assignmentIDs).
		Order("assignment_id ASC, attempt_number ASC").
		Find(&list).Error
	return list, err
}
