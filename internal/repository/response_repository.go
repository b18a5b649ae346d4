package repository

import (
	"context"
	"errors"
	"school_exam_backend/internal/model"

	"gorm.io/gorm"
)

type ResponseRepository struct {
	DB *gorm.DB
}

func NewResponseRepository(db *gorm.DB) *ResponseRepository {
	return &ResponseRepository{DB: db}
}

func (r *ResponseRepository) WithTx(tx *gorm.DB) *ResponseRepository {
	return &ResponseRepository{DB: tx}
}

// Upsert 每个 (attempt, question) 只保留一条，重复提交覆盖答案字段
func (r *ResponseRepository) Upsert(ctx context.Context, resp *model.Response) error {
	var existing model.Response
	err := r.DB.WithContext(ctx).
		Where("attempt_id = ? AND question_id = ?", resp.AttemptID, resp.QuestionID).
		First(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return r.DB.WithContext(ctx).Create(resp).Error
	}
	if err != nil {
		return err
	}

	resp.ID = existing.ID
	resp.CreatedAt = existing.CreatedAt
	return r.DB.WithContext(ctx).Model(&existing).
		Select("chosen_option_instance_id", "essay_text", "score_awarded", "answered_at").
		Updates(resp).Error
}

// FindOrCreate 已有回答时原样读出，不覆盖草稿内容
func (r *ResponseRepository) FindOrCreate(ctx context.Context, resp *model.Response) error {
	return r.DB.WithContext(ctx).
		Where("attempt_id = ? AND question_id = ?", resp.AttemptID, resp.QuestionID).
		FirstOrCreate(resp).Error
}

func (r *ResponseRepository) ListByAttempt(ctx context.Context, attemptID uint) ([]model.Response, error) {
	var list []model.Response
	err := r.DB.WithContext(ctx).
		Preload("Media").
		Where("attempt_id = ?", attemptID).
		Order("id ASC").
		Find(&list).Error
	return list, err
}

// UpdateFields 批改时更新得分与评语
func (r *ResponseRepository) UpdateFields(ctx context.Context, id uint, fields map[string]interface{}) error {
	return r.DB.WithContext(ctx).Model(&model.Response{}).Where("id = ?", id).Updates(fields).Error
}

func (r *ResponseRepository) SetScores(ctx context.Context, scores map[uint]float64) error {
	for id, s := range scores {
		if err := r.DB.WithContext(ctx).Model(&model.Response{}).Where("id = ?", id).Update("score_awarded", s).Error; err != nil {
			return err
		}
	}
	return nil
}

func (r *ResponseRepository) CreateMedia(ctx context.Context, media []model.ResponseMedia) error {
	if len(media) == 0 {
		return nil
	}
	return r.DB.WithContext(ctx).Create(&media).Error
}
