package repository

import (
	"context"
	"school_exam_backend/internal/model"

	"gorm.io/gorm"
)

// ExamRepository 试卷、题目、选项与题目附件
type ExamRepository struct {
	DB *gorm.DB
}

func NewExamRepository(db *gorm.DB) *ExamRepository {
	return &ExamRepository{DB: db}
}

func (r *ExamRepository) WithTx(tx *gorm.DB) *ExamRepository {
	return &ExamRepository{DB: tx}
}

func (r *ExamRepository) Create(ctx context.Context, exam *model.Exam) error {
	return r.DB.WithContext(ctx).Create(exam).Error
}

func (r *ExamRepository) FindByID(ctx context.Context, id uint) (*model.Exam, error) {
	var exam model.Exam
	err := r.DB.WithContext(ctx).First(&exam, id).Error
	return &exam, err
}

// FindWithQuestions 题目按创建顺序，选项按 ID 排序
func (r *ExamRepository) FindWithQuestions(ctx context.Context, id uint) (*model.Exam, error) {
	var exam model.Exam
	err := r.DB.WithContext(ctx).
		Preload("Questions", func(db *gorm.DB) *gorm.DB { return db.Order("questions.id ASC") }).
		Preload("Questions.Options", func(db *gorm.DB) *gorm.DB { return db.Order("mcq_options.id ASC") }).
		Preload("Questions.Media").
		First(&exam, id).Error
	return &exam, err
}

type ExamListRow struct {
	model.Exam
	QuestionCount   int `json:"questionCount"`
	AssignmentCount int `json:"assignmentCount"`
}

func (r *ExamRepository) ListByTeacher(ctx context.Context, teacherID uint) ([]ExamListRow, error) {
	var rows []ExamListRow
	err := r.DB.WithContext(ctx).Table("exams e").
		Select("e.*, "+
			"(SELECT COUNT(*) FROM questions q WHERE q.exam_id = e.id AND q.deleted_at IS NULL) AS question_count, "+
			"(SELECT COUNT(*) FROM exam_assignments a WHERE a.exam_id = e.id AND a.deleted_at IS NULL) AS assignment_count").
		Where("e.teacher_id = ? AND e.deleted_at IS NULL", teacherID).
		Order("e.created_at DESC").
		Scan(&rows).Error
	return rows, err
}

func (r *ExamRepository) Update(ctx context.Context, exam *model.Exam) error {
	return r.DB.WithContext(ctx).Save(exam).Error
}

// RecalculateTotalPoints 试卷总分 = 题目分值之和
func (r *ExamRepository) RecalculateTotalPoints(ctx context.Context, examID uint) error {
	var total float64
	if err := r.DB.WithContext(ctx).Model(&model.Question{}).
		Where("exam_id = ?", examID).
		Select("COALESCE(SUM(points), 0)").
		Scan(&total).Error; err != nil {
		return err
	}
	return r.DB.WithContext(ctx).Model(&model.Exam{}).Where("id = ?", examID).Update("total_points", total).Error
}

// Delete 级联删除试卷及其全部题目、布置与作答，返回需要从存储中删除的文件
func (r *ExamRepository) Delete(ctx context.Context, examID uint) ([]string, error) {
	var paths []string
	err := r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var assignmentIDs []uint
		if err := tx.Model(&model.ExamAssignment{}).Unscoped().Where("exam_id = ?", examID).Pluck("id", &assignmentIDs).Error; err != nil {
			return err
		}
		for _, id := range assignmentIDs {
			p, err := deleteAssignment(tx, id)
			if err != nil {
				return err
			}
			paths = append(paths, p...)
		}

		var questionIDs []uint
		if err := tx.Model(&model.Question{}).Unscoped().Where("exam_id = ?", examID).Pluck("id", &questionIDs).Error; err != nil {
			return err
		}
		if len(questionIDs) > 0 {
			var media []string
			if err := tx.Model(&model.QuestionMedia{}).Unscoped().Where("question_id IN ?", questionIDs).Pluck("stored_path", &media).Error; err != nil {
				return err
			}
			paths = append(paths, media...)
			if err := tx.Unscoped().Where("question_id IN ?", questionIDs).Delete(&model.QuestionMedia{}).Error; err != nil {
				return err
			}
			if err := tx.Unscoped().Where("question_id IN ?", questionIDs).Delete(&model.MCQOption{}).Error; err != nil {
				return err
			}
			if err := tx.Unscoped().Where("id IN ?", questionIDs).Delete(&model.Question{}).Error; err != nil {
				return err
			}
		}
		return tx.Unscoped().Delete(&model.Exam{}, examID).Error
	})
	if err != nil {
		return nil, err
	}
	return paths, nil
}

// CreateQuestion 题目与选项、附件在同一事务中创建
func (r *ExamRepository) CreateQuestion(ctx context.Context, q *model.Question) error {
	return r.DB.WithContext(ctx).Create(q).Error
}

func (r *ExamRepository) FindQuestion(ctx context.Context, id uint) (*model.Question, error) {
	var q model.Question
	err := r.DB.WithContext(ctx).
		Preload("Options", func(db *gorm.DB) *gorm.DB { return db.Order("mcq_options.id ASC") }).
		Preload("Media").
		First(&q, id).Error
	return &q, err
}

// ListBank 教师题库（未归属试卷的题目）
func (r *ExamRepository) ListBank(ctx context.Context, teacherID uint) ([]model.Question, error) {
	var qs []model.Question
	err := r.DB.WithContext(ctx).
		Preload("Options", func(db *gorm.DB) *gorm.DB { return db.Order("mcq_options.id ASC") }).
		Preload("Media").
		Where("exam_id IS NULL AND teacher_id = ?", teacherID).
		Order("id ASC").
		Find(&qs).Error
	return qs, err
}

// UpdateQuestion 更新题目字段；options 非空时软删除旧选项并整体替换，已开始的作答仍使用快照
func (r *ExamRepository) UpdateQuestion(ctx context.Context, q *model.Question, options []model.MCQOption) error {
	return r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&model.Question{}).Where("id = ?", q.ID).Updates(map[string]interface{}{
			"type":       q.Type,
			"points":     q.Points,
			"body":       q.Body,
			"difficulty": q.Difficulty,
		}).Error; err != nil {
			return err
		}
		if options == nil {
			return nil
		}
		if err := tx.Where("question_id = ?", q.ID).Delete(&model.MCQOption{}).Error; err != nil {
			return err
		}
		for i := range options {
			options[i].ID = 0
			options[i].QuestionID = q.ID
		}
		if len(options) > 0 {
			if err := tx.Create(&options).Error; err != nil {
				return err
			}
		}
		q.Options = options
		return nil
	})
}

// DeleteQuestion 软删除题目及选项，返回附件存储路径
func (r *ExamRepository) DeleteQuestion(ctx context.Context, id uint) ([]string, error) {
	var paths []string
	err := r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&model.QuestionMedia{}).Where("question_id = ?", id).Pluck("stored_path", &paths).Error; err != nil {
			return err
		}
		if err := tx.Unscoped().Where("question_id = ?", id).Delete(&model.QuestionMedia{}).Error; err != nil {
			return err
		}
		if err := tx.Where("question_id = ?", id).Delete(&model.MCQOption{}).Error; err != nil {
			return err
		}
		return tx.Delete(&model.Question{}, id).Error
	})
	return paths, err
}

func (r *ExamRepository) FindMedia(ctx context.Context, id uint) (*model.QuestionMedia, error) {
	var m model.QuestionMedia
	err := r.DB.WithContext(ctx).First(&m, id).Error
	return &m, err
}

func (r *ExamRepository) DeleteMedia(ctx context.Context, id uint) error {
	return r.DB.WithContext(ctx).Unscoped().Delete(&model.QuestionMedia{}, id).Error
}

// ListQuestionsForAttempt 生成作答快照所需的题目与选项
func (r *ExamRepository) ListQuestionsForAttempt(ctx context.Context, examID uint) ([]model.Question, error) {
	var qs []model.Question
	err := r.DB.WithContext(ctx).
		Preload("Options", func(db *gorm.DB) *gorm.DB { return db.Order("mcq_options.id ASC") }).
		Where("exam_id = ?", examID).
		Order("id ASC").
		Find(&qs).Error
	return qs, err
}

func (r *ExamRepository) ListMediaByQuestions(ctx context.Context, questionIDs []uint) ([]model.QuestionMedia, error) {
	var media []model.QuestionMedia
	if len(questionIDs) == 0 {
		return media, nil
	}
	err := r.DB.WithContext(ctx).
		Where("question_id IN ?", questionIDs).
		Order("id ASC").
		Find(&media).Error
	return media, err
}
