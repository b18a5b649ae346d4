package repository

import (
	"context"
	"school_exam_backend/internal/model"

	"gorm.io/gorm"
)

type AssignmentRepository struct {
	DB *gorm.DB
}

func NewAssignmentRepository(db *gorm.DB) *AssignmentRepository {
	return &AssignmentRepository{DB: db}
}

func (r *AssignmentRepository) WithTx(tx *gorm.DB) *AssignmentRepository {
	return &AssignmentRepository{DB: tx}
}

func (r *AssignmentRepository) Create(ctx context.Context, a *model.ExamAssignment) error {
	return r.DB.WithContext(ctx).Create(a).Error
}

func (r *AssignmentRepository) FindByID(ctx context.Context, id uint) (*model.ExamAssignment, error) {
	var a model.ExamAssignment
	err := r.DB.WithContext(ctx).Preload("Exam").Preload("Class").First(&a, id).Error
	return &a, err
}

type AssignmentListRow struct {
	model.ExamAssignment
	ClassName       string `json:"className"`
	EnrollmentCount int64  `json:"enrollmentCount"`
}

func (r *AssignmentRepository) ListByExam(ctx context.Context, examID uint) ([]AssignmentListRow, error) {
	var rows []AssignmentListRow
	err := r.DB.WithContext(ctx).Table("exam_assignments a").
		Select("a.*, c.name AS class_name, "+
			"(SELECT COUNT(*) FROM enrollments e WHERE e.class_id = a.class_id AND e.deleted_at IS NULL) AS enrollment_count").
		Joins("JOIN classes c ON c.id = a.class_id").
		Where("a.exam_id = ? AND a.deleted_at IS NULL", examID).
		Order("a.open_at ASC").
		Scan(&rows).Error
	return rows, err
}

// ListAvailableClasses 教师名下尚未布置该试卷的班级
func (r *AssignmentRepository) ListAvailableClasses(ctx context.Context, examID, teacherID uint) ([]model.Class, error) {
	var classes []model.Class
	err := r.DB.WithContext(ctx).
		Where("teacher_id = ?", teacherID).
		Where("id NOT IN (?)", r.DB.Model(&model.ExamAssignment{}).Select("class_id").Where("exam_id = ?", examID)).
		Order("name ASC").
		Find(&classes).Error
	return classes, err
}

// FindForStudent 学生未选该班级时返回 gorm.ErrRecordNotFound
func (r *AssignmentRepository) FindForStudent(ctx context.Context, id, studentID uint) (*model.ExamAssignment, error) {
	var a model.ExamAssignment
	err := r.DB.WithContext(ctx).
		Preload("Exam").
		Joins("JOIN enrollments e ON e.class_id = exam_assignments.class_id AND e.deleted_at IS NULL").
		Where("exam_assignments.id = ? AND e.student_id = ?", id, studentID).
		First(&a).Error
	return &a, err
}

func (r *AssignmentRepository) ListForStudent(ctx context.Context, studentID uint) ([]model.ExamAssignment, error) {
	var list []model.ExamAssignment
	err := r.DB.WithContext(ctx).
		Preload("Exam").
		Preload("Class").
		Joins("JOIN enrollments e ON e.class_id = exam_assignments.class_id AND e.deleted_at IS NULL").
		Where("e.student_id = ?", studentID).
		Order("exam_assignments.close_at ASC").
		Find(&list).Error
	return list, err
}

// Delete 级联删除布置下的全部作答，返回作答附件路径
func (r *AssignmentRepository) Delete(ctx context.Context, id uint) ([]string, error) {
	var paths []string
	err := r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		paths, err = deleteAssignment(tx, id)
		return err
	})
	return paths, err
}

func deleteAssignment(tx *gorm.DB, assignmentID uint) ([]string, error) {
	var attemptIDs []uint
	if err := tx.Model(&model.Attempt{}).Unscoped().Where("assignment_id = ?", assignmentID).Pluck("id", &attemptIDs).Error; err != nil {
		return nil, err
	}
	paths, err := deleteAttempts(tx, attemptIDs)
	if err != nil {
		return nil, err
	}
	if err := tx.Unscoped().Delete(&model.ExamAssignment{}, assignmentID).Error; err != nil {
		return nil, err
	}
	return paths, nil
}

func deleteAttempts(tx *gorm.DB, attemptIDs []uint) ([]string, error) {
	if len(attemptIDs) == 0 {
		return nil, nil
	}

	var responseIDs []uint
	if err := tx.Model(&model.Response{}).Where("attempt_id IN ?", attemptIDs).Pluck("id", &responseIDs).Error; err != nil {
		return nil, err
	}

	var paths []string
	if len(responseIDs) > 0 {
		if err := tx.Model(&model.ResponseMedia{}).Where("response_id IN ?", responseIDs).Pluck("stored_path", &paths).Error; err != nil {
			return nil, err
		}
		if err := tx.Where("response_id IN ?", responseIDs).Delete(&model.ResponseMedia{}).Error; err != nil {
			return nil, err
		}
		if err := tx.Where("id IN ?", responseIDs).Delete(&model.Response{}).Error; err != nil {
			return nil, err
		}
	}
	if err := tx.Where("attempt_id IN ?", attemptIDs).Delete(&model.OptionInstance{}).Error; err != nil {
		return nil, err
	}
	if err := tx.Where("attempt_id IN ?", attemptIDs).Delete(&model.AttemptQuestion{}).Error; err != nil {
		return nil, err
	}
	if err := tx.Unscoped().Where("id IN ?", attemptIDs).Delete(&model.Attempt{}).Error; err != nil {
		return nil, err
	}
	return paths, nil
}
