package repository

import (
	"context"
	"school_exam_backend/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ClassRepository 班级与选课数据由其他模块维护，这里只读取（Create 供初始化与测试使用）
type ClassRepository struct {
	DB *gorm.DB
}

func NewClassRepository(db *gorm.DB) *ClassRepository {
	return &ClassRepository{DB: db}
}

func (r *ClassRepository) WithTx(tx *gorm.DB) *ClassRepository {
	return &ClassRepository{DB: tx}
}

func (r *ClassRepository) Create(ctx context.Context, class *model.Class) error {
	return r.DB.WithContext(ctx).Create(class).Error
}

func (r *ClassRepository) Enroll(ctx context.Context, classID, studentID uint) error {
	return r.DB.WithContext(ctx).Create(&model.Enrollment{ClassID: classID, StudentID: studentID}).Error
}

func (r *ClassRepository) FindByID(ctx context.Context, id uint) (*model.Class, error) {
	var class model.Class
	err := r.DB.WithContext(ctx).First(&class, id).Error
	return &class, err
}

// FindOwned 班级不存在或不属于该教师时返回 gorm.ErrRecordNotFound
func (r *ClassRepository) FindOwned(ctx context.Context, classID, teacherID uint) (*model.Class, error) {
	var class model.Class
	err := r.DB.WithContext(ctx).Where("id = ? AND teacher_id = ?", classID, teacherID).First(&class).Error
	return &class, err
}

// LockEnrollment 锁定选课记录（SELECT ... FOR UPDATE），未选课返回 gorm.ErrRecordNotFound
func (r *ClassRepository) LockEnrollment(ctx context.Context, classID, studentID uint) (*model.Enrollment, error) {
	var e model.Enrollment
	err := r.DB.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("class_id = ? AND student_id = ?", classID, studentID).
		First(&e).Error
	return &e, err
}

func (r *ClassRepository) IsEnrolled(ctx context.Context, classID, studentID uint) (bool, error) {
	var count int64
	err := r.DB.WithContext(ctx).Model(&model.Enrollment{}).
		Where("class_id = ? AND student_id = ?", classID, studentID).
		Count(&count).Error
	return count > 0, err
}

func (r *ClassRepository) ListStudents(ctx context.Context, classID uint) ([]model.User, error) {
	var users []model.User
	err := r.DB.WithContext(ctx).
		Joins("JOIN enrollments e ON e.student_id = users.id AND e.deleted_at IS NULL").
		Where("e.class_id = ?", classID).
		Order("users.name ASC").
		Find(&users).Error
	return users, err
}
