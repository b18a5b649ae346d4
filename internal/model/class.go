package model

// Class 班级，由教师管理（班级 CRUD 不在本服务范围内）
// swagger:model Class
type Class struct {
	BaseModel
	Name      string `gorm:"size:100;not null" json:"name"`
	TeacherID uint   `gorm:"index;not null" json:"teacherId"`
}

func (Class) TableName() string {
	return "classes"
}

// Enrollment 学生选课关系
type Enrollment struct {
	BaseModel
	ClassID   uint `gorm:"uniqueIndex:idx_enrollment_class_student;not null" json:"classId"`
	StudentID uint `gorm:"uniqueIndex:idx_enrollment_class_student;index;not null" json:"studentId"`
}

func (Enrollment) TableName() string {
	return "enrollments"
}
