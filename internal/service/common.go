package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"school_exam_backend/internal/config"
	"school_exam_backend/internal/model"
	"school_exam_backend/internal/util"
	"school_exam_backend/pkg/lock"
	"school_exam_backend/pkg/monitoring"
	"sync/atomic"
	"time"

	"gorm.io/gorm"
)

// Clock 可注入的时间源，测试中替换
type Clock func() time.Time

// Principal 鉴权中间件提供的调用者身份
type Principal struct {
	ID   uint
	Role model.UserRole
}

// Owns 管理员视为拥有全部资源
func (p Principal) Owns(teacherID uint) bool {
	return p.Role == model.Admin || p.ID == teacherID
}

// ExamSettings 支持配置热更新的考试参数
type ExamSettings struct {
	v atomic.Pointer[config.ExamConfig]
}

func NewExamSettings(cfg config.ExamConfig) *ExamSettings {
	s := &ExamSettings{}
	s.Update(cfg)
	return s
}

func (s *ExamSettings) Get() config.ExamConfig {
	return *s.v.Load()
}

func (s *ExamSettings) Update(cfg config.ExamConfig) {
	s.v.Store(&cfg)
}

// UploadFile 待存储的上传文件，QuestionID 为 0 表示题目附件
type UploadFile struct {
	QuestionID  uint
	FileName    string
	Size        int64
	ContentType string
	Reader      io.Reader
}

type storedFile struct {
	QuestionID uint
	FileName   string
	Path       string
}

func storedPaths(files []storedFile) []string {
	paths := make([]string, len(files))
	for i, f := range files {
		paths[i] = f.Path
	}
	return paths
}

// uploadAll 逐个上传，任一失败时删除已上传的文件
func uploadAll(ctx context.Context, storage *StorageService, dir string, files []UploadFile) ([]storedFile, error) {
	stored := make([]storedFile, 0, len(files))
	for _, f := range files {
		key := util.StoredName(dir, f.FileName)
		path, err := storage.Upload(ctx, key, f.Reader, f.Size, f.ContentType)
		if err != nil {
			storage.DeleteAll(context.WithoutCancel(ctx), storedPaths(stored))
			return nil, fmt.Errorf("store %s: %w", f.FileName, err)
		}
		stored = append(stored, storedFile{QuestionID: f.QuestionID, FileName: util.SafeFileName(f.FileName), Path: path})
	}
	return stored, nil
}

// notFoundAs 将 gorm.ErrRecordNotFound 转为业务错误
func notFoundAs(err, sentinel error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return sentinel
	}
	return err
}

func attemptLockKey(assignmentID, studentID uint) string {
	return fmt.Sprintf("attempt:%d:%d", assignmentID, studentID)
}

// acquireAttemptLock 同一学生同一布置的开始/提交互斥
func acquireAttemptLock(ctx context.Context, locker lock.Locker, settings *ExamSettings, assignmentID, studentID uint) (func(), error) {
	cfg := settings.Get()
	waitCtx, cancel := context.WithTimeout(ctx, cfg.LockWait())
	defer cancel()

	start := time.Now()
	release, err := locker.Acquire(waitCtx, attemptLockKey(assignmentID, studentID), cfg.LockTTL())
	monitoring.LockWait.Observe(time.Since(start).Seconds())
	if err != nil {
		if errors.Is(err, lock.ErrLockTimeout) {
			return nil, util.ErrAttemptBusy
		}
		return nil, err
	}
	return release, nil
}
