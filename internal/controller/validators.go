package controller

import (
	"school_exam_backend/internal/model"
	"sync"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

var registerOnce sync.Once

// RegisterValidators 在 gin 的校验引擎上注册自定义规则
func RegisterValidators() {
	registerOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		v.RegisterValidation("questiontype", func(fl validator.FieldLevel) bool {
			return model.QuestionType(fl.Field().String()).Valid()
		})
	})
}
