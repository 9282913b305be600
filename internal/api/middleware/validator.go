package middleware

import (
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"github.com/d60-Lab/newsfeed/internal/model"
)

// RegisterValidators 注册自定义 binding 规则（entitykind）
func RegisterValidators() error {
	v, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return nil
	}
	return v.RegisterValidation("entitykind", func(fl validator.FieldLevel) bool {
		return model.EntityKind(fl.Field().String()).Valid()
	})
}
