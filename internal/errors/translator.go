package errors

import (
	stderrors "errors"
	"strings"

	"github.com/go-playground/validator/v10"
)

// FieldError 单个字段的校验失败信息
type FieldError struct {
	Field   string `json:"field"`
	Tag     string `json:"tag"`
	Message string `json:"message"`
}

// FromValidation 把validator的错误转换为VALIDATION_FAILED
func FromValidation(err error) *AppError {
	if err == nil {
		return nil
	}

	var validationErrors validator.ValidationErrors
	if !stderrors.As(err, &validationErrors) {
		return NewValidationError(err.Error()).WithCause(err)
	}

	fields := make([]FieldError, 0, len(validationErrors))
	messages := make([]string, 0, len(validationErrors))
	for _, fe := range validationErrors {
		msg := validationMessage(fe)
		fields = append(fields, FieldError{Field: fe.Namespace(), Tag: fe.Tag(), Message: msg})
		messages = append(messages, msg)
	}

	return NewValidationError(strings.Join(messages, "; ")).
		WithDetails(map[string]interface{}{"errors": fields}).
		WithCause(err)
}

// validationMessage 获取验证错误消息
func validationMessage(fe validator.FieldError) string {
	field := fe.Namespace()

	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "min":
		return field + " must be at least " + fe.Param()
	case "max":
		return field + " must be at most " + fe.Param()
	case "gte":
		return field + " must be greater than or equal to " + fe.Param()
	case "lte":
		return field + " must be less than or equal to " + fe.Param()
	case "oneof":
		return field + " must be one of: " + fe.Param()
	default:
		return field + " is invalid"
	}
}
