package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// ErrorCode 错误码类型
type ErrorCode string

// 预定义错误码
const (
	// 通用错误
	ErrCodeInternalServer ErrorCode = "INTERNAL_SERVER_ERROR"
	ErrCodeBadRequest     ErrorCode = "BAD_REQUEST"
	ErrCodeNotFound       ErrorCode = "NOT_FOUND"

	// 验证错误
	ErrCodeValidationFailed ErrorCode = "VALIDATION_FAILED"
	ErrCodeEmptyContent     ErrorCode = "EMPTY_CONTENT"

	// 外部服务错误
	ErrCodeEmbeddingBackend   ErrorCode = "EMBEDDING_BACKEND_ERROR"
	ErrCodeBackendUnavailable ErrorCode = "BACKEND_UNAVAILABLE"
	ErrCodeObjectStorage      ErrorCode = "OBJECT_STORAGE_ERROR"

	// 向量存储错误
	ErrCodeStoreWrite  ErrorCode = "STORE_WRITE_ERROR"
	ErrCodeStoreDelete ErrorCode = "STORE_DELETE_ERROR"

	// 文件处理错误
	ErrCodeInvalidFileFormat ErrorCode = "INVALID_FILE_FORMAT"
)

// ErrorType 错误类型
type ErrorType int

const (
	ErrorTypeSystem ErrorType = iota
	ErrorTypeBusiness
	ErrorTypeValidation
	ErrorTypeExternal
)

// AppError 应用错误结构体
type AppError struct {
	Code     ErrorCode   `json:"code"`
	Message  string      `json:"message"`
	Type     ErrorType   `json:"type"`
	HTTPCode int         `json:"-"`
	Details  interface{} `json:"details,omitempty"`
	Cause    error       `json:"-"`
}

// Error 实现error接口
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap 返回底层错误
func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithDetails 添加错误详情
func (e *AppError) WithDetails(details interface{}) *AppError {
	e.Details = details
	return e
}

// WithCause 添加错误原因
func (e *AppError) WithCause(cause error) *AppError {
	e.Cause = cause
	return e
}

// NewSystemError 创建系统错误
func NewSystemError(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:     code,
		Message:  message,
		Type:     ErrorTypeSystem,
		HTTPCode: http.StatusInternalServerError,
	}
}

// NewValidationError 创建验证错误
func NewValidationError(message string) *AppError {
	return &AppError{
		Code:     ErrCodeValidationFailed,
		Message:  message,
		Type:     ErrorTypeValidation,
		HTTPCode: http.StatusBadRequest,
	}
}

// NewEmptyContentError 切分后没有可写入的内容
func NewEmptyContentError() *AppError {
	return &AppError{
		Code:     ErrCodeEmptyContent,
		Message:  "content produced no passages",
		Type:     ErrorTypeValidation,
		HTTPCode: http.StatusBadRequest,
	}
}

// EmbeddingBackendDetails 向量化后端返回的错误信息
type EmbeddingBackendDetails struct {
	BackendCode    string `json:"backend_code"`
	BackendMessage string `json:"backend_message"`
	RequestID      string `json:"request_id,omitempty"`
}

// NewEmbeddingBackendError 创建向量化服务错误，携带后端错误码与信息
func NewEmbeddingBackendError(backendCode, backendMessage string) *AppError {
	return &AppError{
		Code:     ErrCodeEmbeddingBackend,
		Message:  fmt.Sprintf("embedding backend error: %s - %s", backendCode, backendMessage),
		Type:     ErrorTypeExternal,
		HTTPCode: http.StatusServiceUnavailable,
		Details: EmbeddingBackendDetails{
			BackendCode:    backendCode,
			BackendMessage: backendMessage,
		},
	}
}

// NewBackendUnavailableError 后端不可用，guidance 给运维的处理提示
func NewBackendUnavailableError(backend, guidance string) *AppError {
	return &AppError{
		Code:     ErrCodeBackendUnavailable,
		Message:  fmt.Sprintf("%s backend unavailable", backend),
		Type:     ErrorTypeExternal,
		HTTPCode: http.StatusServiceUnavailable,
		Details: map[string]string{
			"backend":  backend,
			"guidance": guidance,
		},
	}
}

// NewStoreWriteError 向量写入失败
func NewStoreWriteError(backend string, cause error) *AppError {
	return &AppError{
		Code:     ErrCodeStoreWrite,
		Message:  fmt.Sprintf("%s store write failed", backend),
		Type:     ErrorTypeSystem,
		HTTPCode: http.StatusInternalServerError,
		Cause:    cause,
	}
}

// NewStoreDeleteError 向量删除失败
func NewStoreDeleteError(backend string, cause error) *AppError {
	return &AppError{
		Code:     ErrCodeStoreDelete,
		Message:  fmt.Sprintf("%s store delete failed", backend),
		Type:     ErrorTypeSystem,
		HTTPCode: http.StatusInternalServerError,
		Cause:    cause,
	}
}

// NewObjectStorageError 对象存储下载失败
func NewObjectStorageError(message string, cause error) *AppError {
	return &AppError{
		Code:     ErrCodeObjectStorage,
		Message:  message,
		Type:     ErrorTypeExternal,
		HTTPCode: http.StatusBadGateway,
		Cause:    cause,
	}
}

// NewInvalidFileFormatError 不支持的文件格式
func NewInvalidFileFormatError(fileType string) *AppError {
	return &AppError{
		Code:     ErrCodeInvalidFileFormat,
		Message:  fmt.Sprintf("unsupported file type: %s", fileType),
		Type:     ErrorTypeValidation,
		HTTPCode: http.StatusBadRequest,
	}
}

// AsAppError 沿错误链查找AppError
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// IsCode 判断错误链中是否包含指定错误码
func IsCode(err error, code ErrorCode) bool {
	appErr, ok := AsAppError(err)
	return ok && appErr.Code == code
}

// GetAppError 获取AppError，如果不是则包装为系统错误
func GetAppError(err error) *AppError {
	if appErr, ok := AsAppError(err); ok {
		return appErr
	}

	return NewSystemError(ErrCodeInternalServer, "Internal server error").WithCause(err)
}
