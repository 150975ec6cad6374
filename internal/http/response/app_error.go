package response

import (
	"errors"
	"net/http"
)

// AppError 接口错误：业务码与提示，Err 仅用于日志
type AppError struct {
	Code    int
	Message string
	Err     error
}

func (e *AppError) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return e.Message + ": " + e.Err.Error()
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// HTTPStatus 业务码即 HTTP 状态码，非法值按 500 处理
func (e *AppError) HTTPStatus() int {
	if e == nil || e.Code < http.StatusBadRequest || e.Code > 599 {
		return http.StatusInternalServerError
	}
	return e.Code
}

// WrapError 包装错误
func WrapError(code int, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// AsAppError 从错误链中取出 AppError
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}
