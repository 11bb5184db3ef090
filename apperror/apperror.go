// Package apperror 定义业务错误分类及其到HTTP状态码的映射。
//
// 只有 AppError 被视为"可公开"错误，其 Message 会返回给客户端；
// 其他错误一律由统一的错误处理中间件记录并替换为通用提示。
package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind 错误类别
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindAuthentication
	KindNotFound
	KindConflict
	KindBusinessRule
	KindUpstream
	KindTooManyRequests
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "ValidationError"
	case KindAuthentication:
		return "AuthenticationError"
	case KindNotFound:
		return "NotFoundError"
	case KindConflict:
		return "ConflictError"
	case KindBusinessRule:
		return "BusinessRuleError"
	case KindUpstream:
		return "UpstreamError"
	case KindTooManyRequests:
		return "TooManyRequestsError"
	default:
		return "InternalError"
	}
}

// Status 错误类别对应的HTTP状态码
func (k Kind) Status() int {
	switch k {
	case KindValidation, KindConflict, KindBusinessRule, KindUpstream:
		return http.StatusBadRequest
	case KindAuthentication:
		return http.StatusUnauthorized
	case KindNotFound:
		return http.StatusNotFound
	case KindTooManyRequests:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// AppError 业务错误
type AppError struct {
	Kind    Kind
	Message string
	Err     error
}

// Error 返回给客户端的提示信息
func (e *AppError) Error() string {
	return e.Message
}

// Detail 带类别和底层原因的完整描述，用于日志
func (e *AppError) Detail() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Status HTTP状态码
func (e *AppError) Status() int {
	return e.Kind.Status()
}

// Operational 是否可以把错误信息透出给客户端
func (e *AppError) Operational() bool {
	return e.Kind != KindInternal
}

// New 创建指定类别的错误
func New(kind Kind, message string) *AppError {
	return &AppError{Kind: kind, Message: message}
}

// Wrap 创建携带底层原因的错误
func Wrap(kind Kind, message string, err error) *AppError {
	return &AppError{Kind: kind, Message: message, Err: err}
}

func Validation(message string) *AppError     { return New(KindValidation, message) }
func Authentication(message string) *AppError { return New(KindAuthentication, message) }
func NotFound(message string) *AppError       { return New(KindNotFound, message) }
func Conflict(message string) *AppError       { return New(KindConflict, message) }
func BusinessRule(message string) *AppError   { return New(KindBusinessRule, message) }
func TooManyRequests(message string) *AppError { return New(KindTooManyRequests, message) }

// Upstream 外部服务（媒体存储等）失败
func Upstream(message string, err error) *AppError {
	return Wrap(KindUpstream, message, err)
}

// Internal 未分类的内部错误
func Internal(err error) *AppError {
	return Wrap(KindInternal, "Something went wrong!", err)
}

// As 从错误链中取出 AppError
func As(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// KindOf 返回错误类别，非 AppError 视为内部错误
func KindOf(err error) Kind {
	if appErr, ok := As(err); ok {
		return appErr.Kind
	}
	return KindInternal
}
