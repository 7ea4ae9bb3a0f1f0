package vinted

import (
	"errors"
	"fmt"
)

// ErrorKind 上游请求错误分类，决定调用方的重试策略。
type ErrorKind int

const (
	// KindTransient 瞬时错误（网络抖动、5xx、429），可立即指数退避重试。
	KindTransient ErrorKind = iota
	// KindAuthExpired 会话令牌过期（401），刷新令牌后可重试一次。
	KindAuthExpired
	// KindBlocked 上游封锁（403 或人机验证页），不可重试，需进入封锁模式。
	KindBlocked
	// KindMalformed 响应体无法解析，重试无意义。
	KindMalformed
)

func (k ErrorKind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindAuthExpired:
		return "auth_expired"
	case KindBlocked:
		return "blocked"
	case KindMalformed:
		return "malformed"
	default:
		return "unknown"
	}
}

// APIError 携带错误分类的上游请求错误。
type APIError struct {
	Kind       ErrorKind
	StatusCode int // HTTP 状态码，无响应时为 0
	Err        error
}

func (e *APIError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("vinted api %s (status %d): %v", e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("vinted api %s: %v", e.Kind, e.Err)
}

func (e *APIError) Unwrap() error { return e.Err }

// KindOf 返回 err 的错误分类；非 APIError 一律按瞬时错误处理。
func KindOf(err error) ErrorKind {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Kind
	}
	return KindTransient
}

// IsBlocked 判断错误是否为上游封锁。
func IsBlocked(err error) bool {
	return KindOf(err) == KindBlocked
}

func transientErr(status int, err error) *APIError {
	return &APIError{Kind: KindTransient, StatusCode: status, Err: err}
}

func authErr(status int, err error) *APIError {
	return &APIError{Kind: KindAuthExpired, StatusCode: status, Err: err}
}

func blockedErr(status int, err error) *APIError {
	return &APIError{Kind: KindBlocked, StatusCode: status, Err: err}
}

func malformedErr(err error) *APIError {
	return &APIError{Kind: KindMalformed, Err: err}
}
