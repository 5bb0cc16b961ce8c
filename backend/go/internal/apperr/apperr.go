// Package apperr 定义了核查服务统一的错误分类。
//
// 依赖层的失败在流水线内被吸收并降级，结构性失败（校验、非法状态转换、
// 签名不匹配）原样返回给调用方。
package apperr

import (
	"errors"
	"fmt"
)

// Kind 是错误的类别。
type Kind string

const (
	KindValidation            Kind = "ValidationError"
	KindDependencyUnavailable Kind = "DependencyUnavailable"
	KindAllProvidersExhausted Kind = "AllProvidersExhausted"
	KindInvalidTransition     Kind = "InvalidTransition"
	KindSignatureMismatch     Kind = "SignatureMismatch"
	KindTimeout               Kind = "Timeout"
	KindNotFound              Kind = "NotFound"
	KindConflict              Kind = "Conflict"
	KindUnauthorized          Kind = "Unauthorized"
	KindForbidden             Kind = "Forbidden"
	KindInternal              Kind = "Internal"
)

// Error 是带类别的错误。Op 记录出错的操作名。
type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	var s string
	if e.Op != "" {
		s = e.Op + ": "
	}
	s += string(e.Kind)
	if e.Msg != "" {
		s += ": " + e.Msg
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *Error) Unwrap() error { return e.Err }

// Is 让 errors.Is 按类别匹配哨兵错误。
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Op == "" && t.Msg == "" && t.Err == nil && t.Kind == e.Kind
}

// 哨兵错误，只用于 errors.Is 比较。
var (
	ErrValidation            = &Error{Kind: KindValidation}
	ErrDependencyUnavailable = &Error{Kind: KindDependencyUnavailable}
	ErrAllProvidersExhausted = &Error{Kind: KindAllProvidersExhausted}
	ErrInvalidTransition     = &Error{Kind: KindInvalidTransition}
	ErrSignatureMismatch     = &Error{Kind: KindSignatureMismatch}
	ErrTimeout               = &Error{Kind: KindTimeout}
	ErrNotFound              = &Error{Kind: KindNotFound}
	ErrConflict              = &Error{Kind: KindConflict}
	ErrUnauthorized          = &Error{Kind: KindUnauthorized}
	ErrForbidden             = &Error{Kind: KindForbidden}
)

// New 创建一个指定类别的错误。
func New(kind Kind, op, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// Wrap 用指定类别包装底层错误，err 为 nil 时返回 nil。
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// Validation 是 New(KindValidation, ...) 的简写。
func Validation(op, format string, args ...interface{}) *Error {
	return New(KindValidation, op, format, args...)
}

// KindOf 返回错误链中第一个 *Error 的类别，没有则返回 KindInternal。
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Message 返回面向调用方的错误描述，不包含 Op。
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		if e.Msg != "" {
			return e.Msg
		}
		if e.Err != nil {
			return e.Err.Error()
		}
		return string(e.Kind)
	}
	return err.Error()
}
