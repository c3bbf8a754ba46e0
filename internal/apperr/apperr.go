package apperr

import (
	"errors"
	"fmt"
	"strings"
)

// Kinds. Every error returned by the engine matches exactly one of these
// through errors.Is.
var (
	ErrValidation          = errors.New("validation_error")
	ErrIllegalTransition   = errors.New("illegal_transition")
	ErrConcurrencyConflict = errors.New("concurrency_conflict")
	ErrSequenceExhausted   = errors.New("sequence_exhausted")
	ErrPersistence         = errors.New("persistence_error")
	ErrNotFound            = errors.New("not_found")
)

// Error is a classified engine error.
type Error struct {
	Kind    error
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.Error())
	if e.Code != "" {
		b.WriteString(": ")
		b.WriteString(e.Code)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Is matches the error's kind.
func (e *Error) Is(target error) bool {
	return target == e.Kind
}

func (e *Error) Unwrap() error {
	return e.Err
}

func New(kind error, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

func Wrap(kind error, code string, err error) *Error {
	return &Error{Kind: kind, Code: code, Err: err}
}

func Validation(code, message string) *Error {
	return New(ErrValidation, code, message)
}

func IllegalTransition(code, message string) *Error {
	return New(ErrIllegalTransition, code, message)
}

func Conflict(code, message string) *Error {
	return New(ErrConcurrencyConflict, code, message)
}

func NotFound(code, message string) *Error {
	return New(ErrNotFound, code, message)
}

func Persistence(code string, err error) *Error {
	return Wrap(ErrPersistence, code, err)
}

// Code returns the snake_case code of err, or its kind when it carries none.
func Code(err error) string {
	var appErr *Error
	if errors.As(err, &appErr) {
		if appErr.Code != "" {
			return appErr.Code
		}
		return appErr.Kind.Error()
	}
	for _, kind := range kinds {
		if errors.Is(err, kind) {
			return kind.Error()
		}
	}
	return ""
}

// KindOf returns the kind sentinel err matches, or nil.
func KindOf(err error) error {
	for _, kind := range kinds {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}

var kinds = []error{
	ErrValidation,
	ErrIllegalTransition,
	ErrConcurrencyConflict,
	ErrSequenceExhausted,
	ErrPersistence,
	ErrNotFound,
}

// MemberError is the failure of one member of a multi-document request.
type MemberError struct {
	Member string
	Err    error
}

func (e *MemberError) Error() string {
	return fmt.Sprintf("%s: %v", e.Member, e.Err)
}

func (e *MemberError) Unwrap() error {
	return e.Err
}

// MemberErrors aggregates per-member failures. errors.Is and errors.As see
// every member error.
type MemberErrors []*MemberError

func (m MemberErrors) Error() string {
	parts := make([]string, 0, len(m))
	for _, e := range m {
		parts = append(parts, e.Error())
	}
	return fmt.Sprintf("%d member(s) rejected: %s", len(m), strings.Join(parts, "; "))
}

func (m MemberErrors) Unwrap() []error {
	out := make([]error, 0, len(m))
	for _, e := range m {
		out = append(out, e)
	}
	return out
}

// ErrOrNil returns nil when no member failed.
func (m MemberErrors) ErrOrNil() error {
	if len(m) == 0 {
		return nil
	}
	return m
}
