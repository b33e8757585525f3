// Package fault holds the coded error type raised by planning and
// execution. Lexer and parser failures keep their own types in package ql.
package fault

import (
	"errors"
	"fmt"
)

type Code string

const (
	PlanCode        Code = "plan"
	SQLCode         Code = "sql"
	SourceCode      Code = "source"
	JSONPathCode    Code = "jsonpath"
	EvaluateCode    Code = "evaluate"
	BindingCode     Code = "binding"
	MaterializeCode Code = "materialize"
)

// QuelError is a failure while planning or executing a query.
type QuelError struct {
	code     Code
	message  string
	metadata any
	original error
}

func New(code Code, message string) *QuelError {
	return &QuelError{
		code:    code,
		message: message,
	}
}

func Newf(code Code, format string, args ...any) *QuelError {
	return New(code, fmt.Sprintf(format, args...))
}

func (e *QuelError) WithMetadata(metadata any) *QuelError {
	c := *e
	c.metadata = metadata
	return &c
}

func (e *QuelError) WithOriginal(original error) *QuelError {
	c := *e
	c.original = original
	return &c
}

func (e *QuelError) Code() Code {
	return e.code
}

func (e *QuelError) Message() string {
	return e.message
}

func (e *QuelError) Metadata() any {
	return e.metadata
}

func (e *QuelError) Original() error {
	return e.original
}

func (e *QuelError) Unwrap() error {
	return e.original
}

func (e *QuelError) Error() string {
	if e.original != nil {
		return fmt.Sprintf("%s: %v", e.message, e.original)
	}
	return e.message
}

// As returns the QuelError in err's chain, if any.
func As(err error) (*QuelError, bool) {
	var qe *QuelError
	if errors.As(err, &qe) {
		return qe, true
	}
	return nil, false
}

// Wrap converts err into a QuelError with the given code. Errors that are
// already QuelErrors pass through unchanged.
func Wrap(code Code, message string, err error) error {
	if err == nil {
		return nil
	}
	if _, ok := As(err); ok {
		return err
	}
	return New(code, message).WithOriginal(err)
}
