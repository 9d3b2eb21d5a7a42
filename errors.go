package relmigrate

import (
	"fmt"

	"github.com/pkg/errors"
)

// error codes
const (
	ErrCodeGeneral                     = "relmigrate.general"
	ErrCodeDbFail                      = "relmigrate.db_fail"
	ErrCodeStopped                     = "relmigrate.stopped"
	ErrCodeJobRunning                  = "relmigrate.job_running"
	ErrCodeJobNotFound                 = "relmigrate.job_not_found"
	ErrCodeNoFailedExecution           = "relmigrate.no_failed_execution"
	ErrCodeTranslationStoreUnavailable = "relmigrate.translation_store_unavailable"
	ErrCodeTargetWriteFailure          = "relmigrate.target_write_failure"
	ErrCodeDanglingForeignKey          = "relmigrate.dangling_foreign_key"
)

// Sentinels usable with errors.Is; any BatchError carrying the same code matches.
var (
	ErrGeneral                     = &batchError{code: ErrCodeGeneral, msg: "general error"}
	ErrDbFail                      = &batchError{code: ErrCodeDbFail, msg: "database operation failed"}
	ErrStopped                     = &batchError{code: ErrCodeStopped, msg: "execution stopped"}
	ErrJobRunning                  = &batchError{code: ErrCodeJobRunning, msg: "job is running"}
	ErrJobNotFound                 = &batchError{code: ErrCodeJobNotFound, msg: "job not found"}
	ErrNoFailedExecution           = &batchError{code: ErrCodeNoFailedExecution, msg: "no failed execution to restart"}
	ErrTranslationStoreUnavailable = &batchError{code: ErrCodeTranslationStoreUnavailable, msg: "translation store unavailable"}
	ErrTargetWriteFailure          = &batchError{code: ErrCodeTargetWriteFailure, msg: "target write failed"}
	ErrDanglingForeignKey          = &batchError{code: ErrCodeDanglingForeignKey, msg: "dangling foreign key"}
)

// BatchError is the error type returned by engine, jobs and steps.
type BatchError interface {
	error
	Code() string
	Message() string
	Cause() error
	StackTrace() string
}

type batchError struct {
	code  string
	msg   string
	cause error
	stack error
}

// NewBatchError creates a BatchError. When the last element of args is an error it is
// kept as the cause and not used for formatting.
func NewBatchError(code string, msg string, args ...interface{}) BatchError {
	var cause error
	if len(args) > 0 {
		if err, ok := args[len(args)-1].(error); ok {
			cause = err
			args = args[:len(args)-1]
		}
	}
	if len(args) > 0 {
		msg = fmt.Sprintf(msg, args...)
	}
	return &batchError{
		code:  code,
		msg:   msg,
		cause: cause,
		stack: errors.New(msg),
	}
}

// AsBatchError returns err unchanged when it already is a BatchError, otherwise wraps it
// with the given code.
func AsBatchError(code string, err error) BatchError {
	if err == nil {
		return nil
	}
	var be BatchError
	if errors.As(err, &be) {
		return be
	}
	return NewBatchError(code, err.Error(), err)
}

func (e *batchError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.code, e.msg, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.code, e.msg)
}

func (e *batchError) Code() string {
	return e.code
}

func (e *batchError) Message() string {
	return e.msg
}

func (e *batchError) Cause() error {
	return e.cause
}

func (e *batchError) Unwrap() error {
	return e.cause
}

// Is matches any BatchError with the same code.
func (e *batchError) Is(target error) bool {
	if t, ok := target.(BatchError); ok {
		return t.Code() == e.code
	}
	return false
}

func (e *batchError) StackTrace() string {
	if e.stack == nil {
		return ""
	}
	return fmt.Sprintf("%+v", e.stack)
}
