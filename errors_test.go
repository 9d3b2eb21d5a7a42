package relmigrate

import (
	"io"
	"strings"
	"testing"

	"github.com/bmizerany/assert"
	"github.com/pkg/errors"
)

func TestNewBatchErrorKeepsCause(t *testing.T) {
	cause := io.ErrUnexpectedEOF
	err := NewBatchError(ErrCodeDbFail, "read window at offset:%v", 40, cause)
	assert.Equal(t, ErrCodeDbFail, err.Code())
	assert.Equal(t, "read window at offset:40", err.Message())
	assert.Equal(t, cause, err.Cause())
	assert.T(t, errors.Is(err, io.ErrUnexpectedEOF))
	assert.T(t, strings.Contains(err.Error(), "unexpected EOF"))
	assert.NotEqual(t, "", err.StackTrace())
}

func TestErrorsMatchByCode(t *testing.T) {
	err := NewBatchError(ErrCodeDanglingForeignKey, "book:7 refers to author:3")
	assert.T(t, errors.Is(err, ErrDanglingForeignKey))
	assert.T(t, !errors.Is(err, ErrTargetWriteFailure))

	wrapped := errors.Wrap(err, "translate")
	assert.T(t, errors.Is(wrapped, ErrDanglingForeignKey))
}

func TestAsBatchError(t *testing.T) {
	assert.Equal(t, nil, AsBatchError(ErrCodeGeneral, nil))

	be := NewBatchError(ErrCodeStopped, "stopped")
	assert.Equal(t, be, AsBatchError(ErrCodeGeneral, be))

	converted := AsBatchError(ErrCodeDbFail, io.EOF)
	assert.Equal(t, ErrCodeDbFail, converted.Code())
	assert.T(t, errors.Is(converted, io.EOF))
}

func TestStepProgressAdd(t *testing.T) {
	a := StepProgress{ReadCount: 10, WriteCount: 8, FilterCount: 2, CommitCount: 1, LastCommittedOffset: 10}
	b := StepProgress{ReadCount: 5, WriteCount: 5, CommitCount: 1, LastCommittedOffset: 5}
	assert.Equal(t, StepProgress{ReadCount: 15, WriteCount: 13, FilterCount: 2, CommitCount: 2}, a.Add(b))
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, Debug, ParseLevel("DEBUG"))
	assert.Equal(t, Warn, ParseLevel("warning"))
	assert.Equal(t, Error, ParseLevel("error"))
	assert.Equal(t, Info, ParseLevel("bogus"))
}
