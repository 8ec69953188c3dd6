package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/shelfwatch/backend/internal/domain/dataset"
)

// FailureKind 失败分类
type FailureKind string

// 失败分类常量
const (
	FailureNone           FailureKind = ""
	FailureWatchError     FailureKind = "WatchError"
	FailureMalformedInput FailureKind = "MalformedInput"
	FailureSchemaMismatch FailureKind = "SchemaMismatch"
	FailureEmptyInput     FailureKind = "EmptyInput"
	FailureStoreWrite     FailureKind = "StoreWriteError"
	FailureDispatch       FailureKind = "DispatchError"
	FailureSuperseded     FailureKind = "Superseded"
	FailureInterrupted    FailureKind = "Interrupted"
)

// ErrSuperseded 文件内容在检测之后已被替换
var ErrSuperseded = errors.New("content superseded")

// StageError 带分类的阶段错误
type StageError struct {
	Kind FailureKind
	Err  error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// NewStageError 创建阶段错误
func NewStageError(kind FailureKind, err error) *StageError {
	return &StageError{Kind: kind, Err: err}
}

// KindOf 对错误进行分类
// 未能识别的错误返回 FailureNone
func KindOf(err error) FailureKind {
	if err == nil {
		return FailureNone
	}
	var se *StageError
	if errors.As(err, &se) {
		return se.Kind
	}
	switch {
	case errors.Is(err, dataset.ErrMalformedInput):
		return FailureMalformedInput
	case errors.Is(err, dataset.ErrSchemaMismatch):
		return FailureSchemaMismatch
	case errors.Is(err, dataset.ErrEmptyInput):
		return FailureEmptyInput
	case errors.Is(err, ErrSuperseded):
		return FailureSuperseded
	case errors.Is(err, context.Canceled):
		return FailureInterrupted
	}
	return FailureNone
}

// IsPermanent 判断失败是否不可重试
// 输入内容本身的问题重试也不会改变结果
func IsPermanent(kind FailureKind) bool {
	switch kind {
	case FailureMalformedInput, FailureSchemaMismatch, FailureEmptyInput,
		FailureSuperseded, FailureInterrupted:
		return true
	}
	return false
}

// IsInputFailure 判断失败是否由输入内容本身导致
// 相同指纹再次提交时不会重新处理
func IsInputFailure(kind FailureKind) bool {
	switch kind {
	case FailureMalformedInput, FailureSchemaMismatch, FailureEmptyInput:
		return true
	}
	return false
}
