package worker

import "errors"

// Ошибки исполнителя.
var (
	// ErrEmptyInvocation — у вызова нет ни одной команды.
	ErrEmptyInvocation = errors.New("invocation has no commands")

	// ErrStartFailed — процесс не удалось запустить (нет программы, нет прав).
	ErrStartFailed = errors.New("process start failed")

	// ErrExecutionTimeout — выполнение превысило таймаут стадии.
	ErrExecutionTimeout = errors.New("execution timeout")
)
