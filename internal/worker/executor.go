package worker

import (
	"context"
	"time"

	"github.com/shaiso/tracepipe/internal/domain"
)

// Executor — интерфейс для выполнения вызова стадии.
//
// Реализации: ProcessExecutor (внешние процессы), в тестах — шпионы,
// записывающие вызовы.
//
// ctx может содержать таймаут стадии: по его истечении процесс убивается.
type Executor interface {
	Execute(ctx context.Context, inv *domain.Invocation) (*ExecutionResult, error)
}

// ExecutionResult — результат выполнения вызова.
type ExecutionResult struct {
	// ExitCode — код возврата последней выполненной команды.
	// Ненулевой код — логическая ошибка стадии.
	// Инфраструктурные ошибки (не запустился, таймаут) возвращаются через error в Execute().
	ExitCode int

	// Command — командная строка последней выполненной команды.
	Command string

	// Output — хвост объединённого stdout/stderr всех команд.
	Output string

	// Duration — время выполнения всех команд.
	Duration time.Duration
}

// Failed возвращает true при ненулевом коде возврата.
func (r *ExecutionResult) Failed() bool {
	return r != nil && r.ExitCode != 0
}

// ExecutorFunc — адаптер функции к интерфейсу Executor.
type ExecutorFunc func(ctx context.Context, inv *domain.Invocation) (*ExecutionResult, error)

// Execute реализует Executor.
func (f ExecutorFunc) Execute(ctx context.Context, inv *domain.Invocation) (*ExecutionResult, error) {
	return f(ctx, inv)
}
