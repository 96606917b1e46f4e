package orchestrator

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shaiso/tracepipe/internal/domain"
)

// Ошибки оркестратора.
var (
	// ErrConfiguration — не задан корень тулчейна или недоступна рабочая директория.
	ErrConfiguration = errors.New("configuration error")

	// ErrStageFailed — стадия не запустилась, упала по таймауту или вернула ненулевой код.
	ErrStageFailed = errors.New("stage failed")

	// ErrCancelled — run отменён между стадиями.
	ErrCancelled = errors.New("pipeline cancelled")
)

// Коды завершения процесса.
const (
	ExitOK              = 0
	ExitFailure         = 1
	ExitConfiguration   = 2
	ExitUnknownWorkload = 3

	// exitStageBase + N — упала стадия N (4..9).
	exitStageBase = 3
)

// ConfigurationError — ошибка конфигурации, обнаруженная до запуска стадий.
type ConfigurationError struct {
	// Variable — имя незаданной переменной окружения.
	Variable string
	// Path — путь, который не удалось использовать (рабочая директория, исходник).
	Path string
	// Message — описание.
	Message string
}

// Error реализует интерфейс error.
func (e *ConfigurationError) Error() string {
	switch {
	case e.Variable != "":
		return fmt.Sprintf("configuration error: %s is not set", e.Variable)
	case e.Path != "":
		return fmt.Sprintf("configuration error: %s: %s", e.Path, e.Message)
	default:
		return "configuration error: " + e.Message
	}
}

// Unwrap возвращает ErrConfiguration.
func (e *ConfigurationError) Unwrap() error {
	return ErrConfiguration
}

// LookupError — идентификатор workload отсутствует в таблице.
type LookupError struct {
	WorkloadID string
	Known      []string
}

// Error реализует интерфейс error.
func (e *LookupError) Error() string {
	msg := fmt.Sprintf("unknown workload %q", e.WorkloadID)
	if len(e.Known) > 0 {
		msg += " (known: " + strings.Join(e.Known, ", ") + ")"
	}
	return msg
}

// Unwrap возвращает domain.ErrUnknownWorkload.
func (e *LookupError) Unwrap() error {
	return domain.ErrUnknownWorkload
}

// StageExecutionError — стадия завершилась неуспешно.
type StageExecutionError struct {
	Stage domain.Stage
	// Command — командная строка, на которой стадия остановилась.
	Command string
	// ExitStatus — код возврата инструмента; -1, если процесс не запустился или был убит.
	ExitStatus int
	// Output — хвост вывода инструмента.
	Output string
	// Err — инфраструктурная ошибка исполнителя (nil при ненулевом коде возврата).
	Err error
}

// Error реализует интерфейс error.
func (e *StageExecutionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("stage %s failed: %v", e.Stage, e.Err)
	}
	return fmt.Sprintf("stage %s failed: %s exited with status %d", e.Stage, e.Command, e.ExitStatus)
}

// Unwrap возвращает ErrStageFailed и исходную ошибку исполнителя.
func (e *StageExecutionError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrStageFailed}
	}
	return []error{ErrStageFailed, e.Err}
}

// ExitCode переводит ошибку Run в код завершения процесса:
// 0 — успех, 2 — конфигурация, 3 — неизвестный workload, 4..9 — упала стадия 1..6,
// 1 — всё остальное (отмена, ошибки флагов).
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}

	var cfgErr *ConfigurationError
	if errors.As(err, &cfgErr) {
		return ExitConfiguration
	}

	var lookupErr *LookupError
	if errors.As(err, &lookupErr) {
		return ExitUnknownWorkload
	}

	var stageErr *StageExecutionError
	if errors.As(err, &stageErr) && stageErr.Stage.Valid() {
		return exitStageBase + int(stageErr.Stage)
	}

	return ExitFailure
}
