package domain

// RunStatus — статус выполнения pipeline run.
//
// Жизненный цикл:
//
//	PENDING → RUNNING → SUCCEEDED
//	                  ↘ FAILED
//	          (или) → CANCELLED (отмена между стадиями)
type RunStatus string

const (
	// RunStatusPending — run создан, стадии ещё не запускались.
	RunStatusPending RunStatus = "PENDING"

	// RunStatusRunning — run в процессе выполнения.
	RunStatusRunning RunStatus = "RUNNING"

	// RunStatusSucceeded — все шесть стадий завершены успешно.
	RunStatusSucceeded RunStatus = "SUCCEEDED"

	// RunStatusFailed — одна из стадий завершилась ошибкой.
	RunStatusFailed RunStatus = "FAILED"

	// RunStatusCancelled — run отменён до запуска очередной стадии.
	RunStatusCancelled RunStatus = "CANCELLED"
)

// IsTerminal возвращает true, если статус финальный (run завершён).
func (s RunStatus) IsTerminal() bool {
	switch s {
	case RunStatusSucceeded, RunStatusFailed, RunStatusCancelled:
		return true
	default:
		return false
	}
}

// StageStatus — статус выполнения одной стадии.
type StageStatus string

const (
	// StageStatusRunning — внешний процесс стадии запущен.
	StageStatusRunning StageStatus = "RUNNING"

	// StageStatusSucceeded — стадия завершилась с нулевым кодом.
	StageStatusSucceeded StageStatus = "SUCCEEDED"

	// StageStatusFailed — процесс не запустился, упал по таймауту или вернул ненулевой код.
	StageStatusFailed StageStatus = "FAILED"
)

// IsTerminal возвращает true, если статус финальный.
func (s StageStatus) IsTerminal() bool {
	switch s {
	case StageStatusSucceeded, StageStatusFailed:
		return true
	default:
		return false
	}
}

// PipelineState — состояние конечного автомата pipeline.
//
// Автомат линейный, без ветвлений и циклов:
//
//	PENDING → LABEL_EXTRACTED → COMPILED → INSTRUMENTED → LINKED → LOWERED → EXECUTED
//
// Из любого нетерминального состояния возможен переход в FAILED (поглощающее состояние).
type PipelineState string

const (
	StatePending        PipelineState = "PENDING"
	StateLabelExtracted PipelineState = "LABEL_EXTRACTED"
	StateCompiled       PipelineState = "COMPILED"
	StateInstrumented   PipelineState = "INSTRUMENTED"
	StateLinked         PipelineState = "LINKED"
	StateLowered        PipelineState = "LOWERED"
	StateExecuted       PipelineState = "EXECUTED"
	StateFailed         PipelineState = "FAILED"
)

// IsTerminal возвращает true для EXECUTED и FAILED.
func (s PipelineState) IsTerminal() bool {
	return s == StateExecuted || s == StateFailed
}

// String возвращает строковое представление PipelineState.
func (s PipelineState) String() string {
	return string(s)
}
