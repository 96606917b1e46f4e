package domain

import "fmt"

// Stage — номер стадии в фиксированной последовательности pipeline (1..6).
type Stage int

const (
	// StageLabelExtraction — извлечение меток операторов из исходника (get-labeled-stmts).
	StageLabelExtraction Stage = iota + 1

	// StageCompile — компиляция C в неоптимизированный IR (clang -emit-llvm).
	StageCompile

	// StageInstrument — проход full_trace, внедряющий трассировку (opt).
	StageInstrument

	// StageLinkRuntime — линковка с IR-модулем трассировочного runtime (llvm-link).
	StageLinkRuntime

	// StageLower — понижение IR в ассемблер (llc).
	StageLower

	// StageLinkAndExecute — нативная линковка и запуск инструментированного бинарника.
	StageLinkAndExecute
)

// StageCount — количество стадий pipeline.
const StageCount = int(StageLinkAndExecute)

var stageNames = map[Stage]string{
	StageLabelExtraction: "label-extraction",
	StageCompile:         "compile",
	StageInstrument:      "instrument",
	StageLinkRuntime:     "link-runtime",
	StageLower:           "lower",
	StageLinkAndExecute:  "link-and-execute",
}

var stageStates = map[Stage]PipelineState{
	StageLabelExtraction: StateLabelExtracted,
	StageCompile:         StateCompiled,
	StageInstrument:      StateInstrumented,
	StageLinkRuntime:     StateLinked,
	StageLower:           StateLowered,
	StageLinkAndExecute:  StateExecuted,
}

// AllStages возвращает стадии в порядке выполнения.
func AllStages() []Stage {
	stages := make([]Stage, 0, StageCount)
	for s := StageLabelExtraction; s <= StageLinkAndExecute; s++ {
		stages = append(stages, s)
	}
	return stages
}

// Valid проверяет, что номер стадии в диапазоне 1..6.
func (s Stage) Valid() bool {
	return s >= StageLabelExtraction && s <= StageLinkAndExecute
}

// Name возвращает имя стадии.
func (s Stage) Name() string {
	if name, ok := stageNames[s]; ok {
		return name
	}
	return fmt.Sprintf("stage-%d", int(s))
}

// String реализует fmt.Stringer.
func (s Stage) String() string {
	return fmt.Sprintf("%d/%s", int(s), s.Name())
}

// Completes возвращает состояние, в которое переходит pipeline после успешной стадии.
func (s Stage) Completes() PipelineState {
	if state, ok := stageStates[s]; ok {
		return state
	}
	return StateFailed
}
