package domain

import (
	"time"

	"github.com/google/uuid"
)

// Run — один прогон pipeline для пары (рабочая директория, workload).
//
// Run живёт только в пределах одного запуска процесса. Если настроено
// хранилище истории, завершённый run сохраняется в БД.
type Run struct {
	// ID — уникальный идентификатор run.
	ID uuid.UUID `json:"id"`

	// WorkloadID — идентификатор workload из таблицы (он же базовое имя артефактов).
	WorkloadID string `json:"workload_id"`

	// Workload — значение переменной WORKLOAD для прохода и бинарника.
	Workload string `json:"workload"`

	// Dir — абсолютный путь рабочей директории.
	Dir string `json:"dir"`

	// Status — текущий статус выполнения.
	Status RunStatus `json:"status"`

	// State — текущее состояние конечного автомата pipeline.
	State PipelineState `json:"state"`

	// FailedStage — номер упавшей стадии. 0, если стадии не падали.
	FailedStage Stage `json:"failed_stage,omitempty"`

	// Stages — записи о выполненных стадиях в порядке запуска.
	Stages []StageRecord `json:"stages"`

	// StartedAt — время начала выполнения (когда статус стал RUNNING).
	StartedAt *time.Time `json:"started_at,omitempty"`

	// FinishedAt — время завершения.
	FinishedAt *time.Time `json:"finished_at,omitempty"`

	// Error — текст ошибки, если run завершился с FAILED или CANCELLED.
	Error string `json:"error,omitempty"`

	// CreatedAt — время создания run.
	CreatedAt time.Time `json:"created_at"`
}

// StageRecord — результат одной стадии.
type StageRecord struct {
	Stage      Stage       `json:"stage"`
	Name       string      `json:"name"`
	Status     StageStatus `json:"status"`
	ExitCode   int         `json:"exit_code"`
	StartedAt  time.Time   `json:"started_at"`
	FinishedAt *time.Time  `json:"finished_at,omitempty"`
	Error      string      `json:"error,omitempty"`
}

// Duration возвращает продолжительность стадии.
func (r *StageRecord) Duration() time.Duration {
	if r.FinishedAt == nil {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// NewRun создаёт run в статусе PENDING.
func NewRun(workloadID, workload, dir string) *Run {
	return &Run{
		ID:         uuid.New(),
		WorkloadID: workloadID,
		Workload:   workload,
		Dir:        dir,
		Status:     RunStatusPending,
		State:      StatePending,
		Stages:     make([]StageRecord, 0, StageCount),
		CreatedAt:  time.Now(),
	}
}

// Duration возвращает продолжительность выполнения.
// Возвращает 0, если run ещё не завершён.
func (r *Run) Duration() time.Duration {
	if r.StartedAt == nil || r.FinishedAt == nil {
		return 0
	}
	return r.FinishedAt.Sub(*r.StartedAt)
}

// IsFinished возвращает true, если run завершён (в любом статусе).
func (r *Run) IsFinished() bool {
	return r.Status.IsTerminal()
}

// MarkRunning переводит run в статус RUNNING.
func (r *Run) MarkRunning() {
	now := time.Now()
	r.Status = RunStatusRunning
	r.StartedAt = &now
}

// BeginStage добавляет запись о запущенной стадии.
func (r *Run) BeginStage(stage Stage) {
	r.Stages = append(r.Stages, StageRecord{
		Stage:     stage,
		Name:      stage.Name(),
		Status:    StageStatusRunning,
		StartedAt: time.Now(),
	})
}

// CompleteStage помечает последнюю стадию успешной и продвигает автомат.
func (r *Run) CompleteStage(stage Stage) {
	rec := r.current(stage)
	if rec == nil {
		return
	}
	now := time.Now()
	rec.Status = StageStatusSucceeded
	rec.FinishedAt = &now
	r.State = stage.Completes()
}

// FailStage помечает последнюю стадию упавшей и переводит run в FAILED.
func (r *Run) FailStage(stage Stage, exitCode int, errMsg string) {
	if rec := r.current(stage); rec != nil {
		now := time.Now()
		rec.Status = StageStatusFailed
		rec.ExitCode = exitCode
		rec.FinishedAt = &now
		rec.Error = errMsg
	}
	r.FailedStage = stage
	r.MarkFailed(errMsg)
}

// MarkSucceeded переводит run в статус SUCCEEDED.
func (r *Run) MarkSucceeded() {
	now := time.Now()
	r.Status = RunStatusSucceeded
	r.FinishedAt = &now
}

// MarkFailed переводит run в статус FAILED с ошибкой.
func (r *Run) MarkFailed(err string) {
	now := time.Now()
	r.Status = RunStatusFailed
	r.State = StateFailed
	r.FinishedAt = &now
	r.Error = err
}

// MarkCancelled переводит run в статус CANCELLED.
// Состояние автомата остаётся последним достигнутым.
func (r *Run) MarkCancelled(err string) {
	now := time.Now()
	r.Status = RunStatusCancelled
	r.FinishedAt = &now
	r.Error = err
}

func (r *Run) current(stage Stage) *StageRecord {
	if len(r.Stages) == 0 {
		return nil
	}
	rec := &r.Stages[len(r.Stages)-1]
	if rec.Stage != stage {
		return nil
	}
	return rec
}
