package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shaiso/tracepipe/internal/config"
	"github.com/shaiso/tracepipe/internal/domain"
	"github.com/shaiso/tracepipe/internal/telemetry"
	"github.com/shaiso/tracepipe/internal/worker"
)

// sideChannelTimeout — сколько ждать истории, событий и архива после завершения run.
const sideChannelTimeout = 30 * time.Second

// RunRecorder сохраняет завершённый run (история в БД).
type RunRecorder interface {
	SaveRun(ctx context.Context, run *domain.Run) error
}

// EventPublisher публикует события о ходе run.
type EventPublisher interface {
	PublishStageCompleted(ctx context.Context, run *domain.Run, rec domain.StageRecord) error
	PublishRunFinished(ctx context.Context, run *domain.Run) error
}

// Archiver выгружает результаты успешного run (трассу, labelmap).
type Archiver interface {
	Archive(ctx context.Context, run *domain.Run) error
}

// Orchestrator выполняет pipeline инструментирования.
//
// Orchestrator:
//   - Проверяет корни тулчейнов и таблицу workloads до любого внешнего вызова
//   - Строит шесть вызовов из PipelineContext
//   - Выполняет их строго по порядку через Executor
//   - Останавливается на первой неуспешной стадии
//   - Проверяет отмену между стадиями, а не во время работы процесса
//
// История, события, архив и метрики опциональны: их ошибки логируются
// и не меняют результат run.
type Orchestrator struct {
	toolchain    config.Toolchain
	workloads    domain.WorkloadTable
	options      Options
	stageTimeout time.Duration

	executor worker.Executor

	history  RunRecorder
	events   EventPublisher
	archiver Archiver
	metrics  *telemetry.Metrics

	logger *slog.Logger
}

// Config — конфигурация Orchestrator.
type Config struct {
	// Toolchain — корни тулчейнов, прочитанные при старте.
	Toolchain config.Toolchain

	// Workloads — закрытая таблица workloads.
	Workloads domain.WorkloadTable

	// Options — инструменты и флаги прохода.
	Options Options

	// StageTimeout — таймаут одной стадии (0 — без таймаута).
	StageTimeout time.Duration

	// Executor — исполнитель вызовов (обязателен).
	Executor worker.Executor

	// Опциональные получатели результатов.
	History  RunRecorder
	Events   EventPublisher
	Archiver Archiver
	Metrics  *telemetry.Metrics

	// Logger
	Logger *slog.Logger
}

// New создаёт новый Orchestrator.
func New(cfg Config) *Orchestrator {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	defaults := config.Default()

	workloads := cfg.Workloads
	if workloads == nil {
		workloads = defaults.Workloads
	}

	opts := cfg.Options
	if opts.Tools == (config.Tools{}) {
		opts.Tools = defaults.Tools
	}
	if opts.ClangVersion == "" {
		opts.ClangVersion = defaults.ClangVersion
	}

	return &Orchestrator{
		toolchain:    cfg.Toolchain,
		workloads:    workloads,
		options:      opts,
		stageTimeout: cfg.StageTimeout,
		executor:     cfg.Executor,
		history:      cfg.History,
		events:       cfg.Events,
		archiver:     cfg.Archiver,
		metrics:      cfg.Metrics,
		logger:       logger,
	}
}

// Prepare проверяет предусловия и собирает PipelineContext.
//
// Порядок проверок: TRACER_HOME, LLVM_HOME, таблица workloads, рабочая
// директория и исходник. Ни одна проверка не запускает внешних процессов.
func (o *Orchestrator) Prepare(dir, workloadID string) (PipelineContext, error) {
	if o.toolchain.TracerHome == "" {
		return PipelineContext{}, &ConfigurationError{Variable: config.EnvTracerHome}
	}
	if o.toolchain.LLVMHome == "" {
		return PipelineContext{}, &ConfigurationError{Variable: config.EnvLLVMHome}
	}

	workload, err := o.workloads.Lookup(workloadID)
	if err != nil {
		return PipelineContext{}, &LookupError{WorkloadID: workloadID, Known: o.workloads.IDs()}
	}

	return NewPipelineContext(dir, workloadID, workload, o.toolchain)
}

// Plan возвращает вызовы, которые выполнил бы Run, не запуская их.
func (o *Orchestrator) Plan(dir, workloadID string) ([]*domain.Invocation, error) {
	pc, err := o.Prepare(dir, workloadID)
	if err != nil {
		return nil, err
	}
	return BuildInvocations(pc, o.options), nil
}

// Run выполняет pipeline для workloadID в директории dir.
//
// Возвращает nil run, если не прошли предусловия (ConfigurationError,
// LookupError). Иначе run возвращается всегда и отражает достигнутое состояние;
// ошибка — StageExecutionError или ErrCancelled.
func (o *Orchestrator) Run(ctx context.Context, dir, workloadID string) (*domain.Run, error) {
	if o.executor == nil {
		return nil, errors.New("orchestrator: executor is not configured")
	}

	pc, err := o.Prepare(dir, workloadID)
	if err != nil {
		o.logger.Error("pipeline rejected", "workload", workloadID, "dir", dir, "error", err)
		return nil, err
	}

	run := domain.NewRun(pc.Base, pc.Workload, pc.Dir)
	logger := telemetry.WithWorkload(telemetry.WithRunID(o.logger, run.ID.String()), pc.Base)
	ctx = telemetry.WithLogger(ctx, logger)

	run.MarkRunning()
	logger.Info("pipeline started",
		"dir", pc.Dir,
		"workload_name", pc.Workload,
		"stage_timeout", o.stageTimeout,
		"artifacts", pc.Artifacts.Outputs(),
	)

	runErr := o.execute(ctx, run, BuildInvocations(pc, o.options), logger)
	o.finish(ctx, run, runErr, logger)

	return run, runErr
}

// execute выполняет вызовы по порядку и останавливается на первой ошибке.
func (o *Orchestrator) execute(ctx context.Context, run *domain.Run, invs []*domain.Invocation, logger *slog.Logger) error {
	for _, inv := range invs {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w before stage %s: %v", ErrCancelled, inv.Stage, err)
		}
		if err := o.runStage(ctx, run, inv, logger); err != nil {
			return err
		}
	}
	return nil
}

// runStage выполняет одну стадию и обновляет run.
func (o *Orchestrator) runStage(ctx context.Context, run *domain.Run, inv *domain.Invocation, logger *slog.Logger) error {
	logger = telemetry.WithStage(logger, int(inv.Stage), inv.Name())
	logger.Info("stage started", "command", inv.Commands[0].String())

	run.BeginStage(inv.Stage)

	stageCtx, cancel := o.stageContext(ctx)
	result, execErr := o.executor.Execute(stageCtx, inv)
	cancel()

	if execErr != nil || result.Failed() {
		stageErr := newStageError(inv, result, execErr)
		run.FailStage(inv.Stage, stageErr.ExitStatus, stageErr.Error())

		rec := run.Stages[len(run.Stages)-1]
		o.metrics.ObserveStage(inv.Name(), string(rec.Status), rec.Duration())
		logger.Error("stage failed",
			"exit_status", stageErr.ExitStatus,
			"duration", rec.Duration(),
			"error", stageErr,
			"output", stageErr.Output,
		)
		o.publishStage(ctx, run, rec, logger)
		return stageErr
	}

	run.CompleteStage(inv.Stage)

	rec := run.Stages[len(run.Stages)-1]
	o.metrics.ObserveStage(inv.Name(), string(rec.Status), rec.Duration())
	logger.Info("stage completed",
		"state", run.State,
		"duration", rec.Duration(),
	)
	o.publishStage(ctx, run, rec, logger)
	return nil
}

// stageContext возвращает контекст стадии.
//
// Отмена ctx не прерывает работающий процесс: она проверяется между стадиями.
// Процесс убивается только по таймауту стадии.
func (o *Orchestrator) stageContext(ctx context.Context) (context.Context, context.CancelFunc) {
	base := context.WithoutCancel(ctx)
	if o.stageTimeout > 0 {
		return context.WithTimeout(base, o.stageTimeout)
	}
	return context.WithCancel(base)
}

func newStageError(inv *domain.Invocation, result *worker.ExecutionResult, execErr error) *StageExecutionError {
	stageErr := &StageExecutionError{
		Stage:      inv.Stage,
		Command:    inv.Commands[0].String(),
		ExitStatus: -1,
		Err:        execErr,
	}
	if result != nil {
		if result.Command != "" {
			stageErr.Command = result.Command
		}
		stageErr.Output = result.Output
		if execErr == nil {
			stageErr.ExitStatus = result.ExitCode
		}
	}
	return stageErr
}

// finish финализирует run и отправляет результаты в опциональные получатели.
func (o *Orchestrator) finish(ctx context.Context, run *domain.Run, runErr error, logger *slog.Logger) {
	switch {
	case runErr == nil:
		run.MarkSucceeded()
	case errors.Is(runErr, ErrCancelled):
		run.MarkCancelled(runErr.Error())
	case !run.IsFinished():
		run.MarkFailed(runErr.Error())
	}

	o.metrics.ObserveRun(string(run.Status))

	attrs := []any{
		"status", run.Status,
		"state", run.State,
		"duration", run.Duration(),
	}
	if run.Status == domain.RunStatusSucceeded {
		logger.Info("pipeline finished", attrs...)
	} else {
		logger.Warn("pipeline finished", append(attrs, "failed_stage", int(run.FailedStage), "error", run.Error)...)
	}

	// Получатели вызываются и для отменённого run.
	sideCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sideChannelTimeout)
	defer cancel()

	if o.history != nil {
		if err := o.history.SaveRun(sideCtx, run); err != nil {
			logger.Warn("failed to save run history", "error", err)
		}
	}

	if o.events != nil {
		if err := o.events.PublishRunFinished(sideCtx, run); err != nil {
			logger.Warn("failed to publish run.finished", "error", err)
		}
	}

	if o.archiver != nil && run.Status == domain.RunStatusSucceeded {
		if err := o.archiver.Archive(sideCtx, run); err != nil {
			logger.Warn("failed to archive run outputs", "error", err)
		}
	}
}

// publishStage публикует stage.completed. Ошибка публикации не влияет на run.
func (o *Orchestrator) publishStage(ctx context.Context, run *domain.Run, rec domain.StageRecord, logger *slog.Logger) {
	if o.events == nil {
		return
	}
	if err := o.events.PublishStageCompleted(context.WithoutCancel(ctx), run, rec); err != nil {
		logger.Warn("failed to publish stage.completed", "error", err)
	}
}
