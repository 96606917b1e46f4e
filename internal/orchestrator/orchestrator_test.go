package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/shaiso/tracepipe/internal/config"
	"github.com/shaiso/tracepipe/internal/domain"
	"github.com/shaiso/tracepipe/internal/telemetry"
	"github.com/shaiso/tracepipe/internal/worker"
)

var testToolchain = config.Toolchain{TracerHome: "/opt/tracer", LLVMHome: "/opt/llvm"}

// spyExecutor записывает вызовы и ничего не запускает.
type spyExecutor struct {
	mu sync.Mutex

	calls     []*domain.Invocation
	deadlines []bool

	// failAt — стадия, возвращающая exitCode (или err, если задан).
	failAt   domain.Stage
	exitCode int
	err      error

	// onCall вызывается перед возвратом результата.
	onCall func(ctx context.Context, inv *domain.Invocation)
}

func (s *spyExecutor) Execute(ctx context.Context, inv *domain.Invocation) (*worker.ExecutionResult, error) {
	s.mu.Lock()
	s.calls = append(s.calls, inv)
	_, hasDeadline := ctx.Deadline()
	s.deadlines = append(s.deadlines, hasDeadline)
	s.mu.Unlock()

	if s.onCall != nil {
		s.onCall(ctx, inv)
	}

	result := &worker.ExecutionResult{Command: inv.Commands[len(inv.Commands)-1].String()}
	if inv.Stage == s.failAt {
		if s.err != nil {
			return nil, s.err
		}
		result.ExitCode = s.exitCode
		result.Output = "tool output"
	}
	return result, nil
}

func (s *spyExecutor) stages() []domain.Stage {
	s.mu.Lock()
	defer s.mu.Unlock()
	stages := make([]domain.Stage, len(s.calls))
	for i, inv := range s.calls {
		stages[i] = inv.Stage
	}
	return stages
}

func newWorkspace(t *testing.T, base string) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, base+".c"), []byte("int main(void) { return 0; }\n"), 0o644); err != nil {
		t.Fatalf("write source: %v", err)
	}
	return dir
}

func newTestOrchestrator(exec worker.Executor) *Orchestrator {
	return New(Config{
		Toolchain: testToolchain,
		Executor:  exec,
		Logger:    telemetry.Discard(),
	})
}

// --- Run Tests ---

func TestRun_Success(t *testing.T) {
	spy := &spyExecutor{}
	o := newTestOrchestrator(spy)
	dir := newWorkspace(t, "triad")

	run, err := o.Run(context.Background(), dir, "triad")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ExitCode(err) != ExitOK {
		t.Errorf("expected exit code 0, got %d", ExitCode(err))
	}

	if !reflect.DeepEqual(spy.stages(), domain.AllStages()) {
		t.Errorf("expected stages %v, got %v", domain.AllStages(), spy.stages())
	}
	if run.Status != domain.RunStatusSucceeded {
		t.Errorf("expected SUCCEEDED, got %s", run.Status)
	}
	if run.State != domain.StateExecuted {
		t.Errorf("expected state %s, got %s", domain.StateExecuted, run.State)
	}
	if len(run.Stages) != domain.StageCount {
		t.Errorf("expected %d stage records, got %d", domain.StageCount, len(run.Stages))
	}
	for _, rec := range run.Stages {
		if rec.Status != domain.StageStatusSucceeded {
			t.Errorf("stage %s: expected SUCCEEDED, got %s", rec.Stage, rec.Status)
		}
	}
	if run.FinishedAt == nil {
		t.Error("FinishedAt should be set")
	}
}

func TestRun_AbortsAtFailingStage(t *testing.T) {
	for _, stage := range domain.AllStages() {
		t.Run(stage.Name(), func(t *testing.T) {
			spy := &spyExecutor{failAt: stage, exitCode: 1}
			o := newTestOrchestrator(spy)
			dir := newWorkspace(t, "triad")

			run, err := o.Run(context.Background(), dir, "triad")
			if !errors.Is(err, ErrStageFailed) {
				t.Fatalf("expected ErrStageFailed, got %v", err)
			}

			if got := len(spy.stages()); got != int(stage) {
				t.Errorf("expected %d invocations, got %d", stage, got)
			}
			if code := ExitCode(err); code != 3+int(stage) {
				t.Errorf("expected exit code %d, got %d", 3+int(stage), code)
			}

			var stageErr *StageExecutionError
			if !errors.As(err, &stageErr) {
				t.Fatalf("expected StageExecutionError, got %T", err)
			}
			if stageErr.Stage != stage {
				t.Errorf("expected stage %s, got %s", stage, stageErr.Stage)
			}
			if stageErr.ExitStatus != 1 {
				t.Errorf("expected exit status 1, got %d", stageErr.ExitStatus)
			}
			if stageErr.Output != "tool output" {
				t.Errorf("expected tool output, got %q", stageErr.Output)
			}

			if run.Status != domain.RunStatusFailed {
				t.Errorf("expected FAILED, got %s", run.Status)
			}
			if run.State != domain.StateFailed {
				t.Errorf("expected state FAILED, got %s", run.State)
			}
			if run.FailedStage != stage {
				t.Errorf("expected failed stage %s, got %s", stage, run.FailedStage)
			}
			last := run.Stages[len(run.Stages)-1]
			if last.Status != domain.StageStatusFailed || last.ExitCode != 1 {
				t.Errorf("expected last stage FAILED with code 1, got %s/%d", last.Status, last.ExitCode)
			}
		})
	}
}

func TestRun_ExecutorError(t *testing.T) {
	spy := &spyExecutor{failAt: domain.StageCompile, err: worker.ErrStartFailed}
	o := newTestOrchestrator(spy)
	dir := newWorkspace(t, "triad")

	_, err := o.Run(context.Background(), dir, "triad")
	if !errors.Is(err, worker.ErrStartFailed) {
		t.Errorf("expected ErrStartFailed in chain, got %v", err)
	}
	if !errors.Is(err, ErrStageFailed) {
		t.Errorf("expected ErrStageFailed in chain, got %v", err)
	}
	if code := ExitCode(err); code != 5 {
		t.Errorf("expected exit code 5, got %d", code)
	}

	var stageErr *StageExecutionError
	if errors.As(err, &stageErr) && stageErr.ExitStatus != -1 {
		t.Errorf("expected exit status -1, got %d", stageErr.ExitStatus)
	}
}

func TestRun_UnknownWorkload(t *testing.T) {
	spy := &spyExecutor{}
	o := newTestOrchestrator(spy)
	dir := newWorkspace(t, "triad")

	run, err := o.Run(context.Background(), dir, "fft")
	if !errors.Is(err, domain.ErrUnknownWorkload) {
		t.Fatalf("expected ErrUnknownWorkload, got %v", err)
	}
	if code := ExitCode(err); code != ExitUnknownWorkload {
		t.Errorf("expected exit code 3, got %d", code)
	}
	if run != nil {
		t.Error("run should be nil for rejected input")
	}
	if len(spy.stages()) != 0 {
		t.Errorf("expected no invocations, got %d", len(spy.stages()))
	}

	var lookupErr *LookupError
	if errors.As(err, &lookupErr) && !reflect.DeepEqual(lookupErr.Known, []string{"triad"}) {
		t.Errorf("expected known workloads [triad], got %v", lookupErr.Known)
	}
}

func TestRun_MissingToolchain(t *testing.T) {
	tests := []struct {
		name      string
		toolchain config.Toolchain
		variable  string
	}{
		{"no tracer home", config.Toolchain{LLVMHome: "/opt/llvm"}, config.EnvTracerHome},
		{"no llvm home", config.Toolchain{TracerHome: "/opt/tracer"}, config.EnvLLVMHome},
		{"nothing set", config.Toolchain{}, config.EnvTracerHome},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spy := &spyExecutor{}
			o := New(Config{Toolchain: tt.toolchain, Executor: spy, Logger: telemetry.Discard()})
			dir := newWorkspace(t, "triad")

			_, err := o.Run(context.Background(), dir, "triad")
			if code := ExitCode(err); code != ExitConfiguration {
				t.Errorf("expected exit code 2, got %d", code)
			}
			var cfgErr *ConfigurationError
			if !errors.As(err, &cfgErr) {
				t.Fatalf("expected ConfigurationError, got %v", err)
			}
			if cfgErr.Variable != tt.variable {
				t.Errorf("expected variable %s, got %s", tt.variable, cfgErr.Variable)
			}
			if len(spy.stages()) != 0 {
				t.Errorf("expected no invocations, got %d", len(spy.stages()))
			}
		})
	}
}

func TestRun_ConfigurationCheckedBeforeLookup(t *testing.T) {
	spy := &spyExecutor{}
	o := New(Config{Executor: spy, Logger: telemetry.Discard()})

	_, err := o.Run(context.Background(), t.TempDir(), "fft")
	if code := ExitCode(err); code != ExitConfiguration {
		t.Errorf("expected exit code 2, got %d", code)
	}
}

func TestRun_MissingSourceOrDir(t *testing.T) {
	tests := []struct {
		name string
		dir  func(t *testing.T) string
	}{
		{"missing source", func(t *testing.T) string { return t.TempDir() }},
		{"missing dir", func(t *testing.T) string { return filepath.Join(t.TempDir(), "nope") }},
		{"dir is a file", func(t *testing.T) string {
			return filepath.Join(newWorkspace(t, "triad"), "triad.c")
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spy := &spyExecutor{}
			o := newTestOrchestrator(spy)

			_, err := o.Run(context.Background(), tt.dir(t), "triad")
			if !errors.Is(err, ErrConfiguration) {
				t.Errorf("expected ErrConfiguration, got %v", err)
			}
			if code := ExitCode(err); code != ExitConfiguration {
				t.Errorf("expected exit code 2, got %d", code)
			}
			if len(spy.stages()) != 0 {
				t.Errorf("expected no invocations, got %d", len(spy.stages()))
			}
		})
	}
}

func TestRun_CancelledBetweenStages(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var stageCtxErr error
	spy := &spyExecutor{
		onCall: func(stageCtx context.Context, inv *domain.Invocation) {
			if inv.Stage == domain.StageCompile {
				cancel()
				stageCtxErr = stageCtx.Err()
			}
		},
	}
	o := newTestOrchestrator(spy)
	dir := newWorkspace(t, "triad")

	run, err := o.Run(ctx, dir, "triad")
	if !errors.Is(err, ErrCancelled) {
		t.Fatalf("expected ErrCancelled, got %v", err)
	}
	if stageCtxErr != nil {
		t.Errorf("running stage must not see caller cancellation, got %v", stageCtxErr)
	}
	if got := len(spy.stages()); got != 2 {
		t.Errorf("expected 2 invocations, got %d", got)
	}
	if code := ExitCode(err); code != ExitFailure {
		t.Errorf("expected exit code 1, got %d", code)
	}
	if run.Status != domain.RunStatusCancelled {
		t.Errorf("expected CANCELLED, got %s", run.Status)
	}
	if run.State != domain.StateCompiled {
		t.Errorf("expected state %s, got %s", domain.StateCompiled, run.State)
	}
}

func TestRun_StageTimeout(t *testing.T) {
	tests := []struct {
		name     string
		timeout  time.Duration
		deadline bool
	}{
		{"with timeout", time.Minute, true},
		{"no timeout", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spy := &spyExecutor{}
			o := New(Config{
				Toolchain:    testToolchain,
				Executor:     spy,
				StageTimeout: tt.timeout,
				Logger:       telemetry.Discard(),
			})

			if _, err := o.Run(context.Background(), newWorkspace(t, "triad"), "triad"); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			for i, has := range spy.deadlines {
				if has != tt.deadline {
					t.Errorf("invocation %d: expected deadline=%v, got %v", i+1, tt.deadline, has)
				}
			}
		})
	}
}

func TestRun_StageTimeoutFailsStage(t *testing.T) {
	spy := &spyExecutor{failAt: domain.StageLower, err: worker.ErrExecutionTimeout}
	o := newTestOrchestrator(spy)

	_, err := o.Run(context.Background(), newWorkspace(t, "triad"), "triad")
	if !errors.Is(err, worker.ErrExecutionTimeout) {
		t.Errorf("expected ErrExecutionTimeout, got %v", err)
	}
	if code := ExitCode(err); code != 8 {
		t.Errorf("expected exit code 8, got %d", code)
	}
}

func TestRun_WorkloadEnvOnlyOnInstrumentAndExecute(t *testing.T) {
	spy := &spyExecutor{}
	o := New(Config{
		Toolchain: testToolchain,
		Workloads: domain.WorkloadTable{"triad": "triad", "md": "md_kernel"},
		Executor:  spy,
		Logger:    telemetry.Discard(),
	})

	if _, err := o.Run(context.Background(), newWorkspace(t, "md"), "md"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for _, inv := range spy.calls {
		want := inv.Stage == domain.StageInstrument || inv.Stage == domain.StageLinkAndExecute
		got, ok := inv.Env[config.EnvWorkload]
		if ok != want {
			t.Errorf("stage %s: expected WORKLOAD set=%v, got %v", inv.Stage, want, ok)
		}
		if ok && got != "md_kernel" {
			t.Errorf("stage %s: expected WORKLOAD=md_kernel, got %s", inv.Stage, got)
		}
	}
}

func TestRun_DoesNotChangeProcessState(t *testing.T) {
	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	workload, hadWorkload := os.LookupEnv(config.EnvWorkload)

	spy := &spyExecutor{}
	o := newTestOrchestrator(spy)
	dir := newWorkspace(t, "triad")

	if _, err := o.Run(context.Background(), dir, "triad"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	after, _ := os.Getwd()
	if after != wd {
		t.Errorf("working directory changed: %s -> %s", wd, after)
	}
	got, has := os.LookupEnv(config.EnvWorkload)
	if got != workload || has != hadWorkload {
		t.Errorf("WORKLOAD changed in parent process: %q -> %q", workload, got)
	}

	resolved, _ := filepath.Abs(dir)
	for _, inv := range spy.calls {
		if inv.Dir != resolved {
			t.Errorf("stage %s: expected dir %s, got %s", inv.Stage, resolved, inv.Dir)
		}
	}
}

func TestRun_ProducesArtifacts(t *testing.T) {
	// Шпион создаёт файлы так, как их создали бы инструменты.
	produced := map[domain.Stage][]string{
		domain.StageLabelExtraction: {"labelmap"},
		domain.StageCompile:         {"triad.ir"},
		domain.StageInstrument:      {"triad-opt.ir"},
		domain.StageLinkRuntime:     {"triad-full.ir"},
		domain.StageLower:           {"triad-full.s"},
		domain.StageLinkAndExecute:  {"triad-instrumented", "dynamic_trace.gz"},
	}
	spy := &spyExecutor{
		onCall: func(_ context.Context, inv *domain.Invocation) {
			for _, name := range produced[inv.Stage] {
				_ = os.WriteFile(filepath.Join(inv.Dir, name), nil, 0o644)
			}
		},
	}
	o := newTestOrchestrator(spy)
	dir := newWorkspace(t, "triad")

	if _, err := o.Run(context.Background(), dir, "triad"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for _, name := range append(ArtifactsFor("triad").Outputs(), "labelmap", "dynamic_trace.gz") {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Errorf("expected artifact %s: %v", name, err)
		}
	}
}

// --- Side channel Tests ---

type fakeSink struct {
	mu sync.Mutex

	saved    []*domain.Run
	stages   []domain.StageRecord
	finished []*domain.Run
	archived []*domain.Run

	err error
}

func (f *fakeSink) SaveRun(_ context.Context, run *domain.Run) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saved = append(f.saved, run)
	return f.err
}

func (f *fakeSink) PublishStageCompleted(_ context.Context, _ *domain.Run, rec domain.StageRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stages = append(f.stages, rec)
	return f.err
}

func (f *fakeSink) PublishRunFinished(_ context.Context, run *domain.Run) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finished = append(f.finished, run)
	return f.err
}

func (f *fakeSink) Archive(_ context.Context, run *domain.Run) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.archived = append(f.archived, run)
	return f.err
}

func newSinkOrchestrator(spy *spyExecutor, sink *fakeSink) *Orchestrator {
	return New(Config{
		Toolchain: testToolchain,
		Executor:  spy,
		History:   sink,
		Events:    sink,
		Archiver:  sink,
		Metrics:   telemetry.NewMetrics(),
		Logger:    telemetry.Discard(),
	})
}

func TestRun_SideChannelsOnSuccess(t *testing.T) {
	sink := &fakeSink{}
	o := newSinkOrchestrator(&spyExecutor{}, sink)

	run, err := o.Run(context.Background(), newWorkspace(t, "triad"), "triad")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(sink.saved) != 1 || sink.saved[0] != run {
		t.Errorf("expected run saved once, got %d", len(sink.saved))
	}
	if len(sink.stages) != domain.StageCount {
		t.Errorf("expected %d stage events, got %d", domain.StageCount, len(sink.stages))
	}
	if len(sink.finished) != 1 {
		t.Errorf("expected one run.finished event, got %d", len(sink.finished))
	}
	if len(sink.archived) != 1 {
		t.Errorf("expected run archived once, got %d", len(sink.archived))
	}
	if sink.saved[0].Status != domain.RunStatusSucceeded {
		t.Errorf("expected saved run SUCCEEDED, got %s", sink.saved[0].Status)
	}
}

func TestRun_SideChannelsOnFailure(t *testing.T) {
	sink := &fakeSink{}
	o := newSinkOrchestrator(&spyExecutor{failAt: domain.StageInstrument, exitCode: 2}, sink)

	_, err := o.Run(context.Background(), newWorkspace(t, "triad"), "triad")
	if ExitCode(err) != 6 {
		t.Fatalf("expected exit code 6, got %d (%v)", ExitCode(err), err)
	}

	if len(sink.saved) != 1 {
		t.Errorf("failed run should be saved, got %d", len(sink.saved))
	}
	if len(sink.stages) != 3 {
		t.Errorf("expected 3 stage events, got %d", len(sink.stages))
	}
	if len(sink.archived) != 0 {
		t.Error("failed run must not be archived")
	}
}

func TestRun_SideChannelErrorsDoNotChangeOutcome(t *testing.T) {
	sink := &fakeSink{err: errors.New("broker unavailable")}
	o := newSinkOrchestrator(&spyExecutor{}, sink)

	run, err := o.Run(context.Background(), newWorkspace(t, "triad"), "triad")
	if err != nil {
		t.Fatalf("side channel errors must not fail the run: %v", err)
	}
	if run.Status != domain.RunStatusSucceeded {
		t.Errorf("expected SUCCEEDED, got %s", run.Status)
	}
}

// --- Plan Tests ---

func TestPlan(t *testing.T) {
	spy := &spyExecutor{}
	o := newTestOrchestrator(spy)
	dir := newWorkspace(t, "triad")

	first, err := o.Plan(dir, "triad")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, _ := o.Plan(dir, "triad")

	if len(first) != domain.StageCount {
		t.Fatalf("expected %d invocations, got %d", domain.StageCount, len(first))
	}
	if !reflect.DeepEqual(first, second) {
		t.Error("plan should be deterministic")
	}
	if len(spy.stages()) != 0 {
		t.Error("plan must not execute anything")
	}
}

func TestPlan_Rejected(t *testing.T) {
	o := newTestOrchestrator(&spyExecutor{})

	if _, err := o.Plan(t.TempDir(), "unknown"); ExitCode(err) != ExitUnknownWorkload {
		t.Errorf("expected exit code 3, got %d", ExitCode(err))
	}
}

func TestRun_NoExecutor(t *testing.T) {
	o := New(Config{Toolchain: testToolchain, Logger: telemetry.Discard()})

	if _, err := o.Run(context.Background(), newWorkspace(t, "triad"), "triad"); err == nil {
		t.Error("expected error without executor")
	}
}

// --- New Tests ---

func TestNew_FillsDefaults(t *testing.T) {
	o := newTestOrchestrator(&spyExecutor{})
	defaults := config.Default()

	invs, err := o.Plan(newWorkspace(t, "triad"), "triad")
	if err != nil {
		t.Fatalf("default workload table should contain triad: %v", err)
	}

	compile := invs[int(domain.StageCompile)-1].Commands[0]
	if compile.Path != defaults.Tools.Clang {
		t.Errorf("expected default clang %q, got %q", defaults.Tools.Clang, compile.Path)
	}
	if cc := invs[int(domain.StageLinkAndExecute)-1].Commands[0].Path; cc != defaults.Tools.CC {
		t.Errorf("expected default cc %q, got %q", defaults.Tools.CC, cc)
	}

	include := invs[int(domain.StageLabelExtraction)-1].Commands[0].Args[2]
	want := "-I" + filepath.Join(testToolchain.LLVMHome, "lib", "clang", defaults.ClangVersion)
	if include != want {
		t.Errorf("expected %q, got %q", want, include)
	}
}

// --- Logging Tests ---

func TestRun_LogsArtifacts(t *testing.T) {
	var buf bytes.Buffer
	o := New(Config{
		Toolchain: testToolchain,
		Executor:  &spyExecutor{},
		Logger:    telemetry.NewLogger(&buf, "json", slog.LevelInfo),
	})

	if _, err := o.Run(context.Background(), newWorkspace(t, "triad"), "triad"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var started struct {
		Msg       string   `json:"msg"`
		Artifacts []string `json:"artifacts"`
	}
	line, _, _ := bytes.Cut(buf.Bytes(), []byte("\n"))
	if err := json.Unmarshal(line, &started); err != nil {
		t.Fatalf("first log line is not JSON: %v\n%s", err, line)
	}
	if started.Msg != "pipeline started" {
		t.Fatalf("expected pipeline started first, got %q", started.Msg)
	}
	if want := ArtifactsFor("triad").Outputs(); !reflect.DeepEqual(started.Artifacts, want) {
		t.Errorf("expected artifacts %v, got %v", want, started.Artifacts)
	}
}
