package orchestrator

import (
	"path/filepath"

	"github.com/shaiso/tracepipe/internal/config"
	"github.com/shaiso/tracepipe/internal/domain"
)

// Пути внутри TRACER_HOME.
const (
	labelExtractorPath = "bin/get-labeled-stmts"
	tracePassPath      = "lib/full_trace.so"
	traceRuntimePath   = "lib/trace_logger.llvm"
)

// Options — параметры построения команд стадий.
type Options struct {
	// Tools — имена инструментов.
	Tools config.Tools
	// ClangVersion — версия в include-пути $LLVM_HOME/lib/clang/<version>.
	ClangVersion string
	// VerboseTracer передаёт проходу -verbose-tracer.
	VerboseTracer bool
	// TraceAllCallees передаёт проходу -trace-all-callees: каждая функция из WORKLOAD
	// трассируется вместе со всеми вызываемыми.
	TraceAllCallees bool
}

// OptionsFromConfig возвращает Options с инструментами и версией clang из cfg.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Tools:        cfg.Tools,
		ClangVersion: cfg.ClangVersion,
	}
}

// BuildInvocations возвращает шесть вызовов в порядке выполнения.
func BuildInvocations(pc PipelineContext, opts Options) []*domain.Invocation {
	return []*domain.Invocation{
		LabelExtractionStage(pc, opts),
		CompileStage(pc, opts),
		InstrumentStage(pc, opts),
		LinkRuntimeStage(pc, opts),
		LowerStage(pc, opts),
		LinkAndExecuteStage(pc, opts),
	}
}

func newInvocation(pc PipelineContext, stage domain.Stage, cmds ...domain.Command) *domain.Invocation {
	return &domain.Invocation{
		Stage:    stage,
		Dir:      pc.Dir,
		Commands: cmds,
	}
}

// LabelExtractionStage извлекает метки операторов из исходника в файл labelmap.
// Метки есть только в AST, в IR они теряются, поэтому это отдельный инструмент.
func LabelExtractionStage(pc PipelineContext, opts Options) *domain.Invocation {
	include := filepath.Join(pc.Toolchain.LLVMHome, "lib", "clang", opts.ClangVersion)
	return newInvocation(pc, domain.StageLabelExtraction, domain.Command{
		Path: filepath.Join(pc.Toolchain.TracerHome, labelExtractorPath),
		Args: []string{pc.Artifacts.Source, "--", "-I" + include},
	})
}

// CompileStage компилирует исходник в IR без векторизации, развёртки циклов и инлайнинга.
func CompileStage(pc PipelineContext, opts Options) *domain.Invocation {
	return newInvocation(pc, domain.StageCompile, domain.Command{
		Path: opts.Tools.Clang,
		Args: []string{
			"-static", "-g", "-O1", "-S",
			"-fno-slp-vectorize", "-fno-vectorize", "-fno-unroll-loops",
			"-fno-inline", "-fno-builtin",
			"-emit-llvm",
			"-o", pc.Artifacts.Object,
			pc.Artifacts.Source,
		},
	})
}

// InstrumentStage прогоняет проход full_trace и записывает labelmap в модуль.
// Проход читает WORKLOAD, чтобы выбрать функции верхнего уровня.
func InstrumentStage(pc PipelineContext, opts Options) *domain.Invocation {
	args := []string{
		"-disable-inlining", "-S",
		"-load=" + filepath.Join(pc.Toolchain.TracerHome, tracePassPath),
		"-fulltrace", "-labelmapwriter",
	}
	if opts.VerboseTracer {
		args = append(args, "-verbose-tracer")
	}
	if opts.TraceAllCallees {
		args = append(args, "-trace-all-callees")
	}
	args = append(args, pc.Artifacts.Object, "-o", pc.Artifacts.Optimized)

	inv := newInvocation(pc, domain.StageInstrument, domain.Command{Path: opts.Tools.Opt, Args: args})
	inv.Env = map[string]string{config.EnvWorkload: pc.Workload}
	return inv
}

// LinkRuntimeStage линкует инструментированный IR с IR-модулем runtime трассировки.
func LinkRuntimeStage(pc PipelineContext, opts Options) *domain.Invocation {
	return newInvocation(pc, domain.StageLinkRuntime, domain.Command{
		Path: opts.Tools.LLVMLink,
		Args: []string{
			"-o", pc.Artifacts.Linked,
			pc.Artifacts.Optimized,
			filepath.Join(pc.Toolchain.TracerHome, traceRuntimePath),
		},
	})
}

// LowerStage понижает слинкованный IR в ассемблер без оптимизаций и без
// удаления frame pointer.
func LowerStage(pc PipelineContext, opts Options) *domain.Invocation {
	return newInvocation(pc, domain.StageLower, domain.Command{
		Path: opts.Tools.LLC,
		Args: []string{
			"-O0", "-disable-fp-elim", "-filetype=asm",
			"-o", pc.Artifacts.Assembly,
			pc.Artifacts.Linked,
		},
	})
}

// LinkAndExecuteStage статически линкует бинарник с libm и libz и запускает его.
// Бинарник пишет трассу в dynamic_trace.gz в рабочей директории.
func LinkAndExecuteStage(pc PipelineContext, opts Options) *domain.Invocation {
	inv := newInvocation(pc, domain.StageLinkAndExecute,
		domain.Command{
			Path: opts.Tools.CC,
			Args: []string{
				"-static", "-O0", "-fno-inline",
				"-o", pc.Artifacts.Executable,
				pc.Artifacts.Assembly,
				"-lm", "-lz",
			},
		},
		domain.Command{Path: pc.Path(pc.Artifacts.Executable)},
	)
	inv.Env = map[string]string{config.EnvWorkload: pc.Workload}
	return inv
}
