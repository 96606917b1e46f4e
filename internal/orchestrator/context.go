package orchestrator

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/shaiso/tracepipe/internal/config"
)

// Artifacts — имена файлов, которые создают стадии, относительно рабочей директории.
//
// Все имена — чистые функции базового имени. Промежуточные модули
// (слинкованный IR и ассемблер) тоже несут базовое имя, чтобы runs разных
// workloads в одной директории не затирали друг друга.
type Artifacts struct {
	// Source — исходник, должен существовать до запуска.
	Source string
	// Object — неоптимизированный IR (стадия 2).
	Object string
	// Optimized — инструментированный IR (стадия 3).
	Optimized string
	// Linked — IR, слинкованный с runtime трассировки (стадия 4).
	Linked string
	// Assembly — ассемблер (стадия 5).
	Assembly string
	// Executable — инструментированный бинарник (стадия 6).
	Executable string
}

// ArtifactsFor вычисляет имена артефактов для базового имени.
func ArtifactsFor(base string) Artifacts {
	return Artifacts{
		Source:     base + ".c",
		Object:     base + ".ir",
		Optimized:  base + "-opt.ir",
		Linked:     base + "-full.ir",
		Assembly:   base + "-full.s",
		Executable: base + "-instrumented",
	}
}

// Outputs возвращает выходные артефакты в порядке их создания.
func (a Artifacts) Outputs() []string {
	return []string{a.Object, a.Optimized, a.Linked, a.Assembly, a.Executable}
}

// PipelineContext — неизменяемые данные одного run, общие для всех стадий.
//
// Передаётся в построители стадий по значению; стадии получают рабочую
// директорию и корни тулчейнов отсюда, а не из состояния процесса.
type PipelineContext struct {
	// Dir — абсолютный путь рабочей директории.
	Dir string
	// Base — базовое имя артефактов (идентификатор workload).
	Base string
	// Workload — значение WORKLOAD.
	Workload string
	// Toolchain — корни тулчейнов.
	Toolchain config.Toolchain
	// Artifacts — имена артефактов.
	Artifacts Artifacts
}

// Path возвращает абсолютный путь артефакта name.
func (pc PipelineContext) Path(name string) string {
	return filepath.Join(pc.Dir, name)
}

// NewPipelineContext проверяет рабочую директорию и исходник и собирает контекст.
func NewPipelineContext(dir, base, workload string, tc config.Toolchain) (PipelineContext, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return PipelineContext{}, &ConfigurationError{Path: dir, Message: err.Error()}
	}

	info, err := os.Stat(abs)
	if err != nil {
		return PipelineContext{}, &ConfigurationError{Path: abs, Message: statMessage(err, "working directory does not exist")}
	}
	if !info.IsDir() {
		return PipelineContext{}, &ConfigurationError{Path: abs, Message: "working directory is not a directory"}
	}

	pc := PipelineContext{
		Dir:       abs,
		Base:      base,
		Workload:  workload,
		Toolchain: tc,
		Artifacts: ArtifactsFor(base),
	}

	if _, err := os.Stat(pc.Path(pc.Artifacts.Source)); err != nil {
		return PipelineContext{}, &ConfigurationError{
			Path:    pc.Path(pc.Artifacts.Source),
			Message: statMessage(err, "source file does not exist"),
		}
	}

	return pc, nil
}

func statMessage(err error, notExist string) string {
	if errors.Is(err, fs.ErrNotExist) {
		return notExist
	}
	return err.Error()
}
