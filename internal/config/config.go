// Package config загружает конфигурацию tracepipe.
//
// Источники:
//   - переменные окружения TRACER_HOME и LLVM_HOME — корни тулчейнов,
//     читаются один раз при старте;
//   - опциональный YAML-файл (--config или TRACEPIPE_CONFIG) — таблица
//     workloads, имена инструментов, версия clang, таймаут стадии.
//
// Значения из файла накладываются на встроенные значения по умолчанию.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/shaiso/tracepipe/internal/domain"
)

// Переменные окружения.
const (
	// EnvTracerHome — корень LLVM-Tracer (bin/get-labeled-stmts, lib/full_trace.so, lib/trace_logger.llvm).
	EnvTracerHome = "TRACER_HOME"

	// EnvLLVMHome — корень LLVM (lib/clang/<version> для include-пути).
	EnvLLVMHome = "LLVM_HOME"

	// EnvConfigPath — путь к YAML-файлу конфигурации.
	EnvConfigPath = "TRACEPIPE_CONFIG"

	// EnvWorkload — переменная, которую читают проход full_trace и инструментированный бинарник.
	EnvWorkload = "WORKLOAD"
)

// Значения по умолчанию.
const (
	DefaultClangVersion = "3.4"
	DefaultStageTimeout = 10 * time.Minute
)

// ErrInvalidConfig — файл конфигурации не прошёл валидацию.
var ErrInvalidConfig = errors.New("invalid config")

// Toolchain — корни тулчейнов, прочитанные из окружения.
type Toolchain struct {
	// TracerHome — значение TRACER_HOME.
	TracerHome string
	// LLVMHome — значение LLVM_HOME.
	LLVMHome string
}

// ToolchainFromEnv читает оба корня через lookup (обычно os.LookupEnv).
// Пустые значения не считаются ошибкой здесь: проверку делает оркестратор
// до запуска первой стадии.
func ToolchainFromEnv(lookup func(string) (string, bool)) Toolchain {
	get := func(key string) string {
		v, _ := lookup(key)
		return strings.TrimSpace(v)
	}
	return Toolchain{
		TracerHome: get(EnvTracerHome),
		LLVMHome:   get(EnvLLVMHome),
	}
}

// Tools — имена внешних программ. Ищутся в PATH, если не заданы абсолютным путём.
type Tools struct {
	Clang    string `yaml:"clang"`
	Opt      string `yaml:"opt"`
	LLVMLink string `yaml:"llvm_link"`
	LLC      string `yaml:"llc"`
	CC       string `yaml:"cc"`
}

// Config — итоговая конфигурация.
type Config struct {
	// Workloads — закрытая таблица идентификатор → имя workload.
	Workloads domain.WorkloadTable

	// Tools — имена инструментов.
	Tools Tools

	// ClangVersion — версия в пути $LLVM_HOME/lib/clang/<version>.
	ClangVersion string

	// StageTimeout — таймаут одной стадии. 0 — без таймаута.
	StageTimeout time.Duration
}

// Default возвращает встроенную конфигурацию.
func Default() *Config {
	return &Config{
		Workloads: domain.WorkloadTable{
			"triad": "triad",
		},
		Tools: Tools{
			Clang:    "clang",
			Opt:      "opt",
			LLVMLink: "llvm-link",
			LLC:      "llc",
			CC:       "gcc",
		},
		ClangVersion: DefaultClangVersion,
		StageTimeout: DefaultStageTimeout,
	}
}

// Load возвращает конфигурацию по умолчанию, дополненную файлом path.
// Пустой path означает «только значения по умолчанию».
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := cfg.merge(data); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

// fileConfig — форма YAML-файла. Указатели отличают «не задано» от нуля.
type fileConfig struct {
	Workloads    map[string]string `yaml:"workloads"`
	Tools        Tools             `yaml:"tools"`
	ClangVersion string            `yaml:"clang_version"`
	StageTimeout *string           `yaml:"stage_timeout"`
	ReplaceTable bool              `yaml:"replace_workloads"`
}

func (c *Config) merge(data []byte) error {
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parse yaml: %w", err)
	}

	if fc.ReplaceTable {
		c.Workloads = make(domain.WorkloadTable, len(fc.Workloads))
	}
	for id, name := range fc.Workloads {
		id = strings.TrimSpace(id)
		if id == "" || strings.ContainsAny(id, `/\`) {
			return fmt.Errorf("%w: workload id %q", ErrInvalidConfig, id)
		}
		if strings.TrimSpace(name) == "" {
			return fmt.Errorf("%w: workload %q has empty name", ErrInvalidConfig, id)
		}
		c.Workloads[id] = name
	}

	overrideString(&c.Tools.Clang, fc.Tools.Clang)
	overrideString(&c.Tools.Opt, fc.Tools.Opt)
	overrideString(&c.Tools.LLVMLink, fc.Tools.LLVMLink)
	overrideString(&c.Tools.LLC, fc.Tools.LLC)
	overrideString(&c.Tools.CC, fc.Tools.CC)
	overrideString(&c.ClangVersion, fc.ClangVersion)

	if fc.StageTimeout != nil {
		d, err := time.ParseDuration(*fc.StageTimeout)
		if err != nil || d < 0 {
			return fmt.Errorf("%w: stage_timeout %q", ErrInvalidConfig, *fc.StageTimeout)
		}
		c.StageTimeout = d
	}

	if len(c.Workloads) == 0 {
		return fmt.Errorf("%w: workload table is empty", ErrInvalidConfig)
	}
	return nil
}

func overrideString(dst *string, v string) {
	if v = strings.TrimSpace(v); v != "" {
		*dst = v
	}
}
