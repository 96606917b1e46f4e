package cli

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shaiso/tracepipe/internal/archive"
	"github.com/shaiso/tracepipe/internal/config"
	"github.com/shaiso/tracepipe/internal/mq"
	"github.com/shaiso/tracepipe/internal/orchestrator"
	"github.com/shaiso/tracepipe/internal/repo"
	"github.com/shaiso/tracepipe/internal/telemetry"
	"github.com/shaiso/tracepipe/internal/worker"
)

// Переменные окружения внешних сервисов.
const (
	EnvDBURL          = "DB_URL"
	EnvRabbitMQURL    = "RABBITMQ_URL"
	EnvPushgatewayURL = "PUSHGATEWAY_URL"
)

// App — зависимости команд: окружение, потоки вывода, логгер.
//
// Поля заполняются в main; тесты подставляют свои Lookup, Stdout и Executor.
type App struct {
	// ConfigPath — путь к YAML-файлу (--config). Пустой — TRACEPIPE_CONFIG или значения по умолчанию.
	ConfigPath string

	// Lookup читает переменные окружения (os.LookupEnv).
	Lookup func(string) (string, bool)

	// Stdout и Stderr получают вывод инструментов и инструментированного бинарника.
	// В режиме --json run перенаправляет Stdout в Stderr.
	Stdout io.Writer
	Stderr io.Writer

	// Executor — исполнитель стадий. nil — ProcessExecutor.
	Executor worker.Executor

	Logger *slog.Logger
}

// NewApp создаёт App для реального процесса.
func NewApp(configPath string, logger *slog.Logger) *App {
	return &App{
		ConfigPath: configPath,
		Lookup:     os.LookupEnv,
		Stdout:     os.Stdout,
		Stderr:     os.Stderr,
		Logger:     logger,
	}
}

func (a *App) env(key string) string {
	if a.Lookup == nil {
		return ""
	}
	v, _ := a.Lookup(key)
	return strings.TrimSpace(v)
}

func (a *App) logger() *slog.Logger {
	if a.Logger == nil {
		return telemetry.Discard()
	}
	return a.Logger
}

// LoadConfig загружает конфигурацию. Ошибка файла — ConfigurationError (код 2).
func (a *App) LoadConfig() (*config.Config, error) {
	path := a.ConfigPath
	if path == "" {
		path = a.env(config.EnvConfigPath)
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, &orchestrator.ConfigurationError{Path: path, Message: err.Error()}
	}
	return cfg, nil
}

// Toolchain читает TRACER_HOME и LLVM_HOME.
func (a *App) Toolchain() config.Toolchain {
	return config.ToolchainFromEnv(a.Lookup)
}

// Services — опциональные получатели результатов run.
type Services struct {
	History  orchestrator.RunRecorder
	Events   orchestrator.EventPublisher
	Archiver orchestrator.Archiver
	Metrics  *telemetry.Metrics

	pushURL string
	closers []func()
}

// Connect подключает сервисы, для которых заданы переменные окружения.
//
// Недоступный сервис не мешает run: ошибка логируется, сервис отключается.
func (a *App) Connect(ctx context.Context) *Services {
	logger := a.logger()
	s := &Services{
		Metrics: telemetry.NewMetrics(),
		pushURL: a.env(EnvPushgatewayURL),
	}

	if dsn := a.env(EnvDBURL); dsn != "" {
		if pool, err := openHistory(ctx, dsn); err != nil {
			logger.Warn("run history disabled", "error", err)
		} else {
			s.History = repo.NewRunRepo(pool)
			s.closers = append(s.closers, pool.Close)
		}
	}

	if url := a.env(EnvRabbitMQURL); url != "" {
		if conn, err := openEvents(ctx, url, logger); err != nil {
			logger.Warn("run events disabled", "error", err)
		} else {
			s.Events = mq.NewPublisher(conn, logger)
			s.closers = append(s.closers, func() { _ = conn.Close() })
		}
	}

	if cfg, enabled, err := archive.ConfigFromEnv(a.Lookup); err != nil {
		logger.Warn("trace archive disabled", "error", err)
	} else if enabled {
		if arch, err := archive.New(ctx, cfg, logger); err != nil {
			logger.Warn("trace archive disabled", "error", err)
		} else {
			s.Archiver = arch
		}
	}

	return s
}

func openHistory(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := repo.NewPool(ctx, dsn)
	if err != nil {
		return nil, err
	}
	if err := repo.EnsureSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

func openEvents(ctx context.Context, url string, logger *slog.Logger) (*mq.Connection, error) {
	conn, err := mq.NewConnection(url, logger)
	if err != nil {
		return nil, err
	}
	if err := mq.SetupTopology(ctx, conn); err != nil {
		_ = conn.Close()
		return nil, err
	}
	logger.Debug("rabbitmq topology ready", "topology", mq.TopologyInfo())
	return conn, nil
}

// PushMetrics отправляет метрики run в Pushgateway, если он настроен.
func (s *Services) PushMetrics(ctx context.Context, workloadID string, logger *slog.Logger) {
	if s.pushURL == "" {
		return
	}
	if err := s.Metrics.Push(ctx, s.pushURL, workloadID); err != nil {
		logger.Warn("failed to push metrics", "error", err)
	}
}

// Close закрывает соединения сервисов.
func (s *Services) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

// NewOrchestrator собирает Orchestrator из конфигурации и сервисов.
func (a *App) NewOrchestrator(cfg *config.Config, opts orchestrator.Options, svc *Services) *orchestrator.Orchestrator {
	exec := a.Executor
	if exec == nil {
		exec = worker.NewProcessExecutor(a.Stdout, a.Stderr, a.logger())
	}

	ocfg := orchestrator.Config{
		Toolchain:    a.Toolchain(),
		Workloads:    cfg.Workloads,
		Options:      opts,
		StageTimeout: cfg.StageTimeout,
		Executor:     exec,
		Logger:       a.logger(),
	}
	if svc != nil {
		ocfg.History = svc.History
		ocfg.Events = svc.Events
		ocfg.Archiver = svc.Archiver
		ocfg.Metrics = svc.Metrics
	}
	return orchestrator.New(ocfg)
}
