package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/shaiso/tracepipe/internal/domain"
)

// defaultOutputLimit — сколько байт хвоста вывода сохраняется для сообщения об ошибке.
const defaultOutputLimit = 8 << 10

// ProcessExecutor запускает команды вызова как дочерние процессы.
//
// Каждая команда получает рабочую директорию inv.Dir и окружение
// BaseEnv + inv.Env. Родительский процесс не меняет ни cwd, ни своё окружение.
// Команды одного вызова выполняются последовательно, первая ошибка прерывает вызов.
type ProcessExecutor struct {
	// Stdout и Stderr получают вывод дочерних процессов (nil — отбрасывается).
	Stdout io.Writer
	Stderr io.Writer

	// BaseEnv — базовое окружение. nil — os.Environ().
	BaseEnv []string

	// OutputLimit — размер хвоста вывода в ExecutionResult.Output (default: 8 KiB).
	OutputLimit int

	// Logger — логгер (nil — slog.Default()).
	Logger *slog.Logger
}

// NewProcessExecutor создаёт исполнитель, пишущий вывод процессов в stdout/stderr.
func NewProcessExecutor(stdout, stderr io.Writer, logger *slog.Logger) *ProcessExecutor {
	return &ProcessExecutor{
		Stdout: stdout,
		Stderr: stderr,
		Logger: logger,
	}
}

// Execute выполняет команды вызова.
func (e *ProcessExecutor) Execute(ctx context.Context, inv *domain.Invocation) (*ExecutionResult, error) {
	if len(inv.Commands) == 0 {
		return nil, fmt.Errorf("%w: stage %s", ErrEmptyInvocation, inv.Stage)
	}

	limit := e.OutputLimit
	if limit <= 0 {
		limit = defaultOutputLimit
	}
	tail := &tailBuffer{limit: limit}
	env := MergeEnv(e.baseEnv(), inv.Env)
	start := time.Now()

	result := &ExecutionResult{}
	for _, c := range inv.Commands {
		result.Command = c.String()
		e.logger().Debug("exec", "stage", int(inv.Stage), "dir", inv.Dir, "command", result.Command)

		cmd := exec.CommandContext(ctx, c.Path, c.Args...)
		cmd.Dir = inv.Dir
		cmd.Env = env
		cmd.Stdout = io.MultiWriter(writerOrDiscard(e.Stdout), tail)
		cmd.Stderr = io.MultiWriter(writerOrDiscard(e.Stderr), tail)
		// После kill по таймауту не ждём бесконечно, если внук держит pipe.
		cmd.WaitDelay = 5 * time.Second

		err := cmd.Run()
		result.Duration = time.Since(start)
		result.Output = tail.String()

		if err == nil {
			continue
		}

		// Таймаут проверяем первым: убитый процесс выглядит как ExitError.
		if ctxErr := ctx.Err(); ctxErr != nil {
			if errors.Is(ctxErr, context.DeadlineExceeded) {
				return result, fmt.Errorf("%w: %s after %s", ErrExecutionTimeout, c.Path, result.Duration.Round(time.Millisecond))
			}
			return result, fmt.Errorf("%s: %w", c.Path, ctxErr)
		}

		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			// -1, если процесс убит сигналом.
			result.ExitCode = exitErr.ExitCode()
			return result, nil
		}

		return result, fmt.Errorf("%w: %s: %v", ErrStartFailed, c.Path, err)
	}

	return result, nil
}

func (e *ProcessExecutor) baseEnv() []string {
	if e.BaseEnv != nil {
		return e.BaseEnv
	}
	return os.Environ()
}

func (e *ProcessExecutor) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

// MergeEnv возвращает base, в котором переменные из overrides заменены или добавлены.
// Порядок base сохраняется, новые переменные добавляются в конец в порядке сортировки ключей.
func MergeEnv(base []string, overrides map[string]string) []string {
	merged := make([]string, 0, len(base)+len(overrides))
	seen := make(map[string]bool, len(overrides))

	for _, kv := range base {
		key, _, _ := strings.Cut(kv, "=")
		if v, ok := overrides[key]; ok {
			if !seen[key] {
				merged = append(merged, key+"="+v)
				seen[key] = true
			}
			continue
		}
		merged = append(merged, kv)
	}

	inv := domain.Invocation{Env: overrides}
	for _, kv := range inv.EnvList() {
		key, _, _ := strings.Cut(kv, "=")
		if !seen[key] {
			merged = append(merged, kv)
		}
	}
	return merged
}

func writerOrDiscard(w io.Writer) io.Writer {
	if w == nil {
		return io.Discard
	}
	return w
}

// tailBuffer хранит последние limit байт записанного.
// stdout и stderr процесса копируются в него из разных горутин.
type tailBuffer struct {
	mu    sync.Mutex
	limit int
	buf   []byte
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.buf = append(b.buf, p...)
	if over := len(b.buf) - b.limit; over > 0 {
		b.buf = append(b.buf[:0:0], b.buf[over:]...)
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}
