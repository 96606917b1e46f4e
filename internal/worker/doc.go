// Package worker выполняет вызовы стадий pipeline.
//
// # Executor
//
// Интерфейс для выполнения одного вызова стадии:
//
//	type Executor interface {
//	    Execute(ctx context.Context, inv *domain.Invocation) (*ExecutionResult, error)
//	}
//
// ProcessExecutor запускает команды вызова через os/exec с явной рабочей
// директорией и явным окружением. Оркестратор работает только с интерфейсом,
// поэтому в тестах его подменяют шпионом.
//
// # Ошибки
//
// Пакет различает два уровня ошибок:
//   - Инфраструктурные (error от Execute) — программа не найдена, нет прав, таймаут
//   - Логические (ExecutionResult.ExitCode != 0) — инструмент отработал и сообщил об ошибке
//
// Оба уровня фатальны для run, retry не выполняется.
package worker
