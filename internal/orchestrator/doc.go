// Package orchestrator управляет выполнением pipeline инструментирования.
//
// Orchestrator отвечает за:
//   - Проверку TRACER_HOME, LLVM_HOME и идентификатора workload до запуска стадий
//   - Построение шести вызовов внешних инструментов из PipelineContext
//   - Последовательное выполнение вызовов с остановкой на первой ошибке
//   - Перевод результата в код завершения (ExitCode)
//   - Финализацию run и отправку его в историю, очередь и архив
//
// Рабочая директория передаётся каждому вызову явно: процесс оркестратора
// не делает chdir и не меняет своё окружение.
package orchestrator
