// Package telemetry обеспечивает наблюдаемость tracepipe.
//
// Включает:
//   - logging.go — structured logging через slog
//   - metrics.go — Prometheus метрики стадий и runs, push в Pushgateway
//
// Логи пишутся в stderr: stdout принадлежит инструментированному бинарнику.
package telemetry
