// Package cli реализует команды tracepipe.
//
// # Команды
//
//   - run DIR WORKLOAD      — выполнить pipeline
//   - plan DIR WORKLOAD     — показать шесть вызовов без запуска
//   - workloads             — таблица workloads
//   - history list|show     — история runs из Postgres (нужен DB_URL)
//
// Каждая команда создаётся фабрикой (NewRunCmd и т.д.), принимающей
// appFn и outputFn — замыкания, которые создают App и Output после
// парсинга PersistentFlags.
//
// # Output
//
// Данные выводятся в stdout таблицей (text/tabwriter) или JSON (--json),
// сообщения — в stderr. Это позволяет использовать pipe:
//
//	tracepipe plan . triad --json | jq '.[0].commands'
package cli
