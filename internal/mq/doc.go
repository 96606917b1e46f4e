// Package mq публикует события pipeline в RabbitMQ.
//
// Структура:
//   - connection.go — соединение и канал
//   - topology.go   — объявление exchange, queues, bindings
//   - publisher.go  — публикация событий
//
// Типы сообщений:
//   - stage.completed — стадия завершилась (успешно или нет)
//   - run.finished    — run завершён, payload содержит итоговый статус
//
// Потребители (анализ трасс, дашборды) живут вне tracepipe.
package mq
