package mq

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Exchange — тип для имени обменника.
type Exchange string

// Queue — тип для имени очереди.
type Queue string

// RoutingKey — тип для ключа маршрутизации.
type RoutingKey string

// ExchangeRuns — topic-обменник событий runs.
const ExchangeRuns Exchange = "tracepipe.runs"

// Queues — имена очередей.
const (
	QueueStages   Queue = "tracepipe.stages"
	QueueFinished Queue = "tracepipe.finished"
)

// Routing keys.
const (
	RoutingKeyStageCompleted RoutingKey = "stage.completed"
	RoutingKeyRunFinished    RoutingKey = "run.finished"
)

// SetupTopology объявляет обменник, очереди и привязки. Операция идемпотентна.
func SetupTopology(ctx context.Context, conn *Connection) error {
	return conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		err := ch.ExchangeDeclare(
			string(ExchangeRuns), // name
			"topic",              // type
			true,                 // durable
			false,                // auto-deleted
			false,                // internal
			false,                // no-wait
			nil,                  // arguments
		)
		if err != nil {
			return fmt.Errorf("declare exchange %s: %w", ExchangeRuns, err)
		}

		for _, b := range bindings() {
			if _, err := ch.QueueDeclare(
				string(b.queue), // name
				true,            // durable
				false,           // delete when unused
				false,           // exclusive
				false,           // no-wait
				nil,             // arguments
			); err != nil {
				return fmt.Errorf("declare queue %s: %w", b.queue, err)
			}

			if err := ch.QueueBind(
				string(b.queue),
				string(b.routingKey),
				string(ExchangeRuns),
				false,
				nil,
			); err != nil {
				return fmt.Errorf("bind queue %s to %s: %w", b.queue, ExchangeRuns, err)
			}
		}

		return nil
	})
}

type binding struct {
	queue      Queue
	routingKey RoutingKey
}

func bindings() []binding {
	return []binding{
		{QueueStages, RoutingKeyStageCompleted},
		{QueueFinished, RoutingKeyRunFinished},
	}
}

// TopologyInfo возвращает описание топологии для логирования.
func TopologyInfo() string {
	return `
  tracepipe RabbitMQ topology:

    tracepipe.runs (topic)
    ├── tracepipe.stages   [routing: stage.completed]
    └── tracepipe.finished [routing: run.finished]
  `
}
