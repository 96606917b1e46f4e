package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/shaiso/tracepipe/internal/domain"
)

// MessageType — тип сообщения в очереди.
type MessageType string

// Типы сообщений.
const (
	MessageTypeStageCompleted MessageType = "stage.completed"
	MessageTypeRunFinished    MessageType = "run.finished"
)

// Publisher публикует события runs в RabbitMQ.
type Publisher struct {
	conn   *Connection
	logger *slog.Logger
}

// NewPublisher создаёт новый Publisher.
func NewPublisher(conn *Connection, logger *slog.Logger) *Publisher {
	return &Publisher{
		conn:   conn,
		logger: logger,
	}
}

// Message — сообщение для публикации.
type Message struct {
	// ID — уникальный идентификатор сообщения.
	ID string `json:"id"`

	// Type — тип сообщения.
	Type MessageType `json:"type"`

	// Payload — полезная нагрузка.
	Payload any `json:"payload"`

	// Timestamp — время создания.
	Timestamp time.Time `json:"timestamp"`
}

// StageCompletedPayload — payload события о завершённой стадии.
type StageCompletedPayload struct {
	RunID      uuid.UUID `json:"run_id"`
	WorkloadID string    `json:"workload_id"`
	Stage      int       `json:"stage"`
	Name       string    `json:"name"`
	Status     string    `json:"status"` // SUCCEEDED или FAILED
	ExitCode   int       `json:"exit_code"`
	DurationMs int64     `json:"duration_ms"`
	Error      string    `json:"error,omitempty"`
}

// RunFinishedPayload — payload события о завершённом run.
type RunFinishedPayload struct {
	RunID       uuid.UUID `json:"run_id"`
	WorkloadID  string    `json:"workload_id"`
	Workload    string    `json:"workload"`
	Dir         string    `json:"dir"`
	Status      string    `json:"status"`
	State       string    `json:"state"`
	FailedStage int       `json:"failed_stage,omitempty"`
	Stages      int       `json:"stages"`
	DurationMs  int64     `json:"duration_ms"`
	Error       string    `json:"error,omitempty"`
}

// NewStageCompletedPayload собирает payload из записи о стадии.
func NewStageCompletedPayload(run *domain.Run, rec domain.StageRecord) StageCompletedPayload {
	return StageCompletedPayload{
		RunID:      run.ID,
		WorkloadID: run.WorkloadID,
		Stage:      int(rec.Stage),
		Name:       rec.Name,
		Status:     string(rec.Status),
		ExitCode:   rec.ExitCode,
		DurationMs: rec.Duration().Milliseconds(),
		Error:      rec.Error,
	}
}

// NewRunFinishedPayload собирает payload из завершённого run.
func NewRunFinishedPayload(run *domain.Run) RunFinishedPayload {
	return RunFinishedPayload{
		RunID:       run.ID,
		WorkloadID:  run.WorkloadID,
		Workload:    run.Workload,
		Dir:         run.Dir,
		Status:      string(run.Status),
		State:       run.State.String(),
		FailedStage: int(run.FailedStage),
		Stages:      len(run.Stages),
		DurationMs:  run.Duration().Milliseconds(),
		Error:       run.Error,
	}
}

// Publish публикует сообщение в указанный exchange с routing key.
func (p *Publisher) Publish(ctx context.Context, exchange Exchange, routingKey RoutingKey, msg *Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	return p.conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		err := ch.PublishWithContext(
			ctx,
			string(exchange),   // exchange
			string(routingKey), // routing key
			false,
			false,
			amqp.Publishing{
				ContentType:  "application/json",
				DeliveryMode: amqp.Persistent,
				MessageId:    msg.ID,
				Timestamp:    msg.Timestamp,
				Body:         body,
			},
		)
		if err != nil {
			return fmt.Errorf("publish to %s/%s: %w", exchange, routingKey, err)
		}

		p.logger.Debug("published message",
			"exchange", exchange,
			"routing_key", routingKey,
			"message_id", msg.ID,
			"type", msg.Type,
		)

		return nil
	})
}

// PublishStageCompleted публикует событие о завершённой стадии.
func (p *Publisher) PublishStageCompleted(ctx context.Context, run *domain.Run, rec domain.StageRecord) error {
	msg := newMessage(MessageTypeStageCompleted, NewStageCompletedPayload(run, rec))
	return p.Publish(ctx, ExchangeRuns, RoutingKeyStageCompleted, msg)
}

// PublishRunFinished публикует событие о завершённом run.
func (p *Publisher) PublishRunFinished(ctx context.Context, run *domain.Run) error {
	msg := newMessage(MessageTypeRunFinished, NewRunFinishedPayload(run))
	return p.Publish(ctx, ExchangeRuns, RoutingKeyRunFinished, msg)
}

func newMessage(msgType MessageType, payload any) *Message {
	return &Message{
		ID:        uuid.New().String(),
		Type:      msgType,
		Payload:   payload,
		Timestamp: time.Now(),
	}
}
