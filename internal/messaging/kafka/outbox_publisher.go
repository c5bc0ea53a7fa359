package kafka

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"

	"github.com/tickethub/tms/internal/domain"
)

// OutboxTopicPublisher публикует outbox-сообщения в Kafka, выбирая topic
// по типу события.
type OutboxTopicPublisher struct {
	producer *Producer
}

// NewOutboxPublisher создаёт Kafka-паблишер для transactional outbox.
func NewOutboxPublisher(producer *Producer) domain.OutboxPublisher {
	return &OutboxTopicPublisher{producer: producer}
}

func (p *OutboxTopicPublisher) Publish(event domain.OutboxMessage) error {
	if p == nil || p.producer == nil {
		return fmt.Errorf("kafka outbox publisher is not initialized")
	}

	key := event.AggregateID
	if key == "" {
		key = event.ID
	}

	envelope := Envelope{
		ID:            event.ID,
		EventType:     EventType(event.EventType),
		CorrelationID: event.AggregateID,
		OccurredAt:    time.Now().UTC(),
		Payload:       json.RawMessage(event.Payload),
	}

	return p.producer.PublishEvent(TopicFor(envelope.EventType), key, envelope)
}

var _ domain.OutboxPublisher = (*OutboxTopicPublisher)(nil)

// DLQPublisher отправляет недоставленные outbox-сообщения в tms.dlq.
// Оригинальный topic сохраняется в header, чтобы reprocess-утилита могла
// вернуть сообщение на место.
type DLQPublisher struct {
	producer *Producer
}

// NewDLQPublisher создаёт паблишер для Dead Letter Queue.
func NewDLQPublisher(producer *Producer) domain.OutboxPublisher {
	return &DLQPublisher{producer: producer}
}

func (p *DLQPublisher) Publish(event domain.OutboxMessage) error {
	if p == nil || p.producer == nil {
		return fmt.Errorf("kafka dlq publisher is not initialized")
	}

	key := event.AggregateID
	if key == "" {
		key = event.ID
	}

	headers := []sarama.RecordHeader{
		{
			Key:   []byte(HeaderOriginalTopic),
			Value: []byte(TopicFor(EventType(event.EventType))),
		},
	}

	return p.producer.PublishMessage(TopicDeadLetterQueue, []byte(key), event.Payload, headers)
}

var _ domain.OutboxPublisher = (*DLQPublisher)(nil)
