package kafka

import (
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	log "github.com/sirupsen/logrus"
)

func TestProducer_PublishEvent(t *testing.T) {
	mockProducer := mocks.NewSyncProducer(t, nil)

	producer := &Producer{
		producer: mockProducer,
		logger:   log.WithField("component", "kafka-producer-test"),
	}

	mockProducer.ExpectSendMessageAndSucceed()

	envelope, err := NewEnvelope(EventTypeBookingCreated, "bk-1", BookingEvent{
		BookingID:  "bk-1",
		CampaignID: "camp-1",
		CustomerID: "cust-1",
		TicketType: "GA",
		Quantity:   2,
		Status:     "pending",
	})
	if err != nil {
		t.Fatalf("NewEnvelope failed: %v", err)
	}

	if err := producer.PublishEnvelope(envelope, "bk-1"); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if err := mockProducer.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestProducer_PublishEvent_Error(t *testing.T) {
	mockProducer := mocks.NewSyncProducer(t, nil)

	producer := &Producer{
		producer: mockProducer,
		logger:   log.WithField("component", "kafka-producer-test"),
	}

	mockProducer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	envelope, err := NewEnvelope(EventTypeBookingCreated, "bk-1", nil)
	if err != nil {
		t.Fatalf("NewEnvelope failed: %v", err)
	}

	if err := producer.PublishEnvelope(envelope, "bk-1"); err == nil {
		t.Fatal("expected error, got nil")
	}

	if err := mockProducer.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestProducer_PublishMessageHeaders(t *testing.T) {
	mockProducer := mocks.NewSyncProducer(t, nil)

	producer := &Producer{
		producer: mockProducer,
		logger:   log.WithField("component", "kafka-producer-test"),
	}

	mockProducer.ExpectSendMessageAndSucceed()

	headers := []sarama.RecordHeader{
		{Key: []byte(HeaderRetryCount), Value: []byte("1")},
	}
	if err := producer.PublishMessage(TopicPayments, []byte("bk-1"), []byte("{}"), headers); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if err := mockProducer.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestNewEnvelope(t *testing.T) {
	envelope, err := NewEnvelope(EventTypePaymentSucceeded, "bk-1", PaymentResultEvent{
		BookingID: "bk-1",
		PaymentID: "pay-1",
		Succeeded: true,
	})
	if err != nil {
		t.Fatalf("NewEnvelope failed: %v", err)
	}

	if envelope.ID == "" {
		t.Error("envelope id should be generated")
	}
	if envelope.EventType != EventTypePaymentSucceeded {
		t.Errorf("expected event type %s, got %s", EventTypePaymentSucceeded, envelope.EventType)
	}
	if envelope.CorrelationID != "bk-1" {
		t.Errorf("expected correlation id bk-1, got %s", envelope.CorrelationID)
	}
	if envelope.OccurredAt.IsZero() {
		t.Error("occurred_at should not be zero")
	}
	if time.Since(envelope.OccurredAt) > time.Second {
		t.Error("occurred_at should be close to current time")
	}

	result, err := DecodePaymentResult(envelope)
	if err != nil {
		t.Fatalf("DecodePaymentResult failed: %v", err)
	}
	if result.PaymentID != "pay-1" || !result.Succeeded {
		t.Errorf("unexpected decoded payload: %+v", result)
	}
}
