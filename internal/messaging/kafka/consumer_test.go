package kafka

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"
)

type mockConsumerGroup struct {
	consumeFn func(context.Context, []string, sarama.ConsumerGroupHandler) error
	errorsCh  chan error
	closeFn   func() error
}

func (m *mockConsumerGroup) Consume(ctx context.Context, topics []string, handler sarama.ConsumerGroupHandler) error {
	if m.consumeFn != nil {
		return m.consumeFn(ctx, topics, handler)
	}
	return nil
}

func (m *mockConsumerGroup) Errors() <-chan error {
	return m.errorsCh
}

func (m *mockConsumerGroup) Close() error {
	if m.closeFn != nil {
		return m.closeFn()
	}
	if m.errorsCh != nil {
		close(m.errorsCh)
	}
	return nil
}

func (m *mockConsumerGroup) Pause(map[string][]int32)  {}
func (m *mockConsumerGroup) Resume(map[string][]int32) {}
func (m *mockConsumerGroup) PauseAll()                 {}
func (m *mockConsumerGroup) ResumeAll()                {}

type mockSession struct {
	ctx    context.Context
	marked []*sarama.ConsumerMessage
}

func (m *mockSession) Claims() map[string][]int32               { return nil }
func (m *mockSession) MemberID() string                         { return "member" }
func (m *mockSession) GenerationID() int32                      { return 1 }
func (m *mockSession) MarkOffset(string, int32, int64, string)  {}
func (m *mockSession) Commit()                                  {}
func (m *mockSession) ResetOffset(string, int32, int64, string) {}
func (m *mockSession) Context() context.Context                 { return m.ctx }
func (m *mockSession) MarkMessage(msg *sarama.ConsumerMessage, _ string) {
	m.marked = append(m.marked, msg)
}

type mockClaim struct {
	topic     string
	partition int32
	messages  chan *sarama.ConsumerMessage
}

func (m *mockClaim) Topic() string                            { return m.topic }
func (m *mockClaim) Partition() int32                         { return m.partition }
func (m *mockClaim) InitialOffset() int64                     { return 0 }
func (m *mockClaim) HighWaterMarkOffset() int64               { return 0 }
func (m *mockClaim) Messages() <-chan *sarama.ConsumerMessage { return m.messages }

type publishedMessage struct {
	topic   string
	key     []byte
	value   []byte
	headers []sarama.RecordHeader
}

type fakePublisher struct {
	mu        sync.Mutex
	published []publishedMessage
	err       error
}

func (f *fakePublisher) PublishMessage(topic string, key, value []byte, headers []sarama.RecordHeader) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.published = append(f.published, publishedMessage{topic: topic, key: key, value: value, headers: headers})
	return nil
}

// consumerMessageFrom превращает переотправленное сообщение обратно
// в ConsumerMessage, имитируя redelivery брокером.
func consumerMessageFrom(p publishedMessage) *sarama.ConsumerMessage {
	headers := make([]*sarama.RecordHeader, len(p.headers))
	for i := range p.headers {
		h := p.headers[i]
		headers[i] = &h
	}
	return &sarama.ConsumerMessage{Topic: p.topic, Key: p.key, Value: p.value, Headers: headers}
}

func headerValue(headers []sarama.RecordHeader, key string) string {
	for _, h := range headers {
		if string(h.Key) == key {
			return string(h.Value)
		}
	}
	return ""
}

func TestNewConsumerErrors(t *testing.T) {
	handler := func(context.Context, *sarama.ConsumerMessage) error { return nil }
	if _, err := NewConsumer([]string{"invalid-broker:9092"}, "group", []string{"topic"}, handler, nil); err == nil {
		t.Fatal("expected new consumer error")
	}
	if _, err := NewConsumerWithRetry([]string{"invalid-broker:9092"}, "group", []string{"topic"}, handler, nil, 3, time.Second); err == nil {
		t.Fatal("expected new consumer with retry error")
	}
}

func TestConsumerStartStop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	consumeCalls := 0
	errorsCh := make(chan error, 1)
	group := &mockConsumerGroup{
		errorsCh: errorsCh,
		consumeFn: func(_ context.Context, _ []string, _ sarama.ConsumerGroupHandler) error {
			consumeCalls++
			cancel()
			return nil
		},
		closeFn: func() error {
			close(errorsCh)
			return nil
		},
	}

	consumer := &Consumer{
		consumer:   group,
		topics:     []string{"topic-a"},
		handler:    func(context.Context, *sarama.ConsumerMessage) error { return nil },
		logger:     log.WithField("test", "consumer"),
		maxRetries: 2,
	}

	errorsCh <- errors.New("background error")
	if err := consumer.Start(ctx); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if err := consumer.Stop(); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	if consumeCalls == 0 {
		t.Fatal("expected consume call")
	}
}

func TestConsumerStopError(t *testing.T) {
	errorsCh := make(chan error)
	group := &mockConsumerGroup{errorsCh: errorsCh, closeFn: func() error {
		close(errorsCh)
		return errors.New("close failed")
	}}
	consumer := &Consumer{consumer: group, logger: log.WithField("test", "stop")}
	if err := consumer.Stop(); err == nil {
		t.Fatal("expected stop error")
	}
}

func TestConsumeClaim(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	consumer := &Consumer{
		handler: func(context.Context, *sarama.ConsumerMessage) error { return nil },
		logger:  log.WithField("test", "claim"),
	}

	session := &mockSession{ctx: ctx}
	claim := &mockClaim{topic: "topic", partition: 0, messages: make(chan *sarama.ConsumerMessage, 2)}
	claim.messages <- &sarama.ConsumerMessage{Topic: "topic", Partition: 0, Offset: 1, Key: []byte("k"), Value: []byte("v")}
	close(claim.messages)

	if err := consumer.ConsumeClaim(session, claim); err != nil {
		t.Fatalf("ConsumeClaim failed: %v", err)
	}
	if len(session.marked) != 1 {
		t.Fatalf("expected one marked message, got %d", len(session.marked))
	}
}

func TestConsumeClaimFailedWithoutPublisher(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	consumer := &Consumer{
		handler:    func(context.Context, *sarama.ConsumerMessage) error { return errors.New("failed") },
		logger:     log.WithField("test", "claim-fail"),
		maxRetries: 1,
	}

	session := &mockSession{ctx: ctx}
	claim := &mockClaim{topic: "topic", partition: 0, messages: make(chan *sarama.ConsumerMessage, 1)}
	claim.messages <- &sarama.ConsumerMessage{Topic: "topic", Partition: 0, Offset: 1, Key: []byte("k"), Value: []byte("v")}
	close(claim.messages)

	if err := consumer.ConsumeClaim(session, claim); err != nil {
		t.Fatalf("ConsumeClaim failed: %v", err)
	}
	if len(session.marked) != 0 {
		t.Fatalf("failed message should not be marked, got %d", len(session.marked))
	}
}

func TestHandleMessageRequeuesWithBackoff(t *testing.T) {
	publisher := &fakePublisher{}
	consumer := &Consumer{
		handler:    func(context.Context, *sarama.ConsumerMessage) error { return errors.New("temporary") },
		logger:     log.WithField("test", "requeue"),
		publisher:  publisher,
		maxRetries: 3,
		retryBase:  time.Millisecond,
	}

	msg := &sarama.ConsumerMessage{Topic: TopicPayments, Key: []byte("bk-1"), Value: []byte(`{"a":1}`)}

	started := time.Now()
	if err := consumer.handleMessageWithRetry(context.Background(), msg); err != nil {
		t.Fatalf("requeue step must mark the original: %v", err)
	}
	if elapsed := time.Since(started); elapsed < time.Millisecond {
		t.Fatalf("expected backoff of at least 1ms, elapsed %v", elapsed)
	}

	if len(publisher.published) != 1 {
		t.Fatalf("expected one requeued message, got %d", len(publisher.published))
	}
	requeued := publisher.published[0]
	if requeued.topic != TopicPayments {
		t.Fatalf("requeue must target the original topic, got %s", requeued.topic)
	}
	if string(requeued.value) != `{"a":1}` {
		t.Fatalf("requeue must preserve the payload, got %s", requeued.value)
	}
	if got := headerValue(requeued.headers, HeaderRetryCount); got != "1" {
		t.Fatalf("expected retry count 1, got %q", got)
	}
	if got := headerValue(requeued.headers, HeaderOriginalTopic); got != TopicPayments {
		t.Fatalf("expected original topic header, got %q", got)
	}
	if got := headerValue(requeued.headers, HeaderErrorMessage); got != "temporary" {
		t.Fatalf("expected error header, got %q", got)
	}
}

// Прогоняет сообщение через всю retry-машину: ровно 3 переотправки
// с растущей задержкой, затем DLQ, и ни одной лишней доставки.
func TestRetryStateMachineEndsInDLQ(t *testing.T) {
	publisher := &fakePublisher{}
	consumer := &Consumer{
		handler:    func(context.Context, *sarama.ConsumerMessage) error { return errors.New("permanent") },
		logger:     log.WithField("test", "state-machine"),
		publisher:  publisher,
		maxRetries: 3,
		retryBase:  time.Millisecond,
	}

	msg := &sarama.ConsumerMessage{Topic: TopicPayments, Key: []byte("bk-1"), Value: []byte(`{"booking_id":"bk-1"}`)}

	deliveries := 0
	var delays []time.Duration
	for {
		before := len(publisher.published)
		started := time.Now()
		if err := consumer.handleMessageWithRetry(context.Background(), msg); err != nil {
			t.Fatalf("delivery %d: %v", deliveries, err)
		}
		delays = append(delays, time.Since(started))
		deliveries++

		if len(publisher.published) != before+1 {
			t.Fatalf("delivery %d: expected exactly one publish, got %d", deliveries, len(publisher.published)-before)
		}
		last := publisher.published[len(publisher.published)-1]
		if last.topic == TopicDeadLetterQueue {
			break
		}
		if deliveries > 10 {
			t.Fatal("state machine did not terminate")
		}
		msg = consumerMessageFrom(last)
	}

	// Исходная доставка плюс три redelivery, четвёртая попытка уходит в DLQ.
	if deliveries != 4 {
		t.Fatalf("expected 4 deliveries (1 original + 3 retries), got %d", deliveries)
	}

	for i, p := range publisher.published[:3] {
		if p.topic != TopicPayments {
			t.Errorf("retry %d republished to %s", i, p.topic)
		}
		if got := headerValue(p.headers, HeaderRetryCount); got != strconv.Itoa(i+1) {
			t.Errorf("retry %d: expected count %d, got %q", i, i+1, got)
		}
	}

	// Backoff удваивается: 1ms, 2ms, 4ms минимум.
	for i, want := range []time.Duration{time.Millisecond, 2 * time.Millisecond, 4 * time.Millisecond} {
		if delays[i] < want {
			t.Errorf("retry %d: delay %v below expected %v", i, delays[i], want)
		}
	}

	dlq := publisher.published[3]
	if got := headerValue(dlq.headers, HeaderOriginalTopic); got != TopicPayments {
		t.Fatalf("DLQ message must carry the original topic, got %q", got)
	}
	if got := headerValue(dlq.headers, HeaderErrorMessage); got != "permanent" {
		t.Fatalf("DLQ message must carry the error, got %q", got)
	}
}

func TestHandleMessageDLQPublishFailure(t *testing.T) {
	publisher := &fakePublisher{err: sarama.ErrOutOfBrokers}
	consumer := &Consumer{
		handler:    func(context.Context, *sarama.ConsumerMessage) error { return errors.New("permanent") },
		logger:     log.WithField("test", "dlq-fail"),
		publisher:  publisher,
		maxRetries: 3,
	}

	msg := &sarama.ConsumerMessage{
		Topic:   TopicPayments,
		Key:     []byte("bk-1"),
		Value:   []byte("{}"),
		Headers: []*sarama.RecordHeader{{Key: []byte(HeaderRetryCount), Value: []byte("3")}},
	}
	if err := consumer.handleMessageWithRetry(context.Background(), msg); err == nil {
		t.Fatal("expected dlq publish failure to surface")
	}
}

func TestHandleMessageWithoutPublisher(t *testing.T) {
	consumer := &Consumer{
		handler:    func(context.Context, *sarama.ConsumerMessage) error { return errors.New("failed") },
		logger:     log.WithField("test", "no-publisher"),
		maxRetries: 3,
	}
	msg := &sarama.ConsumerMessage{Topic: TopicPayments, Value: []byte("{}")}
	if err := consumer.handleMessageWithRetry(context.Background(), msg); err == nil {
		t.Fatal("expected handler error without publisher")
	}
}

func TestGetRetryCountAndParsers(t *testing.T) {
	consumer := &Consumer{}

	msg := &sarama.ConsumerMessage{Headers: []*sarama.RecordHeader{{Key: []byte(HeaderRetryCount), Value: []byte("5")}}}
	if got := consumer.getRetryCount(msg); got != 5 {
		t.Fatalf("unexpected retry count: %d", got)
	}

	msgInvalid := &sarama.ConsumerMessage{Headers: []*sarama.RecordHeader{{Key: []byte(HeaderRetryCount), Value: []byte("bad")}}}
	if got := consumer.getRetryCount(msgInvalid); got != 0 {
		t.Fatalf("invalid retry count should fallback to 0, got %d", got)
	}

	envelopeMsg := &sarama.ConsumerMessage{Value: []byte(`{"event_type":"payment.succeeded","id":"ev-1","payload":{"booking_id":"bk-1","payment_id":"pay-1","succeeded":true}}`)}
	envelope, err := ParseEnvelope(envelopeMsg)
	if err != nil {
		t.Fatalf("ParseEnvelope failed: %v", err)
	}
	if envelope.EventType != EventTypePaymentSucceeded {
		t.Fatalf("unexpected event type: %s", envelope.EventType)
	}
	result, err := DecodePaymentResult(envelope)
	if err != nil {
		t.Fatalf("DecodePaymentResult failed: %v", err)
	}
	if result.BookingID != "bk-1" || !result.Succeeded {
		t.Fatalf("unexpected payment result: %+v", result)
	}

	if _, err := ParseEnvelope(&sarama.ConsumerMessage{Value: []byte("{")}); err == nil {
		t.Fatal("expected ParseEnvelope error")
	}
}

func TestTopicFor(t *testing.T) {
	cases := []struct {
		eventType EventType
		topic     string
	}{
		{EventTypePaymentRequested, TopicPayments},
		{EventTypePaymentFailed, TopicPayments},
		{EventTypeBookingCreated, TopicBookings},
		{EventTypeTicketPDFRequested, TopicDelivery},
		{EventTypeEmailSendRequested, TopicDelivery},
		{EventTypeWaitlistNotify, TopicWaitlist},
		{EventTypeWithdrawalRequested, TopicPayouts},
		{EventTypeRefundIssued, TopicPayouts},
		{EventType("unknown"), TopicBookings},
	}
	for _, tc := range cases {
		if got := TopicFor(tc.eventType); got != tc.topic {
			t.Errorf("TopicFor(%s) = %s, want %s", tc.eventType, got, tc.topic)
		}
	}
}

func TestConsumeClaimStopsOnContextDone(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	consumer := &Consumer{
		handler:    func(context.Context, *sarama.ConsumerMessage) error { return nil },
		logger:     log.WithField("test", "claim-stop"),
		maxRetries: 1,
	}
	session := &mockSession{ctx: ctx}
	claim := &mockClaim{topic: "topic", partition: 0, messages: make(chan *sarama.ConsumerMessage)}

	done := make(chan struct{})
	go func() {
		_ = consumer.ConsumeClaim(session, claim)
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("ConsumeClaim did not stop after context cancellation")
	}
}
