package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/nsridhar76/go-orderms/internal/messaging"
)

// Header keys set on published messages.
const (
	HeaderEventType       = "event_type"
	HeaderError           = "dlq_error"
	HeaderSourceTopic     = "dlq_source_topic"
	HeaderSourcePartition = "dlq_source_partition"
	HeaderSourceOffset    = "dlq_source_offset"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Publisher writes order-created events or dead letters to one topic.
type Publisher struct {
	writer messageWriter
}

// NewPublisher returns a publisher for topic, keyed by order id so that
// every message of one order lands on the same partition.
func NewPublisher(brokers []string, topic string) *Publisher {
	return &Publisher{writer: &kafkago.Writer{
		Addr:         kafkago.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireAll,
	}}
}

// PublishOrderCreated sends ev.
func (p *Publisher) PublishOrderCreated(ctx context.Context, ev messaging.OrderCreatedEvent) error {
	value, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode order %d: %w", ev.OrderID, err)
	}
	msg := kafkago.Message{
		Key:     []byte(strconv.FormatInt(ev.OrderID, 10)),
		Value:   value,
		Headers: []kafkago.Header{{Key: HeaderEventType, Value: []byte(messaging.EventOrderCreated)}},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish order %d: %w", ev.OrderID, err)
	}
	return nil
}

// PublishDeadLetter forwards msg unchanged, recording where it came from and
// why it was rejected in headers.
func (p *Publisher) PublishDeadLetter(ctx context.Context, msg kafkago.Message, reason error) error {
	headers := append([]kafkago.Header(nil), msg.Headers...)
	headers = append(headers,
		kafkago.Header{Key: HeaderError, Value: []byte(reason.Error())},
		kafkago.Header{Key: HeaderSourceTopic, Value: []byte(msg.Topic)},
		kafkago.Header{Key: HeaderSourcePartition, Value: []byte(strconv.Itoa(msg.Partition))},
		kafkago.Header{Key: HeaderSourceOffset, Value: []byte(strconv.FormatInt(msg.Offset, 10))},
	)
	out := kafkago.Message{Key: msg.Key, Value: msg.Value, Headers: headers}
	if err := p.writer.WriteMessages(ctx, out); err != nil {
		return fmt.Errorf("publish dead letter: %w", err)
	}
	return nil
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}
