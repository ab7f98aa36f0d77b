package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// DiagnosticPublisher emits unclassified-reason signals for operators.
type DiagnosticPublisher struct {
	writer *kafka.Writer
}

// NewDiagnosticPublisher constructs a publisher for the given topic.
func NewDiagnosticPublisher(k *Kafka, topic string) *DiagnosticPublisher {
	return &DiagnosticPublisher{writer: k.NewWriter(topic)}
}

// PublishDiagnostic writes the diagnostic message to Kafka.
func (p *DiagnosticPublisher) PublishDiagnostic(ctx context.Context, msg DiagnosticMessage) error {
	value, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("diagnostic publisher: marshal message: %w", err)
	}

	record := kafka.Message{
		Key:   msg.TaskID[:],
		Value: value,
		Time:  time.Now().UTC(),
	}

	if err := p.writer.WriteMessages(ctx, record); err != nil {
		return fmt.Errorf("diagnostic publisher: write message: %w", err)
	}
	return nil
}

// Close closes the underlying writer.
func (p *DiagnosticPublisher) Close() error {
	return p.writer.Close()
}
