// Package eventbus publishes StepRecord and SandboxResult events to Kafka
// for external consumers (dashboards, alerting) — additive telemetry, not
// on the critical path of the Step Loop or Sandbox Supervisor (§4.1-§4.5).
// Grounded on the teacher's internal/tools/kafka/kafka.go: a narrow Writer
// interface wrapping kafka.Message construction, keyed by a generated
// correlation/run ID, so tests can substitute a fake producer.
package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	kafka "github.com/segmentio/kafka-go"

	"github.com/ntegrals/openbrowser/internal/persistence"
)

// Writer is the narrow kafka-go surface this package depends on, matching
// the teacher's own Writer interface so a *kafka.Writer satisfies it
// directly and tests can substitute a fake.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// StepEvent is published once per completed step.
type StepEvent struct {
	Type        string                 `json:"type"`
	RunID       string                 `json:"runId"`
	Step        int                    `json:"step"`
	Record      persistence.StepRecord `json:"record"`
	PublishedAt time.Time              `json:"publishedAt"`
}

// SandboxResultEvent is published once a Supervise call completes.
type SandboxResultEvent struct {
	Type         string    `json:"type"`
	RunID        string    `json:"runId"`
	AbortReason  string    `json:"abortReason,omitempty"`
	PeakMemoryMB float64   `json:"peakMemoryMb"`
	DurationSec  float64   `json:"durationSec"`
	PublishedAt  time.Time `json:"publishedAt"`
}

// Publisher writes StepEvent/SandboxResultEvent messages to a configured
// topic. A nil *Publisher is the disabled state: every method is a no-op,
// so callers don't need a separate enabled/disabled branch at every call
// site.
type Publisher struct {
	writer Writer
	topic  string
}

// NewPublisher builds a kafka-go Writer targeting brokers/topic. Returns
// (nil, nil) when brokers is empty, since the event bus is optional.
func NewPublisher(brokers []string, topic string) (*Publisher, error) {
	if len(brokers) == 0 || topic == "" {
		return nil, nil
	}
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.LeastBytes{},
		AllowAutoTopicCreation: true,
	}
	return &Publisher{writer: w, topic: topic}, nil
}

// PublishStep publishes one step's record.
func (p *Publisher) PublishStep(ctx context.Context, runID string, record persistence.StepRecord) error {
	if p == nil || p.writer == nil {
		return nil
	}
	evt := StepEvent{Type: "step", RunID: runID, Step: record.Step, Record: record, PublishedAt: time.Now().UTC()}
	return p.publish(ctx, runID, evt)
}

// PublishSandboxResult publishes one sandbox run's outcome.
func (p *Publisher) PublishSandboxResult(ctx context.Context, runID string, abortReason string, peakMemoryMB, durationSec float64) error {
	if p == nil || p.writer == nil {
		return nil
	}
	evt := SandboxResultEvent{
		Type:         "sandbox_result",
		RunID:        runID,
		AbortReason:  abortReason,
		PeakMemoryMB: peakMemoryMB,
		DurationSec:  durationSec,
		PublishedAt:  time.Now().UTC(),
	}
	return p.publish(ctx, runID, evt)
}

func (p *Publisher) publish(ctx context.Context, runID string, evt any) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("eventbus: marshal event: %w", err)
	}
	msg := kafka.Message{
		Topic: p.topic,
		Key:   []byte(runID),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "correlation_id", Value: []byte(uuid.New().String())},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("eventbus: write message: %w", err)
	}
	return nil
}

// Close closes the underlying writer, if any.
func (p *Publisher) Close() error {
	if p == nil {
		return nil
	}
	if wc, ok := p.writer.(interface{ Close() error }); ok {
		return wc.Close()
	}
	return nil
}
