package eventbus

import (
	"context"
	"encoding/json"
	"testing"

	kafka "github.com/segmentio/kafka-go"

	"github.com/ntegrals/openbrowser/internal/persistence"
)

type fakeWriter struct {
	messages []kafka.Message
	err      error
}

func (f *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.messages = append(f.messages, msgs...)
	return nil
}

func TestPublisherNilIsNoOp(t *testing.T) {
	var p *Publisher
	if err := p.PublishStep(context.Background(), "run-1", persistence.StepRecord{Step: 1}); err != nil {
		t.Fatalf("nil publisher PublishStep returned error: %v", err)
	}
	if err := p.PublishSandboxResult(context.Background(), "run-1", "", 0, 0); err != nil {
		t.Fatalf("nil publisher PublishSandboxResult returned error: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("nil publisher Close returned error: %v", err)
	}
}

func TestPublishStepWritesKeyedMessage(t *testing.T) {
	fw := &fakeWriter{}
	p := &Publisher{writer: fw, topic: "agent.events"}

	record := persistence.StepRecord{Step: 3}
	if err := p.PublishStep(context.Background(), "run-42", record); err != nil {
		t.Fatalf("PublishStep: %v", err)
	}
	if len(fw.messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(fw.messages))
	}
	msg := fw.messages[0]
	if msg.Topic != "agent.events" {
		t.Errorf("topic = %q, want agent.events", msg.Topic)
	}
	if string(msg.Key) != "run-42" {
		t.Errorf("key = %q, want run-42", string(msg.Key))
	}
	var decoded StepEvent
	if err := json.Unmarshal(msg.Value, &decoded); err != nil {
		t.Fatalf("decoding published value: %v", err)
	}
	if decoded.Type != "step" || decoded.RunID != "run-42" || decoded.Step != 3 {
		t.Errorf("unexpected decoded event: %+v", decoded)
	}
}

func TestPublishSandboxResultWritesExpectedType(t *testing.T) {
	fw := &fakeWriter{}
	p := &Publisher{writer: fw, topic: "agent.events"}

	if err := p.PublishSandboxResult(context.Background(), "run-7", "oom", 512.5, 12.3); err != nil {
		t.Fatalf("PublishSandboxResult: %v", err)
	}
	var decoded SandboxResultEvent
	if err := json.Unmarshal(fw.messages[0].Value, &decoded); err != nil {
		t.Fatalf("decoding published value: %v", err)
	}
	if decoded.Type != "sandbox_result" || decoded.AbortReason != "oom" || decoded.PeakMemoryMB != 512.5 {
		t.Errorf("unexpected decoded event: %+v", decoded)
	}
}

func TestNewPublisherDisabledWithoutBrokers(t *testing.T) {
	p, err := NewPublisher(nil, "agent.events")
	if err != nil {
		t.Fatalf("NewPublisher: %v", err)
	}
	if p != nil {
		t.Fatalf("expected nil publisher when brokers is empty")
	}
}
