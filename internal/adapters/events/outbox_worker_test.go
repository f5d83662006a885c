package events

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/viralforge/ppv-access-service/internal/adapters/memory"
	"github.com/viralforge/ppv-access-service/internal/ports"
)

type recordingPublisher struct {
	mu      sync.Mutex
	fail    error
	keys    []string
	types   []string
	payload [][]byte
}

func (p *recordingPublisher) Publish(_ context.Context, eventType string, payload []byte, partitionKey string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail != nil {
		return p.fail
	}
	p.types = append(p.types, eventType)
	p.keys = append(p.keys, partitionKey)
	p.payload = append(p.payload, payload)
	return nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func enqueue(t *testing.T, outbox ports.OutboxRepository, eventType, key string) {
	t.Helper()
	err := outbox.Enqueue(context.Background(), ports.OutboxEvent{
		EventID:      uuid.New(),
		EventType:    eventType,
		PartitionKey: key,
		Payload:      []byte(`{"ok":true}`),
		OccurredAt:   time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
}

func TestOutboxWorkerPublishesInOrderWithPartitionKey(t *testing.T) {
	t.Parallel()

	repos := memory.NewRepositories()
	enqueue(t, repos.Outbox, "ppv.access_granted", "pi_1")
	enqueue(t, repos.Outbox, "ppv.access_revoked", "pi_1")

	pub := &recordingPublisher{}
	worker := NewOutboxWorker(quietLogger(), repos.Outbox, pub, OutboxWorkerConfig{})
	res, err := worker.ProcessOnce(context.Background())
	if err != nil {
		t.Fatalf("process once: %v", err)
	}
	if res.Published != 2 {
		t.Fatalf("expected 2 published, got %+v", res)
	}
	if pub.types[0] != "ppv.access_granted" || pub.types[1] != "ppv.access_revoked" {
		t.Fatalf("unexpected order %v", pub.types)
	}
	if pub.keys[0] != "pi_1" {
		t.Fatalf("expected partition key pi_1, got %q", pub.keys[0])
	}
	if pending := repos.Outbox.Pending(); len(pending) != 0 {
		t.Fatalf("expected empty outbox, got %d rows", len(pending))
	}
}

func TestOutboxWorkerRetriesThenDeadLetters(t *testing.T) {
	t.Parallel()

	repos := memory.NewRepositories()
	enqueue(t, repos.Outbox, "ppv.access_granted", "pi_2")

	pub := &recordingPublisher{fail: errors.New("broker down")}
	worker := NewOutboxWorker(quietLogger(), repos.Outbox, pub, OutboxWorkerConfig{MaxRetries: 2})

	res, err := worker.ProcessOnce(context.Background())
	if err != nil {
		t.Fatalf("first pass: %v", err)
	}
	if res.Failed != 1 || res.DeadLettered != 0 {
		t.Fatalf("expected one retryable failure, got %+v", res)
	}
	pending := repos.Outbox.Pending()
	if len(pending) != 1 || pending[0].RetryCount != 1 {
		t.Fatalf("expected row with retry_count=1, got %+v", pending)
	}

	res, err = worker.ProcessOnce(context.Background())
	if err != nil {
		t.Fatalf("second pass: %v", err)
	}
	if res.DeadLettered != 1 {
		t.Fatalf("expected dead letter, got %+v", res)
	}
	if pending := repos.Outbox.Pending(); len(pending) != 0 {
		t.Fatalf("dead-lettered row must leave the pending set")
	}
}

func TestKafkaPublisherTopicMapping(t *testing.T) {
	t.Parallel()

	if _, err := NewKafkaPublisher(nil, nil); err == nil {
		t.Fatalf("expected error without brokers")
	}
	pub, err := NewKafkaPublisher([]string{"localhost:9092"}, map[string]string{"ppv.access_granted": "ppv-notifications"})
	if err != nil {
		t.Fatalf("new publisher: %v", err)
	}
	defer pub.Close()
	if got := pub.topicFor("ppv.access_granted"); got != "ppv-notifications" {
		t.Fatalf("expected mapped topic, got %q", got)
	}
	if got := pub.topicFor("ppv.access_revoked"); got != "ppv.access_revoked" {
		t.Fatalf("expected event type as topic, got %q", got)
	}
}
