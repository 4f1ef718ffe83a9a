package queue

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"

	"github.com/conversant/backend/internal/platform/logger"
)

type testPayload struct {
	JobID  string `json:"jobId"`
	Prompt string `json:"prompt"`
}

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	return log
}

func testStream(t *testing.T, name string) (*Stream, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	s, err := NewStream(rdb, testLogger(t), name)
	if err != nil {
		t.Fatalf("NewStream: %v", err)
	}
	return s, mr
}

func TestStreamPublishAndLen(t *testing.T) {
	s, _ := testStream(t, "jobs_test")
	ctx := context.Background()

	if err := s.Publish(ctx, testPayload{JobID: "j1", Prompt: "hello"}); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if err := s.Publish(ctx, testPayload{JobID: "j2", Prompt: "world"}); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	n, err := s.Len(ctx)
	if err != nil {
		t.Fatalf("Len: %v", err)
	}
	if n != 2 {
		t.Fatalf("Len: expected 2, got %d", n)
	}
}

func TestConsumerDeliversAndAcks(t *testing.T) {
	s, _ := testStream(t, "jobs_consume")
	ctx := context.Background()

	c, err := NewConsumer(s, testLogger(t), "workers", "c1",
		WithBlockTime(50*time.Millisecond),
		WithPendingIdle(time.Hour))
	if err != nil {
		t.Fatalf("NewConsumer: %v", err)
	}

	if err := s.Publish(ctx, testPayload{JobID: "j1", Prompt: "hello"}); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	var got atomic.Int32
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() {
		done <- c.Run(runCtx, func(ctx context.Context, d Delivery) error {
			var p testPayload
			if err := json.Unmarshal(d.Data, &p); err != nil {
				return err
			}
			if p.JobID != "j1" {
				t.Errorf("unexpected payload: %+v", p)
			}
			got.Add(1)
			return nil
		})
	}()

	deadline := time.Now().Add(3 * time.Second)
	for got.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	<-done

	if got.Load() != 1 {
		t.Fatalf("expected 1 delivery, got %d", got.Load())
	}

	pending, err := c.Pending(ctx)
	if err != nil {
		t.Fatalf("Pending: %v", err)
	}
	if pending != 0 {
		t.Fatalf("expected 0 pending after ack, got %d", pending)
	}
}

// Multiple workers share the XAUTOCLAIM cursor; every loop iteration reads
// and advances it, so running the pool concurrently puts the cursor under
// the race detector.
func TestConsumerWorkerPoolDeliversAll(t *testing.T) {
	s, _ := testStream(t, "jobs_pool")
	ctx := context.Background()

	c, err := NewConsumer(s, testLogger(t), "workers", "c1",
		WithBlockTime(50*time.Millisecond),
		WithPendingIdle(time.Hour),
		WithWorkers(4))
	if err != nil {
		t.Fatalf("NewConsumer: %v", err)
	}

	const total = 20
	for i := 0; i < total; i++ {
		if err := s.Publish(ctx, testPayload{JobID: "j", Prompt: "hello"}); err != nil {
			t.Fatalf("Publish: %v", err)
		}
	}

	var got atomic.Int32
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() {
		done <- c.Run(runCtx, func(ctx context.Context, d Delivery) error {
			got.Add(1)
			return nil
		})
	}()

	deadline := time.Now().Add(5 * time.Second)
	for got.Load() < total && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	<-done

	if got.Load() < total {
		t.Fatalf("expected %d deliveries, got %d", total, got.Load())
	}

	pending, err := c.Pending(ctx)
	if err != nil {
		t.Fatalf("Pending: %v", err)
	}
	if pending != 0 {
		t.Fatalf("expected 0 pending after acks, got %d", pending)
	}
}

func TestConsumerDeadLettersFailedDeliveries(t *testing.T) {
	s, _ := testStream(t, "jobs_fail")
	ctx := context.Background()

	c, err := NewConsumer(s, testLogger(t), "workers", "c1",
		WithBlockTime(50*time.Millisecond),
		WithPendingIdle(time.Hour))
	if err != nil {
		t.Fatalf("NewConsumer: %v", err)
	}

	if err := s.Publish(ctx, testPayload{JobID: "bad"}); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	var seen atomic.Int32
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() {
		done <- c.Run(runCtx, func(ctx context.Context, d Delivery) error {
			seen.Add(1)
			return errors.New("boom")
		})
	}()

	deadline := time.Now().Add(3 * time.Second)
	for seen.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	<-done

	dlqLen, err := s.rdb.XLen(ctx, s.Name()+":dlq").Result()
	if err != nil {
		t.Fatalf("dlq xlen: %v", err)
	}
	if dlqLen != 1 {
		t.Fatalf("expected 1 dead-lettered entry, got %d", dlqLen)
	}

	pending, err := c.Pending(ctx)
	if err != nil {
		t.Fatalf("Pending: %v", err)
	}
	if pending != 0 {
		t.Fatalf("expected failed delivery to be acked, got %d pending", pending)
	}
}
