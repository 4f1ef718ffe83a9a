package resultstore

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"

	"github.com/conversant/backend/internal/platform/logger"
)

func testStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	s, err := NewStore(rdb, log, "code_result")
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return s, mr
}

func TestStoreRoundTrip(t *testing.T) {
	s, _ := testStore(t)
	ctx := context.Background()

	type result struct {
		Status string `json:"status"`
		Output string `json:"output"`
	}
	if err := s.Put(ctx, "job-1", result{Status: "TASK_COMPLETED", Output: "42"}); err != nil {
		t.Fatalf("Put: %v", err)
	}

	raw, ok, err := s.Get(ctx, "job-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !ok {
		t.Fatalf("Get: expected hit")
	}
	var got result
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Status != "TASK_COMPLETED" || got.Output != "42" {
		t.Fatalf("Get: unexpected result %+v", got)
	}

	_, ok, err = s.Get(ctx, "job-2")
	if err != nil {
		t.Fatalf("Get (miss): %v", err)
	}
	if ok {
		t.Fatalf("Get (miss): expected miss")
	}
}

func TestStoreExpiry(t *testing.T) {
	s, mr := testStore(t)
	ctx := context.Background()

	if err := s.Put(ctx, "job-ttl", map[string]string{"status": "done"}); err != nil {
		t.Fatalf("Put: %v", err)
	}

	mr.FastForward(11 * time.Minute)

	_, ok, err := s.Get(ctx, "job-ttl")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if ok {
		t.Fatalf("Get: expected result to expire")
	}
}
