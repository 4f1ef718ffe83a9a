package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/conversant/backend/internal/platform/logger"
)

// Stream is a named Redis stream used as a work queue. Producers append
// JSON payloads, consumer groups read them.
type Stream struct {
	rdb  *goredis.Client
	log  *logger.Logger
	name string
}

const maxStreamLen = 100000

func NewStream(rdb *goredis.Client, log *logger.Logger, name string) (*Stream, error) {
	if rdb == nil {
		return nil, fmt.Errorf("redis client required")
	}
	if name == "" {
		return nil, fmt.Errorf("stream name required")
	}
	return &Stream{
		rdb:  rdb,
		log:  log.With("stream", name),
		name: name,
	}, nil
}

func (s *Stream) Name() string { return s.name }

// Publish appends one payload to the stream. The payload is marshalled to
// JSON and carried in a single "data" field.
func (s *Stream) Publish(ctx context.Context, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	return s.publishRaw(ctx, s.name, map[string]any{"data": string(raw)})
}

func (s *Stream) publishRaw(ctx context.Context, stream string, values map[string]any) error {
	id, err := s.rdb.XAdd(ctx, &goredis.XAddArgs{
		Stream: stream,
		MaxLen: maxStreamLen,
		Approx: true,
		Values: values,
	}).Result()
	if err != nil {
		return fmt.Errorf("xadd %s: %w", stream, err)
	}
	s.log.Debug("published", "msg_id", id)
	return nil
}

// Len reports how many entries sit in the stream.
func (s *Stream) Len(ctx context.Context) (int64, error) {
	n, err := s.rdb.XLen(ctx, s.name).Result()
	if err != nil {
		return 0, fmt.Errorf("xlen %s: %w", s.name, err)
	}
	return n, nil
}

func (s *Stream) ensureGroup(ctx context.Context, group string) error {
	err := s.rdb.XGroupCreateMkStream(ctx, s.name, group, "0").Err()
	if err != nil && err.Error() != "BUSYGROUP Consumer Group name already exists" {
		return fmt.Errorf("xgroup create %s/%s: %w", s.name, group, err)
	}
	return nil
}

// NewRedisClient dials redis and verifies the connection before handing the
// client out.
func NewRedisClient(addr, password string, db int) (*goredis.Client, error) {
	if addr == "" {
		return nil, fmt.Errorf("missing redis addr")
	}
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		Password:    password,
		DB:          db,
		DialTimeout: 5 * time.Second,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return rdb, nil
}
