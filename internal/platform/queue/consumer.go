package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/conversant/backend/internal/platform/logger"
)

// Delivery is one stream entry handed to a handler. Data is the raw JSON
// payload written by Stream.Publish.
type Delivery struct {
	ID   string
	Data []byte
}

// Handler processes one delivery. A nil return acks the entry; an error
// sends it through the retry/dead-letter path.
type Handler func(ctx context.Context, d Delivery) error

// Consumer reads a stream through a consumer group. Entries left pending
// past pendingIdle are reclaimed from dead consumers via XAUTOCLAIM.
type Consumer struct {
	stream      *Stream
	log         *logger.Logger
	group       string
	consumerID  string
	blockTime   time.Duration
	batchSize   int64
	pendingIdle time.Duration
	dlq         string
	workers     int

	// pendingStart is the XAUTOCLAIM scan cursor, shared by all workers.
	pendingMu    sync.Mutex
	pendingStart string
}

type ConsumerOption func(*Consumer)

func WithBlockTime(d time.Duration) ConsumerOption {
	return func(c *Consumer) { c.blockTime = d }
}

func WithBatchSize(n int64) ConsumerOption {
	return func(c *Consumer) { c.batchSize = n }
}

func WithPendingIdle(d time.Duration) ConsumerOption {
	return func(c *Consumer) { c.pendingIdle = d }
}

func WithWorkers(n int) ConsumerOption {
	return func(c *Consumer) { c.workers = n }
}

func NewConsumer(stream *Stream, log *logger.Logger, group, consumerID string, opts ...ConsumerOption) (*Consumer, error) {
	if stream == nil {
		return nil, fmt.Errorf("stream required")
	}
	if group == "" {
		return nil, fmt.Errorf("group name required")
	}
	if consumerID == "" {
		consumerID = fmt.Sprintf("consumer-%d", time.Now().UnixNano())
	}

	c := &Consumer{
		stream:       stream,
		log:          log.With("stream", stream.Name(), "group", group),
		group:        group,
		consumerID:   consumerID,
		blockTime:    time.Second,
		batchSize:    10,
		pendingIdle:  time.Minute,
		pendingStart: "0-0",
		dlq:          stream.Name() + ":dlq",
		workers:      1,
	}
	for _, opt := range opts {
		opt(c)
	}

	if err := stream.ensureGroup(context.Background(), group); err != nil {
		return nil, err
	}
	return c, nil
}

// Run consumes until ctx is cancelled, fanning deliveries out over the
// configured worker count.
func (c *Consumer) Run(ctx context.Context, handle Handler) error {
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < c.workers; i++ {
		g.Go(func() error {
			return c.loop(gctx, handle)
		})
	}
	return g.Wait()
}

func (c *Consumer) loop(ctx context.Context, handle Handler) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		deliveries, err := c.read(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			c.log.Error("read failed", "error", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Second):
			}
			continue
		}

		for _, d := range deliveries {
			if hErr := handle(ctx, d); hErr != nil {
				c.log.Warn("handler failed", "msg_id", d.ID, "error", hErr)
				c.fail(ctx, d, hErr)
				continue
			}
			if aErr := c.ack(ctx, d.ID); aErr != nil {
				c.log.Error("ack failed", "msg_id", d.ID, "error", aErr)
			}
		}
	}
}

// read drains reclaimed pending entries first, then new ones.
func (c *Consumer) read(ctx context.Context) ([]Delivery, error) {
	pending, err := c.readPending(ctx)
	if err != nil {
		return nil, err
	}
	if len(pending) > 0 {
		return pending, nil
	}
	return c.readNew(ctx)
}

func (c *Consumer) readPending(ctx context.Context) ([]Delivery, error) {
	start := c.claimCursor()
	msgs, nextStart, err := c.stream.rdb.XAutoClaim(ctx, &goredis.XAutoClaimArgs{
		Stream:   c.stream.name,
		Group:    c.group,
		Consumer: c.consumerID,
		MinIdle:  c.pendingIdle,
		Start:    start,
		Count:    c.batchSize,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("xautoclaim: %w", err)
	}
	c.advanceCursor(nextStart)
	return c.toDeliveries(ctx, msgs), nil
}

func (c *Consumer) claimCursor() string {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	return c.pendingStart
}

func (c *Consumer) advanceCursor(next string) {
	if next == "" {
		return
	}
	c.pendingMu.Lock()
	c.pendingStart = next
	c.pendingMu.Unlock()
}

func (c *Consumer) readNew(ctx context.Context) ([]Delivery, error) {
	streams, err := c.stream.rdb.XReadGroup(ctx, &goredis.XReadGroupArgs{
		Group:    c.group,
		Consumer: c.consumerID,
		Streams:  []string{c.stream.name, ">"},
		Count:    c.batchSize,
		Block:    c.blockTime,
	}).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("xreadgroup: %w", err)
	}

	var msgs []goredis.XMessage
	for _, s := range streams {
		msgs = append(msgs, s.Messages...)
	}
	return c.toDeliveries(ctx, msgs), nil
}

func (c *Consumer) toDeliveries(ctx context.Context, msgs []goredis.XMessage) []Delivery {
	out := make([]Delivery, 0, len(msgs))
	for _, m := range msgs {
		data, ok := m.Values["data"].(string)
		if !ok || data == "" {
			c.log.Warn("malformed entry", "msg_id", m.ID)
			c.deadLetter(ctx, m.ID, fmt.Sprintf("%v", m.Values["data"]), "malformed entry")
			_ = c.ack(ctx, m.ID)
			continue
		}
		out = append(out, Delivery{ID: m.ID, Data: []byte(data)})
	}
	return out
}

func (c *Consumer) ack(ctx context.Context, msgID string) error {
	if err := c.stream.rdb.XAck(ctx, c.stream.name, c.group, msgID).Err(); err != nil {
		return fmt.Errorf("xack: %w", err)
	}
	return nil
}

// fail routes a failed delivery to the dead-letter stream and acks the
// original so it is not reclaimed forever.
func (c *Consumer) fail(ctx context.Context, d Delivery, cause error) {
	c.deadLetter(ctx, d.ID, string(d.Data), cause.Error())
	if err := c.ack(ctx, d.ID); err != nil {
		c.log.Error("ack after failure", "msg_id", d.ID, "error", err)
	}
}

func (c *Consumer) deadLetter(ctx context.Context, msgID, payload, reason string) {
	err := c.stream.publishRaw(ctx, c.dlq, map[string]any{
		"original_id": msgID,
		"payload":     payload,
		"reason":      reason,
		"failed_at":   time.Now().UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		c.log.Error("dead letter publish failed", "msg_id", msgID, "error", err)
	}
}

// Pending reports how many entries the group has unacked.
func (c *Consumer) Pending(ctx context.Context) (int64, error) {
	info, err := c.stream.rdb.XPending(ctx, c.stream.name, c.group).Result()
	if err != nil {
		return 0, fmt.Errorf("xpending: %w", err)
	}
	return info.Count, nil
}
