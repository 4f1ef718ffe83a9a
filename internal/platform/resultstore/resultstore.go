package resultstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/conversant/backend/internal/platform/apierr"
	"github.com/conversant/backend/internal/platform/logger"
)

// Store keeps completed job results in redis, keyed by job id, long enough
// for the client to poll them. Entries fall out on their own after TTL.
type Store struct {
	rdb    *goredis.Client
	log    *logger.Logger
	prefix string
	ttl    time.Duration
}

const defaultTTL = 10 * time.Minute

func NewStore(rdb *goredis.Client, log *logger.Logger, prefix string) (*Store, error) {
	if rdb == nil {
		return nil, fmt.Errorf("redis client required")
	}
	if prefix == "" {
		prefix = "job_result"
	}
	return &Store{
		rdb:    rdb,
		log:    log.With("service", "ResultStore"),
		prefix: prefix,
		ttl:    defaultTTL,
	}, nil
}

func (s *Store) key(jobID string) string {
	return s.prefix + ":" + jobID
}

// Put stores the result payload for a job. payload is marshalled to JSON.
func (s *Store) Put(ctx context.Context, jobID string, payload any) error {
	if jobID == "" {
		return apierr.Internal("RESULT_JOB_ID_EMPTY", fmt.Errorf("empty job id"))
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return apierr.Internal("RESULT_MARSHAL", fmt.Errorf("marshal result: %w", err))
	}
	if err := s.rdb.Set(ctx, s.key(jobID), raw, s.ttl).Err(); err != nil {
		return apierr.Upstream("RESULT_STORE_WRITE", fmt.Errorf("set result: %w", err))
	}
	return nil
}

// Get fetches the raw JSON result for a job. ok=false means the job has not
// finished yet, or its result already expired.
func (s *Store) Get(ctx context.Context, jobID string) (json.RawMessage, bool, error) {
	raw, err := s.rdb.Get(ctx, s.key(jobID)).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, false, nil
		}
		return nil, false, apierr.Upstream("RESULT_STORE_READ", fmt.Errorf("get result: %w", err))
	}
	return json.RawMessage(raw), true, nil
}
