package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/brightfield-labs/writing-desk/internal/platform/logger"
)

// RunStateStore is the distributed registry of active runs (§4.1). It
// survives process restart and is shared across horizontally-scaled
// instances; it is advisory, not authoritative — the in-process RunRegistry
// always wins on discrepancy (§5).
type RunStateStore interface {
	// Register is an idempotent create-or-replace. It fails with
	// ErrAlreadyActive if a running, non-orphaned entry already exists.
	Register(ctx context.Context, state RunState) error
	Update(ctx context.Context, runKey string, patch func(*RunState)) (*RunState, error)
	Heartbeat(ctx context.Context, runKey string) error
	Get(ctx context.Context, runKey string) (*RunState, error)
	Remove(ctx context.Context, runKey string) error
	ListAll(ctx context.Context) ([]RunState, error)
	ListStale(ctx context.Context, threshold time.Duration) ([]RunState, error)
}

const runStateKeyPrefix = "orc:run:"
const runStateIndexKey = "orc:run-index"

// redisRunStateStore backs RunStateStore with one JSON-encoded string key per
// run key plus
// a set index for ListAll/ListStale, TTL refreshed on every write — the
// natural extension of this codebase's existing Redis pub/sub usage into a
// TTL'd key/value store.
type redisRunStateStore struct {
	log *logger.Logger
	rdb *redis.Client
}

// NewRedisRunStateStore dials Redis from REDIS_ADDR (+ optional
// REDIS_PASSWORD/REDIS_DB) and pings once to fail fast on misconfiguration,
// matching this codebase's existing env-driven Redis client construction.
func NewRedisRunStateStore(ctx context.Context, log *logger.Logger) (RunStateStore, error) {
	addr := strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	if addr == "" {
		addr = "localhost:6379"
	}
	dbIndex := 0
	if v := strings.TrimSpace(os.Getenv("REDIS_DB")); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			dbIndex = n
		}
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: os.Getenv("REDIS_PASSWORD"),
		DB:       dbIndex,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &redisRunStateStore{log: log.With("component", "RunStateStore"), rdb: rdb}, nil
}

func (s *redisRunStateStore) key(runKey string) string { return runStateKeyPrefix + runKey }

func ttlFor(state RunState) time.Duration {
	budget := RunStateTTLBudget(state.Kind) + 30*time.Second
	if state.TTL > budget {
		return state.TTL
	}
	return budget
}

func (s *redisRunStateStore) write(ctx context.Context, state RunState) error {
	b, err := json.Marshal(state)
	if err != nil {
		return err
	}
	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, s.key(state.RunKey), b, ttlFor(state))
	pipe.SAdd(ctx, runStateIndexKey, state.RunKey)
	_, err = pipe.Exec(ctx)
	return err
}

func (s *redisRunStateStore) Register(ctx context.Context, state RunState) error {
	existing, err := s.Get(ctx, state.RunKey)
	if err != nil {
		return err
	}
	if existing != nil && existing.Status == StatusRunning && !isOrphan(*existing) {
		return ErrAlreadyActive
	}
	if state.StartedAt == 0 {
		state.StartedAt = nowMillis()
	}
	state.LastHeartbeatAt = nowMillis()
	return s.write(ctx, state)
}

func isOrphan(s RunState) bool {
	if s.Status != StatusRunning {
		return false
	}
	age := time.Since(time.UnixMilli(s.LastHeartbeatAt))
	return age > OrphanThreshold
}

func (s *redisRunStateStore) Update(ctx context.Context, runKey string, patch func(*RunState)) (*RunState, error) {
	current, err := s.Get(ctx, runKey)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, fmt.Errorf("run state %q not found", runKey)
	}
	previousResponseID := current.ResponseID
	patch(current)
	// Invariant 2: responseId, once non-null, is never mutated.
	if previousResponseID != "" {
		current.ResponseID = previousResponseID
	}
	current.LastHeartbeatAt = nowMillis()
	if err := s.write(ctx, *current); err != nil {
		return nil, err
	}
	return current, nil
}

func (s *redisRunStateStore) Heartbeat(ctx context.Context, runKey string) error {
	_, err := s.Update(ctx, runKey, func(*RunState) {})
	return err
}

func (s *redisRunStateStore) Get(ctx context.Context, runKey string) (*RunState, error) {
	b, err := s.rdb.Get(ctx, s.key(runKey)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, err
	}
	var state RunState
	if err := json.Unmarshal(b, &state); err != nil {
		return nil, err
	}
	return &state, nil
}

func (s *redisRunStateStore) Remove(ctx context.Context, runKey string) error {
	pipe := s.rdb.TxPipeline()
	pipe.Del(ctx, s.key(runKey))
	pipe.SRem(ctx, runStateIndexKey, runKey)
	_, err := pipe.Exec(ctx)
	return err
}

func (s *redisRunStateStore) ListAll(ctx context.Context) ([]RunState, error) {
	keys, err := s.rdb.SMembers(ctx, runStateIndexKey).Result()
	if err != nil {
		return nil, err
	}
	out := make([]RunState, 0, len(keys))
	for _, k := range keys {
		state, err := s.Get(ctx, k)
		if err != nil {
			s.log.Warn("RunStateStore.ListAll: failed to load entry", "run_key", k, "error", err)
			continue
		}
		if state == nil {
			// Expired by TTL; drop the stale index entry.
			_ = s.rdb.SRem(ctx, runStateIndexKey, k).Err()
			continue
		}
		out = append(out, *state)
	}
	return out, nil
}

func (s *redisRunStateStore) ListStale(ctx context.Context, threshold time.Duration) ([]RunState, error) {
	all, err := s.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	cutoff := time.Now().Add(-threshold)
	out := make([]RunState, 0)
	for _, st := range all {
		if st.Status == StatusRunning && time.UnixMilli(st.LastHeartbeatAt).Before(cutoff) {
			out = append(out, st)
		}
	}
	return out, nil
}
