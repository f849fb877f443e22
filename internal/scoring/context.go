package scoring

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/redis/go-redis/v9"

	"veracity-soc/internal/schema"
)

// ContextProvider supplies the environmental signals the scorer folds into
// the rule score. Implementations must be safe for concurrent use. Errors
// are tolerated by the scorer; a failing provider degrades to zero
// adjustment, it never blocks scoring.
type ContextProvider interface {
	// ObserveEntry records the entry into the rolling context windows.
	ObserveEntry(ctx context.Context, entry *schema.LogEntry) error

	// RecentConnections returns the count of connection-related entries
	// seen across the fleet in roughly the last hour.
	RecentConnections(ctx context.Context) (int, error)

	// NovelBehavior reports whether the (source, level) pair has not been
	// seen from this agent before within the behavioral window.
	NovelBehavior(ctx context.Context, agentID, source string, level schema.Level) (bool, error)
}

const (
	connCountPrefix  = "veracity:ctx:conns:"
	behaviorPrefix   = "veracity:ctx:behavior:"
	connCountTTL     = 2 * time.Hour
	behaviorTTL      = 7 * 24 * time.Hour
	connectionMarker = "connection"
)

// RedisContext is the shared ContextProvider backed by Redis. Connection
// counts live in per-hour counters and behavioral baselines in per-agent
// sets, both with TTLs so state ages out on its own.
type RedisContext struct {
	client *redis.Client
}

// NewRedisContext returns a provider over an existing Redis client.
func NewRedisContext(client *redis.Client) *RedisContext {
	return &RedisContext{client: client}
}

func hourKey(t time.Time) string {
	return connCountPrefix + t.UTC().Format("2006010215")
}

func (r *RedisContext) ObserveEntry(ctx context.Context, entry *schema.LogEntry) error {
	if !strings.Contains(strings.ToLower(entry.Message), connectionMarker) {
		return nil
	}
	key := hourKey(time.Now())
	pipe := r.client.Pipeline()
	pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, connCountTTL)
	_, err := pipe.Exec(ctx)
	return err
}

func (r *RedisContext) RecentConnections(ctx context.Context) (int, error) {
	now := time.Now()
	total := 0
	for _, key := range []string{hourKey(now), hourKey(now.Add(-time.Hour))} {
		n, err := r.client.Get(ctx, key).Int()
		if err != nil && err != redis.Nil {
			return 0, err
		}
		total += n
	}
	return total, nil
}

func (r *RedisContext) NovelBehavior(ctx context.Context, agentID, source string, level schema.Level) (bool, error) {
	key := behaviorPrefix + agentID
	member := source + "|" + string(level)
	added, err := r.client.SAdd(ctx, key, member).Result()
	if err != nil {
		return false, err
	}
	if err := r.client.Expire(ctx, key, behaviorTTL).Err(); err != nil {
		return false, err
	}
	return added == 1, nil
}

// MemoryContext is a process-local ContextProvider used when Redis is not
// configured. Behavioral baselines live in a bounded LRU so a noisy fleet
// cannot grow memory without limit; connection counts use two hourly
// buckets rotated on read.
type MemoryContext struct {
	mu        sync.Mutex
	behaviors *lru.Cache[string, struct{}]
	bucketHr  int64
	current   int
	previous  int
}

// NewMemoryContext returns an in-memory provider holding up to size
// behavioral baseline pairs.
func NewMemoryContext(size int) (*MemoryContext, error) {
	cache, err := lru.New[string, struct{}](size)
	if err != nil {
		return nil, fmt.Errorf("behavior cache: %w", err)
	}
	return &MemoryContext{behaviors: cache}, nil
}

func (m *MemoryContext) rotate() {
	hr := time.Now().UTC().Unix() / 3600
	switch {
	case hr == m.bucketHr:
	case hr == m.bucketHr+1:
		m.previous, m.current = m.current, 0
		m.bucketHr = hr
	default:
		m.previous, m.current = 0, 0
		m.bucketHr = hr
	}
}

func (m *MemoryContext) ObserveEntry(_ context.Context, entry *schema.LogEntry) error {
	if !strings.Contains(strings.ToLower(entry.Message), connectionMarker) {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rotate()
	m.current++
	return nil
}

func (m *MemoryContext) RecentConnections(context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rotate()
	return m.current + m.previous, nil
}

func (m *MemoryContext) NovelBehavior(_ context.Context, agentID, source string, level schema.Level) (bool, error) {
	key := agentID + "|" + source + "|" + string(level)
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.behaviors.Contains(key) {
		return false, nil
	}
	m.behaviors.Add(key, struct{}{})
	return true, nil
}
