package policy

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Settings keys shared by every process reading the same Redis
const (
	KeyFailedEndpoints    = "chaos_fail_endpoints"
	KeyLatencyMS          = "chaos_latency_ms"
	KeyEncryptionEnforced = "encryption_enforced"
)

// Mirror receives policy and chaos mutations. Publishing never fails the
// caller; implementations log their own errors.
type Mirror interface {
	PublishFailures(endpoints []string)
	PublishLatency(ms int64)
	PublishEnforced(on bool)
}

// RedisMirror persists the controls in Redis so that restarts and sibling
// processes observe the same toggles.
type RedisMirror struct {
	rdb     *redis.Client
	prefix  string
	timeout time.Duration
	logger  *zap.Logger
}

// NewRedisMirror connects to addr and verifies it with a ping
func NewRedisMirror(ctx context.Context, addr, prefix string, logger *zap.Logger) (*RedisMirror, error) {
	if addr == "" {
		return nil, errors.New("redis address is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &RedisMirror{rdb: rdb, prefix: prefix, timeout: time.Second, logger: logger}, nil
}

// Close releases the connection pool
func (r *RedisMirror) Close() error {
	return r.rdb.Close()
}

func (r *RedisMirror) key(k string) string {
	return r.prefix + k
}

func (r *RedisMirror) set(key, value string) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	if err := r.rdb.Set(ctx, r.key(key), value, 0).Err(); err != nil {
		r.logger.Warn("failed to mirror setting", zap.String("key", key), zap.Error(err))
	}
}

func (r *RedisMirror) PublishFailures(endpoints []string) {
	r.set(KeyFailedEndpoints, strings.Join(endpoints, ","))
}

func (r *RedisMirror) PublishLatency(ms int64) {
	r.set(KeyLatencyMS, strconv.FormatInt(ms, 10))
}

func (r *RedisMirror) PublishEnforced(on bool) {
	r.set(KeyEncryptionEnforced, strconv.FormatBool(on))
}

// Restore loads persisted settings into the live state. Missing keys keep
// the current values.
func (r *RedisMirror) Restore(ctx context.Context, chaos *ChaosState, sec *SecurityPolicy) error {
	vals, err := r.rdb.MGet(ctx,
		r.key(KeyFailedEndpoints), r.key(KeyLatencyMS), r.key(KeyEncryptionEnforced)).Result()
	if err != nil {
		return fmt.Errorf("redis mget: %w", err)
	}

	if s, ok := vals[0].(string); ok {
		var list []string
		if s != "" {
			list = strings.Split(s, ",")
		}
		chaos.mu.Lock()
		chaos.failed = toSet(list)
		chaos.mu.Unlock()
	}
	if s, ok := vals[1].(string); ok {
		ms, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return fmt.Errorf("parse %s: %w", KeyLatencyMS, err)
		}
		chaos.latencyMS.Store(ms)
	}
	if s, ok := vals[2].(string); ok {
		on, err := strconv.ParseBool(s)
		if err != nil {
			return fmt.Errorf("parse %s: %w", KeyEncryptionEnforced, err)
		}
		sec.enforced.Store(on)
	}
	return nil
}

func toSet(list []string) map[string]struct{} {
	m := make(map[string]struct{}, len(list))
	for _, n := range list {
		if n != "" {
			m[n] = struct{}{}
		}
	}
	return m
}
