package vector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hyperjump/docchat/internal/apperr"
	"github.com/hyperjump/docchat/internal/models"
)

// RedisStore keeps each namespace as two Redis hashes: a descriptor hash keyed
// "<prefix>:{<ns>}:meta" and a record hash keyed "<prefix>:{<ns>}:rec" mapping chunk id to
// the JSON-encoded record. Both keys of a namespace share a hash slot. Namespaces containing
// braces are rejected. Connection failures are reported as transient provider errors.
type RedisStore struct {
	cli    *redis.Client
	prefix string
}

// RedisOptions configures a RedisStore.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

type redisRecord struct {
	Chunk  *models.Chunk `json:"chunk"`
	Vector []float32     `json:"vector"`
}

const (
	fieldDimensions = "dimensions"
	fieldExpected   = "expected"
	fieldSealed     = "sealed"
)

// NewRedisStore connects to Redis and verifies the connection with PING.
// Addr may be host:port or a redis:// URL.
func NewRedisStore(ctx context.Context, opts RedisOptions) (*RedisStore, error) {
	var cli *redis.Client
	if strings.HasPrefix(opts.Addr, "redis://") || strings.HasPrefix(opts.Addr, "rediss://") {
		parsed, err := redis.ParseURL(opts.Addr)
		if err != nil {
			return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
		}
		cli = redis.NewClient(parsed)
	} else {
		cli = redis.NewClient(&redis.Options{
			Addr:     opts.Addr,
			Password: opts.Password,
			DB:       opts.DB,
		})
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := cli.Ping(pingCtx).Err(); err != nil {
		_ = cli.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return NewRedisStoreWithClient(cli, opts.Prefix), nil
}

// NewRedisStoreWithClient wraps an existing client.
func NewRedisStoreWithClient(cli *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "docchat"
	}
	return &RedisStore{cli: cli, prefix: prefix}
}

func (s *RedisStore) metaKey(ns string) string    { return s.prefix + ":{" + ns + "}:meta" }
func (s *RedisStore) recordsKey(ns string) string { return s.prefix + ":{" + ns + "}:rec" }

// checkNamespace rejects names that could close the hash tag early.
func checkNamespace(op, ns string) error {
	if ns == "" || strings.ContainsAny(ns, "{}") {
		return apperr.Errorf(apperr.KindInvalidInput, op, "invalid namespace %q", ns)
	}
	return nil
}

func redisErr(op string, err error) error {
	if err == nil || errors.Is(err, context.Canceled) {
		return err
	}
	return apperr.Transient(apperr.KindProvider, op, err)
}

// NamespaceExists reports whether ns holds any record.
func (s *RedisStore) NamespaceExists(ctx context.Context, ns string) (bool, error) {
	if err := checkNamespace("vector.exists", ns); err != nil {
		return false, err
	}
	n, err := s.cli.HLen(ctx, s.recordsKey(ns)).Result()
	if err != nil {
		return false, redisErr("vector.exists", err)
	}
	return n > 0, nil
}

// Describe returns the stats of ns.
func (s *RedisStore) Describe(ctx context.Context, ns string) (NamespaceStats, error) {
	if err := checkNamespace("vector.describe", ns); err != nil {
		return NamespaceStats{}, err
	}
	var meta *redis.MapStringStringCmd
	var count *redis.IntCmd
	_, err := s.cli.Pipelined(ctx, func(p redis.Pipeliner) error {
		meta = p.HGetAll(ctx, s.metaKey(ns))
		count = p.HLen(ctx, s.recordsKey(ns))
		return nil
	})
	if err != nil {
		return NamespaceStats{}, redisErr("vector.describe", err)
	}
	fields := meta.Val()
	stats := NamespaceStats{Vectors: int(count.Val())}
	stats.Dimensions, _ = strconv.Atoi(fields[fieldDimensions])
	stats.Expected, _ = strconv.Atoi(fields[fieldExpected])
	stats.Sealed = fields[fieldSealed] == "1"
	return stats, nil
}

// Upsert writes records into ns in a MULTI/EXEC transaction.
func (s *RedisStore) Upsert(ctx context.Context, ns string, records []models.Record) error {
	if err := checkNamespace("vector.upsert", ns); err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}
	dims, err := s.cli.HGet(ctx, s.metaKey(ns), fieldDimensions).Int()
	if err != nil && err != redis.Nil {
		return redisErr("vector.upsert", err)
	}
	if dims, err = checkDimensions(records, dims); err != nil {
		return err
	}
	values := make(map[string]any, len(records))
	for _, r := range records {
		b, err := json.Marshal(redisRecord{Chunk: r.Chunk, Vector: r.Vector})
		if err != nil {
			return fmt.Errorf("failed to encode chunk %s: %w", r.Chunk.ID, err)
		}
		values[r.Chunk.ID] = b
	}
	_, err = s.cli.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSetNX(ctx, s.metaKey(ns), fieldDimensions, dims)
		p.HSet(ctx, s.recordsKey(ns), values)
		return nil
	})
	return redisErr("vector.upsert", err)
}

// Query scores every record of ns against vector and returns the top k.
func (s *RedisStore) Query(ctx context.Context, ns string, vector []float32, k int) ([]*models.RetrievalResult, error) {
	if err := checkNamespace("vector.query", ns); err != nil {
		return nil, err
	}
	raw, err := s.cli.HGetAll(ctx, s.recordsKey(ns)).Result()
	if err != nil {
		return nil, redisErr("vector.query", err)
	}
	if len(raw) == 0 {
		return nil, nil
	}
	records := make([]models.Record, 0, len(raw))
	for id, v := range raw {
		var rec redisRecord
		if err := json.Unmarshal([]byte(v), &rec); err != nil {
			return nil, fmt.Errorf("failed to decode chunk %s: %w", id, err)
		}
		if len(rec.Vector) != len(vector) {
			return nil, fmt.Errorf("query dimension mismatch: got %d, expected %d", len(vector), len(rec.Vector))
		}
		records = append(records, models.Record{Chunk: rec.Chunk, Vector: rec.Vector})
	}
	return scoreRecords(records, vector, k), nil
}

// Seal marks ns complete.
func (s *RedisStore) Seal(ctx context.Context, ns string, expected int) error {
	if err := checkNamespace("vector.seal", ns); err != nil {
		return err
	}
	exists, err := s.cli.Exists(ctx, s.metaKey(ns)).Result()
	if err != nil {
		return redisErr("vector.seal", err)
	}
	if exists == 0 {
		return fmt.Errorf("namespace %s does not exist", ns)
	}
	err = s.cli.HSet(ctx, s.metaKey(ns), fieldExpected, expected, fieldSealed, "1").Err()
	return redisErr("vector.seal", err)
}

// DeleteNamespace removes both hashes of ns.
func (s *RedisStore) DeleteNamespace(ctx context.Context, ns string) error {
	if err := checkNamespace("vector.delete", ns); err != nil {
		return err
	}
	return redisErr("vector.delete", s.cli.Del(ctx, s.metaKey(ns), s.recordsKey(ns)).Err())
}

// Close closes the Redis client connection.
func (s *RedisStore) Close() error {
	return s.cli.Close()
}
