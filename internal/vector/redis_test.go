package vector

import (
	"context"
	"testing"

	"github.com/redis/go-redis/v9"

	"github.com/hyperjump/docchat/internal/apperr"
	"github.com/hyperjump/docchat/internal/models"
)

// unconnectedRedis returns a store whose client is never dialed by these tests.
func unconnectedRedis(t *testing.T) *RedisStore {
	t.Helper()
	s := NewRedisStoreWithClient(redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"}), "")
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestRedisStore_KeysNeverCollideAcrossNamespaces(t *testing.T) {
	s := unconnectedRedis(t)
	names := []string{"victim", "victim:records", "victim:rec", "victim:meta", "victim}:rec", "rec", "meta"}
	seen := make(map[string]string)
	for _, ns := range names {
		for _, key := range []string{s.metaKey(ns), s.recordsKey(ns)} {
			if prev, ok := seen[key]; ok {
				t.Errorf("key %q used by both %q and %q", key, prev, ns)
			}
			seen[key] = ns
		}
	}
	if got := s.metaKey("doc-1"); got != "docchat:{doc-1}:meta" {
		t.Errorf("metaKey = %q", got)
	}
	if got := s.recordsKey("doc-1"); got != "docchat:{doc-1}:rec" {
		t.Errorf("recordsKey = %q", got)
	}
}

func TestRedisStore_RejectsBracedNamespaces(t *testing.T) {
	s := unconnectedRedis(t)
	ctx := context.Background()
	for _, ns := range []string{"", "victim}:rec", "{victim}", "a{b"} {
		if _, err := s.NamespaceExists(ctx, ns); apperr.KindOf(err) != apperr.KindInvalidInput {
			t.Errorf("NamespaceExists(%q) = %v", ns, err)
		}
		if err := s.Upsert(ctx, ns, []models.Record{record("x", 0, 1)}); apperr.KindOf(err) != apperr.KindInvalidInput {
			t.Errorf("Upsert(%q) = %v", ns, err)
		}
		if err := s.DeleteNamespace(ctx, ns); apperr.KindOf(err) != apperr.KindInvalidInput {
			t.Errorf("DeleteNamespace(%q) = %v", ns, err)
		}
	}
}
