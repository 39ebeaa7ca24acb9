package cache

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"testing"
	"time"

	"applinks.local/internal/app/applinks/deeplink"
	"applinks.local/internal/app/applinks/linkapi"
	"github.com/redis/go-redis/v9"
)

type countingRetriever struct {
	link  linkapi.Link
	err   error
	calls int
}

func (c *countingRetriever) RetrieveLink(context.Context, string) (linkapi.Link, error) {
	c.calls++
	return c.link, c.err
}

func newLocal(t *testing.T) *LocalCache {
	t.Helper()
	l, err := NewLocalCache(1000, 1<<20)
	if err != nil {
		t.Fatalf("NewLocalCache: %v", err)
	}
	t.Cleanup(l.Close)
	return l
}

func TestLinkCache_L1HitSkipsInnerAndDropsVisitID(t *testing.T) {
	inner := &countingRetriever{link: linkapi.Link{ID: "lnk_1", DeepLinkPath: "product/1", VisitID: "v_1"}}
	local := newLocal(t)
	c := NewLinkCache(inner, nil, local, nil)
	ctx := context.Background()

	first, err := c.RetrieveLink(ctx, "https://example.com/p")
	if err != nil {
		t.Fatalf("RetrieveLink#1: %v", err)
	}
	if first.VisitID != "v_1" {
		t.Fatalf("first call should return the live visit id, got %q", first.VisitID)
	}
	local.Wait()

	second, err := c.RetrieveLink(ctx, "https://example.com/p")
	if err != nil {
		t.Fatalf("RetrieveLink#2: %v", err)
	}
	if inner.calls != 1 {
		t.Fatalf("inner calls: got %d, want 1", inner.calls)
	}
	if second.DeepLinkPath != "product/1" || second.VisitID != "" {
		t.Fatalf("cached link: got %+v", second)
	}
}

func TestLinkCache_NegativeCacheAndUncachedErrors(t *testing.T) {
	local := newLocal(t)
	ctx := context.Background()

	missing := &countingRetriever{err: &linkapi.APIError{Kind: deeplink.ErrNotFound, Status: 404, Message: "Link not found"}}
	c := NewLinkCache(missing, nil, local, nil)
	c.RetrieveLink(ctx, "https://example.com/missing")
	local.Wait()
	if _, err := c.RetrieveLink(ctx, "https://example.com/missing"); !errors.Is(err, deeplink.ErrNotFound) {
		t.Fatalf("negative hit: got %v", err)
	}
	if missing.calls != 1 {
		t.Fatalf("404 should be cached, inner calls %d", missing.calls)
	}

	flaky := &countingRetriever{err: &linkapi.APIError{Kind: deeplink.ErrServer, Status: 503, Message: "Server error: 503"}}
	c = NewLinkCache(flaky, nil, local, nil)
	c.RetrieveLink(ctx, "https://example.com/flaky")
	local.Wait()
	c.RetrieveLink(ctx, "https://example.com/flaky")
	if flaky.calls != 2 {
		t.Fatalf("5xx must not be cached, inner calls %d", flaky.calls)
	}
}

func TestLinkCache_ExpiredLinksAreNotCached(t *testing.T) {
	past := time.Now().Add(-time.Minute)
	inner := &countingRetriever{link: linkapi.Link{ID: "old", ExpiresAt: &past}}
	local := newLocal(t)
	c := NewLinkCache(inner, nil, local, nil)
	ctx := context.Background()

	c.RetrieveLink(ctx, "https://example.com/old")
	local.Wait()
	c.RetrieveLink(ctx, "https://example.com/old")
	if inner.calls != 2 {
		t.Fatalf("inner calls: got %d, want 2", inner.calls)
	}
}

func TestLinkCache_RedisLayer(t *testing.T) {
	redisAddr := os.Getenv("REDIS_ADDR")
	if redisAddr == "" {
		redisAddr = "localhost:6379"
	}
	redisDB := 0
	if v := os.Getenv("REDIS_DB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			redisDB = n
		}
	}
	client := redis.NewClient(&redis.Options{Addr: redisAddr, Password: os.Getenv("REDIS_PASSWORD"), DB: redisDB})
	t.Cleanup(func() { _ = client.Close() })
	pingCtx, cancel := context.WithTimeout(context.Background(), 800*time.Millisecond)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		t.Skipf("skip: redis not available at %s: %v", redisAddr, err)
	}

	ctx := context.Background()
	u := "https://example.com/redis-" + strconv.FormatInt(time.Now().UnixNano(), 10)
	t.Cleanup(func() { _ = client.Del(context.Background(), keyPrefix+u).Err() })

	inner := &countingRetriever{link: linkapi.Link{ID: "lnk_r", DeepLinkPath: "r/1"}}
	c := NewLinkCache(inner, client, nil, nil)
	if _, err := c.RetrieveLink(ctx, u); err != nil {
		t.Fatalf("RetrieveLink#1: %v", err)
	}
	ttl := client.TTL(ctx, keyPrefix+u).Val()
	if ttl <= 0 || ttl > 10*time.Minute {
		t.Fatalf("unexpected ttl: %v", ttl)
	}

	got, err := c.RetrieveLink(ctx, u)
	if err != nil || got.ID != "lnk_r" || inner.calls != 1 {
		t.Fatalf("RetrieveLink#2: got %+v, %v, inner calls %d", got, err, inner.calls)
	}

	if err := c.Invalidate(ctx, u); err != nil {
		t.Fatalf("Invalidate: %v", err)
	}
	c.RetrieveLink(ctx, u)
	if inner.calls != 2 {
		t.Fatalf("after invalidate inner calls: got %d, want 2", inner.calls)
	}
}

func TestLocalCache_TTLCapAndHitRatio(t *testing.T) {
	l := newLocal(t)
	l.Set("k", []byte("v"), time.Hour)
	l.Wait()
	if got, ok := l.Get("k"); !ok || string(got) != "v" {
		t.Fatalf("Get: got %q, %v", got, ok)
	}
	if _, ok := l.Get("missing"); ok {
		t.Fatal("missing key should miss")
	}
	if r := l.HitRatio(); r <= 0 || r >= 1 {
		t.Fatalf("hit ratio: got %v, want between 0 and 1", r)
	}
	l.Del("k")
	l.Wait()
	if _, ok := l.Get("k"); ok {
		t.Fatal("deleted key should miss")
	}
}

func TestLinkCache_LogsThroughInjectedLogger(t *testing.T) {
	local := newLocal(t)
	local.Set(keyPrefix+"https://example.com/bad", []byte("{not json"), time.Minute)
	local.Wait()

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	inner := &countingRetriever{link: linkapi.Link{ID: "lnk_b"}}
	c := NewLinkCache(inner, nil, local, logger)

	got, err := c.RetrieveLink(context.Background(), "https://example.com/bad")
	if err != nil || got.ID != "lnk_b" || inner.calls != 1 {
		t.Fatalf("RetrieveLink: got %+v, %v, inner calls %d", got, err, inner.calls)
	}
	if !strings.Contains(buf.String(), "drop undecodable entry") {
		t.Fatalf("log output: got %q", buf.String())
	}
}
