package cache

import (
	"context"
	"os"
	"testing"
)

func TestNewRedisClient_UnreachableFails(t *testing.T) {
	_, err := NewRedisClient(context.Background(), RedisOptions{Addr: "127.0.0.1:1"})
	if err == nil {
		t.Fatal("expected ping error")
	}
}

func TestNewRedisClient_SetsClientName(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}
	client, err := NewRedisClient(context.Background(), RedisOptions{Addr: addr, Password: os.Getenv("REDIS_PASSWORD"), ClientName: "linkd-test"})
	if err != nil {
		t.Skipf("skip: redis not available at %s: %v", addr, err)
	}
	defer client.Close()

	name, err := client.ClientGetName(context.Background()).Result()
	if err != nil {
		t.Fatalf("CLIENT GETNAME: %v", err)
	}
	if name != "linkd-test" {
		t.Fatalf("client name: got %q", name)
	}
}
