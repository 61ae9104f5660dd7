package utils

import (
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func TestConcurrencyScriptsCompile(t *testing.T) {
	if concurrencyAcquireScript == nil || concurrencyReleaseScript == nil {
		t.Fatalf("expected scripts to be initialized")
	}
}

func TestNewConcurrencyCap_Validates(t *testing.T) {
	if _, err := NewConcurrencyCap(nil, "p", 1, time.Second); err == nil {
		t.Fatalf("expected error for nil client")
	}
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	defer rdb.Close()
	if _, err := NewConcurrencyCap(rdb, "p", 0, time.Second); err == nil {
		t.Fatalf("expected error for zero limit")
	}
	c, err := NewConcurrencyCap(rdb, "transcode", 2, time.Minute)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if got := c.key("acct-1"); got != "transcode:acct-1" {
		t.Fatalf("unexpected key %q", got)
	}
}

func TestRedisConfig_DefaultsFitWebhookBudget(t *testing.T) {
	c := RedisConfig{Addr: "x"}.withDefaults()
	if c.ReadTimeout > time.Second || c.PoolTimeout > time.Second {
		t.Fatalf("redis timeouts exceed webhook budget: %+v", c)
	}
}
