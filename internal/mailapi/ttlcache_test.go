package mailapi

import (
	"testing"
	"time"
)

func TestTTLCacheSetGet(t *testing.T) {
	c := newTTLCache(time.Minute)

	if _, ok := c.get("accounts"); ok {
		t.Fatal("get on empty cache returned a value")
	}
	c.set("accounts", []string{"a", "b"})
	v, ok := c.get("accounts")
	if !ok {
		t.Fatal("get after set missed")
	}
	if got := v.([]string); len(got) != 2 || got[0] != "a" {
		t.Errorf("cached value = %v", got)
	}
}

func TestTTLCacheExpiry(t *testing.T) {
	c := newTTLCache(time.Nanosecond)
	c.set("accounts", "stale")
	time.Sleep(time.Millisecond)

	if v, ok := c.get("accounts"); ok {
		t.Errorf("expired entry still served: %v", v)
	}
}

func TestTTLCacheInvalidate(t *testing.T) {
	c := newTTLCache(time.Minute)
	c.set("accounts", "v1")
	c.set("mailboxes:acc-1", "v2")

	c.invalidate("accounts")

	if _, ok := c.get("accounts"); ok {
		t.Error("invalidated entry still served")
	}
	if _, ok := c.get("mailboxes:acc-1"); !ok {
		t.Error("unrelated entry evicted")
	}
}
