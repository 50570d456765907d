package redisstore

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
)

func newMini(t *testing.T, opts ...Option) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	c, err := New(ctx, mr.Addr(), opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c, mr
}

func TestNew_RequiresReachableAddress(t *testing.T) {
	if _, err := New(context.Background(), ""); err == nil {
		t.Fatal("empty address accepted")
	}

	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := New(ctx, addr, WithTimeouts(100*time.Millisecond, 0)); err == nil {
		t.Fatal("connected to a stopped server")
	}
}

func TestOptions_OverrideDefaults(t *testing.T) {
	c, _ := newMini(t, WithPool(8, 1), WithTimeouts(0, 300*time.Millisecond))
	o := c.rdb.Options()
	if o.PoolSize != 8 || o.MinIdleConns != 1 {
		t.Fatalf("pool=%d idle=%d", o.PoolSize, o.MinIdleConns)
	}
	if o.DialTimeout != 2*time.Second {
		t.Fatalf("zero dial timeout replaced the default: %v", o.DialTimeout)
	}
	if o.ReadTimeout != 300*time.Millisecond || o.WriteTimeout != 300*time.Millisecond {
		t.Fatalf("read=%v write=%v", o.ReadTimeout, o.WriteTimeout)
	}
}

func TestRunEntries_MGetSkipsMissingKeys(t *testing.T) {
	c, mr := newMini(t)
	ctx := context.Background()

	entries := map[string]string{
		"run:aaaa": `{"run_id":"r1","class":"medium"}`,
		"run:bbbb": `{"run_id":"r2","class":"high"}`,
	}
	for k, v := range entries {
		if err := c.Set(ctx, k, []byte(v), time.Hour); err != nil {
			t.Fatalf("Set %s: %v", k, err)
		}
	}
	// index sets share the keyspace and must not be mistaken for entries
	if _, err := mr.SetAdd("idx:medium:7:871f", "run:aaaa"); err != nil {
		t.Fatal(err)
	}

	got, err := c.MGet(ctx, []string{"run:aaaa", "run:cccc", "run:bbbb"})
	if err != nil {
		t.Fatalf("MGet: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("MGet=%v want 2 entries", got)
	}
	for k, v := range entries {
		if string(got[k]) != v {
			t.Fatalf("%s=%q want %q", k, got[k], v)
		}
	}

	empty, err := c.MGet(ctx, nil)
	if err != nil || empty == nil || len(empty) != 0 {
		t.Fatalf("MGet(nil)=%v,%v", empty, err)
	}

	if err := c.Del(ctx, "run:aaaa", "run:cccc"); err != nil {
		t.Fatalf("Del: %v", err)
	}
	if mr.Exists("run:aaaa") || !mr.Exists("run:bbbb") {
		t.Fatal("Del removed the wrong keys")
	}
	if err := c.Del(ctx); err != nil {
		t.Fatalf("Del(): %v", err)
	}
}

func TestCanceledContext_FailsEveryCommand(t *testing.T) {
	c, _ := newMini(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := map[string]func() error{
		"set":  func() error { return c.Set(ctx, "run:x", []byte("v"), time.Minute) },
		"mget": func() error { _, err := c.MGet(ctx, []string{"run:x"}); return err },
		"del":  func() error { return c.Del(ctx, "run:x") },
		"sadd": func() error { return c.SAdd(ctx, "idx:x", []string{"run:x"}, time.Minute) },
		"sunion": func() error {
			_, err := c.SMembers(ctx, []string{"idx:x"})
			return err
		},
		"ping": func() error { return c.Ping(ctx) },
	}
	for name, call := range calls {
		if err := call(); err == nil {
			t.Fatalf("%s succeeded on a canceled context", name)
		}
	}
}
