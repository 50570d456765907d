package cellindex

import (
	"context"
	"sort"
	"strings"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"

	"github.com/mohammed-shakir/manning-roughness/internal/cache/keys"
	"github.com/mohammed-shakir/manning-roughness/internal/cache/redisstore"
)

const source = "/data/esa_worldcover_2021.vrt"

func newMini(t *testing.T) (*redisstore.Client, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	t.Cleanup(cancel)

	cli, err := redisstore.New(ctx, mr.Addr())
	if err != nil {
		t.Fatalf("redisstore.New: %v", err)
	}
	t.Cleanup(func() { _ = cli.Close() })

	return cli, mr
}

func TestRedisCellIndex_AddAndUnion(t *testing.T) {
	cli, mr := newMini(t)
	idx := NewRedisIndex(cli)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	t.Cleanup(cancel)

	ttl := 2 * time.Minute
	if err := idx.Add(ctx, source, 7, []string{"c1", "c2", "c1"}, "run:A", ttl); err != nil {
		t.Fatalf("Add A: %v", err)
	}
	if err := idx.Add(ctx, source, 7, []string{"c2", "c3"}, "run:B", ttl); err != nil {
		t.Fatalf("Add B: %v", err)
	}

	got, err := idx.RunKeys(ctx, source, 7, []string{"c2"})
	if err != nil {
		t.Fatalf("RunKeys: %v", err)
	}
	sort.Strings(got)
	if strings.Join(got, ",") != "run:A,run:B" {
		t.Fatalf("RunKeys(c2)=%v", got)
	}

	got, err = idx.RunKeys(ctx, source, 7, []string{"c3", "c9"})
	if err != nil {
		t.Fatalf("RunKeys: %v", err)
	}
	if len(got) != 1 || got[0] != "run:B" {
		t.Fatalf("RunKeys(c3,c9)=%v", got)
	}

	k := keys.CellIndexKey(source, 7, "c1")
	if tt := mr.TTL(k); tt <= 0 || tt > ttl {
		t.Fatalf("unexpected TTL for key %q: %v", k, tt)
	}
}

func TestRedisCellIndex_SourcesAndResolutionsAreSeparate(t *testing.T) {
	cli, _ := newMini(t)
	idx := NewRedisIndex(cli)
	ctx := context.Background()

	if err := idx.Add(ctx, source, 7, []string{"c1"}, "run:A", time.Minute); err != nil {
		t.Fatalf("Add: %v", err)
	}
	for _, tc := range []struct {
		source string
		res    int
	}{{"/data/other.tif", 7}, {source, 8}} {
		got, err := idx.RunKeys(ctx, tc.source, tc.res, []string{"c1"})
		if err != nil {
			t.Fatalf("RunKeys: %v", err)
		}
		if len(got) != 0 {
			t.Fatalf("%s res=%d leaked keys %v", tc.source, tc.res, got)
		}
	}
}

func TestRedisCellIndex_DropRemovesEntries(t *testing.T) {
	cli, mr := newMini(t)
	idx := NewRedisIndex(cli)
	ctx := context.Background()

	if err := idx.Add(ctx, source, 7, []string{"c1", "c2"}, "run:A", time.Minute); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := idx.Drop(ctx, source, 7, []string{"c1"}); err != nil {
		t.Fatalf("Drop: %v", err)
	}
	if mr.Exists(keys.CellIndexKey(source, 7, "c1")) {
		t.Fatalf("c1 entry should be gone")
	}
	if !mr.Exists(keys.CellIndexKey(source, 7, "c2")) {
		t.Fatalf("c2 entry should remain")
	}
	if err := idx.Drop(ctx, source, 7, nil); err != nil {
		t.Fatalf("Drop nothing: %v", err)
	}
}

func TestRedisCellIndex_RejectsEmptyRunKey(t *testing.T) {
	cli, _ := newMini(t)
	idx := NewRedisIndex(cli)
	if err := idx.Add(context.Background(), source, 7, []string{"c1"}, "", time.Minute); err == nil {
		t.Fatalf("expected error for empty run key")
	}
}
