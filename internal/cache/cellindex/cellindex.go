// Package cellindex maps H3 cells to the cached runs whose extent touches them.
package cellindex

import (
	"context"
	"fmt"
	"time"

	"github.com/mohammed-shakir/manning-roughness/internal/cache"
	"github.com/mohammed-shakir/manning-roughness/internal/cache/keys"
)

type CellIndex interface {
	// Add records runKey under every cell.
	Add(ctx context.Context, source string, res int, cells []string, runKey string, ttl time.Duration) error

	// RunKeys returns the unique run keys recorded under any of cells.
	RunKeys(ctx context.Context, source string, res int, cells []string) ([]string, error)

	// Drop removes the index entries of cells.
	Drop(ctx context.Context, source string, res int, cells []string) error
}

type redisCellIndex struct {
	cli cache.Store
}

func NewRedisIndex(cli cache.Store) CellIndex {
	return &redisCellIndex{cli: cli}
}

func (ci *redisCellIndex) Add(
	ctx context.Context,
	source string,
	res int,
	cells []string,
	runKey string,
	ttl time.Duration,
) error {
	if runKey == "" {
		return fmt.Errorf("cellindex: empty run key")
	}
	for _, cell := range uniq(cells) {
		key := keys.CellIndexKey(source, res, cell)
		if err := ci.cli.SAdd(ctx, key, []string{runKey}, ttl); err != nil {
			return fmt.Errorf("cellindex add %q: %w", key, err)
		}
	}
	return nil
}

func (ci *redisCellIndex) RunKeys(
	ctx context.Context,
	source string,
	res int,
	cells []string,
) ([]string, error) {
	idx := indexKeys(source, res, cells)
	if len(idx) == 0 {
		return nil, nil
	}
	members, err := ci.cli.SMembers(ctx, idx)
	if err != nil {
		return nil, fmt.Errorf("cellindex members: %w", err)
	}
	return uniq(members), nil
}

func (ci *redisCellIndex) Drop(ctx context.Context, source string, res int, cells []string) error {
	idx := indexKeys(source, res, cells)
	if len(idx) == 0 {
		return nil
	}
	if err := ci.cli.Del(ctx, idx...); err != nil {
		return fmt.Errorf("cellindex drop %d cells: %w", len(idx), err)
	}
	return nil
}

func indexKeys(source string, res int, cells []string) []string {
	cells = uniq(cells)
	out := make([]string, 0, len(cells))
	for _, c := range cells {
		out = append(out, keys.CellIndexKey(source, res, c))
	}
	return out
}

func uniq(xs []string) []string {
	out := make([]string, 0, len(xs))
	seen := make(map[string]struct{}, len(xs))
	for _, x := range xs {
		if x == "" {
			continue
		}
		if _, ok := seen[x]; ok {
			continue
		}
		seen[x] = struct{}{}
		out = append(out, x)
	}
	return out
}
