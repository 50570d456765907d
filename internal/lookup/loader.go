// Package lookup loads the land-cover to Manning's n tables.
package lookup

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/cespare/xxhash/v2"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/mohammed-shakir/manning-roughness/internal/core/errs"
	"github.com/mohammed-shakir/manning-roughness/internal/core/model"
	"github.com/mohammed-shakir/manning-roughness/internal/core/observability"
)

const stage = "lookup"

// skippedRow is a malformed row, kept so cache hits report it again.
type skippedRow struct {
	line int
	raw  string
	err  error
}

type cached struct {
	table   model.LookupTable
	skipped []skippedRow
	modTime time.Time
	size    int64
}

// Loader resolves a roughness class to its table file and parses it.
// Parsed tables are cached until the file changes on disk.
type Loader struct {
	dir   string
	log   *slog.Logger
	cache *lru.Cache[string, cached]
}

func NewLoader(dir string, log *slog.Logger, cacheSize int) (*Loader, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, errs.Wrap(errs.KindConfiguration, stage, dir, err)
	}
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	l := &Loader{dir: abs, log: log}
	if cacheSize > 0 {
		c, err := lru.New[string, cached](cacheSize)
		if err != nil {
			return nil, errs.Wrap(errs.KindConfiguration, stage, dir, err)
		}
		l.cache = c
	}
	return l, nil
}

func (l *Loader) Dir() string { return l.dir }

// Path is the absolute table path for class.
func (l *Loader) Path(class model.RoughnessClass) (string, error) {
	name, err := class.FileName()
	if err != nil {
		return "", errs.Wrap(errs.KindInvalidInput, stage, "", err)
	}
	return filepath.Join(l.dir, name), nil
}

// Load returns the table for class. A missing file is MissingResource and a
// table without valid rows is EmptyLookup.
func (l *Loader) Load(ctx context.Context, class model.RoughnessClass) (model.LookupTable, error) {
	path, err := l.Path(class)
	if err != nil {
		return nil, err
	}
	st, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, errs.New(errs.KindMissingResource, stage, path, "lookup table not found")
		}
		return nil, errs.Wrap(errs.KindMissingResource, stage, path, err)
	}

	if l.cache != nil {
		if c, ok := l.cache.Get(path); ok && c.modTime.Equal(st.ModTime()) && c.size == st.Size() {
			l.reportSkipped(ctx, path, c.skipped)
			l.log.DebugContext(ctx, "lookup table from cache", "file", path, "rows", len(c.table))
			return clone(c.table), nil
		}
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, errs.Wrap(errs.KindMissingResource, stage, path, err)
	}
	defer f.Close()

	base := filepath.Base(path)
	var bad []skippedRow
	table, skipped, err := Parse(f, func(line int, raw string, perr error) {
		bad = append(bad, skippedRow{line: line, raw: raw, err: perr})
	})
	if err != nil {
		return nil, errs.Wrap(errs.KindMissingResource, stage, path, fmt.Errorf("read lookup table: %w", err))
	}
	l.reportSkipped(ctx, path, bad)
	if len(table) == 0 {
		return nil, errs.Newf(errs.KindEmptyLookup, stage, path, "lookup table %s is empty or malformed", base)
	}

	l.log.InfoContext(ctx, "lookup table loaded", "file", path, "rows", len(table), "skipped", skipped)
	if l.cache != nil {
		l.cache.Add(path, cached{table: clone(table), skipped: bad, modTime: st.ModTime(), size: st.Size()})
	}
	return table, nil
}

// reportSkipped logs one warning per malformed row. Every load reports
// them, cached or not.
func (l *Loader) reportSkipped(ctx context.Context, path string, rows []skippedRow) {
	for _, r := range rows {
		l.log.WarnContext(ctx, "skipping invalid lookup row",
			"file", path, "line", r.line, "row", r.raw, "err", r.err)
	}
	observability.AddLookupRowsSkipped(filepath.Base(path), len(rows))
}

// Fingerprint hashes the table file of class. It changes whenever the
// file's contents do.
func (l *Loader) Fingerprint(class model.RoughnessClass) (string, error) {
	path, err := l.Path(class)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", errs.New(errs.KindMissingResource, stage, path, "lookup table not found")
		}
		return "", errs.Wrap(errs.KindMissingResource, stage, path, err)
	}
	return fmt.Sprintf("%016x", xxhash.Sum64(data)), nil
}

func clone(t model.LookupTable) model.LookupTable {
	out := make(model.LookupTable, len(t))
	copy(out, t)
	return out
}
