package lookup

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mohammed-shakir/manning-roughness/internal/core/errs"
	"github.com/mohammed-shakir/manning-roughness/internal/core/model"
	"github.com/mohammed-shakir/manning-roughness/internal/logger"
)

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestLoad_ShippedTables(t *testing.T) {
	l, err := NewLoader(filepath.Join("..", "..", "lookups"), nil, 0)
	if err != nil {
		t.Fatal(err)
	}
	for _, c := range []model.RoughnessClass{model.ClassLow, model.ClassMedium, model.ClassHigh} {
		tbl, err := l.Load(context.Background(), c)
		if err != nil {
			t.Fatalf("%v: %v", c, err)
		}
		if len(tbl) == 0 {
			t.Fatalf("%v: empty table", c)
		}
		for _, e := range tbl {
			if e.Value <= 0 {
				t.Fatalf("%v: non-positive n for code %d", c, e.Code)
			}
		}
	}
}

func TestLoad_OneWarningPerMalformedRowEveryLoad(t *testing.T) {
	body := strings.Join([]string{
		"\ufefflandcover,n",
		"10,0.1",
		"twenty,0.2",
		"",
		"30,abc",
		"40,0.4,extra",
		"50",
		"  60 , 0.06 \r",
	}, "\n")
	want := model.LookupTable{{Code: 10, Value: 0.1}, {Code: 60, Value: 0.06}}

	for _, class := range []model.RoughnessClass{model.ClassLow, model.ClassMedium, model.ClassHigh} {
		t.Run(class.String(), func(t *testing.T) {
			dir := t.TempDir()
			name, _ := class.FileName()
			writeFile(t, dir, name, body)

			var buf bytes.Buffer
			zl := logger.Build(logger.Config{Level: "debug"}, &buf)
			l, err := NewLoader(dir, logger.NewSlog(&zl), 4)
			if err != nil {
				t.Fatal(err)
			}
			// the second load is served from the cache and must report the same rows
			for i := 1; i <= 2; i++ {
				buf.Reset()
				tbl, err := l.Load(context.Background(), class)
				if err != nil {
					t.Fatalf("load %d: %v", i, err)
				}
				if len(tbl) != len(want) || tbl[0] != want[0] || tbl[1] != want[1] {
					t.Fatalf("load %d: table=%v want %v", i, tbl, want)
				}
				if n := strings.Count(buf.String(), "skipping invalid lookup row"); n != 4 {
					t.Fatalf("load %d: warnings=%d want 4\n%s", i, n, buf.String())
				}
			}
		})
	}
}

func TestFingerprint_FollowsFileContents(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "med_n.csv", "code,n\n10,0.1\n")
	l, err := NewLoader(dir, nil, 4)
	if err != nil {
		t.Fatal(err)
	}
	fp1, err := l.Fingerprint(model.ClassMedium)
	if err != nil {
		t.Fatal(err)
	}
	again, _ := l.Fingerprint(model.ClassMedium)
	if fp1 == "" || again != fp1 {
		t.Fatalf("fingerprint not stable: %q %q", fp1, again)
	}
	if err := os.WriteFile(p, []byte("code,n\n10,0.75\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	fp2, err := l.Fingerprint(model.ClassMedium)
	if err != nil || fp2 == fp1 {
		t.Fatalf("edited table kept fingerprint %q (err=%v)", fp2, err)
	}
	if _, err := l.Fingerprint(model.ClassHigh); !errors.Is(err, errs.ErrMissingResource) {
		t.Fatalf("missing table: err=%v", err)
	}
}

func TestLoad_MissingAndEmpty(t *testing.T) {
	dir := t.TempDir()
	l, _ := NewLoader(dir, nil, 0)

	_, err := l.Load(context.Background(), model.ClassHigh)
	if !errors.Is(err, errs.ErrMissingResource) || !strings.Contains(err.Error(), "high_n.csv") {
		t.Fatalf("err=%v want MissingResource naming the file", err)
	}

	writeFile(t, dir, "low_n.csv", "landcover,n\nx,y\n")
	_, err = l.Load(context.Background(), model.ClassLow)
	if !errors.Is(err, errs.ErrEmptyLookup) {
		t.Fatalf("err=%v want EmptyLookup", err)
	}

	writeFile(t, dir, "med_n.csv", "landcover,n\n")
	if _, err = l.Load(context.Background(), model.ClassMedium); !errors.Is(err, errs.ErrEmptyLookup) {
		t.Fatalf("header-only: err=%v want EmptyLookup", err)
	}

	if _, err = l.Load(context.Background(), model.RoughnessClass(9)); !errors.Is(err, errs.ErrInvalidInput) {
		t.Fatalf("bad class: err=%v want InvalidInput", err)
	}
}

func TestLoad_CacheInvalidatedOnChange(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "low_n.csv", "lc,n\n10,0.1\n")
	l, _ := NewLoader(dir, nil, 2)

	first, err := l.Load(context.Background(), model.ClassLow)
	if err != nil || len(first) != 1 {
		t.Fatalf("first=%v err=%v", first, err)
	}
	first[0].Value = 99 // callers get a copy

	again, _ := l.Load(context.Background(), model.ClassLow)
	if again[0].Value != 0.1 {
		t.Fatalf("cached table was mutated: %v", again)
	}

	writeFile(t, dir, "low_n.csv", "lc,n\n10,0.1\n20,0.2\n")
	later := time.Now().Add(2 * time.Second)
	if err := os.Chtimes(p, later, later); err != nil {
		t.Fatal(err)
	}
	changed, err := l.Load(context.Background(), model.ClassLow)
	if err != nil || len(changed) != 2 {
		t.Fatalf("changed=%v err=%v", changed, err)
	}
}

func TestPath_IsAbsolute(t *testing.T) {
	l, _ := NewLoader("lookups", nil, 0)
	p, err := l.Path(model.ClassMedium)
	if err != nil || !filepath.IsAbs(p) || filepath.Base(p) != "med_n.csv" {
		t.Fatalf("path=%q err=%v", p, err)
	}
}
