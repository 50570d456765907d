// Package keys builds the Redis key scheme for cached runs and the cell index.
package keys

import (
	"fmt"
	"strings"

	"github.com/cespare/xxhash/v2"

	"github.com/mohammed-shakir/manning-roughness/internal/core/model"
)

const maxSourceLen = 96

// RunParams are the inputs that determine a run's outputs.
type RunParams struct {
	Class      model.RoughnessClass
	Source     string
	Extent     model.Extent
	Unmatched  model.UnmatchedPolicy
	Duplicates model.DuplicatePolicy
	Vector     bool
	LandCover  bool
	// Lookup fingerprints the contents of the class's lookup table.
	Lookup string
}

// Canonical is the text the run key hash is computed over.
func (p RunParams) Canonical() string {
	e := p.Extent
	return fmt.Sprintf("class=%s|source=%s|extent=%.9f,%.9f,%.9f,%.9f|crs=%s|unmatched=%s|dups=%s|vector=%t|landcover=%t|lookup=%s",
		p.Class, normalizeSource(p.Source),
		e.XMin, e.YMin, e.XMax, e.YMax, model.NormalizeCRS(e.CRS),
		p.Unmatched, p.Duplicates, p.Vector, p.LandCover, p.Lookup)
}

// RunKey identifies a cached run result.
func RunKey(p RunParams) string {
	sum := xxhash.Sum64String(p.Canonical())
	return fmt.Sprintf("run:%s:%s:r=%016x", p.Class, SourceTag(p.Source), sum)
}

// CellIndexKey names the set of run keys whose extent touches cell.
func CellIndexKey(source string, res int, cell string) string {
	return fmt.Sprintf("idx:%s:%d:%s", SourceTag(source), res, strings.TrimSpace(cell))
}

// SourceTag is a short key-safe label for a land-cover source followed by a
// hash of the full normalized name, so truncation never merges two sources.
func SourceTag(source string) string {
	norm := normalizeSource(source)
	safe := sanitizeForKey(norm)
	if len(safe) > maxSourceLen {
		safe = safe[len(safe)-maxSourceLen:]
	}
	return fmt.Sprintf("%s@%08x", safe, uint32(xxhash.Sum64String(norm)))
}

func normalizeSource(s string) string {
	return collapseASCIIWhitespace(strings.TrimSpace(s))
}

func sanitizeForKey(s string) string {
	if s == "" {
		return ""
	}
	var b strings.Builder
	b.Grow(len(s))

	var prev rune
	for _, r := range s {
		var out rune
		switch {
		case isASCIIWhitespace(r):
			out = '_'
		case isAlphaNum(r) || r == '_' || r == '-' || r == '.':
			out = r
		default:
			// separators, path characters and non-ASCII
			out = '-'
		}
		if (out == '_' || out == '-') && out == prev {
			continue
		}
		b.WriteRune(out)
		prev = out
	}
	return b.String()
}

// converts any run of ASCII whitespace to a single space.
func collapseASCIIWhitespace(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	wasWS := false
	for _, r := range s {
		if isASCIIWhitespace(r) {
			if !wasWS {
				b.WriteByte(' ')
				wasWS = true
			}
			continue
		}
		b.WriteRune(r)
		wasWS = false
	}
	return strings.TrimSpace(b.String())
}

func isASCIIWhitespace(r rune) bool {
	return r == ' ' || r == '\t' || r == '\n' || r == '\r' || r == '\v' || r == '\f'
}

func isAlphaNum(r rune) bool {
	return (r >= 'a' && r <= 'z') ||
		(r >= 'A' && r <= 'Z') ||
		(r >= '0' && r <= '9')
}
