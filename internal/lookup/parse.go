package lookup

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/mohammed-shakir/manning-roughness/internal/core/model"
)

// WarnFunc receives one call per skipped row; line is 1-based and counts the header.
type WarnFunc func(line int, raw string, err error)

// Parse reads "code,value" rows after a header line. Malformed rows are
// reported through warn and skipped; blank lines are not rows. The returned
// error is non-nil only when r fails.
func Parse(r io.Reader, warn WarnFunc) (model.LookupTable, int, error) {
	sc := bufio.NewScanner(r)
	var (
		table   model.LookupTable
		skipped int
		line    int
	)
	for sc.Scan() {
		line++
		raw := sc.Text()
		if line == 1 {
			// header
			continue
		}
		text := strings.TrimSpace(strings.TrimSuffix(raw, "\r"))
		if text == "" {
			continue
		}
		entry, err := parseRow(text)
		if err != nil {
			skipped++
			if warn != nil {
				warn(line, text, err)
			}
			continue
		}
		table = append(table, entry)
	}
	if err := sc.Err(); err != nil {
		return nil, skipped, err
	}
	return table, skipped, nil
}

func parseRow(text string) (model.LookupEntry, error) {
	text = strings.TrimPrefix(text, "\ufeff")
	parts := strings.Split(text, ",")
	if len(parts) != 2 {
		return model.LookupEntry{}, fmt.Errorf("want 2 fields, got %d", len(parts))
	}
	code, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return model.LookupEntry{}, fmt.Errorf("land-cover code: %w", err)
	}
	value, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return model.LookupEntry{}, fmt.Errorf("roughness value: %w", err)
	}
	return model.LookupEntry{Code: code, Value: value}, nil
}
