// Package expression turns a lookup table into a single raster-calculator
// formula over band A.
package expression

import (
	"slices"
	"strconv"
	"strings"

	"github.com/mohammed-shakir/manning-roughness/internal/core/errs"
	"github.com/mohammed-shakir/manning-roughness/internal/core/model"
)

const stage = "expression"

type Options struct {
	Duplicates model.DuplicatePolicy
	Unmatched  model.UnmatchedPolicy
	NoData     float64
}

func DefaultOptions() Options {
	return Options{
		Duplicates: model.DuplicateLast,
		Unmatched:  model.UnmatchedNoData,
		NoData:     model.RoughnessNoData,
	}
}

// Term is one "(A == Code) * Value" summand.
type Term struct {
	Code  int
	Value float64
}

func (t Term) String() string {
	return "(A == " + strconv.Itoa(t.Code) + ") * " + num(t.Value)
}

type Expression struct {
	terms      []Term
	codes      []int
	duplicates []int
	unmatched  model.UnmatchedPolicy
	nodata     float64
}

// Build is pure: the same table and options always give the same formula.
func Build(table model.LookupTable, opts Options) (Expression, error) {
	if len(table) == 0 {
		return Expression{}, errs.New(errs.KindEmptyLookup, stage, "", "no lookup rows to build an expression from")
	}
	if opts.Duplicates == "" {
		opts.Duplicates = model.DuplicateLast
	}
	if opts.Unmatched == "" {
		opts.Unmatched = model.UnmatchedNoData
	}

	first := make(map[int]int, len(table))
	var (
		terms []Term
		codes []int
		dups  []int
	)
	for _, e := range table {
		i, seen := first[e.Code]
		if seen {
			if !slices.Contains(dups, e.Code) {
				dups = append(dups, e.Code)
			}
			switch opts.Duplicates {
			case model.DuplicateReject:
				return Expression{}, errs.Newf(errs.KindInvalidInput, stage, "", "land-cover code %d appears more than once", e.Code)
			case model.DuplicateLast:
				terms[i].Value = e.Value
				continue
			case model.DuplicateSum:
				terms = append(terms, Term{Code: e.Code, Value: e.Value})
				continue
			default:
				return Expression{}, errs.Newf(errs.KindConfiguration, stage, "", "unknown duplicate policy %q", opts.Duplicates)
			}
		}
		first[e.Code] = len(terms)
		terms = append(terms, Term{Code: e.Code, Value: e.Value})
		codes = append(codes, e.Code)
	}

	switch opts.Unmatched {
	case model.UnmatchedNoData, model.UnmatchedZero:
	default:
		return Expression{}, errs.Newf(errs.KindConfiguration, stage, "", "unknown unmatched policy %q", opts.Unmatched)
	}

	return Expression{
		terms:      terms,
		codes:      codes,
		duplicates: dups,
		unmatched:  opts.Unmatched,
		nodata:     opts.NoData,
	}, nil
}

// Formula renders the expression for a numpy-style raster calculator.
// Under the nodata policy the sum is wrapped in where(mask, sum, nodata).
func (e Expression) Formula() string {
	var b strings.Builder
	for i, t := range e.terms {
		if i > 0 {
			b.WriteString(" + ")
		}
		b.WriteString(t.String())
	}
	sum := b.String()
	if e.unmatched != model.UnmatchedNoData {
		return sum
	}

	var m strings.Builder
	for i, c := range e.codes {
		if i > 0 {
			m.WriteString(" | ")
		}
		m.WriteString("(A == ")
		m.WriteString(strconv.Itoa(c))
		m.WriteString(")")
	}
	return "where(" + m.String() + ", " + sum + ", " + num(e.nodata) + ")"
}

func (e Expression) String() string { return e.Formula() }

// Eval computes the pixel value for a land-cover code with the same
// semantics as Formula.
func (e Expression) Eval(code int) float64 {
	var (
		v       float64
		matched bool
	)
	for _, t := range e.terms {
		if t.Code == code {
			v += t.Value
			matched = true
		}
	}
	if !matched && e.unmatched == model.UnmatchedNoData {
		return e.nodata
	}
	return v
}

func (e Expression) Terms() []Term {
	out := make([]Term, len(e.terms))
	copy(out, e.terms)
	return out
}

// Codes lists each distinct code in first-seen order.
func (e Expression) Codes() []int {
	out := make([]int, len(e.codes))
	copy(out, e.codes)
	return out
}

// DuplicateCodes lists codes that occurred more than once in the table.
func (e Expression) DuplicateCodes() []int {
	out := make([]int, len(e.duplicates))
	copy(out, e.duplicates)
	return out
}

func (e Expression) NoData() float64 { return e.nodata }

func (e Expression) Unmatched() model.UnmatchedPolicy { return e.unmatched }

func (e Expression) Empty() bool { return len(e.terms) == 0 }

func num(v float64) string { return strconv.FormatFloat(v, 'g', -1, 64) }
