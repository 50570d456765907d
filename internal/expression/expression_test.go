package expression

import (
	"errors"
	"testing"

	"github.com/mohammed-shakir/manning-roughness/internal/core/errs"
	"github.com/mohammed-shakir/manning-roughness/internal/core/model"
)

var threeClass = model.LookupTable{{Code: 10, Value: 0.1}, {Code: 20, Value: 0.2}, {Code: 30, Value: 0.3}}

func TestFormula_ZeroPolicyMatchesAdditiveForm(t *testing.T) {
	e, err := Build(threeClass, Options{Unmatched: model.UnmatchedZero})
	if err != nil {
		t.Fatal(err)
	}
	want := "(A == 10) * 0.1 + (A == 20) * 0.2 + (A == 30) * 0.3"
	if got := e.Formula(); got != want {
		t.Fatalf("formula=%q want %q", got, want)
	}
	if e.Eval(40) != 0 {
		t.Fatalf("unmatched code must be zero under zero policy")
	}
}

func TestFormula_NoDataPolicyWrapsSum(t *testing.T) {
	e, err := Build(threeClass, DefaultOptions())
	if err != nil {
		t.Fatal(err)
	}
	want := "where((A == 10) | (A == 20) | (A == 30), (A == 10) * 0.1 + (A == 20) * 0.2 + (A == 30) * 0.3, -9999)"
	if got := e.Formula(); got != want {
		t.Fatalf("formula=%q\nwant     %q", got, want)
	}
	cases := map[int]float64{10: 0.1, 20: 0.2, 30: 0.3, 0: -9999, 40: -9999}
	for code, v := range cases {
		if got := e.Eval(code); got != v {
			t.Fatalf("Eval(%d)=%v want %v", code, got, v)
		}
	}
}

func TestBuild_Idempotent(t *testing.T) {
	a, _ := Build(threeClass, DefaultOptions())
	b, _ := Build(threeClass, DefaultOptions())
	if a.Formula() != b.Formula() {
		t.Fatalf("formula not byte-identical across builds")
	}
}

func TestBuild_DuplicatePolicies(t *testing.T) {
	tbl := model.LookupTable{{Code: 10, Value: 0.1}, {Code: 20, Value: 0.2}, {Code: 10, Value: 0.15}}

	last, err := Build(tbl, Options{Duplicates: model.DuplicateLast, Unmatched: model.UnmatchedZero})
	if err != nil {
		t.Fatal(err)
	}
	if got := last.Formula(); got != "(A == 10) * 0.15 + (A == 20) * 0.2" {
		t.Fatalf("last formula=%q", got)
	}
	if last.Eval(10) != 0.15 {
		t.Fatalf("last Eval(10)=%v", last.Eval(10))
	}
	if d := last.DuplicateCodes(); len(d) != 1 || d[0] != 10 {
		t.Fatalf("duplicates=%v", d)
	}

	sum, err := Build(tbl, Options{Duplicates: model.DuplicateSum, Unmatched: model.UnmatchedZero})
	if err != nil {
		t.Fatal(err)
	}
	if got := sum.Formula(); got != "(A == 10) * 0.1 + (A == 20) * 0.2 + (A == 10) * 0.15" {
		t.Fatalf("sum formula=%q", got)
	}
	if got := sum.Eval(10); got < 0.2499 || got > 0.2501 {
		t.Fatalf("sum Eval(10)=%v want 0.25", got)
	}
	if codes := sum.Codes(); len(codes) != 2 {
		t.Fatalf("codes=%v", codes)
	}

	_, err = Build(tbl, Options{Duplicates: model.DuplicateReject})
	if !errors.Is(err, errs.ErrInvalidInput) {
		t.Fatalf("reject: err=%v", err)
	}
}

func TestBuild_EmptyTable(t *testing.T) {
	if _, err := Build(nil, DefaultOptions()); !errors.Is(err, errs.ErrEmptyLookup) {
		t.Fatalf("err=%v", err)
	}
}

func TestFormula_ShortestValueForm(t *testing.T) {
	e, _ := Build(model.LookupTable{{Code: 50, Value: 0.0150}, {Code: 80, Value: 1e-05}}, Options{Unmatched: model.UnmatchedZero})
	if got := e.Formula(); got != "(A == 50) * 0.015 + (A == 80) * 1e-05" {
		t.Fatalf("formula=%q", got)
	}
}
