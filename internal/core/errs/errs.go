// Package errs defines the failure kinds a roughness run can end with.
package errs

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

type Kind int

const (
	KindUnknown Kind = iota
	KindInvalidInput
	KindMissingResource
	KindEmptyLookup
	KindReprojection
	KindExternalTool
	KindConfiguration
	KindTimeout
	KindCanceled
)

var kindNames = map[Kind]string{
	KindUnknown:         "unknown",
	KindInvalidInput:    "invalid_input",
	KindMissingResource: "missing_resource",
	KindEmptyLookup:     "empty_lookup",
	KindReprojection:    "reprojection",
	KindExternalTool:    "external_tool",
	KindConfiguration:   "configuration",
	KindTimeout:         "timeout",
	KindCanceled:        "canceled",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Sentinels for errors.Is; they match any *Error of the same kind.
var (
	ErrInvalidInput    = &Error{Kind: KindInvalidInput}
	ErrMissingResource = &Error{Kind: KindMissingResource}
	ErrEmptyLookup     = &Error{Kind: KindEmptyLookup}
	ErrReprojection    = &Error{Kind: KindReprojection}
	ErrExternalTool    = &Error{Kind: KindExternalTool}
	ErrConfiguration   = &Error{Kind: KindConfiguration}
	ErrTimeout         = &Error{Kind: KindTimeout}
	ErrCanceled        = &Error{Kind: KindCanceled}
)

// Error is a classified failure. Stage names the pipeline step and Path the
// resource involved, either may be empty.
type Error struct {
	Kind  Kind
	Stage string
	Path  string
	Msg   string
	Err   error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Stage != "" {
		b.WriteString(e.Stage)
		b.WriteString(": ")
	}
	b.WriteString(e.Kind.String())
	if e.Msg != "" {
		b.WriteString(": ")
		b.WriteString(e.Msg)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	if e.Path != "" {
		fmt.Fprintf(&b, " (path=%s)", e.Path)
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Stage == "" && t.Path == "" && t.Msg == "" && t.Err == nil
}

func New(kind Kind, stage, path, msg string) *Error {
	return &Error{Kind: kind, Stage: stage, Path: path, Msg: msg}
}

func Newf(kind Kind, stage, path, format string, args ...any) *Error {
	return &Error{Kind: kind, Stage: stage, Path: path, Msg: fmt.Sprintf(format, args...)}
}

func Wrap(kind Kind, stage, path string, err error) *Error {
	return &Error{Kind: kind, Stage: stage, Path: path, Err: err}
}

// WithStage fills the stage of a classified error that does not name one yet.
// Unclassified errors become KindUnknown.
func WithStage(err error, stage string) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		if e.Stage != "" {
			return err
		}
		cp := *e
		cp.Stage = stage
		return &cp
	}
	return &Error{Kind: KindUnknown, Stage: stage, Err: err}
}

// KindOf returns the kind of the first classified error in the chain. Bare
// context errors map to Timeout and Canceled.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.Is(err, context.Canceled):
		return KindCanceled
	}
	return KindUnknown
}
