package toolkit

import (
	"context"
	"errors"
	"time"

	"github.com/mohammed-shakir/manning-roughness/internal/core/errs"
	"github.com/mohammed-shakir/manning-roughness/internal/core/model"
	"github.com/mohammed-shakir/manning-roughness/internal/core/observability"
)

type guarded struct {
	svc     Service
	timeout time.Duration
}

// Guard bounds every call of svc by timeout, classifies failures, records
// call durations and checks that raster and vector outputs exist. A call
// that ignores its context is abandoned once the deadline passes.
func Guard(svc Service, timeout time.Duration) Service {
	return &guarded{svc: svc, timeout: timeout}
}

func (g *guarded) Name() string { return g.svc.Name() }

func (g *guarded) Reproject(ctx context.Context, a model.AOI, target string) (model.AOI, error) {
	out, err := call(ctx, ToolReproject, g.timeout, func(ctx context.Context) (model.AOI, error) {
		return g.svc.Reproject(ctx, a, target)
	})
	if err != nil {
		return model.AOI{}, err
	}
	if out.Geometry == nil {
		return model.AOI{}, errs.Newf(errs.KindReprojection, ToolReproject, a.Source, "reprojection to %s returned no geometry", target)
	}
	return out, nil
}

func (g *guarded) Clip(ctx context.Context, req ClipRequest) (string, error) {
	return callFile(ctx, ToolClip, g.timeout, func(ctx context.Context) (string, error) {
		return g.svc.Clip(ctx, req)
	})
}

func (g *guarded) Calc(ctx context.Context, req CalcRequest) (string, error) {
	return callFile(ctx, ToolCalc, g.timeout, func(ctx context.Context) (string, error) {
		return g.svc.Calc(ctx, req)
	})
}

func (g *guarded) Polygonize(ctx context.Context, req PolygonizeRequest) (string, error) {
	return callFile(ctx, ToolPolygonize, g.timeout, func(ctx context.Context) (string, error) {
		return g.svc.Polygonize(ctx, req)
	})
}

func callFile(ctx context.Context, tool string, timeout time.Duration, fn func(context.Context) (string, error)) (string, error) {
	path, err := call(ctx, tool, timeout, fn)
	if err != nil {
		return "", err
	}
	if err := VerifyOutput(tool, path); err != nil {
		return "", err
	}
	return path, nil
}

type result[T any] struct {
	v   T
	err error
}

func call[T any](ctx context.Context, tool string, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	start := time.Now()

	cctx, cancel := ctx, context.CancelFunc(func() {})
	if timeout > 0 {
		cctx, cancel = context.WithTimeout(ctx, timeout)
	}
	defer cancel()

	ch := make(chan result[T], 1)
	go func() {
		v, err := fn(cctx)
		ch <- result[T]{v: v, err: err}
	}()

	var r result[T]
	select {
	case r = <-ch:
	case <-cctx.Done():
		r = result[T]{err: cctx.Err()}
	}

	err := classify(ctx, cctx, tool, timeout, r.err)
	observability.ObserveToolCall(tool, outcome(err), time.Since(start).Seconds())
	if err != nil {
		return zero, err
	}
	return r.v, nil
}

func classify(parent, cctx context.Context, tool string, timeout time.Duration, err error) error {
	if err == nil {
		return nil
	}
	if parent.Err() != nil {
		return errs.Wrap(errs.KindCanceled, tool, "", parent.Err())
	}
	if errors.Is(cctx.Err(), context.DeadlineExceeded) {
		return errs.Newf(errs.KindTimeout, tool, "", "%s did not finish within %s", tool, timeout)
	}
	if k := errs.KindOf(err); k != errs.KindUnknown {
		var e *errs.Error
		if errors.As(err, &e) {
			return errs.WithStage(err, tool)
		}
		return errs.Wrap(k, tool, "", err)
	}
	if tool == ToolReproject {
		return errs.Wrap(errs.KindReprojection, tool, "", err)
	}
	return errs.Wrap(errs.KindExternalTool, tool, "", err)
}

func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	return errs.KindOf(err).String()
}
