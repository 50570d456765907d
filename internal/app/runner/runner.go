// Package runner composes one roughness run: cache lookup, pipeline, cache
// fill, history row and run-completed event.
package runner

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/mohammed-shakir/manning-roughness/internal/cache/keys"
	"github.com/mohammed-shakir/manning-roughness/internal/cache/runcache"
	"github.com/mohammed-shakir/manning-roughness/internal/core/errs"
	"github.com/mohammed-shakir/manning-roughness/internal/core/model"
	"github.com/mohammed-shakir/manning-roughness/internal/logger"
	"github.com/mohammed-shakir/manning-roughness/internal/pipeline"
	"github.com/mohammed-shakir/manning-roughness/internal/runevents"
	"github.com/mohammed-shakir/manning-roughness/internal/runstore"
)

type Pipeline interface {
	ResolveExtent(ctx context.Context, a model.AOI) (model.Extent, error)
	// LookupFingerprint identifies the current contents of the class's table.
	LookupFingerprint(class model.RoughnessClass) (string, error)
	Run(ctx context.Context, req pipeline.Request, fb pipeline.Feedback) (model.Result, error)
}

type RunCache interface {
	Get(ctx context.Context, key string) (runcache.Entry, bool, error)
	Put(ctx context.Context, e runcache.Entry) error
}

type History interface {
	Record(ctx context.Context, r runstore.Run) error
}

type Events interface {
	Publish(ev runevents.Event)
}

// Settings are the inputs besides the request that decide a run's outputs.
type Settings struct {
	Source     string
	Unmatched  model.UnmatchedPolicy
	Duplicates model.DuplicatePolicy
}

type Runner struct {
	pipe     Pipeline
	settings Settings
	cache    RunCache
	history  History
	events   Events
	log      *slog.Logger
	// bounds history writes, which run detached from the request context
	recordTimeout time.Duration
}

type Option func(*Runner)

func WithCache(c RunCache) Option { return func(r *Runner) { r.cache = c } }

func WithHistory(h History) Option { return func(r *Runner) { r.history = h } }

func WithEvents(e Events) Option { return func(r *Runner) { r.events = e } }

func WithLogger(l *slog.Logger) Option { return func(r *Runner) { r.log = l } }

func New(p Pipeline, s Settings, opts ...Option) *Runner {
	r := &Runner{
		pipe:          p,
		settings:      s,
		log:           slog.New(slog.DiscardHandler),
		recordTimeout: 2 * time.Second,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

type Response struct {
	RunID  string        `json:"run_id"`
	Cached bool          `json:"cached"`
	Extent *model.Extent `json:"extent,omitempty"`
	Result model.Result  `json:"result"`
}

// Run serves req from the cache when possible and runs the pipeline
// otherwise. Only requests without caller-named outputs are cached.
func (r *Runner) Run(ctx context.Context, req pipeline.Request, fb pipeline.Feedback) (Response, error) {
	id := logger.RunID(ctx)
	if id == "" {
		id = logger.NewID()
		ctx = logger.WithRunID(ctx, id)
	}
	start := time.Now()
	resp := Response{RunID: id}

	var key string
	if r.cache != nil && cacheable(req) {
		ext, err := r.pipe.ResolveExtent(ctx, req.AOI)
		if err != nil {
			err = errs.WithStage(err, pipeline.StageExtentResolved.String())
			r.finish(ctx, req, resp, start, err)
			return Response{RunID: id}, err
		}
		resp.Extent = &ext
		// an unreadable table bypasses the cache; the pipeline reports it
		if fp, err := r.pipe.LookupFingerprint(req.Class); err != nil {
			r.log.WarnContext(ctx, "lookup table fingerprint failed, cache bypassed", "err", err)
		} else {
			key = keys.RunKey(r.params(req, ext, fp))
		}
	}
	if key != "" {
		e, ok, err := r.cache.Get(ctx, key)
		switch {
		case err != nil:
			r.log.WarnContext(ctx, "run cache unavailable, running pipeline", "err", err)
		case ok:
			resp.Cached = true
			resp.Result = e.Result
			r.log.InfoContext(ctx, "run served from cache", "key", key, "cached_run_id", e.RunID)
			r.finish(ctx, req, resp, start, nil)
			return resp, nil
		}
	}

	res, err := r.pipe.Run(ctx, req, fb)
	if err != nil {
		r.finish(ctx, req, resp, start, err)
		return Response{RunID: id}, err
	}
	resp.Result = res

	if key != "" {
		entry := runcache.Entry{
			Key:    key,
			RunID:  id,
			Class:  req.Class,
			Source: r.settings.Source,
			Extent: *resp.Extent,
			Result: res,
		}
		if err := r.cache.Put(ctx, entry); err != nil {
			r.log.WarnContext(ctx, "run cache fill failed", "key", key, "err", err)
		}
	}
	r.finish(ctx, req, resp, start, nil)
	return resp, nil
}

func (r *Runner) params(req pipeline.Request, ext model.Extent, lookupFP string) keys.RunParams {
	return keys.RunParams{
		Class:      req.Class,
		Source:     r.settings.Source,
		Extent:     ext,
		Unmatched:  r.settings.Unmatched,
		Duplicates: r.settings.Duplicates,
		Vector:     req.Vector,
		LandCover:  req.KeepLandCover,
		Lookup:     lookupFP,
	}
}

func cacheable(req pipeline.Request) bool {
	return req.RoughnessOutput == "" && req.LandCoverOutput == "" && req.VectorOutput == ""
}

// finish writes the history row and publishes the run event. Neither may
// fail the run.
func (r *Runner) finish(ctx context.Context, req pipeline.Request, resp Response, start time.Time, runErr error) {
	status, kind := runstore.StatusOK, ""
	if runErr != nil {
		status, kind = runstore.StatusFailed, errs.KindOf(runErr).String()
	}
	elapsed := time.Since(start)

	var extent model.Extent
	if resp.Extent != nil {
		extent = *resp.Extent
	}

	if r.history != nil {
		outputs, err := json.Marshal(resp.Result)
		if err != nil {
			outputs = []byte(`{}`)
		}
		hctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.recordTimeout)
		defer cancel()
		err = r.history.Record(hctx, runstore.Run{
			RunID:      resp.RunID,
			Class:      req.Class.String(),
			Extent:     extentText(resp.Extent),
			Status:     status,
			ErrorKind:  kind,
			Cached:     resp.Cached,
			Outputs:    outputs,
			DurationMS: elapsed.Milliseconds(),
		})
		if err != nil {
			r.log.WarnContext(ctx, "run history write failed", "err", err)
		}
	}

	if r.events != nil {
		r.events.Publish(runevents.Event{
			RunID:      resp.RunID,
			Class:      req.Class,
			Extent:     extent,
			Status:     status,
			ErrorKind:  kind,
			Cached:     resp.Cached,
			Result:     resp.Result,
			DurationMS: elapsed.Milliseconds(),
		})
	}
}

func extentText(e *model.Extent) string {
	if e == nil {
		return ""
	}
	return e.String()
}
