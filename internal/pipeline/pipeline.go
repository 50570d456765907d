// Package pipeline runs the roughness workflow: resolve the buffered extent,
// clip land cover, load the lookup table, build the expression, evaluate it
// and optionally polygonize the result.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mohammed-shakir/manning-roughness/internal/core/errs"
	"github.com/mohammed-shakir/manning-roughness/internal/core/model"
	"github.com/mohammed-shakir/manning-roughness/internal/core/observability"
	"github.com/mohammed-shakir/manning-roughness/internal/expression"
	"github.com/mohammed-shakir/manning-roughness/internal/extent"
	"github.com/mohammed-shakir/manning-roughness/internal/logger"
	"github.com/mohammed-shakir/manning-roughness/internal/lookup"
	"github.com/mohammed-shakir/manning-roughness/internal/toolkit"
)

// DefaultOutputName is the file stem of a roughness raster the caller did
// not name.
const DefaultOutputName = "manning_n"

type Request struct {
	AOI   model.AOI
	Class model.RoughnessClass
	// RoughnessOutput defaults to <OutputDir>/<run id>/manning_n<RasterExt>.
	RoughnessOutput string
	// LandCoverOutput keeps the clipped land cover when set.
	LandCoverOutput string
	// KeepLandCover keeps the clipped land cover next to the default
	// roughness raster.
	KeepLandCover bool
	// VectorOutput requests polygonization when set.
	VectorOutput string
	// Vector requests polygonization into the default output directory.
	Vector bool
}

func (r Request) wantsLandCover() bool { return r.KeepLandCover || r.LandCoverOutput != "" }

func (r Request) wantsVector() bool { return r.Vector || r.VectorOutput != "" }

type Options struct {
	LandCoverPath string
	OutputDir     string
	WorkDir       string
	RasterExt     string
	VectorExt     string
	PixelSize     float64
	BufferPixels  int
	NoData        float64
	OutputType    string
	VectorField   string
	Expression    expression.Options
}

type Pipeline struct {
	tools    toolkit.Service
	resolver *extent.Resolver
	lookups  *lookup.Loader
	opts     Options
	log      *slog.Logger
}

func New(tools toolkit.Service, lookups *lookup.Loader, opts Options, log *slog.Logger) (*Pipeline, error) {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	if tools == nil || lookups == nil {
		return nil, errs.New(errs.KindConfiguration, "", "", "pipeline needs a toolkit and a lookup loader")
	}
	if opts.RasterExt == "" {
		opts.RasterExt = ".tif"
	}
	if !strings.HasPrefix(opts.RasterExt, ".") {
		opts.RasterExt = "." + opts.RasterExt
	}
	if opts.VectorExt == "" {
		opts.VectorExt = ".gpkg"
	}
	if !strings.HasPrefix(opts.VectorExt, ".") {
		opts.VectorExt = "." + opts.VectorExt
	}
	if opts.OutputType == "" {
		opts.OutputType = "Float32"
	}
	if opts.VectorField == "" {
		opts.VectorField = "n"
	}
	if opts.NoData > 0 {
		return nil, errs.Newf(errs.KindConfiguration, "", "", "nodata %v can collide with roughness values", opts.NoData)
	}
	opts.Expression.NoData = opts.NoData
	return &Pipeline{
		tools:    tools,
		resolver: extent.NewResolver(tools, opts.PixelSize, opts.BufferPixels, log),
		lookups:  lookups,
		opts:     opts,
		log:      log,
	}, nil
}

func (p *Pipeline) Options() Options { return p.opts }

func (p *Pipeline) Lookups() *lookup.Loader { return p.lookups }

// LookupFingerprint hashes the lookup table of class as it is on disk now.
func (p *Pipeline) LookupFingerprint(class model.RoughnessClass) (string, error) {
	return p.lookups.Fingerprint(class)
}

// ResolveExtent exposes the first step so callers can key caches on the
// buffered extent before running.
func (p *Pipeline) ResolveExtent(ctx context.Context, a model.AOI) (model.Extent, error) {
	return p.resolver.Resolve(ctx, a)
}

// run holds the per-invocation state. Nothing in it outlives Run.
type run struct {
	id      string
	req     Request
	fb      Feedback
	scratch string
	outDir  string
	// outputs created under default paths; removed if the run fails
	owned []string

	extent    model.Extent
	landCover string
	table     model.LookupTable
	expr      expression.Expression
	roughness string
	vector    string
}

// Run executes one request. On failure or cancellation the result is empty
// and the error carries the kind and stage. The run id is taken from ctx
// when present.
func (p *Pipeline) Run(ctx context.Context, req Request, fb Feedback) (res model.Result, err error) {
	if fb == nil {
		fb = LogFeedback{Log: p.log}
	}
	id := logger.RunID(ctx)
	if id == "" {
		id = logger.NewID()
		ctx = logger.WithRunID(ctx, id)
	}
	r := &run{id: id, req: req, fb: fb}
	start := time.Now()

	defer func() {
		if err != nil {
			res = model.Result{}
			p.discard(r)
		}
		outcome := "ok"
		if err != nil {
			outcome = errs.KindOf(err).String()
		}
		observability.ObserveRun(req.Class.String(), outcome)
		observability.ObserveStage(StageDone.String(), time.Since(start).Seconds())
		if r.scratch != "" {
			if rmErr := os.RemoveAll(r.scratch); rmErr != nil {
				p.log.WarnContext(ctx, "scratch cleanup failed", "dir", r.scratch, "err", rmErr)
			}
		}
	}()

	if err := p.precheck(ctx, req); err != nil {
		return model.Result{}, err
	}
	fb.Stage(ctx, StageStart)

	steps := []step{
		{StageExtentResolved, p.resolveExtent},
		{StageLandCoverClipped, p.clip},
		{StageLookupLoaded, p.loadLookup},
		{StageExpressionBuilt, p.buildExpression},
		{StageRoughnessComputed, p.calc},
	}
	if req.wantsVector() {
		steps = append(steps, step{StageVectorized, p.polygonize})
	}

	for _, s := range steps {
		if err := p.advance(ctx, r, s); err != nil {
			return model.Result{}, err
		}
	}
	fb.Stage(ctx, StageDone)

	res.Roughness = &model.Output{Path: r.roughness}
	if req.wantsLandCover() {
		res.LandCover = &model.Output{Path: r.landCover}
	}
	if req.wantsVector() {
		res.Vector = &model.Output{Path: r.vector}
	}
	p.log.InfoContext(ctx, "run finished", "class", req.Class.String(), "outputs", strings.Join(res.Paths(), ","), "duration", time.Since(start))
	return res, nil
}

type step struct {
	stage Stage
	fn    func(context.Context, *run) error
}

// advance checks for cancellation, then runs one step.
func (p *Pipeline) advance(ctx context.Context, r *run, s step) error {
	name := s.stage.String()
	if err := interrupted(ctx, s.stage); err != nil {
		return err
	}
	sctx := logger.WithStage(ctx, name)
	start := time.Now()
	err := s.fn(sctx, r)
	observability.ObserveStage(name, time.Since(start).Seconds())
	if err != nil {
		return errs.WithStage(err, name)
	}
	r.fb.Stage(sctx, s.stage)
	return nil
}

func interrupted(ctx context.Context, s Stage) error {
	err := ctx.Err()
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return errs.Wrap(errs.KindTimeout, s.String(), "", err)
	}
	return errs.Wrap(errs.KindCanceled, s.String(), "", err)
}

// precheck fails before any tool runs.
func (p *Pipeline) precheck(ctx context.Context, req Request) error {
	if err := interrupted(ctx, StageStart); err != nil {
		return err
	}
	if !req.Class.Valid() {
		return errs.Newf(errs.KindInvalidInput, StageStart.String(), "", "invalid roughness class %d", int(req.Class))
	}
	if polys, ok := req.AOI.Polygons(); !ok || len(polys) == 0 {
		return errs.New(errs.KindInvalidInput, StageStart.String(), req.AOI.Source, "aoi must contain at least one polygon")
	}
	if strings.TrimSpace(req.AOI.CRS) == "" {
		return errs.New(errs.KindInvalidInput, StageStart.String(), req.AOI.Source, "aoi crs is not resolvable")
	}
	if !isVirtual(p.opts.LandCoverPath) {
		if _, err := os.Stat(p.opts.LandCoverPath); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return errs.New(errs.KindMissingResource, StageStart.String(), p.opts.LandCoverPath, "land-cover source not found")
			}
			return errs.Wrap(errs.KindMissingResource, StageStart.String(), p.opts.LandCoverPath, err)
		}
	}
	table, err := p.lookups.Path(req.Class)
	if err != nil {
		return err
	}
	if _, err := os.Stat(table); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return errs.New(errs.KindMissingResource, StageStart.String(), table, "lookup table not found")
		}
		return errs.Wrap(errs.KindMissingResource, StageStart.String(), table, err)
	}
	return nil
}

// GDAL virtual file systems are not visible to os.Stat.
func isVirtual(path string) bool {
	return strings.HasPrefix(path, "/vsi")
}

func (p *Pipeline) resolveExtent(ctx context.Context, r *run) error {
	e, err := p.resolver.Resolve(ctx, r.req.AOI)
	if err != nil {
		return err
	}
	r.extent = e
	r.fb.Info(ctx, "buffered extent", "projwin", e.ProjWin())
	return nil
}

func (p *Pipeline) clip(ctx context.Context, r *run) error {
	out := r.req.LandCoverOutput
	if out == "" {
		mkdir := p.scratchDir
		if r.req.KeepLandCover {
			mkdir = p.outputDir
		}
		dir, err := mkdir(r)
		if err != nil {
			return err
		}
		out = filepath.Join(dir, "landcover"+p.opts.RasterExt)
	}
	path, err := p.tools.Clip(ctx, toolkit.ClipRequest{
		Source: p.opts.LandCoverPath,
		Extent: r.extent,
		Output: out,
	})
	if err != nil {
		return err
	}
	r.landCover = path
	r.fb.Info(ctx, "land cover clipped", "path", path)
	return nil
}

func (p *Pipeline) loadLookup(ctx context.Context, r *run) error {
	t, err := p.lookups.Load(ctx, r.req.Class)
	if err != nil {
		return err
	}
	r.table = t
	r.fb.Info(ctx, "lookup table loaded", "class", r.req.Class.String(), "rows", len(t))
	return nil
}

func (p *Pipeline) buildExpression(ctx context.Context, r *run) error {
	e, err := expression.Build(r.table, p.opts.Expression)
	if err != nil {
		return err
	}
	if dups := e.DuplicateCodes(); len(dups) > 0 {
		r.fb.Warn(ctx, "duplicate land-cover codes in lookup table",
			"codes", fmt.Sprint(dups), "policy", string(p.opts.Expression.Duplicates))
	}
	r.expr = e
	r.fb.Info(ctx, "expression built", "formula", e.Formula())
	return nil
}

func (p *Pipeline) calc(ctx context.Context, r *run) error {
	out := r.req.RoughnessOutput
	if out == "" {
		dir, err := p.outputDir(r)
		if err != nil {
			return err
		}
		out = filepath.Join(dir, DefaultOutputName+p.opts.RasterExt)
	}
	path, err := p.tools.Calc(ctx, toolkit.CalcRequest{
		Expression: r.expr,
		Input:      r.landCover,
		Band:       1,
		NoData:     p.opts.NoData,
		OutputType: p.opts.OutputType,
		Output:     out,
	})
	if err != nil {
		return err
	}
	r.roughness = path
	r.fb.Info(ctx, "roughness raster written", "path", path)
	return nil
}

func (p *Pipeline) polygonize(ctx context.Context, r *run) error {
	out := r.req.VectorOutput
	if out == "" {
		dir, err := p.outputDir(r)
		if err != nil {
			return err
		}
		out = filepath.Join(dir, DefaultOutputName+p.opts.VectorExt)
	}
	path, err := p.tools.Polygonize(ctx, toolkit.PolygonizeRequest{
		Input:  r.roughness,
		Field:  p.opts.VectorField,
		Output: out,
	})
	if err != nil {
		return err
	}
	r.vector = path
	r.fb.Info(ctx, "roughness vector written", "path", path)
	return nil
}

// outputDir is <OutputDir>/<run id>, created on first use and owned by the run.
func (p *Pipeline) outputDir(r *run) (string, error) {
	if r.outDir != "" {
		return r.outDir, nil
	}
	dir := filepath.Join(p.opts.OutputDir, r.id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", errs.Wrap(errs.KindConfiguration, "", dir, fmt.Errorf("create output dir: %w", err))
	}
	r.owned = append(r.owned, dir)
	r.outDir = dir
	return dir, nil
}

func (p *Pipeline) scratchDir(r *run) (string, error) {
	if r.scratch != "" {
		return r.scratch, nil
	}
	if p.opts.WorkDir != "" {
		if err := os.MkdirAll(p.opts.WorkDir, 0o755); err != nil {
			return "", errs.Wrap(errs.KindConfiguration, "", p.opts.WorkDir, err)
		}
	}
	dir, err := os.MkdirTemp(p.opts.WorkDir, "roughness-"+r.id+"-")
	if err != nil {
		return "", errs.Wrap(errs.KindConfiguration, "", p.opts.WorkDir, fmt.Errorf("create scratch dir: %w", err))
	}
	r.scratch = dir
	return dir, nil
}

// discard removes outputs the run created under default paths. Paths the
// caller named are left alone.
func (p *Pipeline) discard(r *run) {
	for _, path := range r.owned {
		if err := os.RemoveAll(path); err != nil {
			p.log.Warn("cleanup failed", "path", path, "err", err)
		}
	}
}
