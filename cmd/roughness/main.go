// Command roughness runs the pipeline once for an AOI file and prints the
// produced paths as JSON.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mohammed-shakir/manning-roughness/internal/aoi"
	appserver "github.com/mohammed-shakir/manning-roughness/internal/app/server"
	"github.com/mohammed-shakir/manning-roughness/internal/core/config"
	"github.com/mohammed-shakir/manning-roughness/internal/core/errs"
	"github.com/mohammed-shakir/manning-roughness/internal/core/model"
	"github.com/mohammed-shakir/manning-roughness/internal/core/observability"
	"github.com/mohammed-shakir/manning-roughness/internal/logger"
	"github.com/mohammed-shakir/manning-roughness/internal/pipeline"
)

type flags struct {
	config        string
	aoi           string
	crs           string
	class         string
	out           string
	landCoverOut  string
	vectorOut     string
	vector        bool
	keepLandCover bool
	landCover     string
	lookupDir     string
	backend       string
	timeout       time.Duration
	progress      bool
}

func parseFlags(args []string, stderr io.Writer) (flags, error) {
	var f flags
	fs := flag.NewFlagSet("roughness", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&f.config, "config", "", "optional config file")
	fs.StringVar(&f.aoi, "aoi", "", "AOI GeoJSON file (required)")
	fs.StringVar(&f.crs, "crs", "", "AOI CRS, overrides the file's crs member")
	fs.StringVar(&f.class, "class", model.DefaultClass.String(), "roughness class: low|medium|high")
	fs.StringVar(&f.out, "out", "", "roughness raster path (default <output_dir>/<run id>/manning_n)")
	fs.StringVar(&f.landCoverOut, "landcover-out", "", "keep the clipped land cover at this path")
	fs.StringVar(&f.vectorOut, "vector-out", "", "polygonize the roughness raster into this path")
	fs.BoolVar(&f.vector, "vector", false, "polygonize into the run directory")
	fs.BoolVar(&f.keepLandCover, "keep-landcover", false, "keep the clipped land cover in the run directory")
	fs.StringVar(&f.landCover, "landcover", "", "land-cover raster, overrides LANDCOVER_PATH")
	fs.StringVar(&f.lookupDir, "lookups", "", "lookup table directory, overrides LOOKUP_DIR")
	fs.StringVar(&f.backend, "backend", "", "gdal|native, overrides BACKEND")
	fs.DurationVar(&f.timeout, "timeout", 0, "overall run timeout (0 = none)")
	fs.BoolVar(&f.progress, "progress", true, "draw a progress bar on stderr")
	if err := fs.Parse(args); err != nil {
		return flags{}, err
	}
	if f.aoi == "" {
		return flags{}, errors.New("-aoi is required")
	}
	return f, nil
}

func (f flags) apply(cfg *config.Config) error {
	if f.landCover != "" {
		cfg.LandCoverPath = f.landCover
	}
	if f.lookupDir != "" {
		cfg.LookupDir = f.lookupDir
	}
	if f.backend != "" {
		cfg.Backend = f.backend
	}
	return cfg.Validate()
}

func (f flags) request() (pipeline.Request, error) {
	class, err := model.ParseRoughnessClass(f.class)
	if err != nil {
		return pipeline.Request{}, errs.Wrap(errs.KindInvalidInput, "", "", err)
	}
	a, err := aoi.Load(f.aoi, f.crs)
	if err != nil {
		return pipeline.Request{}, err
	}
	return pipeline.Request{
		AOI:             a,
		Class:           class,
		RoughnessOutput: f.out,
		LandCoverOutput: f.landCoverOut,
		VectorOutput:    f.vectorOut,
		Vector:          f.vector,
		KeepLandCover:   f.keepLandCover,
	}, nil
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// exitCode is 2 for input problems and 1 for every other failure.
func exitCode(err error) int {
	if errs.KindOf(err) == errs.KindInvalidInput {
		return 2
	}
	return 1
}

func run(args []string, stdout, stderr io.Writer) int {
	f, err := parseFlags(args, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		fmt.Fprintln(stderr, err)
		return 2
	}

	cfg, err := config.Load(f.config)
	if err == nil {
		err = f.apply(&cfg)
	}
	if err != nil {
		fmt.Fprintln(stderr, "config:", err)
		return 2
	}

	zl := logger.Build(logger.Config{
		Level:     cfg.LogLevel,
		Console:   true,
		SampleN:   cfg.LogSampleN,
		Component: "cli",
	}, stderr)
	appLog := logger.NewSlog(&zl)
	observability.InitDefault()

	req, err := f.request()
	if err != nil {
		appLog.Error("invalid request", "err", err)
		return exitCode(err)
	}

	pipe, err := appserver.Pipeline(cfg, appLog)
	if err != nil {
		appLog.Error("pipeline setup failed", "err", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}

	var fb pipeline.Feedback = pipeline.LogFeedback{Log: appLog}
	if f.progress {
		pf := pipeline.NewProgressFeedback(stderr, fb)
		pf.Start()
		defer pf.Stop()
		fb = pf
	}

	res, err := pipe.Run(ctx, req, fb)
	if err != nil {
		appLog.Error("run failed", "err", err, "kind", errs.KindOf(err).String())
		return exitCode(err)
	}

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(res); err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	return 0
}
