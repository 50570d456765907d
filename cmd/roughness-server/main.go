package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	appserver "github.com/mohammed-shakir/manning-roughness/internal/app/server"
	"github.com/mohammed-shakir/manning-roughness/internal/core/config"
	"github.com/mohammed-shakir/manning-roughness/internal/logger"
	"github.com/mohammed-shakir/manning-roughness/internal/metrics"
)

var Version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	configFile := flag.String("config", "", "optional config file (yaml, json or toml)")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		zl := logger.Build(logger.Config{Level: "info", Component: "server"}, os.Stderr)
		zl.Error().Err(err).Msg("invalid configuration")
		return 2
	}

	zl := logger.Build(logger.Config{
		Level:     cfg.LogLevel,
		Console:   cfg.LogConsole,
		SampleN:   cfg.LogSampleN,
		Service:   "manning-roughness",
		Component: "server",
	}, os.Stdout)
	appLog := logger.NewSlog(&zl)

	appLog.Info("starting roughness server",
		"addr", cfg.Addr,
		"version", Version,
		"backend", cfg.Backend,
		"landcover", cfg.LandCoverPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	p := metrics.Init(metrics.Config{
		Enabled: cfg.MetricsEnabled,
		Addr:    cfg.MetricsAddr,
		Path:    cfg.MetricsPath,
		Build: metrics.BuildInfo{
			Version:   Version,
			Revision:  os.Getenv("BUILD_REVISION"),
			Branch:    os.Getenv("BUILD_BRANCH"),
			BuildDate: os.Getenv("BUILD_DATE"),
		},
	})
	if cfg.MetricsEnabled {
		go func() {
			if err := p.Serve(ctx, appLog); err != nil {
				appLog.Error("metrics server exited", "err", err)
			}
		}()
	}

	if err := appserver.Run(ctx, cfg, &zl, appLog, p.Handler()); err != nil {
		appLog.Error("server exited with error", "err", err)
		return 1
	}
	appLog.Info("server stopped")
	return 0
}
