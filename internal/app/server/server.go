// Package server assembles the roughness service from configuration: the
// pipeline, the optional run cache, history and event publisher, and the
// invalidation consumer.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/mohammed-shakir/manning-roughness/internal/app/runner"
	"github.com/mohammed-shakir/manning-roughness/internal/cache/cellindex"
	"github.com/mohammed-shakir/manning-roughness/internal/cache/redisstore"
	"github.com/mohammed-shakir/manning-roughness/internal/cache/runcache"
	"github.com/mohammed-shakir/manning-roughness/internal/core/config"
	"github.com/mohammed-shakir/manning-roughness/internal/core/health"
	coreserver "github.com/mohammed-shakir/manning-roughness/internal/core/server"
	"github.com/mohammed-shakir/manning-roughness/internal/invalidation/kafkaconsumer"
	h3mapper "github.com/mohammed-shakir/manning-roughness/internal/mapper/h3"
	"github.com/mohammed-shakir/manning-roughness/internal/runevents"
	"github.com/mohammed-shakir/manning-roughness/internal/runstore"
)

const eventQueueSize = 1024

// Run wires every configured component and serves until ctx is done.
// metricsHandler is mounted on /metrics when non-nil.
func Run(ctx context.Context, cfg config.Config, zl *zerolog.Logger, logger *slog.Logger, metricsHandler http.Handler) error {
	pipe, err := Pipeline(cfg, logger)
	if err != nil {
		return fmt.Errorf("pipeline: %w", err)
	}

	ready := map[string]health.Check{
		"lookups": health.PathCheck(cfg.LookupDir),
	}
	if !strings.HasPrefix(cfg.LandCoverPath, "/vsi") {
		ready["landcover"] = health.PathCheck(cfg.LandCoverPath)
	}

	opts := []runner.Option{runner.WithLogger(logger)}
	var rc *runcache.Cache

	if cfg.RedisAddr != "" {
		rs, err := redisstore.New(ctx, cfg.RedisAddr, redisstore.WithTimeouts(0, cfg.CacheOpTimeout))
		if err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		defer func() { _ = rs.Close() }()
		rc = runcache.New(rs, cellindex.NewRedisIndex(rs), h3mapper.New(),
			runcache.WithTTL(cfg.RunCacheTTL),
			runcache.WithOpTimeout(cfg.CacheOpTimeout),
			runcache.WithResolution(cfg.H3Res),
			runcache.WithLogger(logger),
		)
		opts = append(opts, runner.WithCache(rc))
		ready["redis"] = health.PingCheck(rs)
		logger.Info("run cache enabled", "redis", cfg.RedisAddr, "h3_res", cfg.H3Res, "ttl", cfg.RunCacheTTL)
	}

	var history *runstore.Store
	if cfg.DatabaseURL != "" {
		history, err = runstore.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("run history: %w", err)
		}
		defer func() { _ = history.Close() }()
		if err := history.Migrate(ctx); err != nil {
			return fmt.Errorf("run history migrate: %w", err)
		}
		opts = append(opts, runner.WithHistory(history))
		ready["postgres"] = health.PingCheck(history)
		logger.Info("run history enabled")
	}

	if cfg.EventsTopic != "" {
		pub, err := runevents.NewPublisher(cfg.Invalidation.Brokers, cfg.EventsTopic, eventQueueSize, logger)
		if err != nil {
			return err
		}
		defer func() { _ = pub.Close() }()
		opts = append(opts, runner.WithEvents(pub))
		logger.Info("run events enabled", "topic", cfg.EventsTopic)
	}

	if cfg.Invalidation.Enabled {
		if rc == nil {
			logger.Warn("invalidation enabled without a run cache; consumer not started")
		} else {
			cons := kafkaconsumer.New(kafkaconsumer.FromConfig(cfg.Invalidation), logger, rc, kafkaconsumer.WithZerolog(zl))
			go func() {
				if err := cons.Start(ctx); err != nil {
					logger.Error("invalidation consumer stopped", "err", err)
				}
			}()
			logger.Info("invalidation consumer started", "topic", cfg.Invalidation.Topic, "group", cfg.Invalidation.GroupID)
		}
	}

	run := runner.New(pipe, runner.Settings{
		Source:     cfg.LandCoverPath,
		Unmatched:  cfg.Unmatched,
		Duplicates: cfg.Duplicates,
	}, opts...)

	deps := coreserver.Deps{Runs: run, Ready: ready, Metrics: metricsHandler}
	if history != nil {
		deps.History = history
	}
	return coreserver.Run(ctx, cfg, logger, coreserver.NewHandler(logger, deps))
}
