// Package kafkaconsumer applies land-cover update events from Kafka to the
// run cache.
package kafkaconsumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/IBM/sarama"
	"github.com/paulmach/orb"
	"github.com/rs/zerolog"

	"github.com/mohammed-shakir/manning-roughness/internal/core/model"
	obs "github.com/mohammed-shakir/manning-roughness/internal/core/observability"
	"github.com/mohammed-shakir/manning-roughness/internal/invalidation"
	mylog "github.com/mohammed-shakir/manning-roughness/internal/logger"
)

// Invalidator drops cached runs of a source inside an area.
type Invalidator interface {
	InvalidateCells(ctx context.Context, source string, cells []string) (int, error)
	InvalidateExtent(ctx context.Context, source string, e model.Extent) (int, error)
	InvalidateGeometry(ctx context.Context, source string, g orb.Geometry) (int, error)
}

type Consumer struct {
	cfg    Config
	logger *slog.Logger
	zlog   *zerolog.Logger
	inv    Invalidator
	dedupe *revisionDedupe
	retry  time.Duration
}

type Option func(*Consumer)

// WithZerolog sends per-event error records to zl in addition to the slog logger.
func WithZerolog(zl *zerolog.Logger) Option { return func(c *Consumer) { c.zlog = zl } }

func New(cfg Config, logger *slog.Logger, inv Invalidator, opts ...Option) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Consumer{
		cfg:    cfg,
		logger: logger,
		zlog:   mylog.Nop(),
		inv:    inv,
		dedupe: newRevisionDedupe(cfg.DedupeSize),
		retry:  2 * time.Second,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Start consumes events until ctx is done.
func (c *Consumer) Start(ctx context.Context) error {
	if c.inv == nil {
		return errors.New("kafkaconsumer: missing invalidator")
	}
	if len(c.cfg.Brokers) == 0 || c.cfg.Topic == "" || c.cfg.GroupID == "" {
		return errors.New("kafkaconsumer: brokers, topic and group id are required")
	}

	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_1_0_0
	cfg.Consumer.Group.Session.Timeout = c.cfg.SessionTimeout
	cfg.Consumer.Group.Heartbeat.Interval = c.cfg.Heartbeat
	cfg.Consumer.Group.Rebalance.Timeout = c.cfg.RebalanceTimeout
	if c.cfg.InitialOffsetOldest {
		cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	} else {
		cfg.Consumer.Offsets.Initial = sarama.OffsetNewest
	}
	cfg.Consumer.Offsets.AutoCommit.Enable = true

	group, err := sarama.NewConsumerGroup(c.cfg.Brokers, c.cfg.GroupID, cfg)
	if err != nil {
		return fmt.Errorf("create consumer group: %w", err)
	}
	defer func() { _ = group.Close() }()

	ctx = mylog.WithComponent(ctx, "kafka_consumer")
	c.logger.Info("land-cover invalidation consumer starting",
		"brokers", c.cfg.Brokers, "topic", c.cfg.Topic, "group", c.cfg.GroupID)

	for {
		if err := group.Consume(ctx, []string{c.cfg.Topic}, c); err != nil {
			c.logger.Error("consumer error", "err", err)
			mylog.FromContext(ctx, c.zlog).Error().Err(err).
				Strs("brokers", c.cfg.Brokers).
				Str("topic", c.cfg.Topic).
				Msg("kafka consumer error")
		}
		select {
		case <-ctx.Done():
			c.logger.Info("land-cover invalidation consumer shutting down")
			return nil
		case <-time.After(c.retryDelay(err)):
		}
	}
}

func (c *Consumer) retryDelay(err error) time.Duration {
	if err == nil {
		return 0
	}
	return c.retry
}

// Setup logs the partitions this member was assigned for the new generation.
func (c *Consumer) Setup(sess sarama.ConsumerGroupSession) error {
	c.logger.Info("land-cover partitions assigned",
		"member", sess.MemberID(), "generation", sess.GenerationID(), "claims", sess.Claims())
	return nil
}

func (c *Consumer) Cleanup(sess sarama.ConsumerGroupSession) error {
	c.logger.Debug("land-cover partitions released", "generation", sess.GenerationID())
	return nil
}

// ConsumeClaim applies one partition's events in offset order. An offset is
// marked only once its event has been applied or deliberately skipped; a
// cache failure ends the claim so the event is redelivered after rebalance.
func (c *Consumer) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	ctx := sess.Context()
	applied := 0
	defer func() {
		c.logger.Debug("land-cover claim finished",
			"topic", claim.Topic(), "partition", claim.Partition(), "events", applied)
	}()
	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("land-cover claim %s/%d: %w", claim.Topic(), claim.Partition(), ctx.Err())
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			if err := c.ProcessOne(ctx, msg); err != nil {
				return fmt.Errorf("land-cover event %s/%d@%d: %w", msg.Topic, msg.Partition, msg.Offset, err)
			}
			sess.MarkMessage(msg, "")
			applied++
		}
	}
}

// ProcessOne applies a single message. Malformed or stale events are logged
// and skipped; cache failures are returned so the message is redelivered.
func (c *Consumer) ProcessOne(ctx context.Context, msg *sarama.ConsumerMessage) error {
	var ev invalidation.Event
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		obs.IncInvalidation("unknown", "decode_error")
		c.logMessageError(ctx, msg, "decode", err)
		return nil
	}
	if err := ev.Validate(); err != nil {
		obs.IncInvalidation(opLabel(ev.Op), "invalid")
		c.logMessageError(ctx, msg, "validate", err)
		return nil
	}

	source := strings.TrimSpace(ev.Source)
	if c.dedupe.stale(source, ev.Revision) {
		obs.IncInvalidation(ev.Op, "stale")
		c.logger.Debug("skipping stale land-cover event", "source", source, "revision", ev.Revision)
		return nil
	}

	n, err := c.apply(ctx, source, ev)
	if err != nil {
		obs.IncInvalidation(ev.Op, "error")
		c.logMessageError(ctx, msg, "invalidate", err)
		return fmt.Errorf("invalidate %s: %w", source, err)
	}
	c.dedupe.applied(source, ev.Revision)
	obs.IncInvalidation(ev.Op, "ok")

	c.logger.Info("invalidated cached runs",
		"source", source, "op", ev.Op, "revision", ev.Revision, "runs", n)
	return nil
}

func (c *Consumer) apply(ctx context.Context, source string, ev invalidation.Event) (int, error) {
	switch {
	case ev.BBox != nil:
		return c.inv.InvalidateExtent(ctx, source, ev.BBox.Extent())
	case len(ev.Geometry) > 0:
		g, err := ev.Area()
		if err != nil {
			return 0, err
		}
		return c.inv.InvalidateGeometry(ctx, source, g)
	default:
		return c.inv.InvalidateCells(ctx, source, ev.Cells)
	}
}

func (c *Consumer) logMessageError(ctx context.Context, msg *sarama.ConsumerMessage, kind string, err error) {
	c.logger.Warn("land-cover event rejected", "kind", kind, "offset", msg.Offset, "err", err)
	mylog.FromContext(ctx, c.zlog).Error().Err(err).
		Str("kind", kind).
		Str("topic", msg.Topic).
		Int32("partition", msg.Partition).
		Int64("offset", msg.Offset).
		Msg("kafka error")
}

func opLabel(op string) string {
	switch op {
	case invalidation.OpInsert, invalidation.OpUpdate, invalidation.OpDelete:
		return op
	}
	return "unknown"
}
