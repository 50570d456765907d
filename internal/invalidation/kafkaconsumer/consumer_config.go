package kafkaconsumer

import (
	"time"

	"github.com/mohammed-shakir/manning-roughness/internal/core/config"
)

type Config struct {
	Brokers             []string
	Topic               string
	GroupID             string
	SessionTimeout      time.Duration
	Heartbeat           time.Duration
	RebalanceTimeout    time.Duration
	InitialOffsetOldest bool
	DedupeSize          int
}

// FromConfig fills the group timings the service always uses around the
// broker settings from the application config.
func FromConfig(c config.InvalidationCfg) Config {
	return Config{
		Brokers:             c.Brokers,
		Topic:               c.Topic,
		GroupID:             c.GroupID,
		SessionTimeout:      30 * time.Second,
		Heartbeat:           3 * time.Second,
		RebalanceTimeout:    30 * time.Second,
		InitialOffsetOldest: true,
		DedupeSize:          4096,
	}
}
