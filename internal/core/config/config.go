package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/mohammed-shakir/manning-roughness/internal/core/model"
)

type InvalidationCfg struct {
	Enabled bool
	Topic   string
	Brokers []string
	GroupID string
}

type Config struct {
	Addr       string
	LogLevel   string
	LogConsole bool
	LogSampleN int

	LandCoverPath   string
	LookupDir       string
	OutputDir       string
	WorkDir         string
	Backend         string
	GDALBinDir      string
	ExternalTimeout time.Duration
	PixelSize       float64
	BufferPixels    int
	NoData          float64
	OutputType      string
	VectorField     string
	Unmatched       model.UnmatchedPolicy
	Duplicates      model.DuplicatePolicy
	LookupCacheSize int

	RedisAddr      string
	CacheOpTimeout time.Duration
	RunCacheTTL    time.Duration
	H3Res          int

	Invalidation InvalidationCfg
	EventsTopic  string
	DatabaseURL  string

	MetricsEnabled bool
	MetricsAddr    string
	MetricsPath    string
}

const (
	BackendGDAL   = "gdal"
	BackendNative = "native"
)

func defaults(v *viper.Viper) {
	v.SetDefault("addr", ":8090")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_console", false)
	v.SetDefault("log_sample_n", 0)

	v.SetDefault("landcover_path", "data/esa_worldcover_2021.vrt")
	v.SetDefault("lookup_dir", "lookups")
	v.SetDefault("output_dir", "out")
	v.SetDefault("work_dir", "")
	v.SetDefault("backend", BackendGDAL)
	v.SetDefault("gdal_bin_dir", "")
	v.SetDefault("external_timeout", 10*time.Minute)
	v.SetDefault("pixel_size", model.LandCoverPixelSize)
	v.SetDefault("buffer_pixels", model.BufferPixels)
	v.SetDefault("nodata", model.RoughnessNoData)
	v.SetDefault("output_type", "Float32")
	v.SetDefault("vector_field", "n")
	v.SetDefault("unmatched_policy", string(model.UnmatchedNoData))
	v.SetDefault("duplicate_policy", string(model.DuplicateLast))
	v.SetDefault("lookup_cache_size", 8)

	v.SetDefault("redis_addr", "")
	v.SetDefault("cache_op_timeout", 250*time.Millisecond)
	v.SetDefault("run_cache_ttl", 24*time.Hour)
	v.SetDefault("h3_res", 7)

	v.SetDefault("invalidation_enabled", false)
	v.SetDefault("kafka_brokers", "localhost:9092")
	v.SetDefault("kafka_topic", "landcover-updates")
	v.SetDefault("kafka_group_id", "roughness-cache-invalidator")
	v.SetDefault("events_topic", "")
	v.SetDefault("database_url", "")

	v.SetDefault("metrics_enabled", false)
	v.SetDefault("metrics_addr", ":9090")
	v.SetDefault("metrics_path", "/metrics")
}

// Load reads defaults, then the optional file, then environment variables
// (upper-case key names, e.g. LANDCOVER_PATH).
func Load(file string) (Config, error) {
	v := viper.New()
	defaults(v)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", file, err)
		}
	}
	return fromViper(v)
}

func fromViper(v *viper.Viper) (Config, error) {
	unmatched, err := model.ParseUnmatchedPolicy(v.GetString("unmatched_policy"))
	if err != nil {
		return Config{}, err
	}
	dups, err := model.ParseDuplicatePolicy(v.GetString("duplicate_policy"))
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		Addr:       v.GetString("addr"),
		LogLevel:   v.GetString("log_level"),
		LogConsole: v.GetBool("log_console"),
		LogSampleN: v.GetInt("log_sample_n"),

		LandCoverPath:   v.GetString("landcover_path"),
		LookupDir:       v.GetString("lookup_dir"),
		OutputDir:       v.GetString("output_dir"),
		WorkDir:         v.GetString("work_dir"),
		Backend:         strings.ToLower(strings.TrimSpace(v.GetString("backend"))),
		GDALBinDir:      v.GetString("gdal_bin_dir"),
		ExternalTimeout: v.GetDuration("external_timeout"),
		PixelSize:       v.GetFloat64("pixel_size"),
		BufferPixels:    v.GetInt("buffer_pixels"),
		NoData:          v.GetFloat64("nodata"),
		OutputType:      v.GetString("output_type"),
		VectorField:     v.GetString("vector_field"),
		Unmatched:       unmatched,
		Duplicates:      dups,
		LookupCacheSize: v.GetInt("lookup_cache_size"),

		RedisAddr:      v.GetString("redis_addr"),
		CacheOpTimeout: v.GetDuration("cache_op_timeout"),
		RunCacheTTL:    v.GetDuration("run_cache_ttl"),
		H3Res:          v.GetInt("h3_res"),

		Invalidation: InvalidationCfg{
			Enabled: v.GetBool("invalidation_enabled"),
			Topic:   v.GetString("kafka_topic"),
			Brokers: splitCSV(v.GetString("kafka_brokers")),
			GroupID: v.GetString("kafka_group_id"),
		},
		EventsTopic: v.GetString("events_topic"),
		DatabaseURL: v.GetString("database_url"),

		MetricsEnabled: v.GetBool("metrics_enabled"),
		MetricsAddr:    v.GetString("metrics_addr"),
		MetricsPath:    v.GetString("metrics_path"),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// FromEnv loads from the environment only; invalid values fall back to defaults.
func FromEnv() Config {
	cfg, err := Load("")
	if err == nil {
		return cfg
	}
	v := viper.New()
	defaults(v)
	cfg, _ = fromViper(v)
	return cfg
}

func (c Config) Validate() error {
	var errs []error
	if !(c.PixelSize > 0) {
		errs = append(errs, fmt.Errorf("pixel_size must be > 0 (got %v)", c.PixelSize))
	}
	if c.BufferPixels <= 0 {
		errs = append(errs, fmt.Errorf("buffer_pixels must be > 0 (got %d)", c.BufferPixels))
	}
	switch c.Backend {
	case BackendGDAL, BackendNative:
	default:
		errs = append(errs, fmt.Errorf("backend must be gdal|native (got %q)", c.Backend))
	}
	if c.H3Res < 0 || c.H3Res > 15 {
		errs = append(errs, fmt.Errorf("h3_res must be 0..15 (got %d)", c.H3Res))
	}
	if c.NoData > 0 {
		errs = append(errs, fmt.Errorf("nodata must not be a positive value (got %v)", c.NoData))
	}
	if strings.TrimSpace(c.VectorField) == "" {
		errs = append(errs, errors.New("vector_field is required"))
	}
	return errors.Join(errs...)
}

// Margin is the buffer added around the AOI bbox, in degrees.
func (c Config) Margin() float64 {
	return float64(c.BufferPixels) * c.PixelSize
}

func splitCSV(s string) []string {
	var out []string
	for p := range strings.SplitSeq(s, ",") {
		if x := strings.TrimSpace(p); x != "" {
			out = append(out, x)
		}
	}
	return out
}
