// Package config loads a dispatcher definition with viper and assembles the
// dispatcher and its sinks from it.
package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/jingkaihe/logdispatch/internal/errx"
	"github.com/jingkaihe/logdispatch/pkg/async"
)

const EnvPrefix = "LOGDISPATCH"

// Sink types.
const (
	SinkConsole = "console"
	SinkFile    = "file"
	SinkRolling = "rolling"
	SinkJSONL   = "jsonl"
	SinkSQL     = "sql"
	SinkSocket  = "socket"
	SinkKafka   = "kafka"
)

type Config struct {
	Dispatcher DispatcherConfig `mapstructure:"dispatcher"`
	Sinks      []SinkConfig     `mapstructure:"sinks"`
	// Listen is the address the socket server binds in serve mode.
	Listen      string `mapstructure:"listen"`
	MetricsAddr string `mapstructure:"metrics_addr"`
	LogLevel    string `mapstructure:"log_level"`
}

type DispatcherConfig struct {
	Name              string        `mapstructure:"name"`
	QueueSize         int           `mapstructure:"queue_size"`
	DiscardThreshold  int           `mapstructure:"discard_threshold"`
	MaxFlushTime      time.Duration `mapstructure:"max_flush_time"`
	NeverBlock        bool          `mapstructure:"never_block"`
	IncludeCallerData bool          `mapstructure:"include_caller_data"`
	SingleSink        bool          `mapstructure:"single_sink"`
}

// SinkConfig describes one sink. Which fields apply depends on Type.
type SinkConfig struct {
	Name         string `mapstructure:"name"`
	Type         string `mapstructure:"type"`
	Pattern      string `mapstructure:"pattern"`
	LocationInfo bool   `mapstructure:"location_info"`

	// console
	Stderr bool `mapstructure:"stderr"`

	// file, rolling, jsonl
	Path       string `mapstructure:"path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`

	// sql
	Driver     string `mapstructure:"driver"`
	DSN        string `mapstructure:"dsn"`
	SQL        string `mapstructure:"sql"`
	BufferSize int    `mapstructure:"buffer_size"`
	Schema     string `mapstructure:"schema"`

	// socket
	Address     string        `mapstructure:"address"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`

	// kafka
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
	Async   bool     `mapstructure:"async"`
}

// SetDefaults registers the default values on v.
func SetDefaults(v *viper.Viper) {
	d := async.DefaultConfig()
	v.SetDefault("dispatcher.name", d.Name)
	v.SetDefault("dispatcher.queue_size", d.QueueSize)
	v.SetDefault("dispatcher.discard_threshold", d.DiscardThreshold)
	v.SetDefault("dispatcher.max_flush_time", d.MaxFlushTime)
	v.SetDefault("dispatcher.never_block", d.NeverBlock)
	v.SetDefault("dispatcher.include_caller_data", d.IncludeCallerData)
	v.SetDefault("dispatcher.single_sink", false)
	v.SetDefault("listen", "127.0.0.1:4560")
	v.SetDefault("log_level", "info")
}

// Load reads path (when non-empty) into v, overlays LOGDISPATCH_* environment
// variables and decodes the result.
func Load(v *viper.Viper, path string) (Config, error) {
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, errx.With(ErrReadConfig, " %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, errx.Wrap(ErrDecodeConfig, err)
	}
	return cfg, nil
}

// AsyncConfig converts the dispatcher section.
func (d DispatcherConfig) AsyncConfig() async.Config {
	return async.Config{
		Name:              d.Name,
		QueueSize:         d.QueueSize,
		DiscardThreshold:  d.DiscardThreshold,
		MaxFlushTime:      d.MaxFlushTime,
		NeverBlock:        d.NeverBlock,
		IncludeCallerData: d.IncludeCallerData,
		SingleSink:        d.SingleSink,
	}
}
