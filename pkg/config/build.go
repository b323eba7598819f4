package config

import (
	"log/slog"
	"os"

	"github.com/jingkaihe/logdispatch/internal/errx"
	"github.com/jingkaihe/logdispatch/pkg/async"
	"github.com/jingkaihe/logdispatch/pkg/kafkasink"
	"github.com/jingkaihe/logdispatch/pkg/logging"
	"github.com/jingkaihe/logdispatch/pkg/pattern"
	"github.com/jingkaihe/logdispatch/pkg/socket"
	"github.com/jingkaihe/logdispatch/pkg/sqlsink"
	"github.com/jingkaihe/logdispatch/pkg/storedb"
)

const defaultTextPattern = "%d [%t] %-5p %c - %m%n"

// Build creates the dispatcher, attaches every configured sink and
// activates it. Sinks built before a failure are closed.
func Build(cfg Config, logger *slog.Logger) (*async.Dispatcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	d := async.New(cfg.Dispatcher.AsyncConfig(), async.WithLogger(logger))

	seen := make(map[string]struct{}, len(cfg.Sinks))
	for i, sc := range cfg.Sinks {
		if sc.Name == "" {
			sc.Name = sc.Type
		}
		if _, dup := seen[sc.Name]; dup {
			_ = d.Close()
			return nil, errx.With(ErrDuplicateSink, ": %q", sc.Name)
		}
		seen[sc.Name] = struct{}{}

		sink, err := BuildSink(sc, logger)
		if err != nil {
			_ = d.Close()
			return nil, errx.With(ErrBuildSink, " #%d (%s): %w", i, sc.Name, err)
		}
		if !d.AddSink(sink) {
			_ = sink.Close()
		}
	}

	if err := d.Activate(); err != nil {
		_ = d.Close()
		return nil, err
	}
	return d, nil
}

// BuildSink creates a single sink from sc.
func BuildSink(sc SinkConfig, logger *slog.Logger) (logging.Sink, error) {
	switch sc.Type {
	case SinkConsole:
		layout, err := textLayout(sc)
		if err != nil {
			return nil, err
		}
		out := os.Stdout
		if sc.Stderr {
			out = os.Stderr
		}
		return logging.NewTextWriter(sc.Name, layout, out)
	case SinkFile:
		layout, err := textLayout(sc)
		if err != nil {
			return nil, err
		}
		return logging.NewFileWriter(sc.Name, layout, sc.Path)
	case SinkRolling:
		layout, err := textLayout(sc)
		if err != nil {
			return nil, err
		}
		return logging.NewRollingFileWriter(sc.Name, layout, rollingConfig(sc))
	case SinkJSONL:
		// Setting max_size_mb turns on rotation.
		if sc.MaxSizeMB > 0 {
			return logging.NewRollingJSONLWriter(sc.Name, rollingConfig(sc)), nil
		}
		return logging.NewJSONLWriter(sc.Name, sc.Path)
	case SinkSQL:
		driver := sc.Driver
		if driver == "" {
			driver = storedb.DriverName
		}
		var migrations []storedb.Migration
		if sc.Schema != "" {
			migrations = []storedb.Migration{{Version: 1, Name: "schema", SQL: sc.Schema}}
		}
		return sqlsink.Open(sqlsink.Config{
			Name:         sc.Name,
			DriverName:   driver,
			DSN:          sc.DSN,
			SQL:          sc.SQL,
			BufferSize:   sc.BufferSize,
			LocationInfo: sc.LocationInfo,
			Migrations:   migrations,
		}, sqlsink.WithLogger(logger))
	case SinkSocket:
		return socket.NewSink(socket.SinkConfig{
			Name:         sc.Name,
			Address:      sc.Address,
			DialTimeout:  sc.DialTimeout,
			LocationInfo: sc.LocationInfo,
		}, logger)
	case SinkKafka:
		var layout logging.Layout
		if sc.Pattern != "" {
			l, err := pattern.NewLayout(sc.Pattern)
			if err != nil {
				return nil, err
			}
			layout = l
		}
		return kafkasink.New(kafkasink.Config{
			Name:         sc.Name,
			Brokers:      sc.Brokers,
			Topic:        sc.Topic,
			Async:        sc.Async,
			LocationInfo: sc.LocationInfo,
		}, layout, logger)
	}
	return nil, errx.With(ErrUnknownSink, ": %q", sc.Type)
}

func rollingConfig(sc SinkConfig) logging.RollingConfig {
	return logging.RollingConfig{
		Path:       sc.Path,
		MaxSizeMB:  sc.MaxSizeMB,
		MaxBackups: sc.MaxBackups,
		MaxAgeDays: sc.MaxAgeDays,
		Compress:   sc.Compress,
	}
}

func textLayout(sc SinkConfig) (*pattern.Layout, error) {
	p := sc.Pattern
	if p == "" {
		p = defaultTextPattern
	}
	return pattern.NewLayout(p)
}
