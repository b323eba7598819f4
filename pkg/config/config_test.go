package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jingkaihe/logdispatch/pkg/async"
	"github.com/jingkaihe/logdispatch/pkg/logging"
	"github.com/jingkaihe/logdispatch/pkg/sqlsink"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(viper.New(), "")
	require.NoError(t, err)

	assert.Equal(t, "async", cfg.Dispatcher.Name)
	assert.Equal(t, 256, cfg.Dispatcher.QueueSize)
	assert.Equal(t, async.UndefinedThreshold, cfg.Dispatcher.DiscardThreshold)
	assert.Equal(t, time.Second, cfg.Dispatcher.MaxFlushTime)
	assert.False(t, cfg.Dispatcher.NeverBlock)
	assert.False(t, cfg.Dispatcher.IncludeCallerData)
	assert.Equal(t, "127.0.0.1:4560", cfg.Listen)
	assert.Empty(t, cfg.Sinks)
}

func TestLoad_YAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logdispatch.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
dispatcher:
  name: main
  queue_size: 64
  discard_threshold: 0
  max_flush_time: 250ms
  never_block: true
sinks:
  - name: out
    type: console
    pattern: "%-5p %m%n"
  - name: events
    type: jsonl
    path: /tmp/events.jsonl
  - name: remote
    type: kafka
    brokers: ["k1:9092", "k2:9092"]
    topic: logs
`), 0o644))

	cfg, err := Load(viper.New(), path)
	require.NoError(t, err)

	assert.Equal(t, "main", cfg.Dispatcher.Name)
	assert.Equal(t, 64, cfg.Dispatcher.QueueSize)
	assert.Zero(t, cfg.Dispatcher.DiscardThreshold)
	assert.Equal(t, 250*time.Millisecond, cfg.Dispatcher.MaxFlushTime)
	assert.True(t, cfg.Dispatcher.NeverBlock)

	require.Len(t, cfg.Sinks, 3)
	assert.Equal(t, SinkConsole, cfg.Sinks[0].Type)
	assert.Equal(t, "%-5p %m%n", cfg.Sinks[0].Pattern)
	assert.Equal(t, "/tmp/events.jsonl", cfg.Sinks[1].Path)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Sinks[2].Brokers)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("LOGDISPATCH_DISPATCHER_QUEUE_SIZE", "8")
	t.Setenv("LOGDISPATCH_DISPATCHER_NEVER_BLOCK", "true")

	cfg, err := Load(viper.New(), "")
	require.NoError(t, err)
	assert.Equal(t, 8, cfg.Dispatcher.QueueSize)
	assert.True(t, cfg.Dispatcher.NeverBlock)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(viper.New(), filepath.Join(t.TempDir(), "absent.yaml"))
	assert.ErrorIs(t, err, ErrReadConfig)
}

func TestBuild_DeliversToFileSinks(t *testing.T) {
	dir := t.TempDir()
	textPath := filepath.Join(dir, "app.log")
	dbPath := filepath.Join(dir, "logs.db")

	cfg, err := Load(viper.New(), "")
	require.NoError(t, err)
	cfg.Sinks = []SinkConfig{
		{Name: "text", Type: SinkFile, Path: textPath, Pattern: "%p %c %m%n"},
		{
			Name:   "db",
			Type:   SinkSQL,
			DSN:    dbPath,
			Schema: `CREATE TABLE logs (level TEXT, message TEXT);`,
			SQL:    "INSERT INTO logs (level, message) VALUES ('%p', '%m')",
		},
	}

	d, err := Build(cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, async.StateActive, d.State())
	require.Len(t, d.Sinks(), 2)
	_, ok := d.Sink("db").(*sqlsink.Sink)
	assert.True(t, ok)

	emitter := logging.NewEmitter(logging.EmitterConfig{LoggerName: "orders"}, d)
	emitter.Warn(context.Background(), "stock low")
	require.NoError(t, d.Close())

	data, err := os.ReadFile(textPath)
	require.NoError(t, err)
	assert.Equal(t, "WARN orders stock low\n", string(data))
}

func TestBuild_UnknownSinkType(t *testing.T) {
	cfg, err := Load(viper.New(), "")
	require.NoError(t, err)
	cfg.Sinks = []SinkConfig{{Name: "x", Type: "carrier-pigeon"}}

	_, err = Build(cfg, nil)
	assert.ErrorIs(t, err, ErrBuildSink)
	assert.ErrorIs(t, err, ErrUnknownSink)
}

func TestBuild_DuplicateSinkName(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(viper.New(), "")
	require.NoError(t, err)
	cfg.Sinks = []SinkConfig{
		{Name: "same", Type: SinkJSONL, Path: filepath.Join(dir, "a.jsonl")},
		{Name: "same", Type: SinkJSONL, Path: filepath.Join(dir, "b.jsonl")},
	}

	_, err = Build(cfg, nil)
	assert.ErrorIs(t, err, ErrDuplicateSink)
}

func TestBuild_InvalidQueueSize(t *testing.T) {
	cfg, err := Load(viper.New(), "")
	require.NoError(t, err)
	cfg.Dispatcher.QueueSize = 0

	_, err = Build(cfg, nil)
	assert.ErrorIs(t, err, async.ErrInvalidQueueSize)
}

func TestBuildSink_JSONLRotationSelectedBySize(t *testing.T) {
	dir := t.TempDir()

	plain, err := BuildSink(SinkConfig{Name: "plain", Type: SinkJSONL, Path: filepath.Join(dir, "plain.jsonl")}, nil)
	require.NoError(t, err)
	defer plain.Close()
	rolling, err := BuildSink(SinkConfig{Name: "rolling", Type: SinkJSONL, Path: filepath.Join(dir, "roll.jsonl"), MaxSizeMB: 5}, nil)
	require.NoError(t, err)
	defer rolling.Close()

	assert.IsType(t, &logging.JSONLWriter{}, plain)
	assert.IsType(t, &logging.JSONLWriter{}, rolling)
	require.NoError(t, rolling.Write(logging.NewEvent(context.Background(), "svc", logging.LevelInfo, "rotating", nil)))
	assert.FileExists(t, filepath.Join(dir, "roll.jsonl"))
}
