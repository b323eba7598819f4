package async

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jingkaihe/logdispatch/pkg/logging"
)

type captureSink struct {
	name string

	mu     sync.Mutex
	events []*logging.Event
	closed int
	delay  time.Duration
	gate   chan struct{}
	// entered is signalled, without blocking, each time Write starts.
	entered chan struct{}
}

func (s *captureSink) Name() string { return s.name }

func (s *captureSink) Write(e *logging.Event) error {
	if s.entered != nil {
		select {
		case s.entered <- struct{}{}:
		default:
		}
	}
	if s.gate != nil {
		<-s.gate
	}
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return nil
}

func (s *captureSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed++
	return nil
}

func (s *captureSink) messages() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.events))
	for _, e := range s.events {
		out = append(out, e.Message)
	}
	return out
}

func (s *captureSink) closeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

type brokenSink struct{}

func (brokenSink) Name() string               { return "broken" }
func (brokenSink) Write(*logging.Event) error { return errors.New("disk on fire") }
func (brokenSink) Close() error               { return nil }

type recordingHandler struct {
	mu    sync.Mutex
	codes []logging.ErrorCode
	errs  []error
}

func (h *recordingHandler) Error(_ string, err error, code logging.ErrorCode, _ *logging.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.codes = append(h.codes, code)
	h.errs = append(h.errs, err)
}

func (h *recordingHandler) snapshot() []logging.ErrorCode {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]logging.ErrorCode(nil), h.codes...)
}

func testConfig(name string) Config {
	cfg := DefaultConfig()
	cfg.Name = name
	return cfg
}

func event(level logging.Level, msg string) *logging.Event {
	return logging.NewEvent(context.Background(), "test", level, msg, nil)
}

// mutableMessage renders its current value, so a late render would observe
// a later mutation.
type mutableMessage struct{ value string }

func (m *mutableMessage) String() string { return m.value }

func TestDispatcher_DeliversInOrder(t *testing.T) {
	sink := &captureSink{name: "mem"}
	d := New(testConfig("order"))
	require.True(t, d.AddSink(sink))
	require.NoError(t, d.Activate())
	assert.Equal(t, StateActive, d.State())

	const n = 1000
	want := make([]string, 0, n)
	for i := 0; i < n; i++ {
		msg := strconv.Itoa(i)
		want = append(want, msg)
		d.Append(event(logging.LevelWarn, msg))
	}
	require.NoError(t, d.Close())

	assert.Equal(t, want, sink.messages())
	assert.Equal(t, 1, sink.closeCount())
	assert.Equal(t, StateClosed, d.State())
	assert.Zero(t, d.Discarded())
}

func TestDispatcher_BlockingWaitsForRoom(t *testing.T) {
	gate := make(chan struct{})
	sink := &captureSink{name: "slow", gate: gate}
	cfg := testConfig("blocking")
	cfg.QueueSize = 2
	cfg.DiscardThreshold = 0
	d := New(cfg)
	d.AddSink(sink)
	require.NoError(t, d.Activate())

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 10; i++ {
			d.Append(event(logging.LevelError, strconv.Itoa(i)))
		}
	}()

	select {
	case <-done:
		t.Fatal("producer should block while the sink is stalled")
	case <-time.After(50 * time.Millisecond):
	}

	close(gate)
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("producer never unblocked")
	}
	require.NoError(t, d.Close())
	assert.Len(t, sink.messages(), 10)
}

func TestDispatcher_NeverBlockDeliversOrderedSubset(t *testing.T) {
	sink := &captureSink{name: "slow", delay: time.Millisecond}
	cfg := testConfig("neverblock")
	cfg.QueueSize = 4
	cfg.DiscardThreshold = 0
	cfg.NeverBlock = true
	cfg.MaxFlushTime = 0
	d := New(cfg)
	d.AddSink(sink)
	require.NoError(t, d.Activate())

	const n = 200
	for i := 0; i < n; i++ {
		d.Append(event(logging.LevelError, fmt.Sprintf("%04d", i)))
	}
	require.NoError(t, d.Close())

	got := sink.messages()
	assert.NotEmpty(t, got)
	assert.Less(t, len(got), n)
	assert.IsIncreasing(t, got)
	assert.Equal(t, uint64(n-len(got)), d.Discarded())
}

func TestDispatcher_DiscardThresholdDropsLowLevels(t *testing.T) {
	gate := make(chan struct{})
	entered := make(chan struct{}, 1)
	sink := &captureSink{name: "stalled", gate: gate, entered: entered}
	cfg := testConfig("threshold")
	cfg.QueueSize = 10
	cfg.DiscardThreshold = UndefinedThreshold
	d := New(cfg)
	d.AddSink(sink)
	require.NoError(t, d.Activate())
	assert.Equal(t, 2, d.DiscardThreshold())

	// The worker takes the first event and stalls on the gate.
	d.Append(event(logging.LevelError, "stall"))
	select {
	case <-entered:
	case <-time.After(5 * time.Second):
		t.Fatal("worker never reached the sink")
	}
	require.Zero(t, d.QueueLen())

	// Fill until one slot remains.
	for i := 0; i < 9; i++ {
		d.Append(event(logging.LevelError, "fill"))
	}
	require.Equal(t, 9, d.QueueLen())

	d.Append(event(logging.LevelInfo, "info"))
	d.Append(event(logging.LevelDebug, "debug"))
	d.Append(event(logging.LevelTrace, "trace"))
	assert.Equal(t, uint64(3), d.Discarded())
	assert.Equal(t, 9, d.QueueLen())

	d.Append(event(logging.LevelWarn, "warn"))
	assert.Equal(t, 10, d.QueueLen())

	close(gate)
	require.NoError(t, d.Close())
	got := sink.messages()
	assert.Len(t, got, 11)
	assert.Equal(t, "warn", got[len(got)-1])
	assert.NotContains(t, got, "info")
}

func TestDispatcher_ZeroThresholdNeverDiscards(t *testing.T) {
	gate := make(chan struct{})
	sink := &captureSink{name: "stalled", gate: gate}
	cfg := testConfig("nothreshold")
	cfg.QueueSize = 3
	cfg.DiscardThreshold = 0
	d := New(cfg)
	d.AddSink(sink)
	require.NoError(t, d.Activate())

	for i := 0; i < 3; i++ {
		d.Append(event(logging.LevelTrace, "t"))
	}
	assert.Zero(t, d.Discarded())
	close(gate)
	require.NoError(t, d.Close())
}

func TestDispatcher_CloseIsIdempotent(t *testing.T) {
	sink := &captureSink{name: "mem"}
	d := New(testConfig("idempotent"))
	d.AddSink(sink)
	require.NoError(t, d.Activate())
	d.Append(event(logging.LevelWarn, "one"))

	require.NoError(t, d.Close())
	require.NoError(t, d.Close())
	assert.Equal(t, 1, sink.closeCount())
	assert.Equal(t, []string{"one"}, sink.messages())
}

func TestDispatcher_AppendAfterCloseIsDropped(t *testing.T) {
	sink := &captureSink{name: "mem"}
	d := New(testConfig("late"))
	d.AddSink(sink)
	require.NoError(t, d.Activate())
	require.NoError(t, d.Close())

	assert.NotPanics(t, func() { d.Append(event(logging.LevelError, "late")) })
	assert.Empty(t, sink.messages())
	assert.Equal(t, uint64(1), d.Discarded())
}

func TestDispatcher_FlushTimeout(t *testing.T) {
	gate := make(chan struct{})
	defer close(gate)
	sink := &captureSink{name: "stuck", gate: gate}
	cfg := testConfig("timeout")
	cfg.MaxFlushTime = 50 * time.Millisecond
	d := New(cfg)
	d.AddSink(sink)
	require.NoError(t, d.Activate())

	for i := 0; i < 5; i++ {
		d.Append(event(logging.LevelError, "stuck"))
	}

	start := time.Now()
	require.NoError(t, d.Close())
	elapsed := time.Since(start)

	assert.GreaterOrEqual(t, elapsed, 50*time.Millisecond)
	assert.Less(t, elapsed, 2*time.Second)
	assert.Equal(t, StateClosed, d.State())
}

func TestDispatcher_BrokenSinkDoesNotStopOthers(t *testing.T) {
	handler := &recordingHandler{}
	good := &captureSink{name: "good"}
	d := New(testConfig("broken"), WithErrorHandler(handler))
	d.AddSink(brokenSink{})
	d.AddSink(good)
	require.NoError(t, d.Activate())

	d.Append(event(logging.LevelWarn, "a"))
	d.Append(event(logging.LevelWarn, "b"))
	require.NoError(t, d.Close())

	assert.Equal(t, []string{"a", "b"}, good.messages())
	assert.Equal(t, []logging.ErrorCode{logging.WriteFailure, logging.WriteFailure}, handler.snapshot())
}

func TestDispatcher_MessageRenderedAtAppend(t *testing.T) {
	gate := make(chan struct{})
	sink := &captureSink{name: "mem", gate: gate}
	d := New(testConfig("mutable"))
	d.AddSink(sink)
	require.NoError(t, d.Activate())

	msg := &mutableMessage{value: "before"}
	e := logging.NewEvent(context.Background(), "test", logging.LevelWarn, msg, nil)
	d.Append(e)
	msg.value = "after"

	close(gate)
	require.NoError(t, d.Close())
	assert.Equal(t, []string{"before"}, sink.messages())
}

func TestDispatcher_ContextCapturedAtAppend(t *testing.T) {
	sink := &captureSink{name: "mem"}
	d := New(testConfig("ctx"))
	d.AddSink(sink)
	require.NoError(t, d.Activate())

	ctx := logging.WithThreadName(context.Background(), "producer-1")
	ctx = logging.WithMDC(ctx, "user", "alice")
	ctx = logging.PushNDC(ctx, "req-7")
	d.Append(logging.NewEvent(ctx, "test", logging.LevelWarn, "hello", errors.New("boom")))
	require.NoError(t, d.Close())

	require.Len(t, sink.events, 1)
	got := sink.events[0]
	assert.True(t, got.Prepared())
	assert.Equal(t, "producer-1", got.Thread)
	assert.Equal(t, "alice", got.MDC["user"])
	assert.Equal(t, "req-7", got.NDC)
	assert.Equal(t, []string{"boom"}, got.ThrowableStrRep())
}

func TestDispatcher_CallerData(t *testing.T) {
	sink := &captureSink{name: "mem"}
	cfg := testConfig("caller")
	cfg.IncludeCallerData = true
	d := New(cfg)
	d.AddSink(sink)
	require.NoError(t, d.Activate())

	d.Append(event(logging.LevelWarn, "where"))
	require.NoError(t, d.Close())

	require.Len(t, sink.events, 1)
	loc := sink.events[0].LocationInformation()
	assert.Equal(t, "TestDispatcher_CallerData", loc.Method)
	assert.Equal(t, "dispatcher_test.go", loc.File)
	assert.NotEqual(t, logging.NA, loc.Line)
}

func TestDispatcher_CallerDataThroughEmitter(t *testing.T) {
	sink := &captureSink{name: "mem"}
	cfg := testConfig("caller-emitter")
	cfg.IncludeCallerData = true
	d := New(cfg)
	d.AddSink(sink)
	require.NoError(t, d.Activate())

	emitter := logging.NewEmitter(logging.EmitterConfig{LoggerName: "svc"}, d)
	emitter.Warn(context.Background(), "where")
	require.NoError(t, d.Close())

	require.Len(t, sink.events, 1)
	loc := sink.events[0].LocationInformation()
	assert.Equal(t, "TestDispatcher_CallerDataThroughEmitter", loc.Method)
	assert.Equal(t, "dispatcher_test.go", loc.File)
}

func TestDispatcher_NoCallerDataByDefault(t *testing.T) {
	sink := &captureSink{name: "mem"}
	d := New(testConfig("nocaller"))
	d.AddSink(sink)
	require.NoError(t, d.Activate())
	d.Append(event(logging.LevelWarn, "x"))
	require.NoError(t, d.Close())

	require.Len(t, sink.events, 1)
	assert.Nil(t, sink.events[0].Location)
}

func TestDispatcher_InvalidQueueSize(t *testing.T) {
	handler := &recordingHandler{}
	cfg := testConfig("invalid")
	cfg.QueueSize = 0
	d := New(cfg, WithErrorHandler(handler))

	err := d.Activate()
	assert.ErrorIs(t, err, ErrInvalidQueueSize)
	assert.Equal(t, StateCreated, d.State())
	assert.Equal(t, []logging.ErrorCode{logging.ConfigurationFailure}, handler.snapshot())

	d.Append(event(logging.LevelError, "dropped"))
	assert.Equal(t, uint64(1), d.Discarded())
	require.NoError(t, d.Close())
}

func TestDispatcher_SingleSink(t *testing.T) {
	cfg := testConfig("single")
	cfg.SingleSink = true
	d := New(cfg)

	first := &captureSink{name: "first"}
	assert.True(t, d.AddSink(first))
	assert.False(t, d.AddSink(&captureSink{name: "second"}))
	assert.Len(t, d.Sinks(), 1)
	assert.Same(t, first, d.Sink("first"))
}

func TestDispatcher_SinkManagement(t *testing.T) {
	d := New(testConfig("manage"))
	a := &captureSink{name: "a"}
	b := &captureSink{name: "b"}

	assert.True(t, d.AddSink(a))
	assert.False(t, d.AddSink(a))
	assert.True(t, d.AddSink(b))
	assert.True(t, d.IsAttached(a))
	assert.Nil(t, d.Sink("missing"))

	assert.True(t, d.RemoveSinkNamed("a"))
	assert.False(t, d.IsAttached(a))
	assert.Zero(t, a.closeCount())

	assert.True(t, d.RemoveSink(b))
	assert.Empty(t, d.Sinks())

	d.AddSink(a)
	require.NoError(t, d.RemoveAllSinks())
	assert.Equal(t, 1, a.closeCount())
}

func TestDispatcher_CloseWithoutActivate(t *testing.T) {
	sink := &captureSink{name: "mem"}
	d := New(testConfig("never"))
	d.AddSink(sink)
	require.NoError(t, d.Close())
	assert.Equal(t, StateClosed, d.State())
	assert.Equal(t, 1, sink.closeCount())
	d.Wait()
}

func TestDispatcher_ConcurrentProducers(t *testing.T) {
	sink := &captureSink{name: "mem"}
	cfg := testConfig("concurrent")
	cfg.QueueSize = 16
	cfg.DiscardThreshold = 0
	d := New(cfg)
	d.AddSink(sink)
	require.NoError(t, d.Activate())

	const producers, perProducer = 8, 200
	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				d.Append(event(logging.LevelWarn, fmt.Sprintf("%d-%04d", p, i)))
			}
		}(p)
	}
	wg.Wait()
	require.NoError(t, d.Close())

	got := sink.messages()
	require.Len(t, got, producers*perProducer)

	// Each producer's events keep their relative order.
	last := map[string]string{}
	for _, m := range got {
		p, seq, ok := strings.Cut(m, "-")
		require.True(t, ok)
		if prev, ok := last[p]; ok {
			assert.Less(t, prev, seq)
		}
		last[p] = seq
	}
}

func TestDispatcher_CloseDuringAppendLosesNothingUncounted(t *testing.T) {
	for _, neverBlock := range []bool{false, true} {
		t.Run(fmt.Sprintf("never_block=%t", neverBlock), func(t *testing.T) {
			sink := &captureSink{name: "mem"}
			cfg := testConfig("close-race")
			cfg.QueueSize = 4
			cfg.DiscardThreshold = 0
			cfg.MaxFlushTime = 0
			cfg.NeverBlock = neverBlock
			d := New(cfg)
			d.AddSink(sink)
			require.NoError(t, d.Activate())

			const producers, perProducer = 8, 500
			started := make(chan struct{}, producers)
			var wg sync.WaitGroup
			for p := 0; p < producers; p++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					started <- struct{}{}
					for i := 0; i < perProducer; i++ {
						d.Append(event(logging.LevelWarn, "racing"))
					}
				}()
			}
			for p := 0; p < producers; p++ {
				<-started
			}
			require.NoError(t, d.Close())
			wg.Wait()

			assert.Equal(t, 0, d.QueueLen())
			assert.Equal(t, uint64(producers*perProducer), uint64(len(sink.messages()))+d.Discarded())
			assert.Equal(t, 1, sink.closeCount())
		})
	}
}

func TestDispatcher_QueueLenBeforeActivate(t *testing.T) {
	d := New(testConfig("idle"))
	assert.Equal(t, 0, d.QueueLen())

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			_ = d.QueueLen()
		}
	}()
	require.NoError(t, d.Activate())
	wg.Wait()
	require.NoError(t, d.Close())
}
