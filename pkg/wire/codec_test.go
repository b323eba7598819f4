package wire

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"reflect"
	"testing"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jingkaihe/logdispatch/pkg/logging"
)

type Payload struct {
	Name  string
	Count int
}

type Envelope struct {
	Inner Payload
}

type Wrapper struct {
	Items map[string]Payload
}

func sampleEvent() *logging.Event {
	return &logging.Event{
		Timestamp:  time.Date(2026, 4, 2, 10, 11, 12, 345000000, time.UTC),
		Level:      logging.LevelError,
		LoggerName: "com.example.Billing",
		Message:    "charge failed",
		Thread:     "worker-3",
		NDC:        "req-9",
		MDC:        map[string]string{"user": "alice"},
		Throwable:  &logging.ThrowableInfo{Rep: []string{"card declined", "Caused by: timeout"}},
		Location:   &logging.LocationInfo{File: "billing.go", Class: "billing", Method: "Charge", Line: "42"},
	}
}

func TestTypeName(t *testing.T) {
	tests := []struct {
		typ  reflect.Type
		want string
	}{
		{reflect.TypeFor[string](), "builtin.string"},
		{reflect.TypeFor[[]int](), "[]builtin.int"},
		{reflect.TypeFor[map[string]string](), "map[builtin.string]builtin.string"},
		{reflect.TypeFor[time.Time](), "time.Time"},
		{reflect.TypeFor[*logging.Event](), "github.com/jingkaihe/logdispatch/pkg/logging.Event"},
		{reflect.TypeFor[[]Payload](), "[]github.com/jingkaihe/logdispatch/pkg/wire.Payload"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, TypeName(tt.typ))
		})
	}
}

func TestAllowList_Allowed(t *testing.T) {
	allow := EventAllowList()

	assert.True(t, allow.Allowed("builtin.string"))
	assert.True(t, allow.Allowed("[]builtin.int64"))
	assert.True(t, allow.Allowed("time.Time"))
	assert.True(t, allow.Allowed("[]time.Duration"))
	assert.True(t, allow.Allowed("github.com/jingkaihe/logdispatch/pkg/logging.Event"))
	assert.True(t, allow.Allowed("github.com/jingkaihe/logdispatch/pkg/logging.LocationInfo"))
	assert.True(t, allow.Allowed("map[builtin.string]builtin.string"))
	assert.True(t, allow.Allowed("[]github.com/jingkaihe/logdispatch/pkg/logging.ThrowableInfo"))

	assert.False(t, allow.Allowed("os/exec.Cmd"))
	assert.False(t, allow.Allowed("github.com/jingkaihe/logdispatch/pkg/wire.Payload"))
	assert.False(t, allow.Allowed("map[builtin.string]os/exec.Cmd"))

	assert.Len(t, allow.Names(), 4)
}

func TestEncodeDecode_Event(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewEncoder(&buf).Encode(sampleEvent()))

	dec, err := NewEventDecoder(&buf, nil)
	require.NoError(t, err)
	got, err := dec.ReadEvent()
	require.NoError(t, err)

	want := sampleEvent()
	assert.True(t, want.Timestamp.Equal(got.Timestamp))
	assert.Equal(t, want.Level, got.Level)
	assert.Equal(t, want.LoggerName, got.LoggerName)
	assert.Equal(t, want.Message, got.RenderedMessage())
	assert.Equal(t, want.Thread, got.ThreadName())
	assert.Equal(t, want.NDC, got.DiagnosticContext())
	assert.Equal(t, "alice", got.MDCValue("user"))
	assert.Equal(t, want.Throwable.Rep, got.ThrowableStrRep())
	assert.Equal(t, *want.Location, got.LocationInformation())

	_, err = dec.ReadEvent()
	assert.ErrorIs(t, err, io.EOF)
}

func TestEncode_PreparesLazyEvent(t *testing.T) {
	var buf bytes.Buffer
	ev := logging.NewEvent(context.Background(), "lazy", logging.LevelInfo, fmt.Sprintf("n=%d", 7), errors.New("boom"))
	require.NoError(t, NewEncoder(&buf).Encode(ev))

	dec, err := NewEventDecoder(&buf, nil)
	require.NoError(t, err)
	got, err := dec.ReadEvent()
	require.NoError(t, err)
	assert.Equal(t, "n=7", got.Message)
	assert.Equal(t, []string{"boom"}, got.ThrowableStrRep())
}

func TestDecode_RejectsUnlistedType(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewEncoder(&buf).Encode(Payload{Name: "x", Count: 1}))

	types := NewTypeRegistry(Payload{})
	dec, err := NewEventDecoder(&buf, types)
	require.NoError(t, err)

	ev, err := dec.ReadEvent()
	assert.Nil(t, ev)
	require.ErrorIs(t, err, ErrUnauthorizedType)
	var unauthorized *UnauthorizedTypeError
	require.ErrorAs(t, err, &unauthorized)
	assert.Equal(t, "github.com/jingkaihe/logdispatch/pkg/wire.Payload", unauthorized.TypeName)
}

func TestDecode_ExtraAllowedType(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewEncoder(&buf).Encode(Payload{Name: "x", Count: 3}))

	name := TypeName(reflect.TypeFor[Payload]())
	dec, err := NewDecoder(&buf, EventAllowList(name), NewTypeRegistry(Payload{}), DefaultLimits())
	require.NoError(t, err)
	v, err := dec.Decode()
	require.NoError(t, err)
	assert.Equal(t, Payload{Name: "x", Count: 3}, v)
}

func TestDecode_RejectsNestedUnlistedType(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewEncoder(&buf).Encode(Envelope{Inner: Payload{Name: "hidden"}}))

	envelope := TypeName(reflect.TypeFor[Envelope]())
	dec, err := NewDecoder(&buf, NewAllowList(envelope), NewTypeRegistry(Envelope{}), DefaultLimits())
	require.NoError(t, err)

	_, err = dec.Decode()
	var unauthorized *UnauthorizedTypeError
	require.ErrorAs(t, err, &unauthorized)
	assert.Equal(t, TypeName(reflect.TypeFor[Payload]()), unauthorized.TypeName)
}

func TestDecode_RejectsMapWithUnlistedElement(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewEncoder(&buf).Encode(Wrapper{Items: map[string]Payload{"a": {}}}))

	wrapper := TypeName(reflect.TypeFor[Wrapper]())
	dec, err := NewDecoder(&buf, NewAllowList(wrapper), NewTypeRegistry(Wrapper{}), DefaultLimits())
	require.NoError(t, err)

	_, err = dec.Decode()
	assert.ErrorIs(t, err, ErrUnauthorizedType)
}

func TestDecode_TrustedScalars(t *testing.T) {
	var buf bytes.Buffer
	enc := NewEncoder(&buf)
	require.NoError(t, enc.Encode("hello"))
	require.NoError(t, enc.Encode([]int{1, 2, 3}))

	dec, err := NewDecoder(&buf, NewAllowList(), nil, DefaultLimits())
	require.NoError(t, err)

	v, err := dec.Decode()
	require.NoError(t, err)
	assert.Equal(t, "hello", v)

	v, err = dec.Decode()
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, v)
}

func TestDecode_UnregisteredType(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewEncoder(&buf).Encode(Payload{}))

	name := TypeName(reflect.TypeFor[Payload]())
	dec, err := NewDecoder(&buf, NewAllowList(name), nil, DefaultLimits())
	require.NoError(t, err)
	_, err = dec.Decode()
	assert.ErrorIs(t, err, ErrUnknownType)
}

func TestDecode_RejectsHashFloodingMap(t *testing.T) {
	ev := sampleEvent()
	ev.MDC = make(map[string]string, 5000)
	for i := 0; i < 5000; i++ {
		ev.MDC[fmt.Sprintf("k%05d", i)] = "v"
	}

	var buf bytes.Buffer
	require.NoError(t, NewEncoder(&buf).Encode(ev))

	dec, err := NewEventDecoder(&buf, nil)
	require.NoError(t, err)
	_, err = dec.ReadEvent()
	require.ErrorIs(t, err, ErrDecode)
	var pairs *cbor.MaxMapPairsError
	assert.ErrorAs(t, err, &pairs)
}

func TestDecode_RejectsOversizedFrame(t *testing.T) {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], 1<<30)

	dec, err := NewDecoder(bytes.NewReader(lenBuf[:]), NewAllowList(), nil, DefaultLimits())
	require.NoError(t, err)
	_, err = dec.Decode()
	assert.ErrorIs(t, err, ErrFrameTooLarge)
}

func TestDecode_TruncatedFrame(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewEncoder(&buf).Encode("truncated"))
	data := buf.Bytes()[:buf.Len()-2]

	dec, err := NewDecoder(bytes.NewReader(data), NewAllowList(), nil, DefaultLimits())
	require.NoError(t, err)
	_, err = dec.Decode()
	assert.ErrorIs(t, err, ErrDecode)
	assert.NotErrorIs(t, err, io.EOF)
}
