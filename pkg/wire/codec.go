// Package wire carries values between processes as length-prefixed CBOR
// frames tagged with their Go type name, and refuses to materialize any
// type a receiver has not explicitly allowed.
package wire

import (
	"encoding/binary"
	"errors"
	"io"
	"reflect"
	"sync"

	"github.com/fxamacker/cbor/v2"

	"github.com/jingkaihe/logdispatch/internal/errx"
	"github.com/jingkaihe/logdispatch/pkg/logging"
)

// frame is the unit written on the wire. The body is only decoded after
// the type name has passed the allow-list.
type frame struct {
	Type string          `cbor:"t"`
	Body cbor.RawMessage `cbor:"b"`
}

// Limits bound what a single frame may allocate while decoding.
type Limits struct {
	MaxFrameSize     uint32
	MaxNestedLevels  int
	MaxArrayElements int
	MaxMapPairs      int
}

// DefaultLimits accepts realistic events and rejects the oversized maps
// and arrays used for hash-flooding.
func DefaultLimits() Limits {
	return Limits{
		MaxFrameSize:     4 << 20,
		MaxNestedLevels:  16,
		MaxArrayElements: 65536,
		MaxMapPairs:      1024,
	}
}

func (l Limits) decMode() (cbor.DecMode, error) {
	return cbor.DecOptions{
		MaxNestedLevels:  l.MaxNestedLevels,
		MaxArrayElements: l.MaxArrayElements,
		MaxMapPairs:      l.MaxMapPairs,
		DupMapKey:        cbor.DupMapKeyEnforcedAPF,
		IndefLength:      cbor.IndefLengthForbidden,
		TagsMd:           cbor.TagsForbidden,
	}.DecMode()
}

var encMode = sync.OnceValue(func() cbor.EncMode {
	em, err := cbor.EncOptions{Time: cbor.TimeRFC3339Nano}.EncMode()
	if err != nil {
		panic(err)
	}
	return em
})

// Encoder writes frames to an io.Writer. It is safe for concurrent use.
type Encoder struct {
	mu sync.Mutex
	w  io.Writer
}

func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w}
}

// Encode writes v as one frame.
func (e *Encoder) Encode(v any) error {
	if v == nil {
		return errx.With(ErrEncode, ": nil value")
	}
	if ev, ok := v.(*logging.Event); ok && !ev.Prepared() {
		ev.Prepare(logging.PrepareOptions{})
	}
	em := encMode()
	body, err := em.Marshal(v)
	if err != nil {
		return errx.Wrap(ErrEncode, err)
	}
	data, err := em.Marshal(frame{Type: TypeName(reflect.TypeOf(v)), Body: body})
	if err != nil {
		return errx.Wrap(ErrEncode, err)
	}

	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(data)))

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, err := e.w.Write(lenBuf[:]); err != nil {
		return errx.Wrap(ErrEncode, err)
	}
	if _, err := e.w.Write(data); err != nil {
		return errx.Wrap(ErrEncode, err)
	}
	return nil
}

// Decoder reads frames and materializes only allowed, registered types.
// It is not safe for concurrent use.
type Decoder struct {
	r      io.Reader
	allow  AllowList
	types  *TypeRegistry
	limits Limits
	dm     cbor.DecMode
}

// NewDecoder returns a decoder gated by allow. types resolves the names
// that pass; a nil registry knows only the trusted scalar types.
func NewDecoder(r io.Reader, allow AllowList, types *TypeRegistry, limits Limits) (*Decoder, error) {
	dm, err := limits.decMode()
	if err != nil {
		return nil, errx.Wrap(ErrDecode, err)
	}
	if types == nil {
		types = NewTypeRegistry()
	}
	return &Decoder{r: r, allow: allow, types: types, limits: limits, dm: dm}, nil
}

// Decode reads the next frame. It returns io.EOF at a clean end of stream
// and an *UnauthorizedTypeError, with no value, when the frame names or
// contains a type the allow-list rejects.
func (d *Decoder) Decode() (any, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(d.r, lenBuf[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, errx.Wrap(ErrDecode, err)
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if d.limits.MaxFrameSize > 0 && n > d.limits.MaxFrameSize {
		return nil, errx.With(ErrFrameTooLarge, ": %d > %d", n, d.limits.MaxFrameSize)
	}
	data := make([]byte, n)
	if _, err := io.ReadFull(d.r, data); err != nil {
		return nil, errx.Wrap(ErrDecode, err)
	}

	var f frame
	if err := d.dm.Unmarshal(data, &f); err != nil {
		return nil, errx.Wrap(ErrDecode, err)
	}
	if !d.allow.Allowed(f.Type) {
		return nil, &UnauthorizedTypeError{TypeName: f.Type}
	}
	t, ok := d.types.Lookup(f.Type)
	if !ok {
		return nil, errx.With(ErrUnknownType, ": %s", f.Type)
	}
	if err := d.allow.check(t, map[reflect.Type]bool{}); err != nil {
		return nil, err
	}

	ptr := reflect.New(t)
	if err := d.dm.Unmarshal(f.Body, ptr.Interface()); err != nil {
		return nil, errx.Wrap(ErrDecode, err)
	}
	return ptr.Elem().Interface(), nil
}

// EventDecoder reads events through a gate pre-populated with the event
// types.
type EventDecoder struct {
	dec *Decoder
}

// NewEventDecoder allows the event types plus extra. Additional types must
// also be registered in types to be decodable.
func NewEventDecoder(r io.Reader, types *TypeRegistry, extra ...string) (*EventDecoder, error) {
	if types == nil {
		types = NewTypeRegistry()
	}
	types.Register(logging.Event{})
	dec, err := NewDecoder(r, EventAllowList(extra...), types, DefaultLimits())
	if err != nil {
		return nil, err
	}
	return &EventDecoder{dec: dec}, nil
}

// ReadEvent reads the next frame and requires it to be an event.
func (d *EventDecoder) ReadEvent() (*logging.Event, error) {
	v, err := d.dec.Decode()
	if err != nil {
		return nil, err
	}
	ev, ok := v.(logging.Event)
	if !ok {
		return nil, errx.With(ErrDecode, ": expected event, got %s", TypeName(reflect.TypeOf(v)))
	}
	return &ev, nil
}
