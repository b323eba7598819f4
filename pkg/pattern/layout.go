package pattern

import (
	"bytes"
	"sync"

	"github.com/jingkaihe/logdispatch/pkg/logging"
)

// DefaultConversionPattern is used when a sink is configured without one.
const DefaultConversionPattern = "%m%n"

// Layout formats events through a compiled chain. It implements logging.Layout.
type Layout struct {
	chain *Chain
	pool  sync.Pool
}

// NewLayout compiles pattern into a Layout.
func NewLayout(pattern string) (*Layout, error) {
	if pattern == "" {
		pattern = DefaultConversionPattern
	}
	chain, err := Compile(pattern)
	if err != nil {
		return nil, err
	}
	l := &Layout{chain: chain}
	l.pool.New = func() any { return new(bytes.Buffer) }
	return l, nil
}

// Format renders e.
func (l *Layout) Format(e *logging.Event) string {
	buf := l.pool.Get().(*bytes.Buffer)
	buf.Reset()
	l.chain.Render(buf, e)
	out := buf.String()
	if buf.Cap() <= 64*1024 {
		l.pool.Put(buf)
	}
	return out
}

// Pattern returns the conversion pattern.
func (l *Layout) Pattern() string { return l.chain.String() }
