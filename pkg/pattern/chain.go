// Package pattern compiles conversion patterns such as "%d %-5p [%t] %c - %m%n"
// into immutable converter chains and renders events through them.
package pattern

import (
	"bytes"
	"unicode/utf8"

	"github.com/jingkaihe/logdispatch/pkg/logging"
)

// formatFunc appends one piece of an event to buf.
type formatFunc func(buf *bytes.Buffer, e *logging.Event)

// modifier holds the optional width settings of a directive (%-5p, %.30m).
type modifier struct {
	min       int
	max       int // 0 means unbounded
	leftAlign bool
}

func (m modifier) isZero() bool { return m.min == 0 && m.max == 0 }

// node is one link in a chain. Nodes never change after compilation.
type node struct {
	format formatFunc
	mod    modifier
	next   *node
}

func (n *node) render(buf *bytes.Buffer, e *logging.Event) {
	if n.mod.isZero() {
		n.format(buf, e)
		return
	}
	start := buf.Len()
	n.format(buf, e)
	field := buf.Bytes()[start:]
	count := utf8.RuneCount(field)
	if n.mod.max > 0 && count > n.mod.max {
		// Keep the rightmost max runes.
		cut := 0
		for i := 0; i < count-n.mod.max; i++ {
			_, size := utf8.DecodeRune(field[cut:])
			cut += size
		}
		kept := string(field[cut:])
		buf.Truncate(start)
		buf.WriteString(kept)
		count = n.mod.max
	}
	if count >= n.mod.min {
		return
	}
	pad := n.mod.min - count
	if n.mod.leftAlign {
		writeSpaces(buf, pad)
		return
	}
	value := string(buf.Bytes()[start:])
	buf.Truncate(start)
	writeSpaces(buf, pad)
	buf.WriteString(value)
}

func writeSpaces(buf *bytes.Buffer, n int) {
	for i := 0; i < n; i++ {
		buf.WriteByte(' ')
	}
}

// Chain is a compiled pattern: a singly-linked list of converters.
// A Chain is read-only and may be rendered concurrently from many
// goroutines with different events and buffers.
type Chain struct {
	pattern string
	head    *node
}

// Render appends the rendering of e to buf, walking the chain head to tail.
func (c *Chain) Render(buf *bytes.Buffer, e *logging.Event) {
	for n := c.head; n != nil; n = n.next {
		n.render(buf, e)
	}
}

// Format renders e into a new string.
func (c *Chain) Format(e *logging.Event) string {
	var buf bytes.Buffer
	c.Render(&buf, e)
	return buf.String()
}

// String returns the template the chain was compiled from.
func (c *Chain) String() string { return c.pattern }

// Len returns the number of converter nodes.
func (c *Chain) Len() int {
	n := 0
	for cur := c.head; cur != nil; cur = cur.next {
		n++
	}
	return n
}
