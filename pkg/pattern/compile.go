package pattern

import (
	"strconv"
	"strings"
)

// Compile turns a conversion pattern into a converter chain.
//
// Literal text is copied as is. A directive is '%', an optional modifier
// ('-' for left alignment, a minimum width, '.' and a maximum width), a
// conversion name and an optional '{option}'. "%%" is a literal percent.
// Compile performs no I/O; callers should cache the result per pattern.
func Compile(pattern string) (*Chain, error) {
	p := &parser{pattern: pattern}
	if err := p.parse(); err != nil {
		return nil, err
	}
	return &Chain{pattern: pattern, head: p.head}, nil
}

// MustCompile is Compile for patterns known to be valid.
func MustCompile(pattern string) *Chain {
	c, err := Compile(pattern)
	if err != nil {
		panic(err)
	}
	return c
}

type parser struct {
	pattern string
	pos     int
	literal strings.Builder
	head    *node
	tail    *node
}

func (p *parser) errorf(pos int, msg string) error {
	return &ParseError{Pattern: p.pattern, Pos: pos, Msg: msg}
}

func (p *parser) add(n *node) {
	if p.head == nil {
		p.head = n
	} else {
		p.tail.next = n
	}
	p.tail = n
}

func (p *parser) flushLiteral() {
	if p.literal.Len() == 0 {
		return
	}
	p.add(&node{format: literalConverter(p.literal.String())})
	p.literal.Reset()
}

func (p *parser) parse() error {
	s := p.pattern
	for p.pos < len(s) {
		c := s[p.pos]
		if c != '%' {
			p.literal.WriteByte(c)
			p.pos++
			continue
		}
		start := p.pos
		p.pos++
		if p.pos >= len(s) {
			return p.errorf(start, "dangling '%'")
		}
		if s[p.pos] == '%' {
			p.literal.WriteByte('%')
			p.pos++
			continue
		}
		mod, err := p.parseModifier(start)
		if err != nil {
			return err
		}
		name, err := p.parseName(start)
		if err != nil {
			return err
		}
		option, hasOption, err := p.parseOption()
		if err != nil {
			return err
		}
		format, err := newConverter(name, option, hasOption)
		if err != nil {
			return p.errorf(start, err.Error())
		}
		p.flushLiteral()
		p.add(&node{format: format, mod: mod})
	}
	p.flushLiteral()
	if p.head == nil {
		p.add(&node{format: literalConverter("")})
	}
	return nil
}

func (p *parser) parseModifier(start int) (modifier, error) {
	var mod modifier
	s := p.pattern
	if p.pos < len(s) && s[p.pos] == '-' {
		mod.leftAlign = true
		p.pos++
	}
	if n, ok := p.readInt(); ok {
		mod.min = n
	}
	if p.pos < len(s) && s[p.pos] == '.' {
		p.pos++
		n, ok := p.readInt()
		if !ok || n == 0 {
			return mod, p.errorf(start, "maximum width must be a positive integer")
		}
		mod.max = n
	}
	return mod, nil
}

func (p *parser) readInt() (int, bool) {
	s := p.pattern
	begin := p.pos
	for p.pos < len(s) && s[p.pos] >= '0' && s[p.pos] <= '9' {
		p.pos++
	}
	if p.pos == begin {
		return 0, false
	}
	n, err := strconv.Atoi(s[begin:p.pos])
	if err != nil {
		return 0, false
	}
	return n, true
}

func (p *parser) parseName(start int) (string, error) {
	s := p.pattern
	if p.pos >= len(s) {
		return "", p.errorf(start, "missing conversion character")
	}
	for _, word := range longNames {
		if strings.HasPrefix(s[p.pos:], word) {
			p.pos += len(word)
			return word, nil
		}
	}
	c := s[p.pos]
	if !isLetter(c) {
		return "", p.errorf(p.pos, "unexpected character "+strconv.QuoteRune(rune(c))+" after '%'")
	}
	p.pos++
	return string(c), nil
}

// parseOption reads a trailing {option}. Braces do not nest.
func (p *parser) parseOption() (string, bool, error) {
	s := p.pattern
	if p.pos >= len(s) || s[p.pos] != '{' {
		return "", false, nil
	}
	open := p.pos
	end := strings.IndexByte(s[open+1:], '}')
	if end < 0 {
		return "", false, p.errorf(open, "unbalanced '{'")
	}
	option := s[open+1 : open+1+end]
	p.pos = open + end + 2
	return option, true, nil
}

func isLetter(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}
