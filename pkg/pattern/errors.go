package pattern

import (
	"errors"
	"fmt"
)

var ErrParse = errors.New("pattern: parse error")

// ParseError reports where and why a template failed to compile.
type ParseError struct {
	Pattern string
	Pos     int
	Msg     string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("pattern: %s at offset %d in %q", e.Msg, e.Pos, e.Pattern)
}

func (e *ParseError) Unwrap() error { return ErrParse }
