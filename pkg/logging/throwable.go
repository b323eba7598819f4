package logging

import (
	"errors"
	"strings"
)

// ThrowableInfo is the frozen text form of an event's causal error.
type ThrowableInfo struct {
	Rep []string `cbor:"rep" json:"rep"`
}

// NewThrowableInfo renders err and its unwrap chain. Returns nil for a nil error.
func NewThrowableInfo(err error) *ThrowableInfo {
	if err == nil {
		return nil
	}
	rep := strings.Split(err.Error(), "\n")
	for cause := errors.Unwrap(err); cause != nil; cause = errors.Unwrap(cause) {
		rep = append(rep, "Caused by: "+cause.Error())
	}
	return &ThrowableInfo{Rep: rep}
}

// String joins the representation with newlines.
func (t *ThrowableInfo) String() string {
	if t == nil {
		return ""
	}
	return strings.Join(t.Rep, "\n")
}
