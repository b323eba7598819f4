package wire

import (
	"errors"
	"fmt"
)

var (
	ErrUnauthorizedType = errors.New("wire: unauthorized deserialization attempt")
	ErrUnknownType      = errors.New("wire: type not registered")
	ErrFrameTooLarge    = errors.New("wire: frame exceeds size limit")
	ErrDecode           = errors.New("wire: decode frame")
	ErrEncode           = errors.New("wire: encode frame")
)

// UnauthorizedTypeError reports a type name the allow-list rejected.
type UnauthorizedTypeError struct {
	TypeName string
}

func (e *UnauthorizedTypeError) Error() string {
	return fmt.Sprintf("%s: %s", ErrUnauthorizedType, e.TypeName)
}

func (e *UnauthorizedTypeError) Unwrap() error { return ErrUnauthorizedType }
