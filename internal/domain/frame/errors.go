package frame

import (
	"errors"
	"fmt"
)

// Sentinel error kinds for frame decoding.
var (
	// ErrMalformedFrame reports a character outside the hex alphabet.
	ErrMalformedFrame = errors.New("malformed frame")
)

// DecodeError locates a malformed digit group within a frame.
type DecodeError struct {
	Field  string // field name, or "checksum"
	Offset int    // hex-digit offset of the group
	Digits string
	Err    error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("%s at offset %d (%s %q)", e.Err, e.Offset, e.Field, e.Digits)
}

func (e *DecodeError) Unwrap() error { return e.Err }
