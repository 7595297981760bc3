package frame

import (
	"fmt"
	"strconv"

	"github.com/okian/argos/internal/domain/schema"
)

const byteDigits = 2

// Checksum reports whether the closing byte of hex matches the 8-bit additive
// checksum of the preceding 30 bytes. Frames whose length is not exactly
// schema.FrameWidth digits are reported invalid without error.
func Checksum(hex string) (bool, error) {
	if len(hex) != schema.FrameWidth {
		return false, nil
	}

	var sum byte
	var closing byte
	last := schema.FrameWidth - byteDigits
	for pos := 0; pos < schema.FrameWidth; pos += byteDigits {
		b, err := strconv.ParseUint(hex[pos:pos+byteDigits], 16, 8)
		if err != nil {
			return false, &DecodeError{
				Field:  "checksum",
				Offset: pos,
				Digits: hex[pos : pos+byteDigits],
				Err:    ErrMalformedFrame,
			}
		}
		if pos == last {
			closing = byte(b)
			break
		}
		sum += byte(b) // wraps mod 256
	}

	return -sum == closing, nil
}

// Valid is Checksum with malformed frames treated as invalid.
func Valid(hex string) bool {
	ok, err := Checksum(hex)
	return err == nil && ok
}

// Seal returns body with its closing checksum byte appended. body must hold
// the 60 field digits of a frame.
func Seal(body string) (string, error) {
	if len(body) != schema.TotalWidth {
		return "", fmt.Errorf("seal: body has %d digits, want %d: %w", len(body), schema.TotalWidth, ErrMalformedFrame)
	}
	var sum byte
	for pos := 0; pos < len(body); pos += byteDigits {
		b, err := strconv.ParseUint(body[pos:pos+byteDigits], 16, 8)
		if err != nil {
			return "", &DecodeError{
				Field:  "checksum",
				Offset: pos,
				Digits: body[pos : pos+byteDigits],
				Err:    ErrMalformedFrame,
			}
		}
		sum += byte(b)
	}
	const hexDigits = "0123456789ABCDEF"
	c := -sum
	return body + string([]byte{hexDigits[c>>4], hexDigits[c&0x0F]}), nil
}
