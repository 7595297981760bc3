// Package frame decodes Argos hexadecimal payloads into typed measurements
// and evaluates their closing checksum.
package frame

import (
	"strconv"
	"time"

	"github.com/okian/argos/internal/domain/schema"
)

// Decode walks the field table over hex and returns the decoded message.
//
// A frame shorter than the table is tolerated: a field whose digits are
// missing decodes as zero and a truncated field is parsed from whatever
// digits remain. Digits outside [0-9a-fA-F] fail with ErrMalformedFrame.
func Decode(hex string) (Message, error) {
	fields := make([]Field, 0, schema.Len())
	pos := 0
	for i := 0; i < schema.Len(); i++ {
		spec := schema.At(i)
		digits := window(hex, pos, spec.Width)
		raw, err := parseField(digits, spec)
		if err != nil {
			return Message{}, &DecodeError{Field: spec.Name, Offset: pos, Digits: digits, Err: ErrMalformedFrame}
		}
		fields = append(fields, Field{Name: spec.Name, Value: float64(raw) * spec.Scale})
		pos += spec.Width
	}
	if err := checkTail(hex, pos); err != nil {
		return Message{}, err
	}

	valid, err := Checksum(hex)
	if err != nil {
		return Message{}, err
	}

	msg := Message{
		Fields:   fields,
		CRCValid: valid,
		Raw:      hex,
	}
	msg.DerivedTime = FormatTime(msg.MustValue(schema.PresentTime))
	return msg, nil
}

// FormatTime renders epoch seconds in CTimeLayout, UTC.
func FormatTime(epochSeconds float64) string {
	return time.Unix(int64(epochSeconds), 0).UTC().Format(CTimeLayout)
}

// checkTail rejects non-hex digits after the field digits, whatever the
// frame length.
func checkTail(hex string, from int) error {
	for i := from; i < len(hex); i++ {
		if isHexDigit(hex[i]) {
			continue
		}
		field := "checksum"
		if i >= schema.FrameWidth {
			field = "trailing"
		}
		return &DecodeError{Field: field, Offset: i, Digits: hex[i : i+1], Err: ErrMalformedFrame}
	}
	return nil
}

func isHexDigit(c byte) bool {
	return ('0' <= c && c <= '9') || ('a' <= c && c <= 'f') || ('A' <= c && c <= 'F')
}

// window returns up to width digits of hex starting at pos, or "" when pos
// is past the end.
func window(hex string, pos, width int) string {
	if pos >= len(hex) {
		return ""
	}
	end := pos + width
	if end > len(hex) {
		end = len(hex)
	}
	return hex[pos:end]
}

// parseField converts the digit group of one field to its raw integer.
// Signed fields are negative when the leading digit sorts after '8'; the
// offset subtracted is 16^Width of the declared field, not of the digits
// actually present.
func parseField(digits string, spec schema.FieldSpec) (int64, error) {
	if digits == "" {
		return 0, nil
	}
	u, err := strconv.ParseUint(digits, 16, 64)
	if err != nil {
		return 0, err
	}
	v := int64(u)
	if spec.Signed && digits[0] > '8' {
		v -= int64(1) << (4 * spec.Width)
	}
	return v, nil
}
