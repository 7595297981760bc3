package argosxml

import "errors"

var (
	// ErrMalformedDocument wraps XML syntax errors and unexpected roots.
	ErrMalformedDocument = errors.New("malformed getXml document")
	// ErrPlatformNotFound is returned when no program lists the platform.
	ErrPlatformNotFound = errors.New("platform not found")
	// ErrProgramNotFound is returned for an unknown program number.
	ErrProgramNotFound = errors.New("program not found")
)
