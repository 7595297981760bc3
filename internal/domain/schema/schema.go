// Package schema describes the fixed field layout of an Argos telemetry frame.
package schema

// Frame layout constants.
const (
	// TotalWidth is the number of hex digits covered by the field table.
	TotalWidth = 60
	// ChecksumWidth is the number of hex digits of the closing checksum byte.
	ChecksumWidth = 2
	// FrameWidth is the full frame length in hex digits (31 bytes).
	FrameWidth = TotalWidth + ChecksumWidth
)

// Field names in frame order.
const (
	PresentTime    = "present_time"
	Lat            = "lat"
	Lon            = "lon"
	Fixtime        = "fixtime"
	LatInvalid     = "latInvalid"
	LonInvalid     = "lonInvalid"
	FixtimeInvalid = "fixtimeInvalid"
	LatToofar      = "latToofar"
	LonToofar      = "lonToofar"
	FixtimeToofar  = "fixtimeToofar"
	U              = "U"
	V              = "V"
)

// FieldSpec describes one field of the frame.
type FieldSpec struct {
	Name   string
	Width  int // hex digits
	Signed bool
	Scale  float64
}

var fields = [...]FieldSpec{
	{Name: PresentTime, Width: 8, Signed: false, Scale: 1.0},
	{Name: Lat, Width: 6, Signed: true, Scale: 0.01},
	{Name: Lon, Width: 6, Signed: true, Scale: 0.01},
	{Name: Fixtime, Width: 4, Signed: false, Scale: 1.0},
	{Name: LatInvalid, Width: 6, Signed: true, Scale: 0.01},
	{Name: LonInvalid, Width: 6, Signed: true, Scale: 0.01},
	{Name: FixtimeInvalid, Width: 4, Signed: false, Scale: 1.0},
	{Name: LatToofar, Width: 6, Signed: true, Scale: 0.01},
	{Name: LonToofar, Width: 6, Signed: true, Scale: 0.01},
	{Name: FixtimeToofar, Width: 4, Signed: true, Scale: 1.0},
	{Name: U, Width: 2, Signed: true, Scale: 0.05},
	{Name: V, Width: 2, Signed: true, Scale: 0.05},
}

// Fields returns the ordered field table. The returned slice is a copy.
func Fields() []FieldSpec {
	out := make([]FieldSpec, len(fields))
	copy(out, fields[:])
	return out
}

// Len returns the number of fields in the table.
func Len() int { return len(fields) }

// At returns the i-th field spec. It panics when i is out of range.
func At(i int) FieldSpec { return fields[i] }

// Lookup returns the spec for name.
func Lookup(name string) (FieldSpec, bool) {
	for _, f := range fields {
		if f.Name == name {
			return f, true
		}
	}
	return FieldSpec{}, false
}

// Offset returns the hex-digit offset of the named field within a frame.
func Offset(name string) (int, bool) {
	pos := 0
	for _, f := range fields {
		if f.Name == name {
			return pos, true
		}
		pos += f.Width
	}
	return 0, false
}
