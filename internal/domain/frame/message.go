package frame

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/okian/argos/internal/domain/schema"
)

// CTimeLayout renders present_time the way the provider tooling prints it.
const CTimeLayout = time.ANSIC

// Field is one decoded measurement.
type Field struct {
	Name  string
	Value float64
}

// Message is a decoded frame. Fields are kept in schema order.
type Message struct {
	Fields []Field
	// CRCValid is the checksum result on the full originating frame.
	CRCValid bool
	// DerivedTime is present_time rendered as a UTC calendar timestamp.
	DerivedTime string
	// CollectionDate is assigned by the caller from the chosen candidate.
	CollectionDate string
	// Raw is the originating frame.
	Raw string
}

// Value returns the decoded value of the named field.
func (m *Message) Value(name string) (float64, bool) {
	for _, f := range m.Fields {
		if f.Name == name {
			return f.Value, true
		}
	}
	return 0, false
}

// MustValue returns the named value or zero.
func (m *Message) MustValue(name string) float64 {
	v, _ := m.Value(name)
	return v
}

// Names returns field names in schema order.
func (m *Message) Names() []string {
	out := make([]string, len(m.Fields))
	for i, f := range m.Fields {
		out[i] = f.Name
	}
	return out
}

// PresentTime interprets present_time as Unix epoch seconds.
func (m *Message) PresentTime() time.Time {
	return time.Unix(int64(m.MustValue(schema.PresentTime)), 0).UTC()
}

type messageJSON struct {
	Values         json.RawMessage `json:"values"`
	CRC            bool            `json:"crc"`
	CTime          string          `json:"ctime"`
	CollectionDate string          `json:"date,omitempty"`
	Raw            string          `json:"raw,omitempty"`
}

// MarshalJSON writes values as an object whose keys follow schema order.
func (m Message) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range m.Fields {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(f.Name)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(f.Value)
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')

	return json.Marshal(messageJSON{
		Values:         buf.Bytes(),
		CRC:            m.CRCValid,
		CTime:          m.DerivedTime,
		CollectionDate: m.CollectionDate,
		Raw:            m.Raw,
	})
}

// UnmarshalJSON restores a message written by MarshalJSON, keeping key order.
func (m *Message) UnmarshalJSON(data []byte) error {
	var aux messageJSON
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	fields := make([]Field, 0, schema.Len())
	if len(aux.Values) > 0 {
		dec := json.NewDecoder(bytes.NewReader(aux.Values))
		tok, err := dec.Token()
		if err != nil {
			return fmt.Errorf("reading values: %w", err)
		}
		if d, ok := tok.(json.Delim); !ok || d != '{' {
			return fmt.Errorf("values must be an object, got %v", tok)
		}
		for dec.More() {
			tok, err = dec.Token()
			if err != nil {
				return fmt.Errorf("reading value key: %w", err)
			}
			name, _ := tok.(string)
			var v float64
			if err := dec.Decode(&v); err != nil {
				return fmt.Errorf("reading value %q: %w", name, err)
			}
			fields = append(fields, Field{Name: name, Value: v})
		}
	}

	*m = Message{
		Fields:         fields,
		CRCValid:       aux.CRC,
		DerivedTime:    aux.CTime,
		CollectionDate: aux.CollectionDate,
		Raw:            aux.Raw,
	}
	return nil
}
