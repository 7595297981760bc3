package app

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"
	"time"
)

// Output formats.
const (
	FormatTable = "table"
	FormatYAML  = "yaml"
	FormatJSON  = "json"
)

var validFormats = map[string]struct{}{
	FormatTable: {},
	FormatYAML:  {},
	FormatJSON:  {},
}

// Config holds the command line options.
type Config struct {
	Frame      string
	XMLPath    string
	Platform   string
	Format     string
	AllPasses  bool
	RequireCRC bool

	// Now anchors relative collection ages in the table output.
	Now func() time.Time
}

// NewConfig returns a Config with defaults applied.
func NewConfig() *Config {
	return &Config{
		Format: FormatTable,
		Now:    time.Now,
	}
}

// NewConfigFromArgs parses args (without the program name). Usage and parse
// errors are written to out.
func NewConfigFromArgs(args []string, out io.Writer) (*Config, error) {
	c := NewConfig()

	fs := flag.NewFlagSet("argos-decode", flag.ContinueOnError)
	fs.SetOutput(out)
	fs.StringVar(&c.Frame, "frame", "", "Hex frame to decode")
	fs.StringVar(&c.XMLPath, "xml", "", "Path to a getXml document")
	fs.StringVar(&c.Platform, "platform", "", "Platform to evaluate; lists platforms when empty")
	fs.StringVar(&c.Format, "format", FormatTable, "Output format. [table, yaml, json]")
	fs.BoolVar(&c.AllPasses, "all-passes", false, "Report every satellite pass instead of the newest")
	fs.BoolVar(&c.RequireCRC, "require-crc", false, "Never fall back to a candidate with a bad checksum")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	c.Format = strings.ToLower(c.Format)

	var err error
	switch {
	case c.Frame == "" && c.XMLPath == "":
		err = errors.New("one of -frame or -xml is required")
	case c.Frame != "" && c.XMLPath != "":
		err = errors.New("-frame and -xml are mutually exclusive")
	case c.Frame != "" && c.Platform != "":
		err = errors.New("-platform requires -xml")
	}
	if err == nil {
		if _, ok := validFormats[c.Format]; !ok {
			err = fmt.Errorf("invalid format: %s", c.Format)
		}
	}

	if err != nil {
		fs.Usage()
		return nil, err
	}
	return c, nil
}
