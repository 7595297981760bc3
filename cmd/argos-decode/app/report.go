package app

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"

	"github.com/okian/argos/internal/domain/passes"
	"github.com/okian/argos/internal/domain/ranking"
)

type fieldValue struct {
	Name  string  `json:"name" yaml:"name"`
	Value float64 `json:"value" yaml:"value"`
}

type passReport struct {
	Pass           int          `json:"pass" yaml:"pass"`
	Tier           string       `json:"tier" yaml:"tier"`
	CollectionDate string       `json:"date,omitempty" yaml:"date,omitempty"`
	CRC            bool         `json:"crc" yaml:"crc"`
	CTime          string       `json:"ctime,omitempty" yaml:"ctime,omitempty"`
	Raw            string       `json:"raw,omitempty" yaml:"raw,omitempty"`
	Error          string       `json:"error,omitempty" yaml:"error,omitempty"`
	Values         []fieldValue `json:"values,omitempty" yaml:"values,omitempty"`
}

type summaryReport struct {
	Passes  int            `json:"passes" yaml:"passes"`
	Decoded int            `json:"decoded" yaml:"decoded"`
	Empty   int            `json:"empty" yaml:"empty"`
	Errors  int            `json:"errors" yaml:"errors"`
	CRC     int            `json:"crc_valid" yaml:"crc_valid"`
	ByTier  map[string]int `json:"by_tier" yaml:"by_tier"`
}

type passesReport struct {
	Platform string         `json:"platform,omitempty" yaml:"platform,omitempty"`
	Summary  *summaryReport `json:"summary,omitempty" yaml:"summary,omitempty"`
	Passes   []passReport   `json:"passes" yaml:"passes"`
}

type platformEntry struct {
	Program  string            `json:"program" yaml:"program"`
	Platform string            `json:"platform" yaml:"platform"`
	Passes   int               `json:"passes" yaml:"passes"`
	Info     map[string]string `json:"info,omitempty" yaml:"info,omitempty"`
}

func messageReport(n int, r passes.Result) passReport {
	out := passReport{
		Pass:           n,
		Tier:           r.Tier.String(),
		CollectionDate: r.CollectionDate,
	}
	if r.Err != nil {
		out.Error = r.Err.Error()
	}
	if m := r.Message; m != nil {
		out.CRC = m.CRCValid
		out.CTime = m.DerivedTime
		out.Raw = m.Raw
		out.Values = make([]fieldValue, len(m.Fields))
		for i, f := range m.Fields {
			out.Values[i] = fieldValue{Name: f.Name, Value: f.Value}
		}
	}
	return out
}

func summaryOf(s passes.Summary) *summaryReport {
	out := &summaryReport{
		Passes:  s.Passes,
		Decoded: s.Decoded,
		Empty:   s.Empty,
		Errors:  s.Errors,
		CRC:     s.CRC,
		ByTier:  make(map[string]int, len(s.ByTier)),
	}
	for tier, n := range s.ByTier {
		out.ByTier[tier.String()] = n
	}
	return out
}

func render(w io.Writer, c *Config, r passesReport) error {
	switch c.Format {
	case FormatJSON:
		return writeJSON(w, r)
	case FormatYAML:
		return writeYAML(w, r)
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	if r.Platform != "" {
		fmt.Fprintf(tw, "platform %s\n", r.Platform)
	}
	if s := r.Summary; s != nil {
		fmt.Fprintf(tw, "%d passes, %d decoded, %d with valid checksum, %d empty, %d errors\n",
			s.Passes, s.Decoded, s.CRC, s.Empty, s.Errors)
	}
	if len(r.Passes) == 0 {
		fmt.Fprintln(tw, "no satellite passes")
		return tw.Flush()
	}

	for _, p := range r.Passes {
		fmt.Fprintln(tw)
		fmt.Fprintln(tw, "PASS\tTIER\tDATE\tAGE\tCRC\tCTIME")
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n",
			p.Pass, p.Tier, dash(p.CollectionDate), age(p.CollectionDate, c.Now()), crcLabel(p), dash(p.CTime))
		if p.Error != "" {
			fmt.Fprintf(tw, "error\t%s\n", p.Error)
		}
		for _, v := range p.Values {
			fmt.Fprintf(tw, "  %s\t%s\n", v.Name, humanize.Ftoa(v.Value))
		}
	}
	return tw.Flush()
}

func renderListing(w io.Writer, c *Config, list []platformEntry) error {
	switch c.Format {
	case FormatJSON:
		return writeJSON(w, list)
	case FormatYAML:
		return writeYAML(w, list)
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "PROGRAM\tPLATFORM\tPASSES\tINFO")
	for _, e := range list {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", e.Program, e.Platform, humanize.Comma(int64(e.Passes)), infoLine(e.Info))
	}
	return tw.Flush()
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeYAML(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}

// age renders the collection date relative to now, or "-" when it does not
// parse.
func age(date string, now time.Time) string {
	t, err := time.Parse(time.RFC3339, date)
	if err != nil {
		return "-"
	}
	return humanize.RelTime(t, now, "ago", "from now")
}

func crcLabel(p passReport) string {
	switch {
	case p.Tier == ranking.TierNone.String() && len(p.Values) == 0:
		return "-"
	case p.CRC:
		return "valid"
	default:
		return "invalid"
	}
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func infoLine(info map[string]string) string {
	if len(info) == 0 {
		return "-"
	}
	keys := make([]string, 0, len(info))
	for k := range info {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + "=" + info[k]
	}
	return strings.Join(parts, " ")
}
