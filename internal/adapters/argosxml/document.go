// Package argosxml reads the getXml and getPlatformList documents served by
// the Argos web service and turns them into passes ready for evaluation.
package argosxml

import (
	"encoding/xml"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/okian/argos/internal/domain/passes"
	"github.com/okian/argos/internal/domain/ranking"
)

// Document is a parsed <data> document.
type Document struct {
	XMLName  xml.Name  `xml:"data"`
	Programs []Program `xml:"program"`
}

// Program groups the platforms of one Argos program number.
type Program struct {
	Number    string     `xml:"programNumber"`
	Platforms []Platform `xml:"platform"`
}

// Platform is one transmitter. Children other than platformId and
// satellitePass are kept in Extra.
type Platform struct {
	ID     string          `xml:"platformId"`
	Passes []SatellitePass `xml:"satellitePass"`
	Extra  []Element       `xml:",any"`
}

// Element is a leaf child kept verbatim.
type Element struct {
	XMLName xml.Name
	Value   string `xml:",chardata"`
}

// SatellitePass is one transmission window as listed by the service.
type SatellitePass struct {
	Messages []Message `xml:"message"`
}

// Message is one received message with its retransmissions.
type Message struct {
	BestDate string    `xml:"bestDate"`
	Collects []Collect `xml:"collect"`
}

// Collect is one retransmission of a message.
type Collect struct {
	Date    string `xml:"date"`
	RawData string `xml:"rawData"`
}

// Parse decodes a document from r.
func Parse(r io.Reader) (*Document, error) {
	var doc Document
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedDocument, err)
	}
	return &doc, nil
}

// ProgramNumbers returns the program numbers in document order.
func (d *Document) ProgramNumbers() []string {
	out := make([]string, 0, len(d.Programs))
	for _, p := range d.Programs {
		out = append(out, strings.TrimSpace(p.Number))
	}
	return out
}

// PlatformIDs returns the platform IDs of a program, sorted numerically.
// IDs that are not numbers sort after the numeric ones.
func (d *Document) PlatformIDs(program string) ([]string, error) {
	for _, p := range d.Programs {
		if strings.TrimSpace(p.Number) != program {
			continue
		}
		ids := make([]string, 0, len(p.Platforms))
		for _, pl := range p.Platforms {
			ids = append(ids, strings.TrimSpace(pl.ID))
		}
		sort.SliceStable(ids, func(i, j int) bool { return numericLess(ids[i], ids[j]) })
		return ids, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrProgramNotFound, program)
}

// Platform finds a platform across all programs.
func (d *Document) Platform(id string) (*Platform, error) {
	for i := range d.Programs {
		for j := range d.Programs[i].Platforms {
			pl := &d.Programs[i].Platforms[j]
			if strings.TrimSpace(pl.ID) == id {
				return pl, nil
			}
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrPlatformNotFound, id)
}

// Passes extracts the passes of a platform, newest pass first.
func (d *Document) Passes(platformID string) ([]passes.Pass, error) {
	pl, err := d.Platform(platformID)
	if err != nil {
		return nil, err
	}
	return pl.EvaluationPasses(), nil
}

// Info returns the extra leaf children of the platform by tag.
func (p *Platform) Info() map[string]string {
	info := make(map[string]string, len(p.Extra))
	for _, e := range p.Extra {
		info[e.XMLName.Local] = strings.TrimSpace(e.Value)
	}
	return info
}

// EvaluationPasses converts the listed passes. The service lists passes
// oldest first, so the order is reversed. Within a pass every collect with
// data becomes a candidate, newest collection first, and the first message's
// bestDate becomes the pass best date.
func (p *Platform) EvaluationPasses() []passes.Pass {
	out := make([]passes.Pass, 0, len(p.Passes))
	for i := len(p.Passes) - 1; i >= 0; i-- {
		out = append(out, p.Passes[i].pass())
	}
	return out
}

func (sp SatellitePass) pass() passes.Pass {
	var res passes.Pass
	if len(sp.Messages) > 0 {
		res.BestDate = strings.TrimSpace(sp.Messages[0].BestDate)
	}
	for _, m := range sp.Messages {
		for _, c := range m.Collects {
			raw := strings.TrimSpace(c.RawData)
			if raw == "" {
				continue
			}
			res.Candidates = append(res.Candidates, ranking.Candidate{
				Frame:       raw,
				CollectedAt: strings.TrimSpace(c.Date),
			})
		}
	}
	// ISO-8601 timestamps of one service share a layout, so string order is
	// time order.
	sort.SliceStable(res.Candidates, func(i, j int) bool {
		return res.Candidates[i].CollectedAt > res.Candidates[j].CollectedAt
	})
	return res
}

func numericLess(a, b string) bool {
	na, errA := strconv.ParseInt(a, 10, 64)
	nb, errB := strconv.ParseInt(b, 10, 64)
	switch {
	case errA == nil && errB == nil:
		return na < nb
	case errA == nil:
		return true
	case errB == nil:
		return false
	default:
		return a < b
	}
}
