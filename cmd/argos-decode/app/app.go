// Package app implements the argos-decode command: decode a single frame, or
// evaluate the satellite passes of a platform from a getXml dump.
package app

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/okian/argos/internal/adapters/argosxml"
	"github.com/okian/argos/internal/domain/frame"
	"github.com/okian/argos/internal/domain/passes"
	"github.com/okian/argos/pkg/logger"
)

// Run executes the command described by c and writes the report to w.
func Run(ctx context.Context, c *Config, w io.Writer) error {
	log := logger.Named("argos-decode")

	if c.Frame != "" {
		msg, err := frame.Decode(c.Frame)
		if err != nil {
			return fmt.Errorf("decoding frame: %w", err)
		}
		log.Debug(ctx, "frame decoded", logger.Bool("crc", msg.CRCValid))
		return render(w, c, passesReport{Passes: []passReport{messageReport(0, passes.Result{Message: &msg})}})
	}

	f, err := os.Open(c.XMLPath)
	if err != nil {
		return fmt.Errorf("opening document: %w", err)
	}
	defer f.Close()

	doc, err := argosxml.Parse(f)
	if err != nil {
		return fmt.Errorf("reading %s: %w", c.XMLPath, err)
	}

	if c.Platform == "" {
		list, err := listPlatforms(doc)
		if err != nil {
			return err
		}
		return renderListing(w, c, list)
	}

	ps, err := doc.Passes(c.Platform)
	if err != nil {
		return err
	}
	results := passes.Evaluate(ps, passes.WithRequireCRC(c.RequireCRC))
	log.Debug(ctx, "passes evaluated",
		logger.String("platform", c.Platform),
		logger.Int("passes", len(results)),
	)

	report := passesReport{Platform: c.Platform, Summary: summaryOf(passes.Summarize(results))}
	if !c.AllPasses && len(results) > 1 {
		results = results[:1]
	}
	for i, r := range results {
		report.Passes = append(report.Passes, messageReport(i, r))
	}
	return render(w, c, report)
}

func listPlatforms(doc *argosxml.Document) ([]platformEntry, error) {
	var out []platformEntry
	for _, program := range doc.ProgramNumbers() {
		ids, err := doc.PlatformIDs(program)
		if err != nil {
			return nil, err
		}
		for _, id := range ids {
			p, err := doc.Platform(id)
			if err != nil {
				return nil, err
			}
			out = append(out, platformEntry{
				Program:  program,
				Platform: id,
				Passes:   len(p.Passes),
				Info:     p.Info(),
			})
		}
	}
	return out, nil
}
