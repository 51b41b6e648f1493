package ingest

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"

	"github.com/LEE-hyeon0771/AI-change-app/internal/fault"
	"github.com/LEE-hyeon0771/AI-change-app/internal/model"
)

// ImportReport summarizes a bulk import.
type ImportReport struct {
	Imported int             `json:"imported"`
	Skipped  int             `json:"skipped"`
	IDs      []string        `json:"ids,omitempty"`
	Failures []ImportFailure `json:"failures,omitempty"`
}

// ImportFailure is a line that could not be ingested.
type ImportFailure struct {
	Line  int    `json:"line"`
	Error string `json:"error"`
}

// Import ingests one DesignChangeInput per JSON line from r. Lines that do
// not parse or validate are reported and skipped. Provider and storage
// faults stop the import; the report covers what was ingested before.
func (c *Coordinator) Import(ctx context.Context, r io.Reader) (ImportReport, error) {
	var report ImportReport
	br := bufio.NewReader(r)
	for lineNo := 1; ; lineNo++ {
		line, readErr := br.ReadBytes('\n')
		if readErr != nil && !errors.Is(readErr, io.EOF) {
			return report, fault.Wrap(readErr, fault.CodeStorage, "read import input")
		}
		if err := ctx.Err(); err != nil {
			return report, err
		}

		if line = bytes.TrimSpace(line); len(line) > 0 {
			var in model.DesignChangeInput
			err := json.Unmarshal(line, &in)
			if err == nil {
				var rec model.DesignChangeRecord
				rec, err = c.Ingest(ctx, in)
				if err == nil {
					report.Imported++
					report.IDs = append(report.IDs, rec.ID)
				}
			}
			if err != nil {
				if fault.IsProvider(err) || fault.IsStorage(err) {
					return report, err
				}
				report.Skipped++
				report.Failures = append(report.Failures, ImportFailure{Line: lineNo, Error: err.Error()})
				c.logger.Warn("ingest: skipping import line", "line", lineNo, "err", err)
			}
		}

		if errors.Is(readErr, io.EOF) {
			return report, nil
		}
	}
}
