package audit

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"mercator-hq/covenant/pkg/conflict"
)

// ExportError reports a failed export.
type ExportError struct {
	Format string
	Count  int
	Cause  error
}

// Error returns the error message.
func (e *ExportError) Error() string {
	return fmt.Sprintf("export error [format=%s, records=%d]: %v", e.Format, e.Count, e.Cause)
}

// Unwrap returns the underlying cause.
func (e *ExportError) Unwrap() error {
	return e.Cause
}

// Exporter writes conflicts in an interchange format.
type Exporter interface {
	Export(ctx context.Context, conflicts []*conflict.Conflict, w io.Writer) error
}

// NewExporter returns the exporter for "json" or "csv".
func NewExporter(format string, pretty bool) (Exporter, error) {
	switch strings.ToLower(format) {
	case "json":
		return &JSONExporter{Pretty: pretty}, nil
	case "csv":
		return &CSVExporter{IncludeHeader: true}, nil
	}
	return nil, fmt.Errorf("unsupported export format %q (supported: json, csv)", format)
}

// JSONExporter writes a JSON array of audit records.
type JSONExporter struct {
	// Pretty enables indentation.
	Pretty bool
}

// Export writes conflicts as a JSON array. An empty input writes [].
func (e *JSONExporter) Export(ctx context.Context, conflicts []*conflict.Conflict, w io.Writer) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	records := make([]map[string]any, len(conflicts))
	for i, c := range conflicts {
		records[i] = record(c)
	}

	var data []byte
	var err error
	if e.Pretty {
		data, err = json.MarshalIndent(records, "", "  ")
	} else {
		data, err = json.Marshal(records)
	}
	if err != nil {
		return &ExportError{Format: "json", Count: len(conflicts), Cause: err}
	}
	if _, err := w.Write(data); err != nil {
		return &ExportError{Format: "json", Count: len(conflicts), Cause: err}
	}
	return nil
}

// CSVExporter writes one row per conflict. Suggestions are joined with
// " | " and evidence is a JSON object.
type CSVExporter struct {
	// IncludeHeader writes a header row first.
	IncludeHeader bool
}

var csvHeader = []string{
	"conflict_id", "detected_at", "severity", "conflict_type",
	"left_policy_id", "right_policy_id", "workflow_id",
	"description", "resolution_suggestions", "evidence",
}

// Export writes conflicts as CSV.
func (e *CSVExporter) Export(ctx context.Context, conflicts []*conflict.Conflict, w io.Writer) error {
	writer := csv.NewWriter(w)

	if e.IncludeHeader {
		if err := writer.Write(csvHeader); err != nil {
			return &ExportError{Format: "csv", Count: len(conflicts), Cause: err}
		}
	}

	for i, c := range conflicts {
		if err := ctx.Err(); err != nil {
			return err
		}
		evidence, err := json.Marshal(c.Evidence)
		if err != nil {
			return &ExportError{Format: "csv", Count: i, Cause: err}
		}
		row := []string{
			c.ID,
			c.DetectedAt.UTC().Format(time.RFC3339),
			string(c.Severity),
			string(c.Type),
			c.PolicyIDs[0],
			c.PolicyIDs[1],
			c.WorkflowID,
			c.Description,
			strings.Join(c.ResolutionSuggestions, " | "),
			string(evidence),
		}
		if err := writer.Write(row); err != nil {
			return &ExportError{Format: "csv", Count: i, Cause: err}
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return &ExportError{Format: "csv", Count: len(conflicts), Cause: err}
	}
	return nil
}
