// Package importer stages delivery jobs from participant CSV files.
// Parsing stays here; all queue semantics live in the delivery engine.
package importer

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/certrail/certrail/internal/delivery"
	"github.com/certrail/certrail/pkg/observability"
)

// RowError records one rejected CSV row; the rest of the file still
// imports.
type RowError struct {
	Row    int    `json:"row"`
	Reason string `json:"reason"`
}

// Result summarizes one import run.
type Result struct {
	Imported  int        `json:"imported"`
	Failed    int        `json:"failed"`
	RowErrors []RowError `json:"row_errors,omitempty"`
}

type Importer struct {
	engine *delivery.Engine
	logger *observability.Logger
}

func New(engine *delivery.Engine, logger *observability.Logger) *Importer {
	if logger == nil {
		logger = observability.Nop()
	}
	return &Importer{engine: engine, logger: logger}
}

// ImportFile reads participants from csvPath and enqueues one delivery
// job per row for the given artifact and certificate type. Rows may
// carry a Name/Email/Organization header or be positional
// (name, email[, organization]).
func (i *Importer) ImportFile(ctx context.Context, csvPath, artifactPath, certType string) (*Result, error) {
	f, err := os.Open(csvPath)
	if err != nil {
		return nil, fmt.Errorf("open csv: %w", err)
	}
	defer f.Close()
	return i.Import(ctx, f, artifactPath, certType)
}

// Import consumes CSV records from r. Repeated imports of the same file
// enqueue duplicate jobs on purpose; the queue does not dedup on
// (participant, artifact).
func (i *Importer) Import(ctx context.Context, r io.Reader, artifactPath, certType string) (*Result, error) {
	if certType == "" {
		certType = "Certificate"
	}

	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	first, err := reader.Read()
	if err == io.EOF {
		return &Result{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read csv: %w", err)
	}

	nameCol, emailCol, orgCol := 0, 1, 2
	rowNum := 0
	res := &Result{}

	if cols, ok := headerColumns(first); ok {
		nameCol, emailCol, orgCol = cols[0], cols[1], cols[2]
	} else {
		// No header: the first record is data.
		rowNum++
		i.importRow(ctx, res, rowNum, first, nameCol, emailCol, orgCol, artifactPath, certType)
	}

	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		rowNum++
		if err != nil {
			res.fail(rowNum, fmt.Sprintf("malformed row: %v", err))
			continue
		}
		i.importRow(ctx, res, rowNum, record, nameCol, emailCol, orgCol, artifactPath, certType)
	}

	i.logger.Info("csv import finished",
		"certificate_type", certType,
		"imported", res.Imported,
		"failed", res.Failed,
	)
	return res, nil
}

func (i *Importer) importRow(ctx context.Context, res *Result, rowNum int, record []string, nameCol, emailCol, orgCol int, artifactPath, certType string) {
	field := func(col int) string {
		if col < 0 || col >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[col])
	}

	name, email := field(nameCol), field(emailCol)
	if name == "" || email == "" {
		res.fail(rowNum, "missing name or email")
		return
	}

	req := delivery.EnqueueRequest{
		Name:            name,
		Email:           email,
		CertificateType: certType,
		ArtifactPath:    artifactPath,
	}
	if org := field(orgCol); org != "" {
		req.Organization = &org
	}

	if _, err := i.engine.Enqueue(ctx, req); err != nil {
		res.fail(rowNum, err.Error())
		return
	}
	res.Imported++
}

func (r *Result) fail(row int, reason string) {
	r.Failed++
	r.RowErrors = append(r.RowErrors, RowError{Row: row, Reason: reason})
}

// headerColumns detects a header record and maps the Name, Email, and
// Organization columns case-insensitively. ok is false when the record
// looks like data.
func headerColumns(record []string) (cols [3]int, ok bool) {
	cols = [3]int{-1, -1, -1}
	for idx, cell := range record {
		switch strings.ToLower(strings.TrimSpace(cell)) {
		case "name":
			cols[0] = idx
		case "email":
			cols[1] = idx
		case "organization":
			cols[2] = idx
		}
	}
	return cols, cols[0] >= 0 && cols[1] >= 0
}
