package leads

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/semaphore"

	"github.com/wolfman30/buyer-lead-intake/internal/identity"
	"github.com/wolfman30/buyer-lead-intake/internal/observability/metrics"
	"github.com/wolfman30/buyer-lead-intake/pkg/logging"
)

var importTracer = otel.Tracer("buyerleads.internal.leads.import")

// MaxImportRows bounds a single synchronous import.
const MaxImportRows = 200

// RowError reports why one CSV data row was rejected. Row counts the header
// as row 1.
type RowError struct {
	Row    int      `json:"row"`
	Errors []string `json:"errors"`
}

// ImportReport summarizes an import.
type ImportReport struct {
	Total        int        `json:"total"`
	Imported     int        `json:"imported"`
	Errors       int        `json:"errors"`
	ErrorDetails []RowError `json:"errorDetails"`
}

// Message renders the human summary returned alongside the report.
func (r ImportReport) Message() string {
	return fmt.Sprintf("Import completed. %d valid rows imported, %d rows had errors.", r.Imported, r.Errors)
}

// ImportPlan is the pure outcome of parsing and validating a CSV body.
type ImportPlan struct {
	Total    int
	Accepted []NewBuyer
	Rejected []RowError
}

// BatchWriter persists accepted rows atomically together with their history.
type BatchWriter interface {
	ImportBatch(ctx context.Context, rows []NewBuyer, actor identity.Principal) ([]*Buyer, error)
}

// ParseCSV reads a header-keyed CSV. Header names are trimmed and blank
// lines skipped; ragged rows and quoting errors fail the whole file.
func ParseCSV(r io.Reader) ([]map[string]string, error) {
	reader := csv.NewReader(r)
	reader.LazyQuotes = true
	reader.ReuseRecord = false

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return []map[string]string{}, nil
	}
	if err != nil {
		return nil, &CSVParseError{Details: []string{err.Error()}}
	}
	for i, h := range header {
		if i == 0 {
			h = strings.TrimPrefix(h, "\ufeff")
		}
		header[i] = strings.TrimSpace(h)
	}

	rows := []map[string]string{}
	var details []string
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			details = append(details, err.Error())
			var perr *csv.ParseError
			if errors.As(err, &perr) && errors.Is(perr.Err, csv.ErrFieldCount) {
				continue
			}
			break
		}
		row := make(map[string]string, len(header))
		for i, h := range header {
			row[h] = record[i]
		}
		rows = append(rows, row)
	}
	if len(details) > 0 {
		return nil, &CSVParseError{Details: details}
	}
	return rows, nil
}

// PlanImport parses and validates a CSV body without touching storage.
func PlanImport(r io.Reader, ownerID string) (*ImportPlan, error) {
	rows, err := ParseCSV(r)
	if err != nil {
		return nil, err
	}
	if len(rows) > MaxImportRows {
		return nil, ErrTooManyRows
	}
	plan := &ImportPlan{Total: len(rows), Rejected: []RowError{}}
	for i, raw := range rows {
		res := ValidateRow(raw)
		if !res.Valid() {
			plan.Rejected = append(plan.Rejected, RowError{Row: i + 2, Errors: res.Errors})
			continue
		}
		plan.Accepted = append(plan.Accepted, NewBuyer{Lead: *res.Lead, OwnerID: ownerID})
	}
	return plan, nil
}

// Importer coordinates CSV imports: pure validation first, then one
// transaction for the accepted rows.
type Importer struct {
	store   BatchWriter
	slots   *semaphore.Weighted
	metrics *metrics.ImportMetrics
	logger  *logging.Logger
}

// ImporterOption customizes an Importer.
type ImporterOption func(*Importer)

// WithMaxConcurrent bounds how many imports run at once.
func WithMaxConcurrent(n int) ImporterOption {
	return func(i *Importer) {
		if n > 0 {
			i.slots = semaphore.NewWeighted(int64(n))
		}
	}
}

// WithImportMetrics attaches Prometheus metrics.
func WithImportMetrics(m *metrics.ImportMetrics) ImporterOption {
	return func(i *Importer) { i.metrics = m }
}

func NewImporter(store BatchWriter, logger *logging.Logger, opts ...ImporterOption) *Importer {
	if store == nil {
		panic("leads: batch writer required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	imp := &Importer{store: store, logger: logger}
	for _, opt := range opts {
		if opt != nil {
			opt(imp)
		}
	}
	return imp
}

// Import validates every row and stores the valid ones for actor. Batch
// level failures (bad CSV, too many rows) return an error and store nothing;
// row level failures are reported in the result.
func (i *Importer) Import(ctx context.Context, r io.Reader, actor identity.Principal) (ImportReport, error) {
	ctx, span := importTracer.Start(ctx, "leads.import")
	defer span.End()
	start := time.Now()

	if i.slots != nil {
		if err := i.slots.Acquire(ctx, 1); err != nil {
			span.RecordError(err)
			return ImportReport{}, fmt.Errorf("%w: %v", ErrImportBusy, err)
		}
		defer i.slots.Release(1)
	}

	plan, err := PlanImport(r, actor.ID)
	if err != nil {
		span.RecordError(err)
		i.metrics.ObserveImport("rejected", 0, 0, time.Since(start).Seconds())
		return ImportReport{}, err
	}
	span.SetAttributes(
		attribute.Int("import.total", plan.Total),
		attribute.Int("import.accepted", len(plan.Accepted)),
		attribute.Int("import.rejected", len(plan.Rejected)),
	)

	if len(plan.Accepted) > 0 {
		if _, err := i.store.ImportBatch(ctx, plan.Accepted, actor); err != nil {
			span.RecordError(err)
			i.metrics.ObserveImport("failed", 0, 0, time.Since(start).Seconds())
			i.logger.FromContext(ctx).Error("import transaction failed", "error", err, "owner_id", actor.ID, "rows", len(plan.Accepted))
			return ImportReport{}, fmt.Errorf("leads: import batch: %w", err)
		}
	}

	report := ImportReport{
		Total:        plan.Total,
		Imported:     len(plan.Accepted),
		Errors:       len(plan.Rejected),
		ErrorDetails: plan.Rejected,
	}
	i.metrics.ObserveImport("completed", report.Imported, report.Errors, time.Since(start).Seconds())
	i.logger.FromContext(ctx).Info("import completed",
		"owner_id", actor.ID,
		"total", report.Total,
		"imported", report.Imported,
		"errors", report.Errors,
	)
	return report, nil
}
