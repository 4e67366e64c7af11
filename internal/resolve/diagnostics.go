package resolve

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"taxonmatch/internal/logging"
	"taxonmatch/internal/taxa"
)

// Diagnostic report tags.
const (
	TagUnresolved           = "unresolved"
	TagAmbiguousDirect      = "ambiguous_direct"
	TagAmbiguousKNMS        = "ambiguous_knms"
	TagAmbiguousAutoresolve = "ambiguous_autoresolve"
)

// Report is one batch of diagnostic rows sharing a tag.
type Report struct {
	Tag  string
	Rows []ReportRow
}

// ReportRow describes one submission, or one of its candidates.
type ReportRow struct {
	Key       string
	Submitted string
	Family    string
	Reason    string
	Candidate *taxa.Record
}

// Sink receives diagnostics for submissions that could not be resolved.
type Sink interface {
	Write(ctx context.Context, report Report) error
}

// NopSink discards diagnostics.
type NopSink struct{}

func (NopSink) Write(context.Context, Report) error { return nil }

var reportHeader = []string{
	"submission_key",
	"submitted",
	"family",
	"reason",
	"plant_name_id",
	"taxon_name",
	"taxon_status",
	"accepted_plant_name_id",
	"accepted_name",
	"accepted_rank",
}

// FileSink writes each report as <tag>_<hash>.csv into Dir. The hash covers
// the file content, so writing identical content twice yields one file.
type FileSink struct {
	dir    string
	logger *slog.Logger

	mu      sync.Mutex
	written []string
}

// NewFileSink creates a sink writing into dir.
func NewFileSink(dir string, logger *slog.Logger) *FileSink {
	return &FileSink{dir: dir, logger: logging.NewComponentLogger(logger, "diagnostics")}
}

// Written lists the files produced so far.
func (s *FileSink) Written() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.written)
}

func (s *FileSink) Write(ctx context.Context, report Report) error {
	if len(report.Rows) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := encodeReport(report)
	if err != nil {
		return err
	}
	sum := sha256.Sum256(data)
	name := fmt.Sprintf("%s_%s.csv", report.Tag, hex.EncodeToString(sum[:])[:16])
	path := filepath.Join(s.dir, name)

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create diagnostics dir: %w", err)
	}
	if _, err := os.Stat(path); err == nil {
		s.record(path)
		return nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("stat diagnostics file: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, "."+name+".*")
	if err != nil {
		return fmt.Errorf("create diagnostics file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("write diagnostics file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close diagnostics file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("finalize diagnostics file: %w", err)
	}
	s.record(path)
	logging.WithContext(ctx, s.logger).Info("diagnostics written",
		logging.String("tag", report.Tag),
		logging.String("path", path),
		logging.Int("rows", len(report.Rows)),
	)
	return nil
}

func (s *FileSink) record(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !slices.Contains(s.written, path) {
		s.written = append(s.written, path)
	}
}

func encodeReport(report Report) ([]byte, error) {
	rows := slices.Clone(report.Rows)
	slices.SortStableFunc(rows, func(a, b ReportRow) int {
		if c := strings.Compare(a.Key, b.Key); c != 0 {
			return c
		}
		return strings.Compare(candidateID(a.Candidate), candidateID(b.Candidate))
	})

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(reportHeader); err != nil {
		return nil, err
	}
	for _, row := range rows {
		record := []string{displayKey(row.Key), row.Submitted, row.Family, row.Reason, "", "", "", "", "", ""}
		if rec := row.Candidate; rec != nil {
			record[4] = rec.ID
			record[5] = rec.Name
			record[6] = string(rec.Status)
			record[7] = rec.Accepted.ID
			record[8] = rec.Accepted.Name
			record[9] = string(rec.Accepted.Rank)
		}
		if err := w.Write(record); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("encode diagnostics: %w", err)
	}
	return buf.Bytes(), nil
}

func candidateID(rec *taxa.Record) string {
	if rec == nil {
		return ""
	}
	return rec.ID
}

// ambiguousRows expands a candidate set into report rows.
func ambiguousRows(sub Submission, reason string, candidates []*taxa.Record) []ReportRow {
	rows := make([]ReportRow, 0, len(candidates))
	for _, rec := range uniqueRecords(candidates) {
		rows = append(rows, ReportRow{
			Key:       sub.Key,
			Submitted: sub.Keys.Trimmed,
			Family:    sub.Family,
			Reason:    reason,
			Candidate: rec,
		})
	}
	return rows
}
