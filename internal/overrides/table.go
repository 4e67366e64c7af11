// Package overrides loads user-authored manual resolutions: a submitted name
// pinned to a checklist plant_name_id.
package overrides

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"taxonmatch/internal/logging"
	"taxonmatch/internal/names"
	"taxonmatch/internal/services"
)

// Override pins a submitted name, optionally qualified by family, to a
// checklist record.
type Override struct {
	Submitted    string `json:"submitted"`
	Family       string `json:"family,omitempty"`
	ResolutionID string `json:"resolution_id"`
}

// Table holds overrides keyed by normalized submitted name.
type Table struct {
	path    string
	logger  *slog.Logger
	mu      sync.RWMutex
	loaded  time.Time
	entries map[entryKey]Override
}

type entryKey struct {
	family string
	name   string
}

// NewTable constructs a table backed by a CSV or JSON file. An empty path
// yields nil; a nil Table has no overrides.
func NewTable(path string, logger *slog.Logger) *Table {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil
	}
	return &Table{path: trimmed, logger: logging.NewComponentLogger(logger, "overrides")}
}

// FromEntries builds an in-memory table.
func FromEntries(entries []Override) *Table {
	t := &Table{logger: logging.NewNop()}
	t.entries = index(normalizeAll(entries))
	return t
}

// Lookup returns the override for name under the family hint, falling back
// to an override without a family.
func (t *Table) Lookup(name, family string) (Override, bool, error) {
	if t == nil {
		return Override{}, false, nil
	}
	if err := t.ensureLoaded(); err != nil {
		return Override{}, false, err
	}
	key := names.Normalize(name).Trimmed
	family = strings.TrimSpace(family)

	t.mu.RLock()
	defer t.mu.RUnlock()
	if family != "" {
		if entry, ok := t.entries[entryKey{family: family, name: key}]; ok {
			return entry, true, nil
		}
	}
	entry, ok := t.entries[entryKey{name: key}]
	return entry, ok, nil
}

// Entries returns every override.
func (t *Table) Entries() ([]Override, error) {
	if t == nil {
		return nil, nil
	}
	if err := t.ensureLoaded(); err != nil {
		return nil, err
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Override, 0, len(t.entries))
	for _, entry := range t.entries {
		out = append(out, entry)
	}
	return out, nil
}

// Len returns the number of overrides.
func (t *Table) Len() int {
	entries, _ := t.Entries()
	return len(entries)
}

func (t *Table) ensureLoaded() error {
	if t.path == "" {
		return nil
	}
	info, err := os.Stat(t.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return services.Wrap(services.ErrConfiguration, "overrides", "stat", t.path, err)
	}

	t.mu.RLock()
	alreadyLoaded := !t.loaded.IsZero() && t.loaded.Equal(info.ModTime())
	t.mu.RUnlock()
	if alreadyLoaded {
		return nil
	}

	data, err := os.ReadFile(t.path)
	if err != nil {
		return services.Wrap(services.ErrConfiguration, "overrides", "read", t.path, err)
	}
	entries, err := Parse(data, filepath.Ext(t.path))
	if err != nil {
		return services.Wrap(services.ErrConfiguration, "overrides", "parse", t.path, err)
	}

	t.mu.Lock()
	t.entries = index(entries)
	t.loaded = info.ModTime()
	t.mu.Unlock()
	t.logger.Info("loaded manual overrides", logging.String("path", t.path), logging.Int("count", len(entries)))
	return nil
}

// Parse decodes override data. JSON is either an array or an object with an
// "overrides" field; anything else is read as CSV with a header row naming
// submitted and resolution_id columns.
func Parse(data []byte, ext string) ([]Override, error) {
	data = bytes.TrimPrefix(data, []byte("\xEF\xBB\xBF"))
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, nil
	}
	var (
		entries []Override
		err     error
	)
	switch {
	case strings.EqualFold(ext, ".json"), trimmed[0] == '{', trimmed[0] == '[':
		entries, err = parseJSON(trimmed)
	default:
		entries, err = parseCSV(data)
	}
	if err != nil {
		return nil, err
	}
	return normalizeAll(entries), nil
}

func parseJSON(data []byte) ([]Override, error) {
	var entries []Override
	if data[0] == '{' {
		var wrapper struct {
			Overrides []Override `json:"overrides"`
		}
		if err := json.Unmarshal(data, &wrapper); err != nil {
			return nil, err
		}
		return wrapper.Overrides, nil
	}
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

func parseCSV(data []byte) ([]Override, error) {
	reader := csv.NewReader(bytes.NewReader(data))
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read override header: %w", err)
	}
	columns := make(map[string]int, len(header))
	for i, name := range header {
		columns[strings.ToLower(strings.TrimSpace(name))] = i
	}
	submittedCol, ok := columns["submitted"]
	if !ok {
		return nil, errors.New("override table needs a submitted column")
	}
	idCol, ok := columns["resolution_id"]
	if !ok {
		return nil, errors.New("override table needs a resolution_id column")
	}
	familyCol, hasFamily := columns["family"]

	var entries []Override
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read override row: %w", err)
		}
		entry := Override{
			Submitted:    cell(record, submittedCol),
			ResolutionID: cell(record, idCol),
		}
		if hasFamily {
			entry.Family = cell(record, familyCol)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func cell(record []string, i int) string {
	if i < len(record) {
		return record[i]
	}
	return ""
}

func normalizeAll(entries []Override) []Override {
	out := make([]Override, 0, len(entries))
	for _, entry := range entries {
		entry.Submitted = names.Normalize(entry.Submitted).Trimmed
		entry.Family = strings.TrimSpace(entry.Family)
		entry.ResolutionID = strings.TrimSpace(entry.ResolutionID)
		if entry.Submitted == "" || entry.ResolutionID == "" {
			continue
		}
		out = append(out, entry)
	}
	return out
}

func index(entries []Override) map[entryKey]Override {
	out := make(map[entryKey]Override, len(entries))
	for _, entry := range entries {
		out[entryKey{family: entry.Family, name: entry.Submitted}] = entry
	}
	return out
}
