package main

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"taxonmatch/internal/resolve"
	"taxonmatch/internal/services"
)

const stdioPath = "-"

// delimiterFor picks the field separator from a file extension.
func delimiterFor(path string) rune {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".tsv", ".tab":
		return '\t'
	default:
		return ','
	}
}

func readTableFile(path string, stdin io.Reader) (*resolve.Table, error) {
	if path == stdioPath {
		return readTable(stdin, ',')
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "cli", "open input", path, err)
	}
	defer file.Close()
	table, err := readTable(file, delimiterFor(path))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return table, nil
}

func readTable(r io.Reader, delimiter rune) (*resolve.Table, error) {
	buffered := bufio.NewReader(r)
	if bom, err := buffered.Peek(3); err == nil && bytes.Equal(bom, []byte("\xEF\xBB\xBF")) {
		_, _ = buffered.Discard(3)
	}
	reader := csv.NewReader(buffered)
	reader.Comma = delimiter
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, services.Wrap(services.ErrValidation, "cli", "read input", "input has no header row", nil)
	}
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, "cli", "read input", "header", err)
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}
	table := &resolve.Table{Header: header}
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, services.Wrap(services.ErrValidation, "cli", "read input", "row", err)
		}
		table.Rows = append(table.Rows, row)
	}
	return table, nil
}

func writeTable(w io.Writer, table *resolve.Table, delimiter rune) error {
	writer := csv.NewWriter(w)
	writer.Comma = delimiter
	if err := writer.Write(table.Header); err != nil {
		return err
	}
	if err := writer.WriteAll(table.Rows); err != nil {
		return err
	}
	return writer.Error()
}

// writeTableFile writes through a temp file so a failed run never leaves a
// truncated output behind.
func writeTableFile(path string, table *resolve.Table, stdout io.Writer) error {
	if path == "" || path == stdioPath {
		return writeTable(stdout, table, ',')
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("create output: %w", err)
	}
	tmpPath := tmp.Name()
	if err := writeTable(tmp, table, delimiterFor(path)); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("write output: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close output: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("finalize output: %w", err)
	}
	return nil
}
