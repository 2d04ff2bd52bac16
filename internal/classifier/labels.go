package classifier

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/tphakala/threatwatch/internal/errors"
)

// LoadLabels reads class labels from path. Files ending in .csv are read as a
// YAMNet class map (index,mid,display_name); anything else holds one label
// per line.
func LoadLabels(path string) ([]string, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, errors.New(err).
			Component("classifier").
			Category(errors.CategoryLabelLoad).
			Context("label_path", path).
			Build()
	}
	defer func() { _ = f.Close() }()

	var labels []string
	if strings.EqualFold(filepath.Ext(path), ".csv") {
		labels, err = ParseClassMap(f)
	} else {
		labels, err = ParseLabelLines(f)
	}
	if err != nil {
		return nil, errors.New(err).
			Component("classifier").
			Category(errors.CategoryLabelLoad).
			Context("label_path", path).
			Build()
	}
	return labels, nil
}

// ParseClassMap reads the display_name column of a class map CSV. The header
// row is required and locates the column.
func ParseClassMap(r io.Reader) ([]string, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read class map header: %w", err)
	}
	col := -1
	for i, h := range header {
		if strings.EqualFold(strings.TrimSpace(h), "display_name") {
			col = i
			break
		}
	}
	if col < 0 {
		return nil, fmt.Errorf("class map header has no display_name column: %v", header)
	}

	var labels []string
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read class map row %d: %w", len(labels)+1, err)
		}
		if col >= len(rec) {
			return nil, fmt.Errorf("class map row %d has %d fields", len(labels)+1, len(rec))
		}
		labels = append(labels, strings.TrimSpace(rec[col]))
	}
	if len(labels) == 0 {
		return nil, fmt.Errorf("class map has no rows")
	}
	return labels, nil
}

// ParseLabelLines reads one label per line, skipping blank lines.
func ParseLabelLines(r io.Reader) ([]string, error) {
	var labels []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			labels = append(labels, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if len(labels) == 0 {
		return nil, fmt.Errorf("label file is empty")
	}
	return labels, nil
}
