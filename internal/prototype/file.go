package prototype

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/tphakala/threatwatch/internal/errors"
)

const fileFormatVersion = 1

type fileFormat struct {
	Version    int         `json:"version"`
	Dimension  int         `json:"dimension"`
	CreatedAt  time.Time   `json:"created_at"`
	Prototypes []Prototype `json:"prototypes"`
}

// Save writes set to path as JSON through a temporary file.
func Save(path string, set *Set) error {
	if set.Len() == 0 {
		return errors.Newf("no prototypes to save").
			Component("prototype").
			Category(errors.CategoryValidation).
			Build()
	}

	data, err := json.MarshalIndent(fileFormat{
		Version:    fileFormatVersion,
		Dimension:  set.Dim(),
		CreatedAt:  set.CreatedAt().UTC(),
		Prototypes: set.Prototypes(),
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal prototypes: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.New(err).
			Component("prototype").
			Category(errors.CategoryFileIO).
			Context("operation", "create-prototype-dir").
			Build()
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".prototypes-*.json")
	if err != nil {
		return errors.New(err).Component("prototype").Category(errors.CategoryFileIO).Build()
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return errors.New(err).Component("prototype").Category(errors.CategoryFileIO).Build()
	}
	if err := tmp.Close(); err != nil {
		return errors.New(err).Component("prototype").Category(errors.CategoryFileIO).Build()
	}
	if err := os.Rename(tmpName, path); err != nil {
		return errors.New(err).
			Component("prototype").
			Category(errors.CategoryFileIO).
			Context("operation", "rename-prototype-file").
			Build()
	}
	return nil
}

// LoadFile reads a set written by Save.
func LoadFile(path string) (*Set, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, errors.New(err).
			Component("prototype").
			Category(errors.CategoryFileIO).
			FileContext(path, 0).
			Build()
	}

	var f fileFormat
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, errors.New(fmt.Errorf("failed to parse prototype file: %w", err)).
			Component("prototype").
			Category(errors.CategoryValidation).
			FileContext(path, int64(len(data))).
			Build()
	}
	if f.Version != fileFormatVersion {
		return nil, errors.Newf("unsupported prototype file version %d", f.Version).
			Component("prototype").
			Category(errors.CategoryValidation).
			Build()
	}

	set, err := NewSet(f.Prototypes)
	if err != nil {
		return nil, err
	}
	if f.Dimension != 0 && set.Dim() != 0 && f.Dimension != set.Dim() {
		return nil, errors.Newf("prototype file declares dimension %d but entries have %d", f.Dimension, set.Dim()).
			Component("prototype").
			Category(errors.CategoryValidation).
			Build()
	}
	if !f.CreatedAt.IsZero() {
		set.created = f.CreatedAt
	}
	return set, nil
}
