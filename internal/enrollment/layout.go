package enrollment

import (
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/tphakala/threatwatch/internal/audiofile"
	"github.com/tphakala/threatwatch/internal/errors"
	"github.com/tphakala/threatwatch/internal/logger"
	"github.com/tphakala/threatwatch/internal/prototype"
)

// DirectoryLayout collects enrollment files from root/<category>/. Only
// supported audio files are picked up; hidden files and subdirectories are
// ignored. A missing category directory is not an error, but a root with no
// audio at all is.
func DirectoryLayout(root string) (map[prototype.Category][]string, error) {
	info, err := os.Stat(root)
	if err != nil || !info.IsDir() {
		if err == nil {
			err = errors.Newf("%s is not a directory", root).Build()
		}
		return nil, errors.New(err).
			Component("enrollment").
			Category(errors.CategoryNotFound).
			FileContext(root, 0).
			Build()
	}

	files := make(map[prototype.Category][]string, len(prototype.Categories))
	total := 0
	for _, c := range prototype.Categories {
		dir := filepath.Join(root, string(c))
		entries, err := os.ReadDir(dir)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, errors.New(err).
				Component("enrollment").
				Category(errors.CategoryFileIO).
				FileContext(dir, 0).
				Build()
		}
		var paths []string
		for _, e := range entries {
			name := e.Name()
			if e.IsDir() || strings.HasPrefix(name, ".") || !audiofile.Supported(name) {
				continue
			}
			paths = append(paths, filepath.Join(dir, name))
		}
		slices.Sort(paths)
		if len(paths) > 0 {
			files[c] = paths
			total += len(paths)
		}
	}

	if total == 0 {
		return nil, errors.Newf("no enrollment audio found under %s (expected gunshot/ or chainsaw/ with .wav or .flac files)", root).
			Component("enrollment").
			Category(errors.CategoryNotFound).
			Build()
	}
	GetLogger().Debug("enrollment files found",
		logger.String("root", root),
		logger.Int("files", total))
	return files, nil
}
