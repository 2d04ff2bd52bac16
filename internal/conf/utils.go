package conf

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"

	"github.com/tphakala/threatwatch/internal/errors"
	"github.com/tphakala/threatwatch/internal/logger"
)

const configFileName = "config.yaml"

// searchDirs lists where the config file may live, most specific first.
func searchDirs() ([]string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, configPathError(err, "home_directory")
	}
	if runtime.GOOS == "windows" {
		exe, err := os.Executable()
		if err != nil {
			return nil, configPathError(err, "executable_path")
		}
		return []string{filepath.Dir(exe), filepath.Join(home, "AppData", "Roaming", AppName)}, nil
	}
	return []string{filepath.Join(home, ".config", AppName), filepath.Join("/etc", AppName)}, nil
}

func configPathError(err error, operation string) error {
	return errors.New(err).
		Component("conf").
		Category(errors.CategoryConfiguration).
		Context("operation", operation).
		Build()
}

// existingConfig returns the first directory in dirs holding a config file.
func existingConfig(dirs []string) (string, bool) {
	for _, dir := range dirs {
		if info, err := os.Stat(filepath.Join(dir, configFileName)); err == nil && !info.IsDir() {
			return dir, true
		}
	}
	return "", false
}

// GetDefaultConfigPaths returns the config search directories. Once one of
// them holds a config file, only that directory is returned so a stale copy
// elsewhere is never merged in.
func GetDefaultConfigPaths() ([]string, error) {
	dirs, err := searchDirs()
	if err != nil {
		return nil, err
	}
	if dir, ok := existingConfig(dirs); ok {
		return []string{dir}, nil
	}
	return dirs, nil
}

// FindConfigFile returns the path of the config file in use.
func FindConfigFile() (string, error) {
	dirs, err := searchDirs()
	if err != nil {
		return "", err
	}
	if dir, ok := existingConfig(dirs); ok {
		return filepath.Join(dir, configFileName), nil
	}
	return "", errors.Newf("no %s in %v", configFileName, dirs).
		Component("conf").
		Category(errors.CategoryNotFound).
		Build()
}

// GetBasePath expands environment variables in path and makes sure the
// directory exists. Creation failures are logged; the caller fails later on
// first use.
func GetBasePath(path string) string {
	dir := filepath.Clean(os.ExpandEnv(path))
	if err := os.MkdirAll(dir, 0o750); err != nil {
		GetLogger().Warn("failed to create directory", logger.String("path", dir), logger.Error(err))
	}
	return dir
}

// ModelCacheDir resolves where downloaded models are kept: the configured
// directory, else the user cache directory, else "models" under the first
// config search directory.
func ModelCacheDir(configured string) (string, error) {
	if configured != "" {
		return GetBasePath(configured), nil
	}
	if dir, err := os.UserCacheDir(); err == nil {
		return GetBasePath(filepath.Join(dir, AppName, "models")), nil
	}
	dirs, err := GetDefaultConfigPaths()
	if err != nil {
		return "", err
	}
	return GetBasePath(filepath.Join(dirs[0], "models")), nil
}

// moveFile renames src to dst, copying when they sit on different devices.
func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	if err := copyFile(src, dst); err != nil {
		return err
	}
	if err := os.Remove(src); err != nil {
		return fmt.Errorf("remove %s after copy: %w", src, err)
	}
	return nil
}

func copyFile(src, dst string) (err error) {
	in, err := os.Open(src) //nolint:gosec // path built by SaveYAMLConfig
	if err != nil {
		return fmt.Errorf("open %s: %w", src, err)
	}
	defer func() { _ = in.Close() }()

	out, err := os.Create(dst) //nolint:gosec // path built by SaveYAMLConfig
	if err != nil {
		return fmt.Errorf("create %s: %w", dst, err)
	}
	defer func() {
		if cerr := out.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close %s: %w", dst, cerr)
		}
	}()

	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("copy %s to %s: %w", src, dst, err)
	}
	return nil
}
