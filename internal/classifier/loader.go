package classifier

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/tphakala/threatwatch/internal/errors"
	"github.com/tphakala/threatwatch/internal/logger"
)

// maxModelBytes bounds the download; YAMNet is about 15 MB.
const maxModelBytes = 256 << 20

// Factory builds a Classifier from model bytes. Tests replace it with a fake.
type Factory func(modelData []byte, labels []string, opts Options) (Classifier, error)

// LoaderConfig describes where the model artifact and labels come from
type LoaderConfig struct {
	ModelPath     string
	ModelURL      string
	SHA256        string
	LabelsPath    string
	CacheDir      string
	Threads       int
	EmbeddingSize int
	FetchTimeout  time.Duration
}

// Loader resolves the model artifact (local file, then disk cache, then HTTP)
// and constructs the classifier. It is safe for concurrent use, but callers
// that need a single shared load should deduplicate calls themselves.
type Loader struct {
	cfg     LoaderConfig
	client  *http.Client
	factory Factory
	fetches atomic.Int64
}

// LoaderOption customizes a Loader
type LoaderOption func(*Loader)

// WithHTTPClient sets the client used for downloads.
func WithHTTPClient(c *http.Client) LoaderOption {
	return func(l *Loader) { l.client = c }
}

// WithFactory replaces the TFLite constructor.
func WithFactory(f Factory) LoaderOption {
	return func(l *Loader) { l.factory = f }
}

// NewLoader returns a Loader for cfg.
func NewLoader(cfg LoaderConfig, opts ...LoaderOption) *Loader {
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 2 * time.Minute
	}
	l := &Loader{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.FetchTimeout},
		factory: func(data []byte, labels []string, opts Options) (Classifier, error) {
			return NewTFLite(data, labels, opts)
		},
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Fetches returns how many HTTP downloads have been attempted.
func (l *Loader) Fetches() int64 { return l.fetches.Load() }

// Load resolves the artifact and builds the classifier. Every failure is
// reported with errors.CategoryModelLoad.
func (l *Loader) Load(ctx context.Context) (Classifier, error) {
	start := time.Now()

	data, source, err := l.modelBytes(ctx)
	if err != nil {
		return nil, asModelLoad(err, l.cfg.ModelPath)
	}

	labelsPath := l.resolveLabelsPath()
	labels, err := LoadLabels(labelsPath)
	if err != nil {
		return nil, asModelLoad(err, l.cfg.ModelPath)
	}

	c, err := l.factory(data, labels, Options{
		Threads:       l.cfg.Threads,
		EmbeddingSize: l.cfg.EmbeddingSize,
		ModelPath:     source,
	})
	if err != nil {
		return nil, asModelLoad(err, source)
	}

	if got := c.Labels(); len(got) != len(labels) {
		_ = c.Close()
		return nil, errors.Newf("label count mismatch: classifier has %d labels, label file has %d", len(got), len(labels)).
			Component("classifier").
			Category(errors.CategoryModelLoad).
			Build()
	}

	GetLogger().Info("model ready",
		logger.String("source", source),
		logger.Int("labels", len(labels)),
		logger.Duration("elapsed", time.Since(start)))
	return c, nil
}

func asModelLoad(err error, modelPath string) error {
	if errors.IsModelLoad(err) {
		return err
	}
	return errors.New(err).
		Component("classifier").
		Category(errors.CategoryModelLoad).
		ModelContext(modelPath, "").
		Build()
}

// modelBytes returns the artifact and a description of where it came from.
func (l *Loader) modelBytes(ctx context.Context) ([]byte, string, error) {
	if l.cfg.ModelPath != "" {
		data, err := os.ReadFile(filepath.Clean(l.cfg.ModelPath))
		if err != nil {
			return nil, "", fmt.Errorf("read model file: %w", err)
		}
		return data, l.cfg.ModelPath, nil
	}

	if l.cfg.ModelURL == "" {
		return nil, "", fmt.Errorf("no model path or url configured")
	}

	cachePath, err := l.cachePath()
	if err != nil {
		return nil, "", err
	}
	if data, err := os.ReadFile(cachePath); err == nil {
		if l.verify(data) == nil {
			GetLogger().Debug("model loaded from cache", logger.String("path", cachePath))
			return data, cachePath, nil
		}
		GetLogger().Warn("cached model failed checksum, downloading again", logger.String("path", cachePath))
	}

	data, err := l.fetch(ctx)
	if err != nil {
		return nil, "", err
	}
	if err := l.verify(data); err != nil {
		return nil, "", err
	}
	if err := writeFileAtomic(cachePath, data); err != nil {
		// a cache write failure does not prevent using the model
		GetLogger().Warn("failed to cache model", logger.String("path", cachePath), logger.Error(err))
	}
	return data, l.cfg.ModelURL, nil
}

func (l *Loader) cachePath() (string, error) {
	dir := l.cfg.CacheDir
	if dir == "" {
		base, err := os.UserCacheDir()
		if err != nil {
			return "", fmt.Errorf("resolve cache dir: %w", err)
		}
		dir = filepath.Join(base, "threatwatch", "models")
	}
	name := strings.ToLower(l.cfg.SHA256)
	if name == "" {
		u, err := url.Parse(l.cfg.ModelURL)
		if err != nil {
			return "", fmt.Errorf("parse model url: %w", err)
		}
		name = path.Base(u.Path)
		if name == "" || name == "/" || name == "." {
			name = "model.tflite"
		}
	} else {
		name += ".tflite"
	}
	return filepath.Join(dir, name), nil
}

func (l *Loader) verify(data []byte) error {
	if l.cfg.SHA256 == "" {
		return nil
	}
	sum := sha256.Sum256(data)
	if got := hex.EncodeToString(sum[:]); !strings.EqualFold(got, l.cfg.SHA256) {
		return fmt.Errorf("model checksum mismatch: got %s, want %s", got, l.cfg.SHA256)
	}
	return nil
}

func (l *Loader) fetch(ctx context.Context) ([]byte, error) {
	l.fetches.Add(1)
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.cfg.ModelURL, http.NoBody)
	if err != nil {
		return nil, err
	}
	resp, err := l.client.Do(req)
	if err != nil {
		return nil, errors.New(err).
			Component("classifier").
			Category(errors.CategoryModelLoad).
			NetworkContext(l.cfg.ModelURL, l.cfg.FetchTimeout).
			Build()
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.Newf("model download failed: HTTP %d", resp.StatusCode).
			Component("classifier").
			Category(errors.CategoryModelLoad).
			NetworkContext(l.cfg.ModelURL, l.cfg.FetchTimeout).
			Context("status_code", resp.StatusCode).
			Build()
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxModelBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read model body: %w", err)
	}
	if len(data) > maxModelBytes {
		return nil, fmt.Errorf("model download exceeds %d bytes", maxModelBytes)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("model download is empty")
	}

	GetLogger().Info("model downloaded",
		logger.Int("bytes", len(data)),
		logger.Duration("elapsed", time.Since(start)))
	return data, nil
}

// resolveLabelsPath falls back to the cache directory for a relative path
// that does not exist in the working directory.
func (l *Loader) resolveLabelsPath() string {
	p := l.cfg.LabelsPath
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	if _, err := os.Stat(p); err == nil {
		return p
	}
	if l.cfg.CacheDir != "" {
		candidate := filepath.Join(l.cfg.CacheDir, p)
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	return p
}

func writeFileAtomic(target string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(target), ".download-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, target)
}
