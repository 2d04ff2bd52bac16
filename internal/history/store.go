// Package history persists dispatched alerts as incidents in SQLite or MySQL.
package history

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/tphakala/threatwatch/internal/alerts"
	"github.com/tphakala/threatwatch/internal/conf"
	"github.com/tphakala/threatwatch/internal/errors"
	"github.com/tphakala/threatwatch/internal/logger"
	"github.com/tphakala/threatwatch/internal/prototype"
)

var (
	log     logger.Logger
	logOnce sync.Once
)

// GetLogger returns the history package logger.
func GetLogger() logger.Logger {
	logOnce.Do(func() {
		log = logger.Global().Module("history")
	})
	return log
}

// Store is the incident database. It implements alerts.Recorder.
type Store struct {
	db      *gorm.DB
	backend string
}

// Open connects to the configured database and migrates the schema.
func Open(s *conf.HistorySettings) (*Store, error) {
	var dialector gorm.Dialector
	switch s.Type {
	case conf.HistoryTypeSQLite, "":
		path := s.SQLite.Path
		if path == "" {
			return nil, configError("history: sqlite path is empty")
		}
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, errors.New(err).
					Component("history").
					Category(errors.CategoryFileIO).
					FileContext(dir, 0).
					Build()
			}
		}
		dialector = sqlite.Open(path)
	case conf.HistoryTypeMySQL:
		m := &s.MySQL
		dsn := fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
			m.Username, m.Password, m.Host, m.Port, m.Database)
		dialector = mysql.Open(dsn)
	default:
		return nil, configError(fmt.Sprintf("history: unsupported database type %q", s.Type))
	}

	lg := GetLogger()
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.NewGormLogger(lg, s.SlowQuery),
	})
	if err != nil {
		return nil, dbError(err, "open")
	}
	if err := db.AutoMigrate(&Incident{}); err != nil {
		return nil, dbError(err, "migrate")
	}

	backend := s.Type
	if backend == "" {
		backend = conf.HistoryTypeSQLite
	}
	lg.Info("incident history opened", logger.String("backend", backend))
	return &Store{db: db, backend: backend}, nil
}

// Record saves a as an incident.
func (st *Store) Record(ctx context.Context, a alerts.Alert) error {
	inc := incidentFromAlert(a)
	if err := st.db.WithContext(ctx).Create(&inc).Error; err != nil {
		return dbError(err, "record")
	}
	return nil
}

// Recent returns up to limit incidents, newest first.
func (st *Store) Recent(ctx context.Context, limit int) ([]Incident, error) {
	if limit <= 0 {
		limit = 20
	}
	var out []Incident
	err := st.db.WithContext(ctx).
		Order("detected_at DESC").
		Order("id DESC").
		Limit(limit).
		Find(&out).Error
	if err != nil {
		return nil, dbError(err, "recent")
	}
	return out, nil
}

// CountSince counts incidents per category detected at or after since.
func (st *Store) CountSince(ctx context.Context, since time.Time) (map[prototype.Category]int64, error) {
	var rows []struct {
		Category string
		N        int64
	}
	err := st.db.WithContext(ctx).
		Model(&Incident{}).
		Select("category, COUNT(*) AS n").
		Where("detected_at >= ?", since).
		Group("category").
		Scan(&rows).Error
	if err != nil {
		return nil, dbError(err, "count")
	}
	out := make(map[prototype.Category]int64, len(rows))
	for _, r := range rows {
		out[prototype.Category(r.Category)] = r.N
	}
	return out, nil
}

// Close releases the connection pool.
func (st *Store) Close() error {
	sqlDB, err := st.db.DB()
	if err != nil {
		return dbError(err, "close")
	}
	return sqlDB.Close()
}

func configError(msg string) error {
	return errors.Newf("%s", msg).
		Component("history").
		Category(errors.CategoryConfiguration).
		Build()
}

func dbError(err error, op string) error {
	return errors.New(err).
		Component("history").
		Category(errors.CategoryDatabase).
		Context("operation", op).
		Build()
}
