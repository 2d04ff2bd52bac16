package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/threatwatch/internal/alerts"
	"github.com/tphakala/threatwatch/internal/conf"
	"github.com/tphakala/threatwatch/internal/errors"
	"github.com/tphakala/threatwatch/internal/prototype"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := Open(&conf.HistorySettings{
		Enabled: true,
		Type:    conf.HistoryTypeSQLite,
		SQLite:  conf.SQLiteSettings{Path: filepath.Join(t.TempDir(), "data", "history.db")},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestRecordAndRecent(t *testing.T) {
	t.Parallel()

	st := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 10, 18, 8, 0, 0, 0, time.UTC)

	for i, c := range []prototype.Category{prototype.Gunshot, prototype.Chainsaw, prototype.Gunshot} {
		require.NoError(t, st.Record(ctx, alerts.Alert{
			ID:        string(rune('a'+i)) + "-alert",
			Category:  c,
			Label:     string(c),
			Score:     0.7 + float64(i)/10,
			Verified:  i == 2,
			SessionID: "s1",
			Cycle:     uint64(i + 1),
			Time:      base.Add(time.Duration(i) * time.Minute),
		}))
	}

	recent, err := st.Recent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "c-alert", recent[0].AlertID)
	assert.Equal(t, "b-alert", recent[1].AlertID)

	a := recent[0].Alert()
	assert.Equal(t, prototype.Gunshot, a.Category)
	assert.True(t, a.Verified)
	assert.EqualValues(t, 3, a.Cycle)
	assert.True(t, a.Time.Equal(base.Add(2*time.Minute)))

	counts, err := st.CountSince(ctx, base.Add(30*time.Second))
	require.NoError(t, err)
	assert.EqualValues(t, 1, counts[prototype.Gunshot])
	assert.EqualValues(t, 1, counts[prototype.Chainsaw])
}

func TestRecordDuplicateAlert(t *testing.T) {
	t.Parallel()

	st := openTestStore(t)
	a := alerts.Alert{ID: "dup", Category: prototype.Gunshot, Time: time.Now()}
	require.NoError(t, st.Record(context.Background(), a))

	err := st.Record(context.Background(), a)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryDatabase))
}

func TestOpenRejectsBadConfig(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		cfg  conf.HistorySettings
	}{
		{"unknown type", conf.HistorySettings{Type: "postgres"}},
		{"empty sqlite path", conf.HistorySettings{Type: conf.HistoryTypeSQLite}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := Open(&tt.cfg)
			require.Error(t, err)
			assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))
		})
	}
}

func TestStoreIsAlertRecorder(t *testing.T) {
	t.Parallel()

	st := openTestStore(t)
	var rec alerts.Recorder = st
	d := alerts.NewDispatcher(alerts.DefaultConfig(), nil, alerts.WithRecorder(rec))
	d.Deliver(context.Background(), alerts.Alert{ID: "via-dispatcher", Category: prototype.Chainsaw, Time: time.Now()})

	recent, err := st.Recent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, "via-dispatcher", recent[0].AlertID)
}
