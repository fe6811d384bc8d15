package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	logx "pepperbot/pkg/logx"
)

func TestOpenDisabled(t *testing.T) {
	for _, d := range []string{"", "none", " NONE "} {
		st, err := Open(Config{Driver: d}, logx.Nop())
		require.NoError(t, err)
		require.Nil(t, st)
	}
	_, err := Open(Config{Driver: "mongo"}, logx.Nop())
	require.Error(t, err)
}

func TestDrivers(t *testing.T) {
	for _, driver := range []string{"file", "sqlite"} {
		driver := driver
		t.Run(driver, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "state", "pepperbot.db")
			st, err := Open(Config{Driver: driver, Path: path, BusyTimeout: time.Second}, logx.Nop())
			require.NoError(t, err)
			t.Cleanup(func() { _ = st.Close() })
			ctx := context.Background()

			for i, action := range []string{"stop_bot", "start_bot", "broadcast"} {
				require.NoError(t, st.AppendAudit(ctx, AuditEntry{
					At:      time.Date(2024, 1, 1, 0, 0, i, 0, time.UTC),
					ActorID: 42,
					ChatID:  42,
					Action:  action,
					OK:      i,
				}))
			}

			got, err := st.RecentAudit(ctx, 2)
			require.NoError(t, err)
			require.Len(t, got, 2)
			require.Equal(t, "broadcast", got[0].Action)
			require.Equal(t, 2, got[0].OK)
			require.Equal(t, "start_bot", got[1].Action)
			require.True(t, got[1].At.Equal(time.Date(2024, 1, 1, 0, 0, 1, 0, time.UTC)))
		})
	}
}

func TestFileRequiresPath(t *testing.T) {
	_, err := Open(Config{Driver: "file"}, logx.Nop())
	require.Error(t, err)
}
