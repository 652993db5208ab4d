package db

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/yungbote/listinglens-backend/internal/platform/logger"
)

func TestSQLiteServiceMigrates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	svc, err := NewService(logger.NewNop(), Config{Driver: "sqlite", SQLitePath: path})
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })

	require.Equal(t, "sqlite", svc.Driver())
	require.NoError(t, svc.AutoMigrateAll())
	// Idempotent.
	require.NoError(t, svc.AutoMigrateAll())

	for _, table := range []string{"analysis_session", "product_record", "progress_event"} {
		require.True(t, svc.DB().Migrator().HasTable(table), table)
	}
}

func TestUnsupportedDriver(t *testing.T) {
	_, err := NewService(logger.NewNop(), Config{Driver: "oracle"})
	require.Error(t, err)
}
