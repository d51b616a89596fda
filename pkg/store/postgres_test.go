package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tweetpilot/tweetpilot/pkg/internal/testutil"
)

func TestPostgresStore(t *testing.T) {
	dsn := testutil.StartPostgres(t)
	ctx := context.Background()

	m, err := NewMigrator(dsn)
	require.NoError(t, err)
	require.NoError(t, m.Up())
	require.NoError(t, m.Up(), "second run is a no-op")
	t.Cleanup(func() {
		if err := m.Close(); err != nil {
			t.Logf("closing migrator: %v", err)
		}
	})

	pg, err := NewPostgres(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pg.Close)

	runStoreSuite(t, func(t *testing.T) Store {
		t.Helper()
		_, err := pg.pool.Exec(ctx, `TRUNCATE profiles, intent_filters, matched_posts,
			reply_suggestions, scheduled_content, analytics_events`)
		require.NoError(t, err)
		return pg
	})
}

func TestMigrator_DownAndUp(t *testing.T) {
	dsn := testutil.StartPostgres(t)

	m, err := NewMigrator(dsn)
	require.NoError(t, err)
	defer func() {
		if err := m.Close(); err != nil {
			t.Logf("closing migrator: %v", err)
		}
	}()

	require.NoError(t, m.Up())
	require.NoError(t, m.Down())
	require.NoError(t, m.Up())
}
