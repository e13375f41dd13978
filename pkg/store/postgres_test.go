package store

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// newPostgresStore connects to CI_DATABASE_URL when set, otherwise spins up
// a throwaway container. Skipped under -short.
func newPostgresStore(t *testing.T) *Postgres {
	if testing.Short() {
		t.Skip("postgres store test skipped in short mode")
	}
	ctx := context.Background()

	connStr := os.Getenv("CI_DATABASE_URL")
	if connStr == "" {
		container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
			tcpostgres.WithDatabase("symphony_test"),
			tcpostgres.WithUsername("symphony"),
			tcpostgres.WithPassword("symphony"),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).WithStartupTimeout(60*time.Second)),
		)
		require.NoError(t, err)
		t.Cleanup(func() { _ = container.Terminate(ctx) })

		connStr, err = container.ConnectionString(ctx, "sslmode=disable")
		require.NoError(t, err)
	}

	s, err := NewPostgres(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func TestPostgresStore(t *testing.T) {
	s := newPostgresStore(t)
	storeSuite(t, s)
}
