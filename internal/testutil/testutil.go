// Package testutil provides shared test infrastructure: a quiet logger and a
// Postgres database for storage integration tests.
//
// Integration tests start a disposable Postgres container unless
// KAIZEN_TEST_DATABASE_URL points at an existing database:
//
//	func TestMain(m *testing.M) {
//	    tc := testutil.MustStartPostgres()
//	    defer tc.Terminate()
//	    testDB, _ = tc.NewTestDB(context.Background(), testutil.TestLogger())
//	    os.Exit(m.Run())
//	}
package testutil

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/ashita-ai/kaizen/internal/storage"
	"github.com/ashita-ai/kaizen/migrations"
)

const (
	pgImage = "postgres:18-alpine"
	pgCreds = "kaizen"
)

// TestContainer holds the DSN of the test database and, when one was
// started, the container serving it.
type TestContainer struct {
	Container testcontainers.Container // nil for an external database
	DSN       string
}

// MustStartPostgres returns a Postgres for the test binary. It exits the
// process on failure, so call it from TestMain only.
func MustStartPostgres() *TestContainer {
	if dsn := os.Getenv("KAIZEN_TEST_DATABASE_URL"); dsn != "" {
		return &TestContainer{DSN: dsn}
	}

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        pgImage,
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     pgCreds,
				"POSTGRES_PASSWORD": pgCreds,
				"POSTGRES_DB":       pgCreds,
			},
			// Postgres logs readiness twice: once for the init server, once for the real one.
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		exitf("start postgres container: %v", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		exitf("container host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		exitf("container port: %v", err)
	}

	return &TestContainer{
		Container: container,
		DSN:       fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable", pgCreds, pgCreds, host, port.Port(), pgCreds),
	}
}

// NewTestDB connects a storage.DB and applies the kaizen migrations.
func (tc *TestContainer) NewTestDB(ctx context.Context, logger *slog.Logger) (*storage.DB, error) {
	db, err := storage.New(ctx, tc.DSN, logger)
	if err != nil {
		return nil, fmt.Errorf("testutil: create DB: %w", err)
	}
	if err := db.RunMigrations(ctx, migrations.FS); err != nil {
		db.Close()
		return nil, fmt.Errorf("testutil: run migrations: %w", err)
	}
	return db, nil
}

// Terminate removes the container, if one was started.
func (tc *TestContainer) Terminate() {
	if tc.Container != nil {
		_ = tc.Container.Terminate(context.Background())
	}
}

// TestLogger returns a text logger on stderr. It logs warnings and above
// unless KAIZEN_TEST_LOG_LEVEL says otherwise.
func TestLogger() *slog.Logger {
	level := slog.LevelWarn
	if v := os.Getenv("KAIZEN_TEST_LOG_LEVEL"); v != "" {
		_ = level.UnmarshalText([]byte(v))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func exitf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "testutil: "+format+"\n", args...)
	os.Exit(1)
}
