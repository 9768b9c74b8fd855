// Package integration runs the relay persistence layer against a real
// PostgreSQL started with testcontainers.
package integration

import (
	"context"
	"database/sql"
	"os"
	"sync"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"
	gormpostgres "gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/neese/crmsync/internal/infrastructure/logger"
	"github.com/neese/crmsync/internal/infrastructure/migration"
)

// relayTables are emptied before every test
const relayTables = "relay_ledger, relay_watermark, sync_logs"

// postgresFixture is one migrated PostgreSQL container per test binary
type postgresFixture struct {
	mu        sync.Mutex
	container *tcpostgres.PostgresContainer
	dsn       string
}

var fixture postgresFixture

func (f *postgresFixture) ensure(t *testing.T) string {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.container != nil {
		return f.dsn
	}

	ctx := context.Background()
	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("crmsync_test"),
		tcpostgres.WithUsername("crmsync"),
		tcpostgres.WithPassword("crmsync"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(time.Minute)),
	)
	require.NoError(t, err, "start postgres container")

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err, "postgres connection string")

	migrateUp(t, dsn)
	f.container, f.dsn = container, dsn
	return dsn
}

func (f *postgresFixture) terminate() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.container == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	_ = f.container.Terminate(ctx)
	f.container, f.dsn = nil, ""
}

// TestDB is a connection to the shared container
type TestDB struct {
	DB  *gorm.DB
	DSN string
}

// NewSharedTestDB connects to the shared container, starting and migrating
// it on first use, and empties the relay tables
func NewSharedTestDB(t *testing.T) *TestDB {
	t.Helper()
	dsn := fixture.ensure(t)

	level := gormlogger.Silent
	if os.Getenv("TEST_DB_DEBUG") != "" {
		level = gormlogger.Info
	}
	db, err := gorm.Open(gormpostgres.Open(dsn), &gorm.Config{
		Logger:                 logger.NewGormLogger(zap.NewExample(), level, 0),
		SkipDefaultTransaction: true,
	})
	require.NoError(t, err, "connect to postgres")

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(10)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.Exec("TRUNCATE TABLE "+relayTables).Error, "truncate relay tables")
	return &TestDB{DB: db, DSN: dsn}
}

// migrateUp applies the embedded migrations; closing the migrator closes
// its connection
func migrateUp(t *testing.T, dsn string) {
	t.Helper()
	m := newMigrator(t, dsn)
	defer func() { _ = m.Close() }()
	require.NoError(t, m.Up(), "apply migrations")
}

func newMigrator(t *testing.T, dsn string) *migration.Migrator {
	t.Helper()
	sqlDB, err := sql.Open("postgres", dsn)
	require.NoError(t, err)
	m, err := migration.New(sqlDB, zap.NewNop())
	require.NoError(t, err, "create migrator")
	return m
}

// CleanupSharedContainer stops the shared container. Call it from TestMain.
func CleanupSharedContainer() {
	fixture.terminate()
}
