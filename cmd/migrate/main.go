// Command migrate manages the PostgreSQL schema of crmsync.
package main

import (
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"

	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/neese/crmsync/internal/infrastructure/config"
	"github.com/neese/crmsync/internal/infrastructure/logger"
	"github.com/neese/crmsync/internal/infrastructure/migration"
)

const usage = `crmsync schema migrations

Usage:
  migrate [flags] <command> [argument]

Commands:
  up              apply all pending migrations
  down            revert all migrations
  step <n>        apply n migrations, or revert when n is negative
  version         print the current schema version
  force <v>       mark version v as applied without running it

Flags:
  -path string       read migrations from a directory instead of the binary
  -log-level string  debug, info, warn or error (default info)

The database is read from config.toml, .env and CRMSYNC_DATABASE_* variables.
`

var errUsage = errors.New("invalid usage")

func main() {
	dir := flag.String("path", "", "migrations directory")
	level := flag.String("log-level", "info", "log level")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	log, err := logger.New(&logger.Config{Level: *level, Format: "console", Output: "stderr", TimeFormat: "15:04:05"})
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync(log) }()

	if err := run(flag.Args(), *dir, log); err != nil {
		if errors.Is(err, errUsage) {
			fmt.Fprintf(os.Stderr, "%v\n\n", err)
			flag.Usage()
			os.Exit(2)
		}
		log.Fatal("Migration failed", zap.String("command", flag.Arg(0)), zap.Error(err))
	}
}

func run(args []string, dir string, log *zap.Logger) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.Database.Driver == "sqlite" {
		return errors.New("sqlite databases are migrated at server startup; this tool targets PostgreSQL")
	}

	m, release, err := open(cfg.Database.DSN(), dir, log)
	if err != nil {
		return err
	}
	defer release()

	switch cmd := args[0]; cmd {
	case "up":
		return m.Up()
	case "down":
		return m.Down()
	case "step":
		n, err := intArg(args, "step")
		if err != nil {
			return err
		}
		return m.Steps(n)
	case "force":
		v, err := intArg(args, "force")
		if err != nil {
			return err
		}
		return m.Force(v)
	case "version":
		st, err := m.Status()
		if err != nil {
			return err
		}
		if !st.Applied() {
			fmt.Println("no migrations applied")
			return nil
		}
		fmt.Printf("version %d (dirty=%t)\n", st.Version, st.Dirty)
		return nil
	default:
		return fmt.Errorf("%w: unknown command %q", errUsage, cmd)
	}
}

func intArg(args []string, cmd string) (int, error) {
	if len(args) < 2 {
		return 0, fmt.Errorf("%w: %s needs an integer argument", errUsage, cmd)
	}
	n, err := strconv.Atoi(args[1])
	if err != nil {
		return 0, fmt.Errorf("%w: %s argument %q is not an integer", errUsage, cmd, args[1])
	}
	return n, nil
}

// open builds a migrator over dir, or over the embedded migrations when dir
// is empty. release closes the migrator and its connection.
func open(dsn, dir string, log *zap.Logger) (*migration.Migrator, func(), error) {
	if dir != "" {
		m, err := migration.NewFromURL(dsn, dir, log)
		if err != nil {
			return nil, nil, err
		}
		return m, func() { closeMigrator(m, log) }, nil
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("ping database: %w", err)
	}
	m, err := migration.New(db, log)
	if err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	return m, func() { closeMigrator(m, log) }, nil
}

func closeMigrator(m *migration.Migrator, log *zap.Logger) {
	if err := m.Close(); err != nil {
		log.Warn("Closing migrator", zap.Error(err))
	}
}
