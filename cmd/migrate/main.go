package main

import (
	"errors"
	"os"
	"strconv"

	"github.com/golang-migrate/migrate/v4"
	"github.com/joho/godotenv"

	"github.com/hackgods/clinic-scheduling/internal/db"
	"github.com/hackgods/clinic-scheduling/internal/logging"
)

// Usage: migrate [up|down|version|force <version>]
func main() {
	_ = godotenv.Load()
	logger := logging.New("migrate", os.Getenv("LOG_LEVEL"))

	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		logger.Error("POSTGRES_DSN is required")
		os.Exit(1)
	}

	cmd := "up"
	if len(os.Args) > 1 {
		cmd = os.Args[1]
	}

	m, err := db.NewMigrator(dsn)
	if err != nil {
		logger.Error("create migrator", "error", err)
		os.Exit(1)
	}
	defer func() { _, _ = m.Close() }()

	switch cmd {
	case "up":
		err = m.Up()
	case "down":
		err = m.Steps(-1)
	case "force":
		if len(os.Args) < 3 {
			logger.Error("force needs a version")
			os.Exit(2)
		}
		var v int
		v, err = strconv.Atoi(os.Args[2])
		if err != nil {
			logger.Error("invalid version", "value", os.Args[2])
			os.Exit(2)
		}
		err = m.Force(v)
	case "version":
	default:
		logger.Error("unknown command", "command", cmd)
		os.Exit(2)
	}
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		logger.Error("migration failed", "command", cmd, "error", err)
		os.Exit(1)
	}

	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		logger.Error("read version", "error", err)
		os.Exit(1)
	}
	logger.Info("migrations done", "command", cmd, "version", version, "dirty", dirty)
}
