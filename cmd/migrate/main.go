package main

import (
	"database/sql"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/lib/pq"

	"github.com/developer-mesh/agent-hub/migrations"
	"github.com/developer-mesh/agent-hub/pkg/database"
)

var (
	upFlag      = flag.Bool("up", false, "Apply all pending migrations")
	downFlag    = flag.Bool("down", false, "Roll back the last migration")
	resetFlag   = flag.Bool("reset", false, "Roll back all migrations")
	versionFlag = flag.Bool("version", false, "Show current migration version")
	forceFlag   = flag.Int("force", -1, "Force migration version without running migrations")

	dsn     = flag.String("dsn", "", "Database connection string (defaults to DATABASE_URL)")
	timeout = flag.Duration("timeout", time.Minute, "Connection timeout")
)

func main() {
	flag.Parse()

	connStr := *dsn
	if connStr == "" {
		connStr = os.Getenv("DATABASE_URL")
	}
	if connStr == "" {
		fmt.Println("Error: -dsn or DATABASE_URL is required")
		flag.Usage()
		os.Exit(1)
	}

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer func() { _ = db.Close() }()

	db.SetConnMaxLifetime(*timeout)
	if err := db.Ping(); err != nil {
		log.Fatalf("Failed to ping database at %s: %v", database.SanitizeDSN(connStr), err)
	}

	src, err := migrations.Source()
	if err != nil {
		log.Fatalf("Failed to open embedded migrations: %v", err)
	}
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		log.Fatalf("Failed to create migration driver: %v", err)
	}
	migrator, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		log.Fatalf("Failed to create migrator: %v", err)
	}

	switch {
	case *versionFlag:
		version, dirty, err := migrator.Version()
		if err == migrate.ErrNilVersion {
			fmt.Println("No migrations applied yet")
			return
		}
		if err != nil {
			log.Fatalf("Failed to read migration version: %v", err)
		}
		fmt.Printf("Current migration version: %d (dirty: %t)\n", version, dirty)

	case *forceFlag >= 0:
		fmt.Printf("Forcing migration version to %d...\n", *forceFlag)
		if err := migrator.Force(*forceFlag); err != nil {
			log.Fatalf("Failed to force version: %v", err)
		}
		fmt.Printf("Migration version forced to %d\n", *forceFlag)

	case *upFlag:
		fmt.Println("Running migrations...")
		start := time.Now()
		if err := migrator.Up(); err != nil && err != migrate.ErrNoChange {
			log.Fatalf("Migration failed: %v", err)
		}
		fmt.Printf("Migrations completed in %s\n", time.Since(start))

	case *downFlag:
		fmt.Println("Rolling back last migration...")
		if err := migrator.Steps(-1); err != nil {
			log.Fatalf("Failed to roll back migration: %v", err)
		}
		fmt.Println("Rollback completed")

	case *resetFlag:
		fmt.Println("Rolling back all migrations...")
		if err := migrator.Down(); err != nil && err != migrate.ErrNoChange {
			log.Fatalf("Failed to reset migrations: %v", err)
		}
		fmt.Println("All migrations have been rolled back")

	default:
		flag.Usage()
	}
}
