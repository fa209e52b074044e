package main

import (
	"database/sql"
	"flag"
	"log"
	"strconv"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"

	"ms-storefront/internal/config"
	"ms-storefront/internal/database/migrations"
)

func main() {
	dir := flag.String("dir", "./migrations", "directory containing migration files")
	down := flag.Bool("down", false, "roll back all migrations instead of applying them")
	to := flag.String("to", "", "migrate to a specific schema version")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		log.Println(".env file not found, using environment variables")
	}

	cfg := config.Load()

	sqldb, err := sql.Open("postgres", cfg.Database.DSN)
	if err != nil {
		log.Fatalf("failed to open postgres: %v", err)
	}
	defer sqldb.Close()
	if err := sqldb.Ping(); err != nil {
		log.Fatalf("failed to connect to postgres: %v", err)
	}

	bunDB := bun.NewDB(sqldb, pgdialect.New())
	runner := migrations.NewRunner(bunDB, migrations.MigrateOptions{MigrationsDir: *dir})
	defer runner.Close()

	switch {
	case *to != "":
		version, err := strconv.ParseUint(*to, 10, 32)
		if err != nil {
			log.Fatalf("invalid version %q: %v", *to, err)
		}
		if err := runner.MigrateTo(uint(version)); err != nil {
			log.Fatalf("migration failed: %v", err)
		}
	case *down:
		if err := runner.MigrateDown(); err != nil {
			log.Fatalf("migration failed: %v", err)
		}
	default:
		if err := runner.MigrateUp(); err != nil {
			log.Fatalf("migration failed: %v", err)
		}
	}

	log.Println("migrations complete")
}
