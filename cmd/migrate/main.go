package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"corebank.io/internal/migrate"
)

const usage = "usage: migrate [-dsn ...] up|down|seed|status"

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func main() {
	log.SetFlags(0)
	var (
		dsn            = flag.String("dsn", os.Getenv("COREBANK_PG_DSN"), "PostgreSQL DSN")
		migrationsPath = flag.String("migrations", envOr("COREBANK_MIGRATIONS_DIR", "ops/migrations/sql"), "directory with *.up.sql / *.down.sql files")
		seedsPath      = flag.String("seeds", envOr("COREBANK_SEEDS_DIR", "ops/migrations/seeds"), "directory with seed *.sql files (role catalog, bootstrap admin)")
		timeout        = flag.Duration("timeout", time.Minute, "per-command deadline")
	)
	flag.Parse()

	if *dsn == "" {
		log.Fatal("missing DSN: provide via -dsn or COREBANK_PG_DSN")
	}
	cmd := flag.Arg(0)
	if cmd == "" {
		log.Fatal(usage)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	db, err := sql.Open("pgx", *dsn)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer db.Close()

	mgr := migrate.NewManager(db, *migrationsPath, *seedsPath)

	switch cmd {
	case "up":
		err = mgr.Up(ctx)
	case "down":
		err = mgr.Down(ctx)
	case "seed":
		err = mgr.Seed(ctx)
	case "status":
		var applied []string
		applied, err = mgr.Status(ctx)
		if err == nil {
			if len(applied) == 0 {
				fmt.Println("no migrations applied")
			}
			for _, item := range applied {
				fmt.Println(item)
			}
		}
	default:
		log.Fatalf("unknown command %q\n%s", cmd, usage)
	}
	if err != nil {
		log.Fatalf("migrate %s: %v", cmd, err)
	}
}
