package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nasaharvest/street2sat/internal/adapters/postgres"
	"github.com/nasaharvest/street2sat/internal/pkg/config"
)

func main() {
	dir := flag.String("dir", "migrations", "directory holding the *.sql files")
	flag.Parse()
	if flag.NArg() < 1 {
		log.Fatal("usage: migrate [-dir migrations] <up|down>")
	}

	cfg, err := config.Load("street2sat-migrate")
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx := context.Background()
	db, err := postgres.New(ctx, cfg.Database.DSN())
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer db.Close()

	switch flag.Arg(0) {
	case "up":
		files, err := migrationFiles(*dir)
		if err != nil {
			log.Fatalf("list migrations: %v", err)
		}
		runMigrations(ctx, db.Pool, files)
	case "down":
		dropTables(ctx, db.Pool)
	default:
		log.Fatalf("unknown command: %s", flag.Arg(0))
	}
}

// migrationFiles returns the .sql files in dir in lexical order.
func migrationFiles(dir string) ([]string, error) {
	files, err := filepath.Glob(filepath.Join(dir, "*.sql"))
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no migrations in %s", dir)
	}
	sort.Strings(files)
	return files, nil
}

func runMigrations(ctx context.Context, pool *pgxpool.Pool, files []string) {
	for _, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			log.Fatalf("read %s: %v", f, err)
		}

		_, err = pool.Exec(ctx, string(data))
		if err != nil {
			log.Fatalf("exec %s: %v", f, err)
		}

		fmt.Printf("OK  %s\n", f)
	}

	log.Println("all migrations applied")
}

// dropTables removes the application tables. Extensions are left installed.
func dropTables(ctx context.Context, pool *pgxpool.Pool) {
	for _, table := range []string{"crop_locations", "observations"} {
		if _, err := pool.Exec(ctx, "DROP TABLE IF EXISTS "+table); err != nil {
			log.Fatalf("drop %s: %v", table, err)
		}
		fmt.Printf("DROP %s\n", table)
	}
}
