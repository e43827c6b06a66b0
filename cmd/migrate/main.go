package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/samirrijal/nearby/internal/pkg/config"
)

const migrationsDir = "migrations"

func main() {
	if len(os.Args) < 2 {
		log.Fatal("usage: migrate <up|down>")
	}

	cfg, err := config.Load("nearby-migrate")
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, cfg.Database.DSN())
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer pool.Close()

	if _, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`); err != nil {
		log.Fatalf("schema_migrations: %v", err)
	}

	switch os.Args[1] {
	case "up":
		err = migrateUp(ctx, pool)
	case "down":
		err = migrateDown(ctx, pool)
	default:
		log.Fatalf("unknown command: %s", os.Args[1])
	}
	if err != nil {
		log.Fatal(err)
	}
}

// migrationFiles lists the *.up.sql or *.down.sql files of dir in apply
// order: ascending for up, descending for down.
func migrationFiles(dir, direction string) ([]string, error) {
	files, err := filepath.Glob(filepath.Join(dir, "*."+direction+".sql"))
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	if direction == "down" {
		sort.Sort(sort.Reverse(sort.StringSlice(files)))
	}
	return files, nil
}

// version is the file name without the direction suffix,
// e.g. "002_pois".
func version(path string) string {
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, ".up.sql")
	return strings.TrimSuffix(base, ".down.sql")
}

func migrateUp(ctx context.Context, pool *pgxpool.Pool) error {
	files, err := migrationFiles(migrationsDir, "up")
	if err != nil {
		return err
	}
	applied := 0
	for _, f := range files {
		v := version(f)
		var done bool
		if err := pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM schema_migrations WHERE version = $1)`, v).Scan(&done); err != nil {
			return fmt.Errorf("check %s: %w", v, err)
		}
		if done {
			continue
		}
		if err := apply(ctx, pool, f, `INSERT INTO schema_migrations (version) VALUES ($1)`, v); err != nil {
			return err
		}
		fmt.Printf("UP    %s\n", v)
		applied++
	}
	log.Printf("%d migrations applied", applied)
	return nil
}

// migrateDown reverts the most recently applied migration.
func migrateDown(ctx context.Context, pool *pgxpool.Pool) error {
	var v string
	err := pool.QueryRow(ctx, `SELECT version FROM schema_migrations ORDER BY version DESC LIMIT 1`).Scan(&v)
	if errors.Is(err, pgx.ErrNoRows) {
		log.Println("nothing to revert")
		return nil
	}
	if err != nil {
		return fmt.Errorf("latest migration: %w", err)
	}

	f := filepath.Join(migrationsDir, v+".down.sql")
	if err := apply(ctx, pool, f, `DELETE FROM schema_migrations WHERE version = $1`, v); err != nil {
		return err
	}
	fmt.Printf("DOWN  %s\n", v)
	return nil
}

func apply(ctx context.Context, pool *pgxpool.Pool, file, record, v string) error {
	data, err := os.ReadFile(file)
	if err != nil {
		return fmt.Errorf("read %s: %w", file, err)
	}
	return pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, string(data)); err != nil {
			return fmt.Errorf("exec %s: %w", file, err)
		}
		if _, err := tx.Exec(ctx, record, v); err != nil {
			return fmt.Errorf("record %s: %w", v, err)
		}
		return nil
	})
}
