package main

import (
	"os"
	"path/filepath"
	"testing"
)

func TestMigrationFiles(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{
		"002_pois.up.sql", "001_init.up.sql", "003_favorites.up.sql",
		"001_init.down.sql", "003_favorites.down.sql", "002_pois.down.sql",
		"README.md",
	} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("SELECT 1;"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	up, err := migrationFiles(dir, "up")
	if err != nil {
		t.Fatal(err)
	}
	wantUp := []string{"001_init", "002_pois", "003_favorites"}
	if len(up) != len(wantUp) {
		t.Fatalf("expected %d up files, got %v", len(wantUp), up)
	}
	for i, f := range up {
		if version(f) != wantUp[i] {
			t.Errorf("up[%d] = %s, want %s", i, version(f), wantUp[i])
		}
	}

	down, err := migrationFiles(dir, "down")
	if err != nil {
		t.Fatal(err)
	}
	if len(down) != 3 || version(down[0]) != "003_favorites" || version(down[2]) != "001_init" {
		t.Errorf("unexpected down order %v", down)
	}
}

func TestMigrationFiles_RepoMigrationsPaired(t *testing.T) {
	dir := filepath.Join("..", "..", "migrations")
	up, err := migrationFiles(dir, "up")
	if err != nil {
		t.Fatal(err)
	}
	if len(up) == 0 {
		t.Fatal("no migrations found")
	}
	for _, f := range up {
		down := filepath.Join(dir, version(f)+".down.sql")
		if _, err := os.Stat(down); err != nil {
			t.Errorf("%s has no down migration", version(f))
		}
	}
}
