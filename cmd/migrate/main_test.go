package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeFiles(t *testing.T, names ...string) string {
	t.Helper()
	dir := t.TempDir()
	for _, name := range names {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("SELECT 1;"), 0o600); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func TestVersionFromFile(t *testing.T) {
	tests := []struct {
		name    string
		want    int64
		wantErr bool
	}{
		{"001_init.up.sql", 1, false},
		{"012_grants.up.sql", 12, false},
		{"init.up.sql", 0, true},
		{"abc_init.up.sql", 0, true},
	}
	for _, tc := range tests {
		got, err := versionFromFile(tc.name)
		if (err != nil) != tc.wantErr {
			t.Errorf("versionFromFile(%q) error = %v, wantErr %v", tc.name, err, tc.wantErr)
			continue
		}
		if got != tc.want {
			t.Errorf("versionFromFile(%q) = %d, want %d", tc.name, got, tc.want)
		}
	}
}

func TestLoadMigrations_OrdersByVersionAndSkipsDown(t *testing.T) {
	dir := writeFiles(t, "010_c.up.sql", "002_b.up.sql", "001_a.up.sql", "001_a.down.sql", "README.md")

	got, err := loadMigrations(dir)
	if err != nil {
		t.Fatalf("loadMigrations: %v", err)
	}
	want := []migration{{1, "001_a.up.sql"}, {2, "002_b.up.sql"}, {10, "010_c.up.sql"}}
	if len(got) != len(want) {
		t.Fatalf("loadMigrations = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("migration %d = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestLoadMigrations_DuplicateVersion(t *testing.T) {
	dir := writeFiles(t, "001_a.up.sql", "1_again.up.sql")
	_, err := loadMigrations(dir)
	if err == nil || !strings.Contains(err.Error(), "version 1") {
		t.Errorf("expected duplicate version error, got %v", err)
	}
}

func TestShippedMigrationsLoad(t *testing.T) {
	got, err := loadMigrations(filepath.Join("..", "..", "migrations"))
	if err != nil {
		t.Fatalf("loadMigrations: %v", err)
	}
	if len(got) == 0 || got[0].version != 1 {
		t.Errorf("unexpected migrations: %v", got)
	}
}
