package db_test

import (
	"path/filepath"
	"testing"
	"time"

	"dubstudio/pkg/db"
)

func TestDB(t *testing.T) {
	tempDir := t.TempDir()
	path := filepath.Join(tempDir, "db_test.db")

	d, err := db.Init(path)
	if err != nil {
		t.Fatalf("Init() failed: %v", err)
	}
	defer d.Close()

	old := time.Now().Add(-40 * 24 * time.Hour).UTC().Format("2006-01-02 15:04:05")
	fresh := time.Now().UTC().Format("2006-01-02 15:04:05")
	if _, err := d.Exec("INSERT INTO cache (key, value, created_at) VALUES (?, ?, ?), (?, ?, ?)", "old", []byte("x"), old, "new", []byte("y"), fresh); err != nil {
		t.Fatal(err)
	}
	if _, err := d.Exec("INSERT INTO jobs (id, state, updated_at) VALUES (?, 'done', ?), (?, 'running', ?)", "j1", old, "j2", old); err != nil {
		t.Fatal(err)
	}

	n, err := d.PruneCache(7 * 24 * time.Hour)
	if err != nil {
		t.Fatalf("PruneCache() failed: %v", err)
	}
	if n != 1 {
		t.Errorf("PruneCache() removed %d rows, want 1", n)
	}

	n, err = d.PruneJobs(7 * 24 * time.Hour)
	if err != nil {
		t.Fatalf("PruneJobs() failed: %v", err)
	}
	if n != 1 {
		t.Errorf("PruneJobs() removed %d rows, want 1 (running jobs are kept)", n)
	}
}

func TestDB_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reopen.db")
	for i := 0; i < 2; i++ {
		d, err := db.Init(path)
		if err != nil {
			t.Fatalf("Init() #%d failed: %v", i, err)
		}
		d.Close()
	}
}
