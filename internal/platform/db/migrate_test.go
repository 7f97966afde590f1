package db

import (
	"testing"
	"testing/fstest"
	"time"

	"github.com/curafile/curafile/migrations"
)

func TestLoadMigrations_SortOrder(t *testing.T) {
	files := fstest.MapFS{
		"010_tables.sql": {Data: []byte("SELECT 10;")},
		"002_second.sql": {Data: []byte("SELECT 2;")},
		"001_first.sql":  {Data: []byte("SELECT 1;")},
		"005_middle.sql": {Data: []byte("SELECT 5;")},
	}

	migrations, err := NewMigrator(nil, files).LoadMigrations()
	if err != nil {
		t.Fatalf("LoadMigrations() error: %v", err)
	}

	expectedVersions := []int{1, 2, 5, 10}
	if len(migrations) != len(expectedVersions) {
		t.Fatalf("expected %d migrations, got %d", len(expectedVersions), len(migrations))
	}
	for i, expected := range expectedVersions {
		if migrations[i].Version != expected {
			t.Errorf("migration[%d]: expected version %d, got %d", i, expected, migrations[i].Version)
		}
	}
	if migrations[0].SQL != "SELECT 1;" {
		t.Errorf("unexpected SQL content: %s", migrations[0].SQL)
	}
}

func TestLoadMigrations_SkipsInvalidNames(t *testing.T) {
	files := fstest.MapFS{
		"001_valid.sql":      {Data: []byte("SELECT 1;")},
		"readme.sql":         {Data: []byte("-- no version prefix")},
		"notes.txt":          {Data: []byte("not sql")},
		"abc_invalid.sql":    {Data: []byte("-- non-numeric prefix")},
		"002_also_valid.sql": {Data: []byte("SELECT 2;")},
	}

	migrations, err := NewMigrator(nil, files).LoadMigrations()
	if err != nil {
		t.Fatalf("LoadMigrations() error: %v", err)
	}
	if len(migrations) != 2 {
		t.Fatalf("expected 2 valid migrations, got %d", len(migrations))
	}
}

func TestLoadMigrations_DuplicateVersion(t *testing.T) {
	files := fstest.MapFS{
		"001_a.sql": {Data: []byte("SELECT 1;")},
		"1_b.sql":   {Data: []byte("SELECT 1;")},
	}

	if _, err := NewMigrator(nil, files).LoadMigrations(); err == nil {
		t.Fatal("expected error for duplicate version")
	}
}

func TestBuildStatus(t *testing.T) {
	migs := []Migration{
		{Version: 1, Name: "001_identity.sql"},
		{Version: 2, Name: "002_ledger.sql"},
	}
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	statuses := buildStatus(migs, map[int]time.Time{1: at})
	if len(statuses) != 2 {
		t.Fatalf("expected 2 statuses, got %d", len(statuses))
	}
	if !statuses[0].Applied || statuses[0].AppliedAt == nil || !statuses[0].AppliedAt.Equal(at) {
		t.Errorf("expected migration 1 applied at %s, got %+v", at, statuses[0])
	}
	if statuses[1].Applied {
		t.Error("expected migration 2 to be pending")
	}
}

func TestBundledMigrations(t *testing.T) {
	migs, err := NewMigrator(nil, migrations.FS).LoadMigrations()
	if err != nil {
		t.Fatalf("LoadMigrations() error: %v", err)
	}
	if len(migs) == 0 {
		t.Fatal("expected bundled migrations")
	}
	for i, m := range migs {
		if m.Version != i+1 {
			t.Errorf("expected contiguous versions, migration %d has version %d", i, m.Version)
		}
	}
}
