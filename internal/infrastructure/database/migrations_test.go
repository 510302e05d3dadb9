package database

import (
	"context"
	"errors"
	"testing"
	"testing/fstest"
)

func testSource() Source {
	fsys := fstest.MapFS{}
	fsys["sql/20260301_090000_first.up.sql"] = &fstest.MapFile{Data: []byte("CREATE TABLE first (id INTEGER PRIMARY KEY);")}
	fsys["sql/20260301_090000_first.down.sql"] = &fstest.MapFile{Data: []byte("DROP TABLE first;")}
	fsys["sql/20260302_090000_second.up.sql"] = &fstest.MapFile{Data: []byte("CREATE TABLE second (id INTEGER PRIMARY KEY);")}
	fsys["sql/README.md"] = &fstest.MapFile{Data: []byte("not a migration")}
	return Source{FS: fsys, Dir: "sql"}
}

func tableExists(t *testing.T, db *DB, name string) bool {
	t.Helper()
	var count int
	err := db.QueryRowContext(context.Background(),
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", name,
	).Scan(&count)
	if err != nil {
		t.Fatalf("query error: %v", err)
	}
	return count == 1
}

func TestMigrate(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	if err := db.Migrate(ctx, testSource()); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	if !tableExists(t, db, "first") || !tableExists(t, db, "second") {
		t.Fatal("migrations not applied")
	}

	applied, pending, err := db.MigrationStatus(ctx, testSource())
	if err != nil {
		t.Fatalf("MigrationStatus() error = %v", err)
	}
	if len(applied) != 2 || len(pending) != 0 {
		t.Errorf("applied=%d pending=%d, want 2 and 0", len(applied), len(pending))
	}
	if applied[0].Version != "20260301_090000" || applied[0].AppliedAt.IsZero() {
		t.Errorf("applied[0] = %+v", applied[0])
	}

	// Idempotent.
	if err := db.Migrate(ctx, testSource()); err != nil {
		t.Fatalf("second Migrate() error = %v", err)
	}
}

func TestMigrate_FailureKeepsEarlierMigrations(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	src := Source{FS: fstest.MapFS{
		"20260301_090000_ok.up.sql":     {Data: []byte("CREATE TABLE ok (id INTEGER);")},
		"20260302_090000_broken.up.sql": {Data: []byte("CREATE TABLE (;")},
	}}
	if err := db.Migrate(ctx, src); err == nil {
		t.Fatal("Migrate() error = nil, want failure from broken migration")
	}
	if !tableExists(t, db, "ok") {
		t.Error("earlier migration rolled back")
	}
	_, pending, err := db.MigrationStatus(ctx, src)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 || pending[0].Name != "broken" {
		t.Errorf("pending = %+v", pending)
	}
}

func TestMigrateDown(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	if err := db.Migrate(ctx, testSource()); err != nil {
		t.Fatal(err)
	}

	// The latest migration has no down file.
	if err := db.MigrateDown(ctx, testSource()); !errors.Is(err, ErrNoDownMigration) {
		t.Fatalf("MigrateDown() error = %v, want ErrNoDownMigration", err)
	}

	only := Source{FS: fstest.MapFS{
		"20260301_090000_first.up.sql":   {Data: []byte("CREATE TABLE first (id INTEGER PRIMARY KEY);")},
		"20260301_090000_first.down.sql": {Data: []byte("DROP TABLE first;")},
	}}
	db2 := openTestDB(t)
	if err := db2.Migrate(ctx, only); err != nil {
		t.Fatal(err)
	}
	if err := db2.MigrateDown(ctx, only); err != nil {
		t.Fatalf("MigrateDown() error = %v", err)
	}
	if tableExists(t, db2, "first") {
		t.Error("table first should have been dropped")
	}
	applied, _, err := db2.MigrationStatus(ctx, only)
	if err != nil {
		t.Fatal(err)
	}
	if len(applied) != 0 {
		t.Errorf("applied = %d after rollback, want 0", len(applied))
	}

	// Nothing left to roll back.
	if err := db2.MigrateDown(ctx, only); err != nil {
		t.Errorf("MigrateDown() on empty history error = %v", err)
	}
}

func TestMigrate_EmptySources(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	for _, src := range []Source{{}, {FS: fstest.MapFS{}, Dir: "absent"}} {
		if err := db.Migrate(ctx, src); err != nil {
			t.Errorf("Migrate(%+v) error = %v", src, err)
		}
	}
}

func TestParseMigrationFilename(t *testing.T) {
	tests := []struct {
		filename    string
		wantVersion string
		wantIsUp    bool
		wantOk      bool
	}{
		{"20260301_090000_audit_logs.up.sql", "20260301_090000", true, true},
		{"20260301_090000_audit_logs.down.sql", "20260301_090000", false, true},
		{"readme.txt", "", false, false},
		{"20260301_090000_audit_logs.sql", "", false, false},
		{"invalid.up.sql", "", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.filename, func(t *testing.T) {
			version, isUp, ok := parseMigrationFilename(tt.filename)
			if ok != tt.wantOk {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOk)
			}
			if ok && (version != tt.wantVersion || isUp != tt.wantIsUp) {
				t.Errorf("got (%q, %v), want (%q, %v)", version, isUp, tt.wantVersion, tt.wantIsUp)
			}
		})
	}
}

func TestExtractMigrationName(t *testing.T) {
	tests := []struct {
		filename string
		want     string
	}{
		{"20260301_090000_audit_logs.up.sql", "audit_logs"},
		{"20260301_090000_initial_schema.down.sql", "initial_schema"},
		{"short.up.sql", "short"},
	}

	for _, tt := range tests {
		if got := extractMigrationName(tt.filename); got != tt.want {
			t.Errorf("extractMigrationName(%q) = %q, want %q", tt.filename, got, tt.want)
		}
	}
}
