package storage

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

// testDB creates a temporary database for testing.
func testDB(t *testing.T) *sql.DB {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "test.db")
	db, err := OpenDB(dbPath)
	if err != nil {
		t.Fatalf("OpenDB(%q): %v", dbPath, err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestOpenDB(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "sub", "dir", "plfolders.db")

	db, err := OpenDB(dbPath)
	if err != nil {
		t.Fatalf("OpenDB failed: %v", err)
	}
	defer db.Close()

	if _, err := os.Stat(dbPath); err != nil {
		t.Fatalf("database file not found: %v", err)
	}
	var n int
	if err := db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&n); err != nil {
		t.Fatalf("count migrations: %v", err)
	}
	if n != len(migrations) {
		t.Errorf("applied %d migrations, want %d", n, len(migrations))
	}
}

func TestOpenDBTwiceIsIdempotent(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "again.db")
	db, err := OpenDB(dbPath)
	if err != nil {
		t.Fatalf("first OpenDB: %v", err)
	}
	db.Close()
	db, err = OpenDB(dbPath)
	if err != nil {
		t.Fatalf("second OpenDB: %v", err)
	}
	db.Close()
}

func TestKVRoundTrip(t *testing.T) {
	kv := NewKV(testDB(t))
	ctx := context.Background()

	if err := kv.Set(ctx, map[string][]byte{"folders": []byte(`{}`), "selectedFolderId": []byte(`"f1"`)}); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := kv.Set(ctx, map[string][]byte{"folders": []byte(`{"a":1}`)}); err != nil {
		t.Fatalf("Set overwrite: %v", err)
	}

	got, err := kv.Get(ctx, "folders", "selectedFolderId", "missing")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got["folders"]) != `{"a":1}` || string(got["selectedFolderId"]) != `"f1"` {
		t.Errorf("Get = %q", got)
	}
	if _, ok := got["missing"]; ok {
		t.Error("missing key present in result")
	}

	if err := kv.Remove(ctx, "selectedFolderId", "missing"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	got, _ = kv.Get(ctx, "selectedFolderId")
	if len(got) != 0 {
		t.Errorf("after Remove got %q", got)
	}
}

func TestKVUnavailable(t *testing.T) {
	db := testDB(t)
	kv := NewKV(db)
	db.Close()
	ctx := context.Background()

	if _, err := kv.Get(ctx, "folders"); !errors.Is(err, ErrUnavailable) {
		t.Errorf("Get err = %v, want ErrUnavailable", err)
	}
	if err := kv.Set(ctx, map[string][]byte{"k": nil}); !errors.Is(err, ErrUnavailable) {
		t.Errorf("Set err = %v, want ErrUnavailable", err)
	}
	if err := kv.Remove(ctx, "k"); !errors.Is(err, ErrUnavailable) {
		t.Errorf("Remove err = %v, want ErrUnavailable", err)
	}

	var nilKV *KV
	if _, err := nilKV.Get(ctx, "k"); !errors.Is(err, ErrUnavailable) {
		t.Errorf("nil KV Get err = %v", err)
	}
}
