package storage

import (
	"errors"
	"testing"
)

func runDatabaseSuite(t *testing.T, db Database) {
	t.Helper()

	if _, err := db.Get([]byte("missing")); !errors.Is(err, ErrKeyNotFound) {
		t.Fatalf("missing key: expected ErrKeyNotFound, got %v", err)
	}
	if ok, err := db.Has([]byte("missing")); err != nil || ok {
		t.Fatalf("missing key: has=%v err=%v", ok, err)
	}

	if err := db.Put([]byte("k"), []byte("v1")); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, err := db.Get([]byte("k"))
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(got) != "v1" {
		t.Fatalf("get = %q, want v1", got)
	}

	// Overwrite.
	if err := db.Put([]byte("k"), []byte("v2")); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	got, err = db.Get([]byte("k"))
	if err != nil || string(got) != "v2" {
		t.Fatalf("get after overwrite = %q err=%v", got, err)
	}
	if ok, err := db.Has([]byte("k")); err != nil || !ok {
		t.Fatalf("has after put: ok=%v err=%v", ok, err)
	}

	if err := db.Delete([]byte("k")); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := db.Get([]byte("k")); !errors.Is(err, ErrKeyNotFound) {
		t.Fatalf("deleted key: expected ErrKeyNotFound, got %v", err)
	}
}

func TestMemDB(t *testing.T) {
	db := NewMemDB()
	defer db.Close()
	runDatabaseSuite(t, db)
}

func TestMemDBCopiesValues(t *testing.T) {
	db := NewMemDB()
	defer db.Close()

	value := []byte("original")
	if err := db.Put([]byte("k"), value); err != nil {
		t.Fatalf("put: %v", err)
	}
	value[0] = 'X'
	got, err := db.Get([]byte("k"))
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(got) != "original" {
		t.Fatalf("stored value aliased the caller's slice: %q", got)
	}
	// Mutating the returned slice must not corrupt the store either.
	got[0] = 'Y'
	again, err := db.Get([]byte("k"))
	if err != nil || string(again) != "original" {
		t.Fatalf("returned value aliased the store: %q err=%v", again, err)
	}
}

func TestLevelDB(t *testing.T) {
	db, err := NewLevelDB(t.TempDir())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()
	runDatabaseSuite(t, db)
}

func TestLevelDBPersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	db, err := NewLevelDB(dir)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := db.Put([]byte("k"), []byte("v")); err != nil {
		t.Fatalf("put: %v", err)
	}
	db.Close()

	reopened, err := NewLevelDB(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	got, err := reopened.Get([]byte("k"))
	if err != nil || string(got) != "v" {
		t.Fatalf("get after reopen = %q err=%v", got, err)
	}
}
