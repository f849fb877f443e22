package storage

import (
	"errors"
	"strings"
	"testing"
)

func TestLoadMigrations(t *testing.T) {
	migrations, err := loadMigrations()
	if err != nil {
		t.Fatalf("loadMigrations failed: %v", err)
	}
	if len(migrations) != 5 {
		t.Fatalf("expected 5 migrations, got %d", len(migrations))
	}

	for i, m := range migrations {
		if m.Version != i+1 {
			t.Errorf("migration %d has version %d, want %d", i, m.Version, i+1)
		}
		if m.SQL == "" {
			t.Errorf("migration %d (%s) has empty SQL", m.Version, m.Name)
		}
	}

	if migrations[0].Name != "create_log_entries" {
		t.Errorf("first migration is %q, want create_log_entries", migrations[0].Name)
	}
	if !strings.Contains(migrations[1].SQL, "ReplacingMergeTree") {
		t.Error("detection_results migration should use a replacing merge engine")
	}
}

func TestSplitStatements(t *testing.T) {
	tests := []struct {
		name string
		sql  string
		want int
	}{
		{"single statement", "CREATE TABLE t (id UUID) ENGINE = MergeTree() ORDER BY id", 1},
		{"two statements", "CREATE TABLE a (id UUID) ENGINE = Memory; CREATE TABLE b (id UUID) ENGINE = Memory;", 2},
		{"semicolon in string literal", "INSERT INTO t VALUES ('a;b'); SELECT 1", 2},
		{"comment only", "-- just a comment", 0},
		{"empty", "  \n ", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := splitStatements(tt.sql)
			if len(got) != tt.want {
				t.Errorf("splitStatements returned %d statements, want %d: %q", len(got), tt.want, got)
			}
		})
	}
}

func TestStorageErrorWrapping(t *testing.T) {
	err := WrapNotFoundError("Get", "detection_results", "abc")
	if !IsNotFound(err) {
		t.Error("wrapped not-found error should satisfy IsNotFound")
	}

	var se *StorageError
	if !errors.As(err, &se) {
		t.Fatal("expected a StorageError")
	}
	if se.Op != "Get" || se.Table != "detection_results" {
		t.Errorf("unexpected error context: %+v", se)
	}

	conflict := &StorageError{Op: "MarkVerified", Err: ErrConflict}
	if !IsConflict(conflict) {
		t.Error("conflict error should satisfy IsConflict")
	}
	if IsNotFound(conflict) {
		t.Error("conflict error should not satisfy IsNotFound")
	}
}
