package data

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// TestNewDB verifies database initialization with various scenarios.
func TestNewDB(t *testing.T) {
	t.Run("creates database file", func(t *testing.T) {
		dbPath := filepath.Join(t.TempDir(), "netbot.db")

		store, err := NewDB(dbPath)
		if err != nil {
			t.Fatalf("NewDB failed: %v", err)
		}
		defer store.Close()

		if _, err := os.Stat(dbPath); os.IsNotExist(err) {
			t.Error("database file not created")
		}
		if store.Path() != dbPath {
			t.Errorf("Path() = %q, want %q", store.Path(), dbPath)
		}
		if err := store.Health(); err != nil {
			t.Errorf("health check failed: %v", err)
		}
	})

	t.Run("creates nested directory structure", func(t *testing.T) {
		nestedDir := filepath.Join(t.TempDir(), "deep", "nested", "netbot")

		store, err := NewDB(filepath.Join(nestedDir, "netbot.db"))
		if err != nil {
			t.Fatalf("NewDB with nested dir failed: %v", err)
		}
		defer store.Close()

		if _, err := os.Stat(nestedDir); os.IsNotExist(err) {
			t.Error("nested directory not created")
		}
	})

	t.Run("idempotent migrations", func(t *testing.T) {
		dbPath := filepath.Join(t.TempDir(), "netbot.db")

		store1, err := NewDB(dbPath)
		if err != nil {
			t.Fatalf("first NewDB failed: %v", err)
		}
		store1.Close()

		store2, err := NewDB(dbPath)
		if err != nil {
			t.Fatalf("second NewDB failed: %v", err)
		}
		defer store2.Close()

		if err := store2.Health(); err != nil {
			t.Errorf("health check after re-init failed: %v", err)
		}
	})
}

// TestStoreMigration verifies the schema objects exist.
func TestStoreMigration(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()

	for _, obj := range []struct{ kind, name string }{
		{"table", "datasets"},
		{"table", "chunks"},
		{"table", "turns"},
		{"trigger", "chunks_count_insert"},
		{"index", "idx_turns_session"},
	} {
		t.Run(obj.name, func(t *testing.T) {
			var count int
			err := store.db.QueryRow(`
				SELECT COUNT(*) FROM sqlite_master WHERE type = ? AND name = ?
			`, obj.kind, obj.name).Scan(&count)
			if err != nil {
				t.Fatalf("query failed: %v", err)
			}
			if count != 1 {
				t.Errorf("%s %s not found", obj.kind, obj.name)
			}
		})
	}
}

// TestStoreTransaction verifies transaction support.
func TestStoreTransaction(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()
	ctx := context.Background()

	insert := func(tx *sql.Tx, id string) error {
		_, err := tx.Exec(`INSERT INTO datasets (id, source, dimension) VALUES (?, ?, 3)`, id, id+".txt")
		return err
	}

	t.Run("WithTx commits on success", func(t *testing.T) {
		err := store.WithTx(ctx, func(tx *sql.Tx) error {
			return insert(tx, "tx_commit")
		})
		if err != nil {
			t.Fatalf("WithTx failed: %v", err)
		}

		var count int
		store.db.QueryRow("SELECT COUNT(*) FROM datasets WHERE id = 'tx_commit'").Scan(&count)
		if count != 1 {
			t.Error("transaction did not commit")
		}
	})

	t.Run("WithTx rolls back on error", func(t *testing.T) {
		err := store.WithTx(ctx, func(tx *sql.Tx) error {
			if err := insert(tx, "tx_rollback"); err != nil {
				return err
			}
			return context.Canceled
		})
		if err == nil {
			t.Error("WithTx should return error")
		}

		var count int
		store.db.QueryRow("SELECT COUNT(*) FROM datasets WHERE id = 'tx_rollback'").Scan(&count)
		if count != 0 {
			t.Error("transaction did not rollback")
		}
	})
}

// TestValidateLocalPath verifies path validation logic.
func TestValidateLocalPath(t *testing.T) {
	if err := validateLocalPath(t.TempDir()); err != nil {
		t.Errorf("validateLocalPath rejected valid local path: %v", err)
	}
	if err := validateLocalPath("/net/server/share"); err == nil {
		t.Error("validateLocalPath accepted a network mount")
	}
}

// TestSplitSQL verifies SQL statement splitting.
func TestSplitSQL(t *testing.T) {
	t.Run("splits simple statements", func(t *testing.T) {
		stmts := splitSQL(`
			CREATE TABLE test1 (id TEXT);
			CREATE TABLE test2 (id TEXT);
		`)
		if len(stmts) != 2 {
			t.Errorf("expected 2 statements, got %d", len(stmts))
		}
	})

	t.Run("handles strings with semicolons", func(t *testing.T) {
		stmts := splitSQL(`INSERT INTO test VALUES ('a;b;c');`)
		if len(stmts) != 1 {
			t.Errorf("expected 1 statement, got %d: %v", len(stmts), stmts)
		}
	})

	t.Run("skips comments", func(t *testing.T) {
		stmts := splitSQL(`
			-- This is a comment
			CREATE TABLE test (id TEXT);
			-- Another comment
		`)
		if len(stmts) != 1 {
			t.Errorf("expected 1 statement (skipping comments), got %d", len(stmts))
		}
	})

	t.Run("keeps trigger bodies whole", func(t *testing.T) {
		stmts := splitSQL(`
			CREATE TABLE a (id TEXT);
			CREATE TRIGGER t AFTER INSERT ON a
			BEGIN
				UPDATE a SET id = id;
				UPDATE a SET id = id;
			END;
			CREATE TABLE b (id TEXT);
		`)
		if len(stmts) != 3 {
			t.Fatalf("expected 3 statements, got %d: %v", len(stmts), stmts)
		}
	})

	t.Run("embedded schema", func(t *testing.T) {
		if got := len(splitSQL(initialSchema)); got != 6 {
			t.Errorf("initial schema split into %d statements, want 6", got)
		}
	})
}

// TestWALMode verifies Write-Ahead Logging is enabled.
func TestWALMode(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()

	var journalMode string
	if err := store.db.QueryRow("PRAGMA journal_mode").Scan(&journalMode); err != nil {
		t.Fatalf("query journal_mode failed: %v", err)
	}
	if journalMode != "wal" {
		t.Errorf("expected WAL mode, got: %s", journalMode)
	}
}

// TestForeignKeys verifies foreign key enforcement.
func TestForeignKeys(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()

	var foreignKeys int
	if err := store.db.QueryRow("PRAGMA foreign_keys").Scan(&foreignKeys); err != nil {
		t.Fatalf("query foreign_keys failed: %v", err)
	}
	if foreignKeys != 1 {
		t.Error("foreign keys not enabled")
	}

	_, err := store.db.Exec(`INSERT INTO chunks (dataset_id, chunk_id, source, text, embedding) VALUES ('missing', 0, 's', 't', x'00000000')`)
	if err == nil {
		t.Error("chunk without dataset should violate the foreign key")
	}
}

// TestConcurrentReads verifies concurrent read capability with WAL mode.
func TestConcurrentReads(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()

	store.db.Exec(`INSERT INTO datasets (id, source, dimension) VALUES ('concurrent', 'concurrent.txt', 3)`)

	done := make(chan bool, 10)
	for i := 0; i < 10; i++ {
		go func() {
			var id string
			store.db.QueryRow("SELECT id FROM datasets WHERE id = 'concurrent'").Scan(&id)
			done <- id == "concurrent"
		}()
	}

	timeout := time.After(5 * time.Second)
	successCount := 0
	for i := 0; i < 10; i++ {
		select {
		case success := <-done:
			if success {
				successCount++
			}
		case <-timeout:
			t.Fatal("concurrent reads timed out")
		}
	}

	if successCount != 10 {
		t.Errorf("expected 10 successful reads, got %d", successCount)
	}
}

// setupTestStore creates a temporary store for testing.
func setupTestStore(t *testing.T) *Store {
	t.Helper()

	store, err := NewDB(filepath.Join(t.TempDir(), "netbot.db"))
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	return store
}
