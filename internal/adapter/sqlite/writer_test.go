package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := Open(context.Background(), filepath.Join(t.TempDir(), "test.db"), time.Second)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestWriterSerializesConcurrentWrites(t *testing.T) {
	db := openTestDB(t)
	w := NewWriter(db, 8)
	defer w.Close()

	if _, err := db.Exec(`CREATE TABLE counters (id INTEGER PRIMARY KEY, n INTEGER NOT NULL)`); err != nil {
		t.Fatalf("create table: %v", err)
	}
	if _, err := db.Exec(`INSERT INTO counters (id, n) VALUES (1, 0)`); err != nil {
		t.Fatalf("seed: %v", err)
	}

	const writers = 10
	const perWriter = 20

	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWriter; j++ {
				err := w.Do(context.Background(), func(tx *sql.Tx) error {
					var n int
					if err := tx.QueryRow(`SELECT n FROM counters WHERE id = 1`).Scan(&n); err != nil {
						return err
					}
					_, err := tx.Exec(`UPDATE counters SET n = ? WHERE id = 1`, n+1)
					return err
				})
				if err != nil {
					t.Errorf("do: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()

	var n int
	if err := db.QueryRow(`SELECT n FROM counters WHERE id = 1`).Scan(&n); err != nil {
		t.Fatalf("read counter: %v", err)
	}
	if n != writers*perWriter {
		t.Fatalf("counter = %d, want %d (read-modify-write was not serialized)", n, writers*perWriter)
	}
}

func TestWriterRollsBackOnError(t *testing.T) {
	db := openTestDB(t)
	w := NewWriter(db, 4)
	defer w.Close()

	if _, err := db.Exec(`CREATE TABLE items (id TEXT PRIMARY KEY)`); err != nil {
		t.Fatalf("create table: %v", err)
	}

	boom := errors.New("boom")
	err := w.Do(context.Background(), func(tx *sql.Tx) error {
		if _, err := tx.Exec(`INSERT INTO items (id) VALUES ('a')`); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}

	var count int
	if err := db.QueryRow(`SELECT COUNT(*) FROM items`).Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 0 {
		t.Fatalf("count = %d, want 0 after rollback", count)
	}
}

func TestWriterRejectsAfterClose(t *testing.T) {
	db := openTestDB(t)
	w := NewWriter(db, 4)
	w.Close()

	err := w.Do(context.Background(), func(tx *sql.Tx) error { return nil })
	if !errors.Is(err, ErrWriterClosed) {
		t.Fatalf("err = %v, want ErrWriterClosed", err)
	}
}

func TestWriterCloseWithBlockedSubmission(t *testing.T) {
	db := openTestDB(t)
	w := NewWriter(db, 1)

	if _, err := db.Exec(`CREATE TABLE items (id TEXT PRIMARY KEY)`); err != nil {
		t.Fatalf("create table: %v", err)
	}

	release := make(chan struct{})
	go func() {
		_ = w.Do(context.Background(), func(tx *sql.Tx) error {
			<-release
			return nil
		})
	}()
	// Occupy the writer, fill the single queue slot, then park a third
	// submission in the channel send.
	time.Sleep(50 * time.Millisecond)
	go func() {
		_ = w.Do(context.Background(), func(tx *sql.Tx) error { return nil })
	}()
	time.Sleep(50 * time.Millisecond)

	blocked := make(chan error, 1)
	go func() {
		blocked <- w.Do(context.Background(), func(tx *sql.Tx) error {
			_, err := tx.Exec(`INSERT INTO items (id) VALUES ('late')`)
			return err
		})
	}()
	time.Sleep(50 * time.Millisecond)

	closed := make(chan struct{})
	go func() {
		w.Close()
		close(closed)
	}()
	time.Sleep(50 * time.Millisecond)
	close(release)

	select {
	case err := <-blocked:
		if err != nil {
			t.Fatalf("blocked submission: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("blocked submission never completed")
	}
	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("close never returned")
	}

	var count int
	if err := db.QueryRow(`SELECT COUNT(*) FROM items`).Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Fatalf("count = %d, want the blocked write committed", count)
	}

	if err := w.Do(context.Background(), func(tx *sql.Tx) error { return nil }); !errors.Is(err, ErrWriterClosed) {
		t.Fatalf("err = %v, want ErrWriterClosed", err)
	}
}

func TestWriterHonorsContextWhileQueueing(t *testing.T) {
	db := openTestDB(t)
	w := NewWriter(db, 1)
	defer w.Close()

	release := make(chan struct{})
	go func() {
		_ = w.Do(context.Background(), func(tx *sql.Tx) error {
			<-release
			return nil
		})
	}()
	// Let the blocking op reach the writer goroutine, then fill the
	// single queue slot with a second op.
	time.Sleep(50 * time.Millisecond)
	go func() {
		_ = w.Do(context.Background(), func(tx *sql.Tx) error { return nil })
	}()
	time.Sleep(50 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := w.Do(ctx, func(tx *sql.Tx) error { return nil })
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
	close(release)
}
