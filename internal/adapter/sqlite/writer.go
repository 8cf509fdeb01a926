package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
)

// ErrWriterClosed is returned for writes submitted after Close.
var ErrWriterClosed = errors.New("sqlite writer closed")

// writeOp is one unit of work for the serializing writer.
type writeOp struct {
	fn   func(tx *sql.Tx) error
	done chan error
}

// Writer serializes all mutations onto one goroutine. Each submitted
// function runs inside its own transaction; the caller blocks until it
// commits or rolls back. Reads never pass through here.
type Writer struct {
	db  *sql.DB
	ops chan writeOp
	wg  sync.WaitGroup

	// mu excludes Close from in-flight submissions: Do holds the read
	// side across the channel send so ops can never close under it.
	mu     sync.RWMutex
	closed bool
}

// NewWriter starts the writer goroutine with the given queue depth.
func NewWriter(db *sql.DB, queueDepth int) *Writer {
	if queueDepth <= 0 {
		queueDepth = 64
	}
	w := &Writer{
		db:  db,
		ops: make(chan writeOp, queueDepth),
	}
	w.wg.Add(1)
	go w.run()
	return w
}

func (w *Writer) run() {
	defer w.wg.Done()
	for op := range w.ops {
		op.done <- w.exec(op.fn)
	}
}

func (w *Writer) exec(fn func(tx *sql.Tx) error) error {
	tx, err := w.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Do submits a mutation and waits for it to commit.
func (w *Writer) Do(ctx context.Context, fn func(tx *sql.Tx) error) error {
	w.mu.RLock()
	if w.closed {
		w.mu.RUnlock()
		return ErrWriterClosed
	}
	op := writeOp{fn: fn, done: make(chan error, 1)}

	select {
	case w.ops <- op:
		w.mu.RUnlock()
	case <-ctx.Done():
		w.mu.RUnlock()
		return ctx.Err()
	}

	select {
	case err := <-op.done:
		return err
	case <-ctx.Done():
		// The op may still execute; the caller only stops waiting.
		return ctx.Err()
	}
}

// Close stops accepting writes and drains the queue. Submissions
// blocked on a full queue before Close are still executed.
func (w *Writer) Close() {
	w.mu.Lock()
	if !w.closed {
		w.closed = true
		close(w.ops)
	}
	w.mu.Unlock()
	w.wg.Wait()
}
