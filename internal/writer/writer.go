// Package writer moves extracted items into the record store on a single
// background goroutine so extraction can run ahead of persistence.
package writer

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"
	"xscrap/pkg/logger"
	"xscrap/pkg/models"
)

// ErrClosed is returned when submitting to a closed writer
var ErrClosed = errors.New("writer is closed")

// Appender persists one item, reporting false for a duplicate
type Appender interface {
	Append(ctx context.Context, item models.Item) (bool, error)
}

type job struct {
	item  models.Item
	flush chan flushResult
}

type flushResult struct {
	added int
	err   error
}

// Writer owns the only goroutine that appends to a store. The queue is
// bounded, so Submit blocks once the store falls behind.
type Writer struct {
	appender Appender
	queue    chan job
	group    *errgroup.Group
	ctx      context.Context
	logger   logger.Logger

	mu  sync.Mutex
	err error

	// sendMu is held shared while sending and exclusively while closing
	sendMu sync.RWMutex
	closed bool
}

// New starts a writer appending to appender. ctx bounds the appends
// themselves; pass a context that outlives run cancellation so in-flight
// items are still persisted.
func New(ctx context.Context, appender Appender, queueSize int, log logger.Logger) *Writer {
	if queueSize <= 0 {
		queueSize = 1
	}
	if log == nil {
		log = logger.NewNopLogger()
	}

	group, gctx := errgroup.WithContext(ctx)
	w := &Writer{
		appender: appender,
		queue:    make(chan job, queueSize),
		group:    group,
		ctx:      gctx,
		logger:   log,
	}
	group.Go(w.loop)

	logger.LogComponentStart(log, "writer", map[string]interface{}{
		"queue_size": queueSize,
	})
	return w
}

func (w *Writer) loop() error {
	added := 0
	for j := range w.queue {
		if j.flush != nil {
			j.flush <- flushResult{added: added, err: w.Err()}
			added = 0
			continue
		}

		// after a failure nothing more is persisted, so order is kept
		if w.Err() != nil {
			continue
		}

		ok, err := w.appender.Append(w.ctx, j.item)
		if err != nil {
			w.setErr(fmt.Errorf("failed to append item %s: %w", j.item.ID, err))
			w.logger.WithError(err).ErrorWithFields("Append failed", map[string]interface{}{
				"item_id": j.item.ID,
			})
			continue
		}
		if ok {
			added++
		}
	}
	return w.Err()
}

func (w *Writer) setErr(err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err == nil {
		w.err = err
	}
}

// Err returns the first append failure, if any
func (w *Writer) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}

func (w *Writer) send(ctx context.Context, j job) error {
	w.sendMu.RLock()
	defer w.sendMu.RUnlock()
	if w.closed {
		return ErrClosed
	}

	select {
	case w.queue <- j:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Submit queues item for persistence, blocking while the queue is full.
// A previous append failure is returned instead of queueing.
func (w *Writer) Submit(ctx context.Context, item models.Item) error {
	if err := w.Err(); err != nil {
		return err
	}
	return w.send(ctx, job{item: item})
}

// Flush waits until every item submitted so far is persisted and returns
// how many of them were new
func (w *Writer) Flush(ctx context.Context) (int, error) {
	done := make(chan flushResult, 1)
	if err := w.send(ctx, job{flush: done}); err != nil {
		return 0, err
	}

	select {
	case res := <-done:
		return res.added, res.err
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// Close drains the queue, stops the writer goroutine and returns the first
// append failure
func (w *Writer) Close() error {
	w.sendMu.Lock()
	if w.closed {
		w.sendMu.Unlock()
		return w.Err()
	}
	w.closed = true
	close(w.queue)
	w.sendMu.Unlock()

	err := w.group.Wait()
	logger.LogComponentStop(w.logger, "writer", "closed")
	return err
}

// QueueLen returns the number of queued jobs
func (w *Writer) QueueLen() int {
	return len(w.queue)
}
