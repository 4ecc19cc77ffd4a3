package txlog

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mbd888/guardianshield/internal/metrics"
	"github.com/mbd888/guardianshield/internal/retry"
)

const (
	defaultQueueSize     = 4096
	defaultBatchSize     = 100
	defaultFlushInterval = 500 * time.Millisecond
	flushTimeout         = 10 * time.Second
)

// Writer batches records into a Store in the background.
type Writer struct {
	store         Store
	logger        *slog.Logger
	ch            chan *Record
	stop          chan struct{}
	done          chan struct{}
	stopOnce      sync.Once
	batchSize     int
	flushInterval time.Duration
	retry         retry.Policy

	started atomic.Bool
	running atomic.Bool
	written atomic.Int64
	failed  atomic.Int64
	dropped atomic.Int64
}

// WriterOption configures a Writer.
type WriterOption func(*Writer)

// WithQueueSize sets how many records can wait before new ones are dropped.
func WithQueueSize(n int) WriterOption {
	return func(w *Writer) { w.ch = make(chan *Record, n) }
}

// WithBatchSize sets the flush size.
func WithBatchSize(n int) WriterOption {
	return func(w *Writer) { w.batchSize = n }
}

// WithFlushInterval sets the maximum time a record waits in a partial batch.
func WithFlushInterval(d time.Duration) WriterOption {
	return func(w *Writer) { w.flushInterval = d }
}

// WithRetryPolicy sets the per-batch retry policy.
func WithRetryPolicy(p retry.Policy) WriterOption {
	return func(w *Writer) { w.retry = p }
}

// NewWriter creates a writer over store. Call Start to begin draining.
func NewWriter(store Store, logger *slog.Logger, opts ...WriterOption) *Writer {
	w := &Writer{
		store:         store,
		logger:        logger,
		ch:            make(chan *Record, defaultQueueSize),
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
		batchSize:     defaultBatchSize,
		flushInterval: defaultFlushInterval,
		retry: retry.Policy{
			MaxAttempts: 3,
			BaseDelay:   100 * time.Millisecond,
			MaxDelay:    time.Second,
		},
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.batchSize <= 0 {
		w.batchSize = defaultBatchSize
	}
	return w
}

// Enqueue queues rec without blocking. It returns false and counts a drop
// when the queue is full or the writer has stopped.
func (w *Writer) Enqueue(rec *Record) bool {
	select {
	case <-w.stop:
		w.drop()
		return false
	default:
	}

	select {
	case w.ch <- rec:
		return true
	default:
		w.drop()
		return false
	}
}

func (w *Writer) drop() {
	w.dropped.Add(1)
	metrics.TxLogRecordsTotal.WithLabelValues("dropped").Inc()
}

// Start drains the queue until ctx is done or Stop is called, flushing
// what is left on the way out. Call in a goroutine.
func (w *Writer) Start(ctx context.Context) {
	w.started.Store(true)
	w.running.Store(true)
	defer func() {
		w.running.Store(false)
		close(w.done)
	}()

	ticker := time.NewTicker(w.flushInterval)
	defer ticker.Stop()

	var buf []*Record
	for {
		select {
		case <-ctx.Done():
			w.flush(w.drain(buf))
			return
		case <-w.stop:
			w.flush(w.drain(buf))
			return
		case rec := <-w.ch:
			buf = append(buf, rec)
			if len(buf) >= w.batchSize {
				w.flush(buf)
				buf = nil
			}
		case <-ticker.C:
			if len(buf) > 0 {
				w.flush(buf)
				buf = nil
			}
		}
	}
}

// drain moves everything still queued into buf.
func (w *Writer) drain(buf []*Record) []*Record {
	for {
		select {
		case rec := <-w.ch:
			buf = append(buf, rec)
		default:
			return buf
		}
	}
}

// Stop signals the writer to flush and exit, and waits for it if it was
// started.
func (w *Writer) Stop() {
	w.stopOnce.Do(func() { close(w.stop) })
	if w.started.Load() {
		<-w.done
	}
}

// Running reports whether the writer loop is active.
func (w *Writer) Running() bool {
	return w.running.Load()
}

// Stats returns lifetime counters.
func (w *Writer) Stats() (written, failed, dropped int64) {
	return w.written.Load(), w.failed.Load(), w.dropped.Load()
}

func (w *Writer) flush(buf []*Record) {
	for len(buf) > 0 {
		n := min(len(buf), w.batchSize)
		w.safeFlush(buf[:n])
		buf = buf[n:]
	}
}

func (w *Writer) safeFlush(batch []*Record) {
	defer func() {
		if r := recover(); r != nil {
			w.failed.Add(int64(len(batch)))
			metrics.TxLogRecordsTotal.WithLabelValues("failed").Add(float64(len(batch)))
			w.logger.Error("panic in transaction log flush", "panic", fmt.Sprint(r), "count", len(batch))
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()

	err := w.retry.Do(ctx, func(ctx context.Context) error {
		return w.store.AppendBatch(ctx, batch)
	})
	if err != nil {
		w.failed.Add(int64(len(batch)))
		metrics.TxLogRecordsTotal.WithLabelValues("failed").Add(float64(len(batch)))
		w.logger.Error("transaction log flush failed", "error", err, "count", len(batch))
		return
	}
	w.written.Add(int64(len(batch)))
	metrics.TxLogRecordsTotal.WithLabelValues("written").Add(float64(len(batch)))
}
