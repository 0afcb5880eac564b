// Package worker runs the content-processing consumer and the periodic
// album-flush loop as one owned value, started and stopped by its caller
// rather than reached through a package-level singleton.
package worker

import (
	"context"
	"sync"
	"time"

	"github.com/tg2tok/clipbridge/pkg/logger"
)

const component = "worker"

// flushInterval is how often the flush loop checks for albums whose
// quiet window has elapsed.
const flushInterval = 1 * time.Second

// Processor handles one dequeued content item. Implemented by
// *orchestrator.Orchestrator in production wiring.
type Processor interface {
	ProcessContentItem(ctx context.Context, contentItemID int64) error
}

// Flusher emits any albums whose aggregation window has elapsed.
// Implemented by *ingest.Ingestor in production wiring.
type Flusher interface {
	EmitDueAlbums(ctx context.Context, now time.Time) (int, error)
}

// Worker owns a buffered queue of content item ids plus the two
// goroutines that drain it and periodically flush pending albums.
type Worker struct {
	processor Processor
	flusher   Flusher

	queue chan int64

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

// New constructs a Worker with the given queue depth. A depth below 1 is
// floored to 1 so the queue can hold at least one item before the
// consumer starts; Enqueue blocks while the buffer is full. flusher may be nil if set later with
// SetFlusher (useful when the Flusher implementation itself depends on
// this Worker as its Enqueuer and so cannot exist yet).
func New(processor Processor, flusher Flusher, queueDepth int) *Worker {
	if queueDepth < 1 {
		queueDepth = 1
	}
	return &Worker{
		processor: processor,
		flusher:   flusher,
		queue:     make(chan int64, queueDepth),
	}
}

// SetFlusher assigns the Flusher. Must be called before Start; not safe
// to call concurrently with a running flush loop.
func (w *Worker) SetFlusher(flusher Flusher) {
	w.flusher = flusher
}

// Start launches the consumer and flush goroutines. Calling Start on an
// already-running Worker is a no-op.
func (w *Worker) Start(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.done = make(chan struct{})
	w.running = true

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		w.consumeLoop(runCtx)
	}()
	go func() {
		defer wg.Done()
		w.flushLoop(runCtx)
	}()

	go func() {
		wg.Wait()
		close(w.done)
	}()
}

// Stop cancels both loops and waits for them to exit.
func (w *Worker) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	cancel := w.cancel
	done := w.done
	w.running = false
	w.mu.Unlock()

	cancel()
	<-done
}

// Enqueue places a content item id on the queue for processing. Safe to
// call before Start; items wait in the buffer until the consumer starts
// draining it, and a call blocks while the buffer is full.
func (w *Worker) Enqueue(contentItemID int64) {
	w.queue <- contentItemID
}

// consumeLoop watches ctx only to decide when to stop pulling new work;
// every item it actually processes runs against processCtx, a context
// independent of the shutdown signal. The consumer drains by exhausting
// the queue rather than by cancellation, so a publish already in flight
// when shutdown begins is allowed to complete instead of having its
// outbound HTTP call aborted mid-request.
func (w *Worker) consumeLoop(ctx context.Context) {
	processCtx := context.Background()
	for {
		select {
		case <-ctx.Done():
			w.drainRemaining(processCtx)
			return
		case id := <-w.queue:
			w.process(processCtx, id)
		}
	}
}

// drainRemaining processes whatever is already buffered before exiting,
// so a shutdown never silently drops accepted work.
func (w *Worker) drainRemaining(ctx context.Context) {
	for {
		select {
		case id := <-w.queue:
			w.process(ctx, id)
		default:
			return
		}
	}
}

func (w *Worker) process(ctx context.Context, contentItemID int64) {
	if err := w.processor.ProcessContentItem(ctx, contentItemID); err != nil {
		logger.ErrorCF(component, "content processing failed", map[string]any{
			"content_item_id": contentItemID, "error": err,
		})
	}
}

func (w *Worker) flushLoop(ctx context.Context) {
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if w.flusher == nil {
				continue
			}
			count, err := w.flusher.EmitDueAlbums(ctx, time.Now().UTC())
			if err != nil {
				logger.ErrorCF(component, "media group flush failed", map[string]any{"error": err})
				continue
			}
			if count > 0 {
				logger.InfoCF(component, "media group flush completed", map[string]any{"count": count})
			}
		}
	}
}
