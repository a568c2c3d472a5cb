package auth

import (
	"context"
	"sync"
	"time"

	"pulsegrid.org/internal/obs"
)

const (
	defaultAuditTimeout   = 5 * time.Second
	defaultAuditQueueSize = 256
)

// auditRecorder writes audit entries off the synchronous path. Each write
// runs under its own timeout-bound context detached from the originating
// request, so a slow sink never adds auth latency and a client disconnect
// never aborts the write. Delivery is best-effort, at-most-once: a full
// queue drops the entry, a failed write is logged and never retried.
type auditRecorder struct {
	store   AuditStore
	queue   chan *AuditEntry
	timeout time.Duration

	closeOnce sync.Once
	done      chan struct{}
}

func newAuditRecorder(store AuditStore, queueSize int, timeout time.Duration) *auditRecorder {
	r := &auditRecorder{
		store:   store,
		queue:   make(chan *AuditEntry, queueSize),
		timeout: timeout,
		done:    make(chan struct{}),
	}
	go r.run()
	return r
}

// Record enqueues an entry without blocking the caller.
func (r *auditRecorder) Record(entry *AuditEntry) {
	select {
	case r.queue <- entry:
		obs.SetAuditQueueDepth(len(r.queue))
	default:
		obs.ObserveAuditWrite("dropped")
		obs.Warn("audit queue full, entry dropped", map[string]any{
			"action": entry.Action,
		})
	}
}

// Close stops the worker after draining queued entries.
func (r *auditRecorder) Close() {
	r.closeOnce.Do(func() {
		close(r.queue)
		<-r.done
	})
}

func (r *auditRecorder) run() {
	defer close(r.done)
	for entry := range r.queue {
		r.write(entry)
		obs.SetAuditQueueDepth(len(r.queue))
	}
}

func (r *auditRecorder) write(entry *AuditEntry) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	if err := r.store.Create(ctx, entry); err != nil {
		obs.ObserveAuditWrite("error")
		obs.Warn("audit write failed", map[string]any{
			"action": entry.Action,
			"error":  err.Error(),
		})
		return
	}
	obs.ObserveAuditWrite("ok")
}
