package auth

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// blockingAuditStore holds writes until released, to exercise queue limits.
type blockingAuditStore struct {
	mu      sync.Mutex
	entries []*AuditEntry
	block   chan struct{}
}

func (s *blockingAuditStore) Create(ctx context.Context, entry *AuditEntry) error {
	if s.block != nil {
		select {
		case <-s.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry)
	return nil
}

func (s *blockingAuditStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func TestAuditRecorderDrainsOnClose(t *testing.T) {
	sink := &blockingAuditStore{}
	rec := newAuditRecorder(sink, 16, time.Second)

	for i := 0; i < 10; i++ {
		rec.Record(&AuditEntry{Action: "login_success"})
	}
	rec.Close()

	if got := sink.count(); got != 10 {
		t.Fatalf("expected 10 entries after drain, got %d", got)
	}
}

func TestAuditRecorderDropsWhenQueueFull(t *testing.T) {
	sink := &blockingAuditStore{block: make(chan struct{})}
	rec := newAuditRecorder(sink, 2, time.Second)

	// The worker parks on the first write; the queue holds two more.
	// Give the worker a moment to dequeue the head entry.
	rec.Record(&AuditEntry{Action: "a"})
	time.Sleep(20 * time.Millisecond)
	rec.Record(&AuditEntry{Action: "b"})
	rec.Record(&AuditEntry{Action: "c"})
	rec.Record(&AuditEntry{Action: "overflow"})

	close(sink.block)
	rec.Close()

	if got := sink.count(); got != 3 {
		t.Fatalf("expected 3 delivered entries, got %d", got)
	}
}

type failingAuditStore struct {
	calls int
	mu    sync.Mutex
}

func (s *failingAuditStore) Create(context.Context, *AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return errors.New("sink unavailable")
}

func TestAuditRecorderFailuresAreNotRetried(t *testing.T) {
	sink := &failingAuditStore{}
	rec := newAuditRecorder(sink, 4, time.Second)

	rec.Record(&AuditEntry{Action: "login_failed"})
	rec.Close()

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if sink.calls != 1 {
		t.Fatalf("expected exactly one attempt, got %d", sink.calls)
	}
}

func TestAuditWriteTimeoutDetachedFromCaller(t *testing.T) {
	sink := &blockingAuditStore{block: make(chan struct{})}
	rec := newAuditRecorder(sink, 4, 50*time.Millisecond)

	rec.Record(&AuditEntry{Action: "login_success"})

	// The write's own timeout fires; nothing is delivered, nothing hangs.
	time.Sleep(150 * time.Millisecond)
	rec.Close()

	if got := sink.count(); got != 0 {
		t.Fatalf("expected timed-out write to deliver nothing, got %d", got)
	}
}
