package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/photofinder/internal/observability"
)

// PhotoLocker serialises work on a single photo id across Ingest, Delete and
// the stale sweeper. Every process that runs any of the three against the same
// stores must share one locker, so implementations backing a multi-process
// deployment hold the lock outside the process (see storage.AdvisoryLocks).
type PhotoLocker interface {
	// Lock blocks until id is free or ctx is done. The returned func releases
	// the lock; calling it more than once is a no-op.
	Lock(ctx context.Context, id uuid.UUID) (func(), error)
	// TryLock takes the lock only if nobody holds it. ok is false when the
	// lock is held elsewhere; err reports a failure to ask.
	TryLock(ctx context.Context, id uuid.UUID) (unlock func(), ok bool, err error)
}

// lockPhoto takes the photo lock for op. Failures are typed as
// MetadataWriteFailed: the lock guards the metadata writes that follow, and
// with a database-backed locker it is itself a call to the metadata store.
// The cause (ctx.Err() on cancellation) is kept in the chain.
func (p *IngestionPipeline) lockPhoto(ctx context.Context, op string, id uuid.UUID) (func(), error) {
	start := time.Now()
	unlock, err := p.locks.Lock(ctx, id)
	if err != nil {
		return nil, newError(KindMetadataWriteFailed, op, fmt.Errorf("acquire photo lock: %w", err))
	}
	observability.LockWait.Observe(time.Since(start).Seconds())
	return unlock, nil
}

// photoLocks is the in-process PhotoLocker. Entries are created on first use
// and evicted when the last holder or waiter leaves, so the table only holds
// ids currently in use.
type photoLocks struct {
	mu      sync.Mutex
	entries map[uuid.UUID]*lockEntry
}

type lockEntry struct {
	sem  chan struct{}
	refs int // holders plus waiters
}

func newPhotoLocks() *photoLocks {
	return &photoLocks{entries: make(map[uuid.UUID]*lockEntry)}
}

func (l *photoLocks) acquireEntry(id uuid.UUID) *lockEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[id]
	if !ok {
		e = &lockEntry{sem: make(chan struct{}, 1)}
		l.entries[id] = e
	}
	e.refs++
	return e
}

func (l *photoLocks) releaseEntry(id uuid.UUID, e *lockEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(l.entries, id)
	}
}

// Lock blocks until id is free or ctx is done.
func (l *photoLocks) Lock(ctx context.Context, id uuid.UUID) (func(), error) {
	e := l.acquireEntry(id)

	select {
	case e.sem <- struct{}{}:
	case <-ctx.Done():
		l.releaseEntry(id, e)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.sem
			l.releaseEntry(id, e)
		})
	}, nil
}

// TryLock takes the lock only if nobody holds it. It never fails.
func (l *photoLocks) TryLock(_ context.Context, id uuid.UUID) (func(), bool, error) {
	e := l.acquireEntry(id)

	select {
	case e.sem <- struct{}{}:
	default:
		l.releaseEntry(id, e)
		return nil, false, nil
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.sem
			l.releaseEntry(id, e)
		})
	}, true, nil
}

// Len returns the number of live entries.
func (l *photoLocks) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
