package offline

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	commonlog "carecomms/server/common/log"
	"carecomms/server/domain"
	"carecomms/server/errs"
)

const (
	// An op that fails this many replay passes is parked in the dead-letter
	// list instead of blocking the ones behind it.
	maxSyncAttempts = 5

	defaultStaleAfter = 5 * time.Minute
)

// StalenessSource reports when a cached key was last refreshed.
type StalenessSource interface {
	CacheCreatedAt(ctx context.Context, key string) (int64, bool, error)
}

type pendingEntry struct {
	op     domain.PendingOp
	replay func(ctx context.Context) error
}

// Coordinator implements write-local-first: every write lands locally, then
// goes to the remote if the node is online, otherwise it is queued and
// replayed in insertion order on the next connectivity edge.
type Coordinator struct {
	online func() bool
	stale  StalenessSource

	mu      sync.Mutex
	pending []pendingEntry
	dead    []domain.PendingOp

	// syncMu serializes replay passes so a connectivity flap cannot run the
	// queue twice concurrently.
	syncMu sync.Mutex
}

func NewCoordinator(online func() bool, stale StalenessSource) *Coordinator {
	return &Coordinator{online: online, stale: stale}
}

// PerformWrite runs the local write, then the remote write or the queue.
// The local write is authoritative: if it fails the op fails. A remote
// failure or offline state never surfaces as an error; the op is queued and
// the caller proceeds on local state.
func (c *Coordinator) PerformWrite(ctx context.Context, opType domain.PendingOpType, payload string, local, network func(ctx context.Context) error) error {
	if err := local(ctx); err != nil {
		return err
	}
	if c.online() {
		err := network(ctx)
		if err == nil {
			return nil
		}
		commonlog.Warnf("event=offline_write action=remote status=failed type=%s error=%v", opType, err)
	}
	c.enqueue(opType, payload, network)
	return nil
}

func (c *Coordinator) enqueue(opType domain.PendingOpType, payload string, network func(ctx context.Context) error) {
	op := domain.PendingOp{
		ID:        uuid.New().String(),
		Type:      opType,
		Payload:   payload,
		Timestamp: domain.NowMillis(),
	}
	c.mu.Lock()
	c.pending = append(c.pending, pendingEntry{op: op, replay: network})
	queued := len(c.pending)
	c.mu.Unlock()
	commonlog.Infof("event=offline_write action=enqueue type=%s queued=%d", opType, queued)
}

// Pending returns a snapshot of queued ops in insertion order.
func (c *Coordinator) Pending() []domain.PendingOp {
	c.mu.Lock()
	defer c.mu.Unlock()
	ops := make([]domain.PendingOp, len(c.pending))
	for i, e := range c.pending {
		ops[i] = e.op
	}
	return ops
}

// DeadLetters returns ops that exhausted their replay attempts.
func (c *Coordinator) DeadLetters() []domain.PendingOp {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]domain.PendingOp{}, c.dead...)
}

// SyncPending replays the queue in insertion order. Each op is removed on
// success, kept with a bumped retry count on failure, and dead-lettered once
// it burns through maxSyncAttempts. One pass runs at a time.
func (c *Coordinator) SyncPending(ctx context.Context) {
	c.syncMu.Lock()
	defer c.syncMu.Unlock()

	c.mu.Lock()
	batch := c.pending
	c.pending = nil
	c.mu.Unlock()
	if len(batch) == 0 {
		return
	}
	commonlog.Infof("event=offline_sync action=start pending=%d", len(batch))

	var kept []pendingEntry
	synced := 0
	for _, entry := range batch {
		if ctx.Err() != nil {
			kept = append(kept, entry)
			continue
		}
		if err := entry.replay(ctx); err != nil {
			entry.op.RetryCount++
			if entry.op.RetryCount >= maxSyncAttempts {
				commonlog.Errorf("event=offline_sync action=dead_letter type=%s id=%s attempts=%d error=%v",
					entry.op.Type, entry.op.ID, entry.op.RetryCount, err)
				c.mu.Lock()
				c.dead = append(c.dead, entry.op)
				c.mu.Unlock()
				continue
			}
			commonlog.Warnf("event=offline_sync action=replay status=failed type=%s id=%s attempt=%d error=%v",
				entry.op.Type, entry.op.ID, entry.op.RetryCount, err)
			kept = append(kept, entry)
			continue
		}
		synced++
	}

	c.mu.Lock()
	// Ops enqueued while the pass ran stay behind the survivors.
	c.pending = append(kept, c.pending...)
	remaining := len(c.pending)
	c.mu.Unlock()
	commonlog.Infof("event=offline_sync action=done synced=%d remaining=%d", synced, remaining)
}

// IsDataStale reports whether a cached key is older than maxAge. Unknown
// keys are stale; a zero maxAge uses the default window.
func (c *Coordinator) IsDataStale(ctx context.Context, key string, maxAge time.Duration) (bool, error) {
	if c.stale == nil {
		return true, nil
	}
	if maxAge <= 0 {
		maxAge = defaultStaleAfter
	}
	createdAt, ok, err := c.stale.CacheCreatedAt(ctx, key)
	if err != nil {
		return true, errs.Classify(err, "cache")
	}
	if !ok {
		return true, nil
	}
	age := time.Duration(domain.NowMillis()-createdAt) * time.Millisecond
	return age > maxAge, nil
}
