package offline

import (
	"context"
	"errors"
	"testing"
	"time"

	"carecomms/server/domain"
)

type fakeStaleness struct {
	createdAt int64
	ok        bool
}

func (f fakeStaleness) CacheCreatedAt(ctx context.Context, key string) (int64, bool, error) {
	return f.createdAt, f.ok, nil
}

func TestPerformWriteOnlineSkipsQueue(t *testing.T) {
	c := NewCoordinator(func() bool { return true }, nil)
	localRan, remoteRan := false, false

	err := c.PerformWrite(context.Background(), domain.PendingOpSendMessage, "{}",
		func(ctx context.Context) error { localRan = true; return nil },
		func(ctx context.Context) error { remoteRan = true; return nil })
	if err != nil {
		t.Fatalf("perform write: %v", err)
	}
	if !localRan || !remoteRan {
		t.Errorf("localRan=%t remoteRan=%t, want both", localRan, remoteRan)
	}
	if got := len(c.Pending()); got != 0 {
		t.Errorf("pending = %d, want 0", got)
	}
}

func TestPerformWriteOfflineQueuesWithoutError(t *testing.T) {
	c := NewCoordinator(func() bool { return false }, nil)
	remoteRan := false

	err := c.PerformWrite(context.Background(), domain.PendingOpSendMessage, "{}",
		func(ctx context.Context) error { return nil },
		func(ctx context.Context) error { remoteRan = true; return nil })
	if err != nil {
		t.Fatalf("offline write must not fail: %v", err)
	}
	if remoteRan {
		t.Error("remote write ran while offline")
	}
	if got := len(c.Pending()); got != 1 {
		t.Fatalf("pending = %d, want 1", got)
	}
}

func TestPerformWriteLocalFailureAborts(t *testing.T) {
	c := NewCoordinator(func() bool { return true }, nil)
	boom := errors.New("disk full")

	err := c.PerformWrite(context.Background(), domain.PendingOpMarkRead, "{}",
		func(ctx context.Context) error { return boom },
		func(ctx context.Context) error { t.Error("remote ran after local failure"); return nil })
	if !errors.Is(err, boom) {
		t.Errorf("err = %v, want %v", err, boom)
	}
	if got := len(c.Pending()); got != 0 {
		t.Errorf("pending = %d, want 0", got)
	}
}

func TestPerformWriteRemoteFailureQueues(t *testing.T) {
	c := NewCoordinator(func() bool { return true }, nil)

	err := c.PerformWrite(context.Background(), domain.PendingOpSendMessage, "{}",
		func(ctx context.Context) error { return nil },
		func(ctx context.Context) error { return errors.New("hub down") })
	if err != nil {
		t.Fatalf("remote failure must not surface: %v", err)
	}
	if got := len(c.Pending()); got != 1 {
		t.Fatalf("pending = %d, want 1", got)
	}
}

func TestSyncPendingReplaysInOrderExactlyOnce(t *testing.T) {
	c := NewCoordinator(func() bool { return false }, nil)
	var replayed []string
	for _, content := range []string{"one", "two", "three"} {
		content := content
		c.PerformWrite(context.Background(), domain.PendingOpSendMessage, content,
			func(ctx context.Context) error { return nil },
			func(ctx context.Context) error { replayed = append(replayed, content); return nil })
	}

	c.SyncPending(context.Background())
	c.SyncPending(context.Background()) // second pass finds nothing

	if len(replayed) != 3 {
		t.Fatalf("replayed %d ops, want 3", len(replayed))
	}
	for i, want := range []string{"one", "two", "three"} {
		if replayed[i] != want {
			t.Errorf("replayed[%d] = %q, want %q", i, replayed[i], want)
		}
	}
	if got := len(c.Pending()); got != 0 {
		t.Errorf("pending = %d after sync, want 0", got)
	}
}

func TestSyncPendingKeepsFailedOpsAndCountsRetries(t *testing.T) {
	c := NewCoordinator(func() bool { return false }, nil)
	c.PerformWrite(context.Background(), domain.PendingOpSendMessage, "{}",
		func(ctx context.Context) error { return nil },
		func(ctx context.Context) error { return errors.New("still down") })

	c.SyncPending(context.Background())
	c.SyncPending(context.Background())

	ops := c.Pending()
	if len(ops) != 1 {
		t.Fatalf("pending = %d, want 1", len(ops))
	}
	if ops[0].RetryCount != 2 {
		t.Errorf("retry count = %d, want 2", ops[0].RetryCount)
	}
}

func TestSyncPendingDeadLettersAfterMaxAttempts(t *testing.T) {
	c := NewCoordinator(func() bool { return false }, nil)
	c.PerformWrite(context.Background(), domain.PendingOpAcceptInvitation, "{}",
		func(ctx context.Context) error { return nil },
		func(ctx context.Context) error { return errors.New("permanent") })

	for i := 0; i < maxSyncAttempts+2; i++ {
		c.SyncPending(context.Background())
	}

	if got := len(c.Pending()); got != 0 {
		t.Errorf("pending = %d, want 0", got)
	}
	dead := c.DeadLetters()
	if len(dead) != 1 {
		t.Fatalf("dead letters = %d, want 1", len(dead))
	}
	if dead[0].RetryCount != maxSyncAttempts {
		t.Errorf("dead retry count = %d, want %d", dead[0].RetryCount, maxSyncAttempts)
	}
}

func TestIsDataStale(t *testing.T) {
	fresh := fakeStaleness{createdAt: domain.NowMillis(), ok: true}
	old := fakeStaleness{createdAt: domain.NowMillis() - time.Hour.Milliseconds(), ok: true}

	c := NewCoordinator(func() bool { return true }, fresh)
	if stale, _ := c.IsDataStale(context.Background(), "previews", 0); stale {
		t.Error("fresh entry reported stale")
	}

	c = NewCoordinator(func() bool { return true }, old)
	if stale, _ := c.IsDataStale(context.Background(), "previews", 0); !stale {
		t.Error("hour-old entry reported fresh against 5m window")
	}

	c = NewCoordinator(func() bool { return true }, fakeStaleness{ok: false})
	if stale, _ := c.IsDataStale(context.Background(), "previews", 0); !stale {
		t.Error("unknown key must count as stale")
	}
}
