package quota

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/authgate/authgate/pkg/authorize"
)

func newTestTracker(opts Options) *Tracker {
	t := NewTracker(nil, NewMemoryStore(), opts, nil)
	return t
}

func isQuotaExceeded(err error) bool {
	e, ok := err.(*authorize.Error)
	return ok && e.Reason == authorize.ReasonQuotaExceeded
}

func TestTracker_CeilingWithinWindow(t *testing.T) {
	tr := newTestTracker(Options{Period: PeriodDay, AnonymousMax: 3})

	ctx := context.Background()
	for i := 1; i <= 3; i++ {
		if err := tr.Allow(ctx, "10.0.0.1", false); err != nil {
			t.Fatalf("request %d within ceiling was denied: %v", i, err)
		}
	}
	if err := tr.Allow(ctx, "10.0.0.1", false); !isQuotaExceeded(err) {
		t.Fatalf("request over ceiling was not rejected: %v", err)
	}

	// Another client is unaffected.
	if err := tr.Allow(ctx, "10.0.0.2", false); err != nil {
		t.Fatalf("independent client was denied: %v", err)
	}
}

func TestTracker_WindowRollover(t *testing.T) {
	tr := newTestTracker(Options{Period: PeriodDay, AnonymousMax: 1})

	now := time.Date(2024, 6, 1, 23, 59, 0, 0, time.UTC)
	tr.now = func() time.Time { return now }

	ctx := context.Background()
	if err := tr.Allow(ctx, "client", false); err != nil {
		t.Fatalf("first request denied: %v", err)
	}
	if err := tr.Allow(ctx, "client", false); !isQuotaExceeded(err) {
		t.Fatalf("second request in window allowed: %v", err)
	}

	// Crossing midnight UTC starts a fresh window at count 1.
	now = time.Date(2024, 6, 2, 0, 1, 0, 0, time.UTC)
	if err := tr.Allow(ctx, "client", false); err != nil {
		t.Fatalf("request in new window denied: %v", err)
	}
}

func TestTracker_AuthenticatedCeiling(t *testing.T) {
	tr := newTestTracker(Options{Period: PeriodDay, AnonymousMax: 1, AuthenticatedMax: 2, AuthConfigured: true})

	ctx := context.Background()
	for i := 1; i <= 2; i++ {
		if err := tr.Allow(ctx, "alice", true); err != nil {
			t.Fatalf("authenticated request %d denied: %v", i, err)
		}
	}
	if err := tr.Allow(ctx, "alice", true); !isQuotaExceeded(err) {
		t.Fatalf("authenticated request over ceiling allowed: %v", err)
	}
}

func TestTracker_AnonymousFallbackWithoutAuthProvider(t *testing.T) {
	// authenticated_max_requests is configured but no auth provider is;
	// every client is capped at the anonymous ceiling.
	tr := newTestTracker(Options{Period: PeriodDay, AnonymousMax: 1, AuthenticatedMax: 1000, AuthConfigured: false})

	ctx := context.Background()
	if err := tr.Allow(ctx, "alice", true); err != nil {
		t.Fatalf("first request denied: %v", err)
	}
	if err := tr.Allow(ctx, "alice", true); !isQuotaExceeded(err) {
		t.Fatalf("anonymous ceiling was not applied without an auth provider: %v", err)
	}
}

func TestTracker_DisabledIsNoop(t *testing.T) {
	var tr *Tracker
	for i := 0; i < 100; i++ {
		if err := tr.Allow(context.Background(), "anyone", false); err != nil {
			t.Fatalf("disabled tracker denied a request: %v", err)
		}
	}
}

func TestTracker_ConcurrentIncrementsDoNotUndercount(t *testing.T) {
	tr := newTestTracker(Options{Period: PeriodDay, AnonymousMax: 50})

	ctx := context.Background()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := tr.Allow(ctx, "burst-client", false); err != nil {
				t.Errorf("request within ceiling denied: %v", err)
			}
		}()
	}
	wg.Wait()

	// All 50 concurrent increments must have landed: the 51st request is
	// over the ceiling.
	if err := tr.Allow(ctx, "burst-client", false); !isQuotaExceeded(err) {
		t.Fatalf("counter lost updates under concurrency: %v", err)
	}
}

func TestMemoryStore_WindowIsolation(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	for i := uint64(1); i <= 3; i++ {
		count, err := s.Increment(ctx, "k", "2024-06-01")
		if err != nil {
			t.Fatalf("increment failed: %v", err)
		}
		if count != i {
			t.Fatalf("expected count %d, got %d", i, count)
		}
	}

	count, err := s.Increment(ctx, "k", "2024-06-02")
	if err != nil {
		t.Fatalf("increment failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("new window did not reset the counter, got %d", count)
	}
}

func TestPeriod_WindowID(t *testing.T) {
	if _, err := ParsePeriod("hour"); err == nil {
		t.Errorf("expected unknown period to be rejected")
	}

	p, err := ParsePeriod("day")
	if err != nil {
		t.Fatalf("day period rejected: %v", err)
	}

	// Window identity follows UTC regardless of the time's zone.
	est := time.FixedZone("EST", -5*3600)
	late := time.Date(2024, 6, 1, 22, 0, 0, 0, est) // 03:00 UTC next day
	if got := p.WindowID(late); got != "2024-06-02" {
		t.Errorf("expected UTC window 2024-06-02, got %s", got)
	}
}
