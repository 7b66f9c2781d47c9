package pool

import "testing"

func TestTryAcquireWithinBudgetSucceeds(t *testing.T) {
	r := NewRegistry()
	p := r.Configure("pinned", 100)

	if !p.TryAcquire(60) {
		t.Fatal("expected TryAcquire to succeed within budget")
	}
	if got := p.UsedBytes(); got != 60 {
		t.Fatalf("expected 60 used bytes, got %d", got)
	}
}

func TestTryAcquireOverBudgetFallsBack(t *testing.T) {
	r := NewRegistry()
	p := r.Configure("pinned", 100)

	if !p.TryAcquire(60) {
		t.Fatal("expected first TryAcquire to succeed")
	}
	if p.TryAcquire(50) {
		t.Fatal("expected second TryAcquire to fail and report fallback")
	}
	if got := p.UsedBytes(); got != 60 {
		t.Fatalf("expected used bytes to stay at 60 after a failed acquire, got %d", got)
	}
}

func TestReleaseReturnsBudget(t *testing.T) {
	r := NewRegistry()
	p := r.Configure("pinned", 100)

	p.TryAcquire(60)
	p.Release(40)
	if got := p.UsedBytes(); got != 20 {
		t.Fatalf("expected 20 used bytes after release, got %d", got)
	}
	if !p.TryAcquire(80) {
		t.Fatal("expected acquiring the freed budget to succeed")
	}
}

func TestReleaseClampsToUsed(t *testing.T) {
	r := NewRegistry()
	p := r.Configure("pinned", 100)

	p.TryAcquire(10)
	p.Release(1000)
	if got := p.UsedBytes(); got != 0 {
		t.Fatalf("expected used bytes to clamp at 0, got %d", got)
	}
}

func TestConfigureResizesExistingPool(t *testing.T) {
	r := NewRegistry()
	p1 := r.Configure("gpu:0", 100)
	p2 := r.Configure("gpu:0", 200)

	if p1 != p2 {
		t.Fatal("expected Configure to return the same *Pool for an existing name")
	}
	if got := p2.BudgetBytes(); got != 200 {
		t.Fatalf("expected resized budget 200, got %d", got)
	}
}

func TestGetReturnsConfiguredPool(t *testing.T) {
	r := NewRegistry()
	r.Configure("pinned", 100)

	if _, ok := r.Get("pinned"); !ok {
		t.Fatal("expected Get to find a configured pool")
	}
	if _, ok := r.Get("missing"); ok {
		t.Fatal("expected Get to report false for an unconfigured pool")
	}
}

func TestCollectorsReturnsThreePerPool(t *testing.T) {
	r := NewRegistry()
	r.Configure("pinned", 100)
	r.Configure("gpu:0", 200)

	if got := len(r.Collectors()); got != 6 {
		t.Fatalf("expected 6 collectors across 2 pools, got %d", got)
	}
}
