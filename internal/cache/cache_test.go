package cache

import (
	"testing"

	"go.uber.org/zap"

	"sharedlog/internal/segstore"
)

func testLogger(t *testing.T) *zap.SugaredLogger {
	t.Helper()
	logger, err := zap.NewDevelopment()
	if err != nil {
		t.Fatalf("zap.NewDevelopment: %v", err)
	}
	return logger.Sugar()
}

func TestGetSegmentOpensOnce(t *testing.T) {
	dir := t.TempDir()
	c := New(dir, segstore.Config{Version: 1}, testLogger(t))
	defer c.Close()

	seg1, err := c.GetSegment(0)
	if err != nil {
		t.Fatalf("GetSegment: %v", err)
	}
	seg2, err := c.GetSegment(0)
	if err != nil {
		t.Fatalf("GetSegment: %v", err)
	}
	if seg1 != seg2 {
		t.Fatalf("expected same segment instance on repeated GetSegment")
	}
	if seg1.RefCount() != 2 {
		t.Fatalf("RefCount = %d, want 2", seg1.RefCount())
	}
	seg1.Release()
	seg2.Release()
}

func TestGetForAddressDerivesSegmentID(t *testing.T) {
	dir := t.TempDir()
	c := New(dir, segstore.Config{Version: 1}, testLogger(t))
	defer c.Close()

	seg, err := c.GetForAddress(9, 4)
	if err != nil {
		t.Fatalf("GetForAddress: %v", err)
	}
	defer seg.Release()
	if seg.ID() != 2 {
		t.Fatalf("ID() = %d, want 2", seg.ID())
	}
}

func TestEvictClosesAndRemoves(t *testing.T) {
	dir := t.TempDir()
	c := New(dir, segstore.Config{Version: 1}, testLogger(t))
	defer c.Close()

	seg, err := c.GetSegment(3)
	if err != nil {
		t.Fatalf("GetSegment: %v", err)
	}
	seg.Release()

	if err := c.Evict(3); err != nil {
		t.Fatalf("Evict: %v", err)
	}
	if _, ok := c.Peek(3); ok {
		t.Fatalf("expected segment 3 to be gone after Evict")
	}

	seg2, err := c.GetSegment(3)
	if err != nil {
		t.Fatalf("re-GetSegment: %v", err)
	}
	defer seg2.Release()
	if seg2 == seg {
		t.Fatalf("expected a freshly opened segment after eviction")
	}
}

func TestEvictWithOutstandingRefWarnsButProceeds(t *testing.T) {
	dir := t.TempDir()
	c := New(dir, segstore.Config{Version: 1}, testLogger(t))
	defer c.Close()

	seg, err := c.GetSegment(5)
	if err != nil {
		t.Fatalf("GetSegment: %v", err)
	}
	// Deliberately do not release: simulate an outstanding reader.
	if err := c.Evict(5); err != nil {
		t.Fatalf("Evict: %v", err)
	}
	_ = seg
}
