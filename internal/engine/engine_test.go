package engine

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"sharedlog/internal/codec"
	"sharedlog/internal/serverctx"
)

func testEngine(t *testing.T, recordsPerSegment, trimThreshold uint64) *Engine {
	t.Helper()
	dir := t.TempDir()
	ctx, err := serverctx.NewFileContext(filepath.Join(dir, "meta.json"), map[string]string{"--log-path": dir})
	if err != nil {
		t.Fatalf("NewFileContext: %v", err)
	}
	logger, err := zap.NewDevelopment()
	if err != nil {
		t.Fatalf("zap.NewDevelopment: %v", err)
	}
	cfg := Config{Version: 1, RecordsPerSegment: recordsPerSegment, TrimThreshold: trimThreshold}
	e, err := New(cfg, ctx, logger.Sugar())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { e.Close() })
	return e
}

func dataEntry(address uint64, data string) codec.LogEntry {
	return codec.LogEntry{Data: []byte(data), GlobalAddress: address, DataType: codec.DataTypeData}
}

// S1 — basic append/read.
func TestS1BasicAppendRead(t *testing.T) {
	e := testEngine(t, 4, 1)

	for i, data := range []string{"a", "b", "c"} {
		if err := e.Append(uint64(i), dataEntry(uint64(i), data)); err != nil {
			t.Fatalf("Append(%d): %v", i, err)
		}
	}

	got, err := e.Read(1)
	if err != nil {
		t.Fatalf("Read(1): %v", err)
	}
	if string(got.Entry.Data) != "b" {
		t.Fatalf("Read(1).Data = %q, want %q", got.Entry.Data, "b")
	}
	if e.GlobalTail() != 2 {
		t.Fatalf("GlobalTail() = %d, want 2", e.GlobalTail())
	}

	if _, err := os.Stat(filepath.Join(e.dir, "0.log")); err != nil {
		t.Fatalf("expected 0.log to exist: %v", err)
	}
	if _, err := os.Stat(filepath.Join(e.dir, "1.log")); !os.IsNotExist(err) {
		t.Fatalf("expected 1.log not to exist, stat err = %v", err)
	}
}

// S2 — cross-segment batch.
func TestS2CrossSegmentBatch(t *testing.T) {
	e := testEngine(t, 4, 1)

	batch := []codec.LogEntry{
		dataEntry(2, "p2"), dataEntry(3, "p3"), dataEntry(4, "p4"), dataEntry(5, "p5"),
	}
	if err := e.AppendBatch(batch); err != nil {
		t.Fatalf("AppendBatch: %v", err)
	}

	if _, err := os.Stat(filepath.Join(e.dir, "2.log.copy")); !os.IsNotExist(err) {
		t.Fatalf("expected 2.log.copy not to exist, stat err = %v", err)
	}

	got, err := e.Read(4)
	if err != nil {
		t.Fatalf("Read(4): %v", err)
	}
	if string(got.Entry.Data) != "p4" {
		t.Fatalf("Read(4).Data = %q, want %q", got.Entry.Data, "p4")
	}
}

// S3 — prefix trim & read.
func TestS3PrefixTrimAndRead(t *testing.T) {
	e := testEngine(t, 4, 1)

	for i := uint64(0); i < 10; i++ {
		if err := e.Append(i, dataEntry(i, "x")); err != nil {
			t.Fatalf("Append(%d): %v", i, err)
		}
	}

	if err := e.PrefixTrim(5); err != nil {
		t.Fatalf("PrefixTrim: %v", err)
	}

	r3, err := e.Read(3)
	if err != nil {
		t.Fatalf("Read(3): %v", err)
	}
	if !r3.Trimmed {
		t.Fatalf("Read(3).Trimmed = false, want true")
	}

	r6, err := e.Read(6)
	if err != nil {
		t.Fatalf("Read(6): %v", err)
	}
	if r6.Trimmed {
		t.Fatalf("Read(6).Trimmed = true, want false")
	}

	if e.TrimMark() != 6 {
		t.Fatalf("TrimMark() = %d, want 6", e.TrimMark())
	}
}

// S4 — sparse compact.
func TestS4SparseCompact(t *testing.T) {
	e := testEngine(t, 4, 1)

	for i := uint64(0); i < 4; i++ {
		if err := e.Append(i, dataEntry(i, "x")); err != nil {
			t.Fatalf("Append(%d): %v", i, err)
		}
	}
	if err := e.Trim(1); err != nil {
		t.Fatalf("Trim(1): %v", err)
	}
	if err := e.Trim(2); err != nil {
		t.Fatalf("Trim(2): %v", err)
	}

	sizeBefore, err := os.Stat(filepath.Join(e.dir, "0.log"))
	if err != nil {
		t.Fatalf("stat before compact: %v", err)
	}

	if err := e.Compact(); err != nil {
		t.Fatalf("Compact: %v", err)
	}

	sizeAfter, err := os.Stat(filepath.Join(e.dir, "0.log"))
	if err != nil {
		t.Fatalf("stat after compact: %v", err)
	}
	if sizeAfter.Size() >= sizeBefore.Size() {
		t.Fatalf("expected 0.log to shrink: before=%d after=%d", sizeBefore.Size(), sizeAfter.Size())
	}

	r0, err := e.Read(0)
	if err != nil {
		t.Fatalf("Read(0): %v", err)
	}
	if r0.Trimmed || string(r0.Entry.Data) != "x" {
		t.Fatalf("Read(0) = %+v, want record", r0)
	}

	r1, err := e.Read(1)
	if err != nil {
		t.Fatalf("Read(1): %v", err)
	}
	if !r1.Trimmed {
		t.Fatalf("Read(1).Trimmed = false, want true")
	}

	r3, err := e.Read(3)
	if err != nil {
		t.Fatalf("Read(3): %v", err)
	}
	if r3.Trimmed {
		t.Fatalf("Read(3).Trimmed = true, want false")
	}
}

// S6 — rank overwrite.
func TestS6RankOverwrite(t *testing.T) {
	e := testEngine(t, 4, 1)

	uuidX, uuidY, uuidZ := uuid.New(), uuid.New(), uuid.New()

	entry1 := dataEntry(0, "v1")
	entry1.Rank = &codec.Rank{Value: 1, UUID: uuidX}
	if err := e.Append(0, entry1); err != nil {
		t.Fatalf("first ranked append: %v", err)
	}

	entry2 := dataEntry(0, "v2")
	entry2.Rank = &codec.Rank{Value: 2, UUID: uuidY}
	if err := e.Append(0, entry2); err != nil {
		t.Fatalf("higher-ranked append: %v", err)
	}

	got, err := e.Read(0)
	if err != nil {
		t.Fatalf("Read(0): %v", err)
	}
	if string(got.Entry.Data) != "v2" {
		t.Fatalf("Read(0).Data = %q, want %q", got.Entry.Data, "v2")
	}

	entry3 := dataEntry(0, "v3")
	entry3.Rank = &codec.Rank{Value: 1, UUID: uuidZ}
	if err := e.Append(0, entry3); err != ErrDataOutranked {
		t.Fatalf("lower-ranked append = %v, want ErrDataOutranked", err)
	}
}

func TestAppendWithoutRankToKnownAddressFails(t *testing.T) {
	e := testEngine(t, 4, 1)
	if err := e.Append(0, dataEntry(0, "a")); err != nil {
		t.Fatalf("first append: %v", err)
	}
	if err := e.Append(0, dataEntry(0, "b")); err != ErrOverwrite {
		t.Fatalf("second append = %v, want ErrOverwrite", err)
	}
}

func TestAppendBelowStartingAddressFails(t *testing.T) {
	e := testEngine(t, 4, 1)
	if err := e.Append(0, dataEntry(0, "a")); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := e.PrefixTrim(0); err != nil {
		t.Fatalf("PrefixTrim: %v", err)
	}
	if err := e.Append(0, dataEntry(0, "b")); err != ErrOverwrite {
		t.Fatalf("append below trim mark = %v, want ErrOverwrite", err)
	}
}

func TestAppendBatchIllegalArgumentOnGap(t *testing.T) {
	e := testEngine(t, 4, 1)
	batch := []codec.LogEntry{dataEntry(0, "a"), dataEntry(2, "c")}
	if err := e.AppendBatch(batch); err != ErrIllegalArgument {
		t.Fatalf("AppendBatch with gap = %v, want ErrIllegalArgument", err)
	}
}

func TestAppendBatchIllegalArgumentOnTooManySegments(t *testing.T) {
	e := testEngine(t, 4, 1)
	batch := []codec.LogEntry{dataEntry(3, "a"), dataEntry(4, "b"), dataEntry(5, "c"), dataEntry(6, "d"), dataEntry(7, "e"), dataEntry(8, "f")}
	if err := e.AppendBatch(batch); err != ErrIllegalArgument {
		t.Fatalf("AppendBatch spanning 3 segments = %v, want ErrIllegalArgument", err)
	}
}

func TestAppendBatchSkipsAlreadyKnownAddresses(t *testing.T) {
	e := testEngine(t, 4, 1)
	if err := e.Append(0, dataEntry(0, "orig")); err != nil {
		t.Fatalf("Append: %v", err)
	}
	batch := []codec.LogEntry{dataEntry(0, "ignored"), dataEntry(1, "new")}
	if err := e.AppendBatch(batch); err != nil {
		t.Fatalf("AppendBatch: %v", err)
	}
	got, err := e.Read(0)
	if err != nil {
		t.Fatalf("Read(0): %v", err)
	}
	if string(got.Entry.Data) != "orig" {
		t.Fatalf("Read(0).Data = %q, want %q (batch append must not overwrite known addresses)", got.Entry.Data, "orig")
	}
}

func TestTrimIsIdempotent(t *testing.T) {
	e := testEngine(t, 4, 1)
	if err := e.Append(0, dataEntry(0, "a")); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := e.Trim(0); err != nil {
		t.Fatalf("first Trim: %v", err)
	}
	if err := e.Trim(0); err != nil {
		t.Fatalf("second Trim: %v", err)
	}

	r, err := e.Read(0)
	if err != nil {
		t.Fatalf("Read(0): %v", err)
	}
	if !r.Trimmed {
		t.Fatalf("Read(0).Trimmed = false, want true")
	}
}

func TestPrefixTrimIsIdempotent(t *testing.T) {
	e := testEngine(t, 4, 1)
	if err := e.Append(0, dataEntry(0, "a")); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := e.PrefixTrim(0); err != nil {
		t.Fatalf("first PrefixTrim: %v", err)
	}
	if err := e.PrefixTrim(0); err != nil {
		t.Fatalf("second PrefixTrim: %v", err)
	}
	if e.TrimMark() != 1 {
		t.Fatalf("TrimMark() = %d, want 1", e.TrimMark())
	}
}
