package library

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"mediashuffler/internal/inventory"
	logx "mediashuffler/pkg/logx"
)

func newTestScanner(t *testing.T, blacklist ...string) (*Scanner, inventory.Store, string) {
	t.Helper()
	root := t.TempDir()
	st, err := inventory.Open(inventory.Config{Path: filepath.Join(t.TempDir(), "media.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return NewScanner(root, blacklist, st, logx.Nop()), st, root
}

func writeFile(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("media"), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestScanAddsSupportedFiles(t *testing.T) {
	sc, st, root := newTestScanner(t)
	ctx := context.Background()

	writeFile(t, filepath.Join(root, "a.jpg"))
	writeFile(t, filepath.Join(root, "sub", "b.mp4"))
	writeFile(t, filepath.Join(root, "note.txt"))

	rep, err := sc.Scan(ctx)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if rep.Added != 2 {
		t.Fatalf("added = %d, want 2", rep.Added)
	}
	if rep.SkippedUnsupported != 1 {
		t.Fatalf("unsupported = %d, want 1", rep.SkippedUnsupported)
	}

	// note.txt must never produce a record.
	if _, err := st.Get(ctx, "note.txt"); err != inventory.ErrNotFound {
		t.Fatalf("unsupported file produced a record: %v", err)
	}
	rec, err := st.Get(ctx, "sub/b.mp4")
	if err != nil {
		t.Fatalf("nested record missing: %v", err)
	}
	if rec.Type != inventory.TypeVideo {
		t.Fatalf("type = %v, want video", rec.Type)
	}
}

func TestScanIsIdempotent(t *testing.T) {
	sc, _, root := newTestScanner(t)
	ctx := context.Background()

	writeFile(t, filepath.Join(root, "a.jpg"))
	writeFile(t, filepath.Join(root, "b.png"))

	if _, err := sc.Scan(ctx); err != nil {
		t.Fatalf("first scan: %v", err)
	}
	rep, err := sc.Scan(ctx)
	if err != nil {
		t.Fatalf("second scan: %v", err)
	}
	if rep.Added != 0 {
		t.Fatalf("second scan added = %d, want 0", rep.Added)
	}
	if rep.AlreadyKnown != 2 {
		t.Fatalf("second scan known = %d, want 2", rep.AlreadyKnown)
	}
}

func TestScanHonorsBlacklist(t *testing.T) {
	sc, _, root := newTestScanner(t, "thumb")
	ctx := context.Background()

	writeFile(t, filepath.Join(root, "a.jpg"))
	writeFile(t, filepath.Join(root, "a_thumb.jpg"))

	rep, err := sc.Scan(ctx)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if rep.Added != 1 || rep.SkippedBlacklisted != 1 {
		t.Fatalf("added=%d blacklisted=%d, want 1/1", rep.Added, rep.SkippedBlacklisted)
	}
}

func TestScanNeverReaddsTaggedFiles(t *testing.T) {
	sc, st, root := newTestScanner(t)
	ctx := context.Background()

	// A file tagged on disk but unknown to the store: recorded as Sent, not
	// re-added as a fresh Unsent record.
	writeFile(t, filepath.Join(root, "old_Sent.jpg"))

	rep, err := sc.Scan(ctx)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if rep.Added != 0 || rep.AlreadyKnown != 1 || rep.Repaired != 1 {
		t.Fatalf("report = %+v", rep)
	}
	rec, err := st.Get(ctx, "old.jpg")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec.Status != inventory.StatusSent {
		t.Fatalf("tagged file recorded as %v, want sent", rec.Status)
	}

	unsent, err := st.ListUnsent(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(unsent) != 0 {
		t.Fatalf("tagged file is dispatchable: %+v", unsent)
	}
}

func TestScanRepairsMarkerMismatch(t *testing.T) {
	sc, st, root := newTestScanner(t)
	ctx := context.Background()

	// Store says sent, but the file on disk is untagged: the filename wins
	// and the row flips back to unsent.
	writeFile(t, filepath.Join(root, "a.jpg"))
	if _, _, err := st.UpsertIfAbsent(ctx, "a.jpg", inventory.TypeImage); err != nil {
		t.Fatal(err)
	}
	if _, err := st.MarkSent(ctx, "a.jpg", time.Now()); err != nil {
		t.Fatal(err)
	}

	// Store says unsent, but the file carries the tag: flips to sent.
	writeFile(t, filepath.Join(root, "b_Sent.png"))
	if _, _, err := st.UpsertIfAbsent(ctx, "b.png", inventory.TypeImage); err != nil {
		t.Fatal(err)
	}

	rep, err := sc.Scan(ctx)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if rep.Repaired != 2 {
		t.Fatalf("repaired = %d, want 2", rep.Repaired)
	}

	a, err := st.Get(ctx, "a.jpg")
	if err != nil {
		t.Fatal(err)
	}
	if a.Status != inventory.StatusUnsent {
		t.Fatalf("a.jpg = %v, want unsent (filename authority)", a.Status)
	}
	b, err := st.Get(ctx, "b.png")
	if err != nil {
		t.Fatal(err)
	}
	if b.Status != inventory.StatusSent {
		t.Fatalf("b.png = %v, want sent (filename authority)", b.Status)
	}
}

func TestScanCountsVanishedButKeepsRecords(t *testing.T) {
	sc, st, root := newTestScanner(t)
	ctx := context.Background()

	writeFile(t, filepath.Join(root, "a.jpg"))
	if _, err := sc.Scan(ctx); err != nil {
		t.Fatal(err)
	}
	if err := os.Remove(filepath.Join(root, "a.jpg")); err != nil {
		t.Fatal(err)
	}

	rep, err := sc.Scan(ctx)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if rep.Vanished != 1 {
		t.Fatalf("vanished = %d, want 1", rep.Vanished)
	}
	// Stale entries are tolerated, never purged.
	if _, err := st.Get(ctx, "a.jpg"); err != nil {
		t.Fatalf("record was purged: %v", err)
	}
}
