package dispatch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"mediashuffler/internal/inventory"
	"mediashuffler/internal/library"
	"mediashuffler/internal/transport"
	logx "mediashuffler/pkg/logx"
)

type fakeAdapter struct {
	mu      sync.Mutex
	media   []transport.Media
	texts   []string
	replies []string

	failSend error
	// block, when non-nil, holds SendMedia until closed. Used to pin the
	// dispatcher inside the Sending state.
	block chan struct{}
}

func (f *fakeAdapter) Start(ctx context.Context, out chan<- transport.Update) error { return nil }
func (f *fakeAdapter) Stop(ctx context.Context) error                               { return nil }

func (f *fakeAdapter) SendText(ctx context.Context, chatID int64, text string) error {
	f.mu.Lock()
	f.texts = append(f.texts, text)
	f.mu.Unlock()
	return nil
}

func (f *fakeAdapter) SendMedia(ctx context.Context, chatID int64, m transport.Media) error {
	f.mu.Lock()
	block := f.block
	fail := f.failSend
	f.mu.Unlock()
	if block != nil {
		<-block
	}
	if fail != nil {
		return fail
	}
	f.mu.Lock()
	f.media = append(f.media, m)
	f.mu.Unlock()
	return nil
}

func (f *fakeAdapter) Reply(ctx context.Context, to transport.Update, text string) error {
	f.mu.Lock()
	f.replies = append(f.replies, text)
	f.mu.Unlock()
	return nil
}

func (f *fakeAdapter) sentMedia() []transport.Media {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]transport.Media(nil), f.media...)
}

func newTestDispatcher(t *testing.T, fake *fakeAdapter, types ...inventory.MediaType) (*Dispatcher, inventory.Store, string) {
	t.Helper()
	root := t.TempDir()
	st, err := inventory.Open(inventory.Config{Path: filepath.Join(t.TempDir(), "media.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	sc := library.NewScanner(root, nil, st, logx.Nop())
	return New(st, sc, fake, 1, types, logx.Nop()), st, root
}

func writeFile(t *testing.T, path string) {
	t.Helper()
	if err := os.WriteFile(path, []byte("media"), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestDispatchOneEmptyInventoryIsExhausted(t *testing.T) {
	d, _, _ := newTestDispatcher(t, &fakeAdapter{})
	if _, err := d.DispatchOne(context.Background(), TriggerManual); !errors.Is(err, ErrExhausted) {
		t.Fatalf("got %v, want ErrExhausted", err)
	}
}

func TestDispatchOneHappyPathRenamesAndMarks(t *testing.T) {
	fake := &fakeAdapter{}
	d, st, root := newTestDispatcher(t, fake)
	ctx := context.Background()

	writeFile(t, filepath.Join(root, "photo.jpg"))
	if _, err := d.Scan(ctx); err != nil {
		t.Fatalf("scan: %v", err)
	}

	rec, err := d.DispatchOne(ctx, TriggerTimer)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if rec.Key != "photo.jpg" || rec.Status != inventory.StatusSent || rec.SentAt == nil {
		t.Fatalf("unexpected record: %+v", rec)
	}

	if len(fake.sentMedia()) != 1 {
		t.Fatalf("sent %d media, want 1", len(fake.sentMedia()))
	}
	if got := fake.sentMedia()[0].Kind; got != transport.KindPhoto {
		t.Fatalf("kind = %v, want photo", got)
	}

	// The backing file now carries the sent tag.
	if _, err := os.Stat(filepath.Join(root, "photo_Sent.jpg")); err != nil {
		t.Fatalf("tagged file missing: %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, "photo.jpg")); !os.IsNotExist(err) {
		t.Fatalf("original file still present: %v", err)
	}

	// Inventory is spent now.
	if _, err := d.DispatchOne(ctx, TriggerTimer); !errors.Is(err, ErrExhausted) {
		t.Fatalf("second dispatch: got %v, want ErrExhausted", err)
	}

	// Round trip: a rescan classifies the tagged file as known, re-adds nothing.
	rep, err := d.Scan(ctx)
	if err != nil {
		t.Fatalf("rescan: %v", err)
	}
	if rep.Added != 0 || rep.AlreadyKnown != 1 {
		t.Fatalf("rescan report = %+v", rep)
	}
	got, err := st.Get(ctx, "photo.jpg")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != inventory.StatusSent {
		t.Fatalf("status after rescan = %v", got.Status)
	}
}

func TestDispatchOneSendFailureLeavesNoPartialState(t *testing.T) {
	fake := &fakeAdapter{failSend: errors.New("telegram down")}
	d, st, root := newTestDispatcher(t, fake)
	ctx := context.Background()

	writeFile(t, filepath.Join(root, "photo.jpg"))
	if _, err := d.Scan(ctx); err != nil {
		t.Fatalf("scan: %v", err)
	}

	_, err := d.DispatchOne(ctx, TriggerManual)
	if !errors.Is(err, ErrSendFailed) {
		t.Fatalf("got %v, want ErrSendFailed", err)
	}

	// Record stays unsent and the file keeps its name: eligible next time.
	rec, err := st.Get(ctx, "photo.jpg")
	if err != nil {
		t.Fatal(err)
	}
	if rec.Status != inventory.StatusUnsent {
		t.Fatalf("status = %v, want unsent", rec.Status)
	}
	if _, err := os.Stat(filepath.Join(root, "photo.jpg")); err != nil {
		t.Fatalf("file was renamed on failed send: %v", err)
	}

	// After the transport recovers, the same record goes out.
	fake.mu.Lock()
	fake.failSend = nil
	fake.mu.Unlock()
	if _, err := d.DispatchOne(ctx, TriggerManual); err != nil {
		t.Fatalf("retry dispatch: %v", err)
	}
}

func TestConcurrentTriggersSingleWinner(t *testing.T) {
	fake := &fakeAdapter{block: make(chan struct{})}
	d, _, root := newTestDispatcher(t, fake)
	ctx := context.Background()

	writeFile(t, filepath.Join(root, "photo.jpg"))
	if _, err := d.Scan(ctx); err != nil {
		t.Fatalf("scan: %v", err)
	}

	const n = 8
	results := make(chan error, n)
	for i := 0; i < n; i++ {
		go func() {
			_, err := d.DispatchOne(ctx, TriggerManual)
			results <- err
		}()
	}

	// One goroutine is pinned in Sending; everyone else must bounce off the
	// lock immediately. A concurrent scan bounces too.
	busy := 0
	for busy < n-1 {
		err := <-results
		if !errors.Is(err, ErrLockBusy) {
			t.Fatalf("expected ErrLockBusy, got %v", err)
		}
		busy++
	}
	if _, err := d.Scan(ctx); !errors.Is(err, ErrLockBusy) {
		t.Fatalf("scan during dispatch: got %v, want ErrLockBusy", err)
	}

	close(fake.block)
	if err := <-results; err != nil {
		t.Fatalf("winner failed: %v", err)
	}

	if len(fake.sentMedia()) != 1 {
		t.Fatalf("sent %d media, want exactly 1", len(fake.sentMedia()))
	}
}

func TestDispatchOneRespectsTypeFilter(t *testing.T) {
	fake := &fakeAdapter{}
	d, _, root := newTestDispatcher(t, fake, inventory.TypeVideo)
	ctx := context.Background()

	writeFile(t, filepath.Join(root, "photo.jpg"))
	if _, err := d.Scan(ctx); err != nil {
		t.Fatalf("scan: %v", err)
	}

	// Only images exist but the dispatcher is video-only.
	if _, err := d.DispatchOne(ctx, TriggerTimer); !errors.Is(err, ErrExhausted) {
		t.Fatalf("got %v, want ErrExhausted", err)
	}

	writeFile(t, filepath.Join(root, "clip.mp4"))
	if _, err := d.Scan(ctx); err != nil {
		t.Fatalf("rescan: %v", err)
	}
	rec, err := d.DispatchOne(ctx, TriggerTimer)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if rec.Key != "clip.mp4" {
		t.Fatalf("dispatched %s, want clip.mp4", rec.Key)
	}
}

func TestStatusReportsCountsAndBusy(t *testing.T) {
	fake := &fakeAdapter{block: make(chan struct{})}
	d, _, root := newTestDispatcher(t, fake)
	ctx := context.Background()

	writeFile(t, filepath.Join(root, "a.jpg"))
	writeFile(t, filepath.Join(root, "b.jpg"))
	if _, err := d.Scan(ctx); err != nil {
		t.Fatalf("scan: %v", err)
	}

	st, err := d.Status(ctx)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if st.Busy || st.Unsent != 2 || st.Sent != 0 {
		t.Fatalf("status = %+v", st)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = d.DispatchOne(ctx, TriggerManual)
	}()

	// Wait for the dispatcher to enter Sending, then observe busy.
	waitBusy(t, d)
	st, err = d.Status(ctx)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !st.Busy {
		t.Fatal("status should report busy while sending")
	}

	close(fake.block)
	<-done
	st, err = d.Status(ctx)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if st.Busy || st.Unsent != 1 || st.Sent != 1 || st.LastOutcome != "sent" {
		t.Fatalf("status after dispatch = %+v", st)
	}
}

func waitBusy(t *testing.T, d *Dispatcher) {
	t.Helper()
	for i := 0; i < 200; i++ {
		if !d.mu.TryLock() {
			return
		}
		d.mu.Unlock()
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("dispatcher never became busy")
}
