package dispatch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"mediashuffler/internal/inventory"
	"mediashuffler/internal/library"
	"mediashuffler/internal/transport"
	logx "mediashuffler/pkg/logx"
)

var (
	// ErrLockBusy means another dispatch or scan holds the lock. The caller
	// should report "busy" and move on; there is no queueing.
	ErrLockBusy = errors.New("dispatch lock busy")
	// ErrSendFailed wraps a transport failure. The chosen record stays
	// Unsent and is eligible for the next trigger.
	ErrSendFailed = errors.New("send failed")
)

// Trigger sources, recorded in the audit trail.
const (
	TriggerTimer  = "timer"
	TriggerManual = "manual"
)

// Status is a point-in-time view for the /status command.
type Status struct {
	Busy        bool
	Unsent      int
	Sent        int
	LastOutcome string
	LastAt      time.Time
}

// Dispatcher owns the single dispatch lock. Everything that mutates record
// status or renames library files goes through it: timer dispatch, manual
// dispatch, and scans.
type Dispatcher struct {
	mu sync.Mutex // the dispatch lock

	store   inventory.Store
	scanner *library.Scanner
	sender  transport.Adapter
	sel     *Selector

	channelID int64
	types     []inventory.MediaType

	log   logx.Logger
	clock func() time.Time

	stateMu     sync.Mutex
	lastOutcome string
	lastAt      time.Time
}

func New(store inventory.Store, scanner *library.Scanner, sender transport.Adapter, channelID int64, types []inventory.MediaType, log logx.Logger) *Dispatcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Dispatcher{
		store:     store,
		scanner:   scanner,
		sender:    sender,
		sel:       NewSelector(),
		channelID: channelID,
		types:     types,
		log:       log,
		clock:     time.Now,
	}
}

// DispatchOne runs one attempt: lock, select, send, rename, mark.
//
// Failure exits leave no partial state: on ErrExhausted or ErrSendFailed the
// store is untouched and the chosen file keeps its name. A concurrent caller
// gets ErrLockBusy immediately.
func (d *Dispatcher) DispatchOne(ctx context.Context, trigger string) (inventory.Record, error) {
	if !d.mu.TryLock() {
		return inventory.Record{}, ErrLockBusy
	}
	defer d.mu.Unlock()

	start := d.clock()
	attempt := uuid.NewString()
	log := d.log.With(logx.String("attempt", attempt), logx.String("trigger", trigger))

	candidates, err := d.store.ListUnsent(ctx, d.types...)
	if err != nil {
		d.audit(ctx, attempt, start, trigger, "", "store_error", err)
		return inventory.Record{}, fmt.Errorf("list unsent: %w", err)
	}

	rec, err := d.sel.Pick(candidates)
	if err != nil {
		d.audit(ctx, attempt, start, trigger, "", "exhausted", nil)
		d.setOutcome("exhausted")
		log.Info("inventory exhausted")
		return inventory.Record{}, ErrExhausted
	}
	log = log.With(logx.String("key", rec.Key))

	path := library.Path(d.scanner.Root(), rec.Key)
	err = d.sender.SendMedia(ctx, d.channelID, transport.Media{
		Path: path,
		Kind: kindFor(rec.Type),
	})
	if err != nil {
		d.audit(ctx, attempt, start, trigger, rec.Key, "send_failed", err)
		d.setOutcome("send_failed")
		log.Warn("send failed, record stays unsent", logx.Err(err))
		return inventory.Record{}, fmt.Errorf("%w: %v", ErrSendFailed, err)
	}

	// Delivery is confirmed past this point; tag the file first, then mark
	// the store. A crash between the two is caught by the scan repair pass,
	// which trusts the filename.
	sentPath := library.Path(d.scanner.Root(), library.SentKey(rec.Key))
	if err := os.Rename(path, sentPath); err != nil {
		// Delivered but untagged. Mark the store anyway so the attempt is
		// recorded; the next scan will surface the marker mismatch.
		log.Error("rename after send failed, filename and store will disagree until next scan", logx.Err(err))
	}

	marked, err := d.store.MarkSent(ctx, rec.Key, d.clock())
	if err != nil {
		// Lost a race or hit a corrupt row. The file is already tagged, so
		// the repair pass will align the store. Not fatal.
		d.audit(ctx, attempt, start, trigger, rec.Key, "mark_failed", err)
		d.setOutcome("mark_failed")
		log.Warn("mark sent failed, repair pass will reconcile", logx.Err(err))
		return rec, nil
	}

	d.audit(ctx, attempt, start, trigger, rec.Key, "sent", nil)
	d.setOutcome("sent")
	log.Info("media dispatched", logx.String("type", string(marked.Type)))
	return marked, nil
}

// Scan runs the scanner under the dispatch lock so a rename can never race a
// walk. Returns ErrLockBusy if a dispatch or another scan is in flight.
func (d *Dispatcher) Scan(ctx context.Context) (library.Report, error) {
	if !d.mu.TryLock() {
		return library.Report{}, ErrLockBusy
	}
	defer d.mu.Unlock()
	return d.scanner.Scan(ctx)
}

// Status reports counts and whether a dispatch/scan is in flight.
func (d *Dispatcher) Status(ctx context.Context) (Status, error) {
	var st Status
	if d.mu.TryLock() {
		d.mu.Unlock()
	} else {
		st.Busy = true
	}
	var err error
	if st.Unsent, err = d.store.Count(ctx, inventory.StatusUnsent); err != nil {
		return st, err
	}
	if st.Sent, err = d.store.Count(ctx, inventory.StatusSent); err != nil {
		return st, err
	}
	d.stateMu.Lock()
	st.LastOutcome = d.lastOutcome
	st.LastAt = d.lastAt
	d.stateMu.Unlock()
	return st, nil
}

// WaitIdle blocks until any in-flight dispatch or scan finishes (or ctx
// expires). Used by the shutdown path so an in-flight send runs to
// completion before the process exits.
func (d *Dispatcher) WaitIdle(ctx context.Context) error {
	acquired := make(chan struct{})
	go func() {
		d.mu.Lock()
		d.mu.Unlock()
		close(acquired)
	}()
	select {
	case <-acquired:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) setOutcome(outcome string) {
	d.stateMu.Lock()
	d.lastOutcome = outcome
	d.lastAt = d.clock()
	d.stateMu.Unlock()
}

func (d *Dispatcher) audit(ctx context.Context, id string, start time.Time, trigger, key, outcome string, cause error) {
	e := inventory.DispatchEntry{
		ID:      id,
		At:      start,
		Key:     key,
		Trigger: trigger,
		Outcome: outcome,
		TookMS:  d.clock().Sub(start).Milliseconds(),
	}
	if cause != nil {
		e.Error = cause.Error()
	}
	if err := d.store.AppendDispatch(ctx, e); err != nil {
		d.log.Warn("audit append failed", logx.Err(err))
	}
}

func kindFor(t inventory.MediaType) transport.MediaKind {
	switch t {
	case inventory.TypeVideo:
		return transport.KindVideo
	case inventory.TypeAnimation:
		return transport.KindAnimation
	default:
		return transport.KindPhoto
	}
}
