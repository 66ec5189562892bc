package library

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	logx "mediashuffler/pkg/logx"
)

// Watcher triggers a rescan when supported media lands in the library.
// Events are debounced: a batch copy of 500 files causes one scan, not 500.
// The trigger callback goes through the dispatcher's locked Scan entry point,
// so a watcher-initiated scan can never interleave with a dispatch rename.
type Watcher struct {
	root     string
	debounce time.Duration
	trigger  func(ctx context.Context)
	log      logx.Logger
}

func NewWatcher(root string, debounce time.Duration, trigger func(ctx context.Context), log logx.Logger) *Watcher {
	if debounce <= 0 {
		debounce = 5 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Watcher{root: filepath.Clean(root), debounce: debounce, trigger: trigger, log: log}
}

// Start watches the library tree until ctx is cancelled. Subdirectories are
// added recursively; directories created later are picked up from their
// create events.
func (w *Watcher) Start(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := addRecursive(fw, w.root); err != nil {
		_ = fw.Close()
		return err
	}

	go func() {
		defer fw.Close()
		var timer *time.Timer
		var timerC <-chan time.Time
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-fw.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				// New directories join the watch so nested drops are seen.
				if st, err := os.Stat(ev.Name); err == nil && st.IsDir() {
					_ = addRecursive(fw, ev.Name)
					continue
				}
				if !w.interesting(ev.Name) {
					continue
				}
				if timer == nil {
					timer = time.NewTimer(w.debounce)
					timerC = timer.C
				} else {
					timer.Reset(w.debounce)
				}
			case <-timerC:
				timer = nil
				timerC = nil
				w.log.Debug("library changed, triggering rescan")
				w.trigger(ctx)
			case err, ok := <-fw.Errors:
				if !ok {
					return
				}
				w.log.Warn("library watcher error", logx.Err(err))
			}
		}
	}()
	return nil
}

// interesting filters events down to untagged supported media. The
// dispatcher's own rename to the tagged form emits a create event; reacting
// to it would just schedule pointless scans.
func (w *Watcher) interesting(path string) bool {
	name := filepath.Base(path)
	if HasSentMarker(name) {
		return false
	}
	_, ok := TypeForExt(filepath.Ext(name))
	return ok
}

func addRecursive(fw *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			return nil
		}
		if d.IsDir() {
			return fw.Add(path)
		}
		return nil
	})
}
