package library

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"mediashuffler/internal/inventory"
	logx "mediashuffler/pkg/logx"
)

// Report summarizes one scan pass.
type Report struct {
	Added              int
	AlreadyKnown       int
	SkippedUnsupported int
	SkippedBlacklisted int
	// Vanished counts records whose backing file is gone. They are kept in
	// the store and surfaced here, never deleted.
	Vanished int
	// Repaired counts rows realigned to the filename marker.
	Repaired int
}

// Scanner walks the library root and reconciles what it finds against the
// store. It only ever inserts or repairs; it never deletes a record.
type Scanner struct {
	root      string
	blacklist []string
	store     inventory.Store
	log       logx.Logger
	clock     func() time.Time
}

func NewScanner(root string, blacklist []string, store inventory.Store, log logx.Logger) *Scanner {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Scanner{
		root:      filepath.Clean(root),
		blacklist: blacklist,
		store:     store,
		log:       log,
		clock:     time.Now,
	}
}

func (s *Scanner) Root() string { return s.root }

// Scan walks the root once. Transient per-file errors (a file renamed away
// mid-walk, a failed stat) skip that file for this pass; only a failure to
// read the tree itself is an error.
func (s *Scanner) Scan(ctx context.Context) (Report, error) {
	var rep Report

	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, walkErr error) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if walkErr != nil {
			if path == s.root {
				return walkErr
			}
			// Renames race the walk; treat the entry as gone for this pass.
			s.log.Debug("scan: entry skipped", logx.String("path", path), logx.Err(walkErr))
			return nil
		}
		if d.IsDir() {
			return nil
		}

		name := d.Name()
		mt, ok := TypeForExt(filepath.Ext(name))
		if !ok {
			rep.SkippedUnsupported++
			return nil
		}
		if s.blacklisted(name) {
			rep.SkippedBlacklisted++
			return nil
		}

		if HasSentMarker(name) {
			s.reconcileSent(ctx, path, mt, &rep)
			return nil
		}
		s.reconcileUnsent(ctx, path, mt, &rep)
		return nil
	})
	if err != nil {
		return rep, err
	}

	rep.Vanished = s.countVanished(ctx)

	s.log.Info("scan finished",
		logx.Int("added", rep.Added),
		logx.Int("known", rep.AlreadyKnown),
		logx.Int("unsupported", rep.SkippedUnsupported),
		logx.Int("blacklisted", rep.SkippedBlacklisted),
		logx.Int("vanished", rep.Vanished),
		logx.Int("repaired", rep.Repaired),
	)
	return rep, nil
}

func (s *Scanner) blacklisted(name string) bool {
	for _, b := range s.blacklist {
		if b != "" && strings.Contains(name, b) {
			return true
		}
	}
	return false
}

// reconcileUnsent handles a file without the sent tag: insert it if new, and
// if the store claims it was Sent, the filename wins (marker mismatch).
func (s *Scanner) reconcileUnsent(ctx context.Context, path string, mt inventory.MediaType, rep *Report) {
	key, err := Key(s.root, path)
	if err != nil {
		s.log.Warn("scan: unkeyable path", logx.String("path", path), logx.Err(err))
		return
	}
	rec, inserted, err := s.store.UpsertIfAbsent(ctx, key, mt)
	if err != nil {
		s.log.Warn("scan: upsert failed", logx.String("key", key), logx.Err(err))
		return
	}
	if inserted {
		rep.Added++
		return
	}
	if rec.Status == inventory.StatusSent {
		// Store says sent, file says not. Trust the filename.
		s.log.Warn("marker mismatch: store says sent but file is untagged, realigning to unsent",
			logx.String("key", key))
		if err := s.store.AlignStatus(ctx, key, inventory.StatusUnsent, nil); err != nil {
			s.log.Warn("scan: realign failed", logx.String("key", key), logx.Err(err))
		} else {
			rep.Repaired++
		}
	}
	rep.AlreadyKnown++
}

// reconcileSent handles a tagged file. It is "already known" by definition:
// the tag proves a past dispatch, so it must never re-enter as Unsent.
func (s *Scanner) reconcileSent(ctx context.Context, path string, mt inventory.MediaType, rep *Report) {
	untagged := filepath.Join(filepath.Dir(path), UnsentName(filepath.Base(path)))
	key, err := Key(s.root, untagged)
	if err != nil {
		s.log.Warn("scan: unkeyable path", logx.String("path", path), logx.Err(err))
		return
	}
	rep.AlreadyKnown++

	rec, err := s.store.Get(ctx, key)
	if errors.Is(err, inventory.ErrNotFound) {
		// Tagged on disk but unknown to the store (e.g. store lost between
		// rename and mark). Record it as Sent so it never dispatches again.
		s.log.Warn("marker mismatch: tagged file unknown to store, recording as sent",
			logx.String("key", key))
		if _, _, err := s.store.UpsertIfAbsent(ctx, key, mt); err != nil {
			s.log.Warn("scan: upsert failed", logx.String("key", key), logx.Err(err))
			return
		}
		now := s.clock()
		if err := s.store.AlignStatus(ctx, key, inventory.StatusSent, &now); err != nil {
			s.log.Warn("scan: realign failed", logx.String("key", key), logx.Err(err))
			return
		}
		rep.Repaired++
		return
	}
	if err != nil {
		s.log.Warn("scan: lookup failed", logx.String("key", key), logx.Err(err))
		return
	}
	if rec.Status == inventory.StatusUnsent {
		// File says sent, store says not. Trust the filename.
		s.log.Warn("marker mismatch: file is tagged but store says unsent, realigning to sent",
			logx.String("key", key))
		now := s.clock()
		if err := s.store.AlignStatus(ctx, key, inventory.StatusSent, &now); err != nil {
			s.log.Warn("scan: realign failed", logx.String("key", key), logx.Err(err))
			return
		}
		rep.Repaired++
	}
}

// countVanished reports records whose backing file is gone in both its
// untagged and tagged form. Stale entries are tolerated indefinitely; this
// only surfaces them.
func (s *Scanner) countVanished(ctx context.Context) int {
	vanished := 0
	check := func(recs []inventory.Record) {
		for _, rec := range recs {
			p := Path(s.root, rec.Key)
			tagged := Path(s.root, SentKey(rec.Key))
			if !fileExists(p) && !fileExists(tagged) {
				vanished++
				s.log.Warn("backing file missing, record kept", logx.String("key", rec.Key))
			}
		}
	}
	if recs, err := s.store.ListUnsent(ctx); err == nil {
		check(recs)
	}
	if recs, err := s.store.ListSent(ctx); err == nil {
		check(recs)
	}
	return vanished
}

func fileExists(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && fi.Mode().IsRegular()
}
