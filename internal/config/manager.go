package config

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	logx "mediashuffler/pkg/logx"
)

// Manager loads the config file and republishes it when the file changes on
// disk. Consumers either Subscribe() or just call Get() per use; the gateway
// reads the admin list through Get() so allow-list edits apply without a
// restart.
type Manager struct {
	path string

	mu  sync.RWMutex
	cfg *Config

	// subsMu guards the subscriber list and ensures we never send on a
	// channel that is concurrently being closed in Unsubscribe().
	subsMu sync.Mutex
	subs   []chan *Config

	log logx.Logger
}

func NewManager(path string) *Manager {
	return &Manager{path: path}
}

func (m *Manager) SetLogger(log logx.Logger) { m.log = log }

func (m *Manager) Parse() (*Config, error) {
	b, err := os.ReadFile(m.path)
	if err != nil {
		return nil, err
	}
	jb, _, err := coerceToJSONBytes(m.path, b)
	if err != nil {
		return nil, err
	}

	var cfg Config
	dec := json.NewDecoder(bytes.NewReader(jb))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return nil, err
	}
	// reject trailing tokens (e.g. concatenated JSON)
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		if err == nil {
			return nil, fmt.Errorf("invalid config: trailing data")
		}
		return nil, err
	}
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (m *Manager) Load() (*Config, error) {
	cfg, err := m.Parse()
	if err != nil {
		return nil, err
	}
	m.Commit(cfg)
	return cfg, nil
}

func (m *Manager) Commit(cfg *Config) {
	m.mu.Lock()
	m.cfg = cfg
	m.mu.Unlock()
}

func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

func (m *Manager) Subscribe(buffer int) chan *Config {
	ch := make(chan *Config, buffer)
	m.subsMu.Lock()
	m.subs = append(m.subs, ch)
	m.subsMu.Unlock()
	return ch
}

func (m *Manager) Unsubscribe(ch chan *Config) {
	if ch == nil {
		return
	}
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	for i, s := range m.subs {
		if s == ch {
			// swap-remove (order doesn't matter)
			last := len(m.subs) - 1
			m.subs[i] = m.subs[last]
			m.subs[last] = nil
			m.subs = m.subs[:last]
			close(ch)
			return
		}
	}
}

func (m *Manager) publish(cfg *Config) {
	// Hold subsMu while sending to avoid send-on-closed panics.
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	for _, ch := range m.subs {
		select {
		case ch <- cfg:
		default:
			// slow subscriber; drop rather than block the watcher
		}
	}
}

// Watch re-reads the config when the file changes. Editors replace files in
// odd ways (rename, truncate+write), so events are debounced and a re-add of
// the watch path is attempted after Remove/Rename events.
func (m *Manager) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	dir := filepath.Dir(m.path)
	if err := w.Add(dir); err != nil {
		_ = w.Close()
		return err
	}

	go func() {
		defer w.Close()
		var timer *time.Timer
		var timerC <-chan time.Time
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != filepath.Clean(m.path) {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				if timer == nil {
					timer = time.NewTimer(300 * time.Millisecond)
					timerC = timer.C
				} else {
					timer.Reset(300 * time.Millisecond)
				}
			case <-timerC:
				timerC = nil
				timer = nil
				cfg, err := m.Parse()
				if err != nil {
					m.log.Warn("config reload rejected", logx.Err(err))
					continue
				}
				m.Commit(cfg)
				m.publish(cfg)
				m.log.Info("config reloaded", logx.String("path", m.path))
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				m.log.Warn("config watcher error", logx.Err(err))
			}
		}
	}()
	return nil
}

// Validate enforces the hard requirements before a config is committed:
// credentials present, HH:MM scan time, an existing library root, parseable
// durations.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("nil config")
	}
	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		return errors.New("telegram.token is required")
	}
	if cfg.Telegram.ChannelID == 0 {
		return errors.New("telegram.channel_id is required")
	}
	if strings.TrimSpace(cfg.Library.Root) == "" {
		return errors.New("library.root is required")
	}
	if fi, err := os.Stat(cfg.Library.Root); err != nil || !fi.IsDir() {
		return fmt.Errorf("library.root %q is not an existing directory", cfg.Library.Root)
	}
	if t := strings.TrimSpace(cfg.Schedule.DailyScanTime); t != "" {
		if _, err := time.Parse("15:04", t); err != nil {
			return fmt.Errorf("schedule.daily_scan_time %q: expected HH:MM", t)
		}
	}
	if tz := strings.TrimSpace(cfg.Schedule.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("schedule.timezone %q: %w", tz, err)
		}
	}
	if _, err := ParseDurationField("dispatch.interval", cfg.Dispatch.Interval); err != nil {
		return err
	}
	if _, err := ParseDurationField("telegram.poll_timeout", cfg.Telegram.PollTimeout); err != nil {
		return err
	}
	if _, err := ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout); err != nil {
		return err
	}
	if _, err := ParseDurationField("library.watch_debounce", cfg.Library.WatchDebounce); err != nil {
		return err
	}
	for _, ts := range cfg.Schedule.TextSchedules {
		if strings.TrimSpace(ts.Name) == "" {
			return errors.New("schedule.text_schedules: name is required")
		}
		if strings.TrimSpace(ts.Schedule) == "" {
			return fmt.Errorf("schedule.text_schedules[%s]: schedule is required", ts.Name)
		}
	}
	return nil
}
