package schedule

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	logx "mediashuffler/pkg/logx"
)

type Config struct {
	Timezone string // IANA TZ, e.g. "Asia/Shanghai"; empty means local
}

// Job is one scheduled unit of work. Errors are reported, never retried
// here: the next tick is the retry mechanism.
type Job func(ctx context.Context) error

// Service wraps robfig/cron with a location-aware parser and panic-safe job
// execution.
type Service struct {
	mu sync.Mutex

	log    logx.Logger
	cfg    Config
	loc    *time.Location
	parser cron.Parser
	c      *cron.Cron

	runCtx    context.Context
	runCancel context.CancelFunc
}

func New(cfg Config, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:    cfg,
		log:    log,
		parser: cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
	}
}

func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return
	}
	s.runCtx, s.runCancel = context.WithCancel(ctx)

	loc := s.loadLocationLocked()
	s.loc = loc
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(loc))
	s.c.Start()
	s.log.Info("scheduler started", logx.String("tz", loc.String()))
}

func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	cancel := s.runCancel
	s.c = nil
	s.runCancel = nil
	s.mu.Unlock()
	if c == nil {
		return
	}
	if cancel != nil {
		cancel()
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
	s.log.Info("scheduler stopped")
}

// AddCron registers a job under a raw 5-field cron spec.
func (s *Service) AddCron(name, spec string, job Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c == nil {
		return errors.New("scheduler not started")
	}
	_, err := s.c.AddFunc(spec, func() { s.run(name, job) })
	if err != nil {
		return fmt.Errorf("schedule %q (%s): %w", name, spec, err)
	}
	s.log.Info("schedule registered", logx.String("name", name), logx.String("spec", spec))
	return nil
}

// AddInterval registers a recurring job at a fixed cadence.
func (s *Service) AddInterval(name string, every time.Duration, job Job) error {
	if every <= 0 {
		return fmt.Errorf("schedule %q: interval must be > 0", name)
	}
	return s.AddCron(name, fmt.Sprintf("@every %s", every.String()), job)
}

// AddDaily registers a job firing every day at HH:MM (service timezone).
func (s *Service) AddDaily(name string, atHHMM string, job Job) error {
	h, m, err := parseHHMM(atHHMM)
	if err != nil {
		return err
	}
	return s.AddCron(name, fmt.Sprintf("%d %d * * *", m, h), job)
}

// AddSpec registers a job using the config schedule grammar (day/week/cron).
func (s *Service) AddSpec(name, raw string, job Job) error {
	spec, err := ParseSpec(raw)
	if err != nil {
		return err
	}
	return s.AddCron(name, spec, job)
}

func (s *Service) run(name string, job Job) {
	s.mu.Lock()
	ctx := s.runCtx
	s.mu.Unlock()
	if ctx == nil || ctx.Err() != nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("panic in scheduled job",
				logx.String("job", name),
				logx.Any("panic", r),
				logx.String("stack", string(debug.Stack())),
			)
		}
	}()
	start := time.Now()
	if err := job(ctx); err != nil {
		s.log.Warn("job failed", logx.String("job", name), logx.Duration("took", time.Since(start)), logx.Err(err))
		return
	}
	s.log.Debug("job ok", logx.String("job", name), logx.Duration("took", time.Since(start)))
}

func (s *Service) loadLocationLocked() *time.Location {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone, falling back to Local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}
