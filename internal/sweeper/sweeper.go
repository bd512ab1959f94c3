// Package sweeper runs the periodic store/timer reconciliation. A crash
// between a commit and its timer call, or a timer lost any other way, is
// repaired on the next sweep.
package sweeper

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	logx "remindbot/pkg/logx"
)

// Reconciler is implemented by the engine.
type Reconciler interface {
	Reconcile(ctx context.Context) (armed, dropped int, err error)
}

type Config struct {
	Enabled bool
	Spec    string // cron spec or @every; "@every 5m" default
}

type Service struct {
	mu sync.Mutex

	log    logx.Logger
	target Reconciler
	cfg    Config
	loc    *time.Location

	parser cron.Parser
	c      *cron.Cron
	ctx    context.Context
	cancel context.CancelFunc
}

func New(cfg Config, target Reconciler, loc *time.Location, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if loc == nil {
		loc = time.Local
	}
	if cfg.Spec == "" {
		cfg.Spec = "@every 5m"
	}
	return &Service{
		cfg:    cfg,
		target: target,
		loc:    loc,
		log:    log,
		parser: cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
	}
}

// ValidateSpec reports whether spec would be accepted by Start. Used to
// reject bad specs before a config reload is committed.
func ValidateSpec(spec string) error {
	if spec == "" {
		return nil
	}
	p := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	if _, err := p.Parse(spec); err != nil {
		return fmt.Errorf("sweep spec %q: %w", spec, err)
	}
	return nil
}

func (s *Service) Enabled() bool { return s.cfg.Enabled }

func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil || !s.cfg.Enabled {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}

	sched, err := s.parser.Parse(s.cfg.Spec)
	if err != nil {
		return fmt.Errorf("sweep spec %q: %w", s.cfg.Spec, err)
	}

	s.ctx, s.cancel = context.WithCancel(ctx)
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(s.loc))
	s.c.Schedule(sched, cron.FuncJob(s.sweep))
	s.c.Start()
	s.log.Info("sweeper started",
		logx.String("spec", s.cfg.Spec), logx.String("tz", s.loc.String()))
	return nil
}

func (s *Service) Stop() {
	s.mu.Lock()
	c := s.c
	cancel := s.cancel
	s.c = nil
	s.cancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if c != nil {
		<-c.Stop().Done()
	}
}

func (s *Service) sweep() {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()
	if ctx == nil || ctx.Err() != nil {
		return
	}

	sctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	armed, dropped, err := s.target.Reconcile(sctx)
	if err != nil {
		s.log.Warn("sweep failed", logx.Err(err))
		return
	}
	if armed > 0 || dropped > 0 {
		s.log.Info("sweep repaired timers",
			logx.Int("armed", armed), logx.Int("dropped", dropped))
	}
}
