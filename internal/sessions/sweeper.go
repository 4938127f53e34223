package sessions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultSweepSchedule runs the idle sweep every five minutes.
const DefaultSweepSchedule = "@every 5m"

var sweepParser = cron.NewParser(
	cron.SecondOptional |
		cron.Minute |
		cron.Hour |
		cron.Dom |
		cron.Month |
		cron.Dow |
		cron.Descriptor,
)

// SweeperConfig configures idle-session expiry.
type SweeperConfig struct {
	// IdleTimeout is how long a session may go without activity. Zero
	// disables sweeping.
	IdleTimeout time.Duration

	// Schedule is a cron expression or descriptor such as "@every 5m".
	Schedule string
}

// Sweeper deletes sessions that have been idle longer than IdleTimeout.
// Sessions with a turn in flight are skipped and retried on the next run.
type Sweeper struct {
	store    Store
	locker   Locker
	config   SweeperConfig
	logger   *slog.Logger
	now      func() time.Time
	onDelete func(sessions int)

	mu   sync.Mutex
	cron *cron.Cron
}

// NewSweeper validates config and returns a stopped Sweeper.
func NewSweeper(store Store, locker Locker, config SweeperConfig, logger *slog.Logger) (*Sweeper, error) {
	if store == nil {
		return nil, errors.New("sweeper: store is required")
	}
	if locker == nil {
		return nil, errors.New("sweeper: locker is required")
	}
	if config.IdleTimeout < 0 {
		return nil, errors.New("sweeper: idle timeout must not be negative")
	}
	config.Schedule = strings.TrimSpace(config.Schedule)
	if config.Schedule == "" {
		config.Schedule = DefaultSweepSchedule
	}
	if _, err := sweepParser.Parse(config.Schedule); err != nil {
		return nil, fmt.Errorf("sweeper: invalid schedule %q: %w", config.Schedule, err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		store:  store,
		locker: locker,
		config: config,
		logger: logger.With("component", "session_sweeper"),
		now:    time.Now,
	}, nil
}

// OnDelete registers a callback invoked with the remaining session count
// after a sweep removed sessions.
func (s *Sweeper) OnDelete(fn func(sessions int)) {
	s.onDelete = fn
}

// Start schedules sweeps. It is a no-op when IdleTimeout is zero.
func (s *Sweeper) Start() error {
	if s.config.IdleTimeout == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		return nil
	}

	c := cron.New(
		cron.WithParser(sweepParser),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	)
	if _, err := c.AddFunc(s.config.Schedule, func() {
		if _, err := s.Sweep(context.Background()); err != nil {
			s.logger.Warn("session sweep failed", "error", err)
		}
	}); err != nil {
		return fmt.Errorf("sweeper: schedule: %w", err)
	}
	c.Start()
	s.cron = c
	s.logger.Info("session sweeper started", "schedule", s.config.Schedule, "idle_timeout", s.config.IdleTimeout)
	return nil
}

// Stop cancels future sweeps and waits for a running one to finish or ctx
// to end.
func (s *Sweeper) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
}

// Sweep deletes idle sessions once and returns how many were removed.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	if s.config.IdleTimeout == 0 {
		return 0, nil
	}
	idle, err := s.store.List(ctx, ListOptions{IdleSince: s.now().Add(-s.config.IdleTimeout)})
	if err != nil {
		return 0, fmt.Errorf("sweeper: list sessions: %w", err)
	}

	removed := 0
	for _, summary := range idle {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		id := summary.Session.ID
		deleted, _, err := deleteUnlessBusy(ctx, s.store, s.locker, id)
		if err != nil {
			s.logger.Warn("failed to delete idle session", "session_id", id, "error", err)
			continue
		}
		if deleted {
			removed++
		}
	}

	if removed > 0 {
		s.logger.Info("expired idle sessions", "removed", removed)
		if s.onDelete != nil {
			if stats, err := s.store.Stats(ctx); err == nil {
				s.onDelete(stats.Sessions)
			}
		}
	}
	return removed, nil
}

// Clear deletes every session that has no turn in flight. It returns how
// many sessions were removed and how many were skipped as busy.
func Clear(ctx context.Context, store Store, locker Locker) (removed, busy int, err error) {
	all, err := store.List(ctx, ListOptions{})
	if err != nil {
		return 0, 0, fmt.Errorf("list sessions: %w", err)
	}
	for _, summary := range all {
		if err := ctx.Err(); err != nil {
			return removed, busy, err
		}
		deleted, locked, err := deleteUnlessBusy(ctx, store, locker, summary.Session.ID)
		if err != nil {
			return removed, busy, err
		}
		switch {
		case deleted:
			removed++
		case locked:
			busy++
		}
	}
	return removed, busy, nil
}

// deleteUnlessBusy deletes id while holding its lock. A session whose lock
// is held is left alone; one that is already gone counts as neither.
func deleteUnlessBusy(ctx context.Context, store Store, locker Locker, id string) (deleted, busy bool, err error) {
	if !locker.TryLock(id) {
		return false, true, nil
	}
	defer locker.Unlock(id)
	if err := store.Delete(ctx, id); err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return false, false, nil
		}
		return false, false, err
	}
	return true, false, nil
}
