package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/amaumene/shelfsync/internal/models"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// DefaultInterval is the period of the background library reload
const DefaultInterval = 15 * time.Second

// Library is the part of the library controller the scheduler drives
type Library interface {
	LoadLibrary(ctx context.Context) []models.LibraryItem
	MutationInFlight() bool
}

// Scheduler reloads the library periodically and on client events
type Scheduler struct {
	cron     *cron.Cron
	library  Library
	interval time.Duration
	triggers *rate.Limiter
	logger   *logrus.Logger
}

// NewScheduler creates a new scheduler. Visibility and focus reloads are
// limited to one per triggerInterval with a burst of two.
func NewScheduler(library Library, interval, triggerInterval time.Duration, logger *logrus.Logger) *Scheduler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	limit := rate.Inf
	if triggerInterval > 0 {
		limit = rate.Every(triggerInterval)
	}
	return &Scheduler{
		cron:     cron.New(),
		library:  library,
		interval: interval,
		triggers: rate.NewLimiter(limit, 2),
		logger:   logger,
	}
}

// Start starts the scheduler
func (s *Scheduler) Start() error {
	s.logger.WithField("interval", s.interval).Info("Starting scheduler")

	_, err := s.cron.AddFunc(fmt.Sprintf("@every %s", s.interval), func() {
		s.runPeriodicSync()
	})
	if err != nil {
		return fmt.Errorf("failed to add library sync job: %w", err)
	}

	s.cron.Start()
	s.logger.Info("Scheduler started")

	// Initial load so subscribers get a snapshot without waiting a full period
	go s.runSync(context.Background(), "startup")

	return nil
}

// Stop stops the scheduler and waits for a running job to finish
func (s *Scheduler) Stop() {
	s.logger.Info("Stopping scheduler")
	<-s.cron.Stop().Done()
}

// OnVisibilityChange reloads the library when a client becomes visible.
// It reports whether a reload ran. Triggers beyond the limiter's burst are
// dropped: they return false and no reload happens.
func (s *Scheduler) OnVisibilityChange(ctx context.Context, visible bool) bool {
	if !visible {
		return false
	}
	return s.trigger(ctx, "visibility")
}

// OnFocus reloads the library when a client regains focus. It reports
// whether a reload ran; like OnVisibilityChange, a trigger over the rate
// limit returns false without reloading.
func (s *Scheduler) OnFocus(ctx context.Context) bool {
	return s.trigger(ctx, "focus")
}

func (s *Scheduler) trigger(ctx context.Context, reason string) bool {
	if !s.triggers.Allow() {
		s.logger.WithField("reason", reason).Debug("Skipping reload, too many triggers")
		return false
	}
	s.runSync(ctx, reason)
	return true
}

func (s *Scheduler) runPeriodicSync() {
	if s.library.MutationInFlight() {
		s.logger.Debug("Skipping periodic sync, mutation in flight")
		return
	}
	s.runSync(context.Background(), "periodic")
}

func (s *Scheduler) runSync(ctx context.Context, reason string) {
	items := s.library.LoadLibrary(ctx)
	s.logger.WithFields(logrus.Fields{
		"reason": reason,
		"items":  len(items),
	}).Debug("Library sync completed")
}
