// Package scheduler decides when the queue is drained and when the local
// mirror is pulled: on reconnect, on a fixed interval while online, and on
// request.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/MrBigodon205/app-de-professor-sub003/internal/connectivity"
	"github.com/MrBigodon205/app-de-professor-sub003/internal/errors"
	"github.com/MrBigodon205/app-de-professor-sub003/internal/logging"
	"github.com/MrBigodon205/app-de-professor-sub003/internal/models"
	syncpkg "github.com/MrBigodon205/app-de-professor-sub003/internal/sync"
	"github.com/MrBigodon205/app-de-professor-sub003/internal/sync/queue"
	"github.com/MrBigodon205/app-de-professor-sub003/internal/sync/reconcile"
)

// Puller is the reconciliation step run after a reconnect drain.
type Puller interface {
	Pull(ctx context.Context, userID string) (*reconcile.Result, error)
}

// Scheduler runs drain passes and pulls from one goroutine, so triggers
// arriving together are handled one after the other.
type Scheduler struct {
	engine  syncpkg.SyncEngineInterface
	queue   *queue.SyncQueue
	puller  Puller
	monitor *connectivity.Monitor

	userID          string
	syncInterval    time.Duration
	passTimeout     time.Duration
	pullOnStart     bool
	pullOnReconnect bool

	trigger chan struct{}
	stopCh  chan struct{}
	wg      sync.WaitGroup

	mu           sync.RWMutex
	isRunning    bool
	lastSyncTime time.Time
	lastPullTime time.Time
}

// SchedulerConfig holds scheduler configuration.
type SchedulerConfig struct {
	UserID          string
	SyncInterval    time.Duration // drain interval while online
	PassTimeout     time.Duration // upper bound for one drain or pull
	PullOnStart     bool
	PullOnReconnect bool
}

// DefaultSchedulerConfig returns default scheduler configuration.
func DefaultSchedulerConfig() *SchedulerConfig {
	return &SchedulerConfig{
		SyncInterval:    30 * time.Second,
		PassTimeout:     5 * time.Minute,
		PullOnStart:     true,
		PullOnReconnect: true,
	}
}

// NewScheduler creates a Scheduler. puller may be nil, in which case
// only drains are scheduled.
func NewScheduler(engine syncpkg.SyncEngineInterface, q *queue.SyncQueue, puller Puller, monitor *connectivity.Monitor, config *SchedulerConfig) *Scheduler {
	if config == nil {
		config = DefaultSchedulerConfig()
	}
	interval := config.SyncInterval
	if interval <= 0 {
		interval = DefaultSchedulerConfig().SyncInterval
	}
	timeout := config.PassTimeout
	if timeout <= 0 {
		timeout = DefaultSchedulerConfig().PassTimeout
	}

	return &Scheduler{
		engine:          engine,
		queue:           q,
		puller:          puller,
		monitor:         monitor,
		userID:          config.UserID,
		syncInterval:    interval,
		passTimeout:     timeout,
		pullOnStart:     config.PullOnStart,
		pullOnReconnect: config.PullOnReconnect,
		trigger:         make(chan struct{}, 1),
		stopCh:          make(chan struct{}),
	}
}

// Start requeues mutations left mid-attempt by a previous run and starts
// the scheduling loop. It returns once the loop is running.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.isRunning = true
	s.mu.Unlock()

	if _, err := s.queue.Recover(ctx); err != nil {
		s.mu.Lock()
		s.isRunning = false
		s.mu.Unlock()
		return err
	}
	if _, err := s.engine.RefreshPending(ctx); err != nil {
		logging.Warn("could not count pending mutations", map[string]interface{}{"error": err.Error()})
	}

	events, unsubscribe := s.monitor.Subscribe(4)
	s.wg.Add(1)
	go s.loop(ctx, events, unsubscribe)

	logging.Info("Background sync scheduler started", map[string]interface{}{
		"interval_seconds": s.syncInterval.Seconds(),
		"online":           s.monitor.Online(),
	})
	return nil
}

// Stop stops the scheduling loop and waits for a running pass to end.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = false
	s.mu.Unlock()

	close(s.stopCh)
	s.wg.Wait()

	logging.Info("Background sync scheduler stopped", nil)
}

// Wait blocks until the loop has exited.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context, events <-chan connectivity.Event, unsubscribe func()) {
	defer s.wg.Done()
	defer unsubscribe()

	ticker := time.NewTicker(s.syncInterval)
	defer ticker.Stop()

	if s.monitor.Online() {
		s.reconnected(ctx, s.pullOnStart)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case ev := <-events:
			if ev.Online {
				s.reconnected(ctx, s.pullOnReconnect)
			} else {
				logging.Debug("offline, drains paused", map[string]interface{}{"source": ev.Source})
			}
		case <-ticker.C:
			if s.monitor.Online() {
				s.runDrain(ctx)
			}
		case <-s.trigger:
			if _, err := s.engine.RefreshPending(ctx); err != nil {
				logging.Warn("could not count pending mutations", map[string]interface{}{"error": err.Error()})
			}
			s.runDrain(ctx)
		}
	}
}

// reconnected drains first so local changes reach the remote store before
// the pull overwrites the mirror.
func (s *Scheduler) reconnected(ctx context.Context, pull bool) {
	s.runDrain(ctx)
	if pull {
		s.runPull(ctx)
	}
}

func (s *Scheduler) runDrain(ctx context.Context) *syncpkg.DrainResult {
	passCtx, cancel := context.WithTimeout(ctx, s.passTimeout)
	defer cancel()

	result, err := s.engine.Drain(passCtx)
	if err != nil {
		logging.ErrorWithCode("Scheduled drain failed", string(errors.ErrSyncFailed), err,
			map[string]interface{}{"interval_seconds": s.syncInterval.Seconds()})
		return nil
	}
	if result.Skipped == "" {
		s.mu.Lock()
		s.lastSyncTime = result.EndTime
		s.mu.Unlock()
	}
	return result
}

func (s *Scheduler) runPull(ctx context.Context) {
	if s.puller == nil || s.userID == "" || !s.monitor.Online() {
		return
	}
	passCtx, cancel := context.WithTimeout(ctx, s.passTimeout)
	defer cancel()

	// Pull already logs and reports its own failures.
	if _, err := s.puller.Pull(passCtx, s.userID); err != nil {
		return
	}
	s.mu.Lock()
	s.lastPullTime = time.Now()
	s.mu.Unlock()
}

// TriggerSync asks the loop for a drain pass. It never blocks; a trigger
// arriving while one is already waiting is merged with it.
// Returns true if the trigger was queued.
func (s *Scheduler) TriggerSync() bool {
	select {
	case s.trigger <- struct{}{}:
		return true
	default:
		return false
	}
}

// MutationQueued is called by the entity service after it queues a write.
func (s *Scheduler) MutationQueued() {
	s.TriggerSync()
}

// SyncNow runs a drain pass on the caller's goroutine and waits for it.
func (s *Scheduler) SyncNow(ctx context.Context) (*syncpkg.DrainResult, error) {
	if !s.monitor.Online() {
		return nil, errors.New(errors.ErrSyncOffline, "cannot sync while offline")
	}
	passCtx, cancel := context.WithTimeout(ctx, s.passTimeout)
	defer cancel()

	result, err := s.engine.Drain(passCtx)
	if err != nil {
		return nil, err
	}
	if result.Skipped == syncpkg.SkipInProgress {
		return result, errors.New(errors.ErrSyncInProgress, "a sync pass is already running")
	}
	if result.Skipped == "" {
		s.mu.Lock()
		s.lastSyncTime = result.EndTime
		s.mu.Unlock()
	}
	logging.Info("Manual sync completed", map[string]interface{}{
		"succeeded": result.Succeeded,
		"failed":    result.Failed,
		"remaining": result.Remaining,
		"skipped":   result.Skipped,
	})
	return result, nil
}

// PullNow drains and then pulls for the configured user.
func (s *Scheduler) PullNow(ctx context.Context) (*reconcile.Result, error) {
	if s.puller == nil || s.userID == "" {
		return nil, errors.New(errors.ErrSyncNotConfigured, "pull requires a user id")
	}
	if !s.monitor.Online() {
		return nil, errors.New(errors.ErrSyncOffline, "cannot pull while offline")
	}
	if _, err := s.SyncNow(ctx); err != nil && !errors.Is(err, errors.ErrSyncInProgress) {
		return nil, err
	}

	passCtx, cancel := context.WithTimeout(ctx, s.passTimeout)
	defer cancel()
	result, err := s.puller.Pull(passCtx, s.userID)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.lastPullTime = time.Now()
	s.mu.Unlock()
	return result, nil
}

// SchedulerStatus is a snapshot of the scheduler and the engine it drives.
type SchedulerStatus struct {
	IsRunning    bool               `json:"is_running"`
	IsOnline     bool               `json:"is_online"`
	OnlineSince  time.Time          `json:"online_since"`
	EngineStatus syncpkg.SyncStatus `json:"engine_status"`
	LastSyncTime *time.Time         `json:"last_sync_time,omitempty"`
	LastPullTime *time.Time         `json:"last_pull_time,omitempty"`
	PendingItems int                `json:"pending_items"`
	QueueStats   map[string]int     `json:"queue_stats,omitempty"`
	LastError    string             `json:"last_error,omitempty"`
}

// GetStatus returns the current status of the scheduler.
func (s *Scheduler) GetStatus(ctx context.Context) SchedulerStatus {
	s.mu.RLock()
	status := SchedulerStatus{
		IsRunning:    s.isRunning,
		IsOnline:     s.monitor.Online(),
		OnlineSince:  s.monitor.Since(),
		EngineStatus: s.engine.Status(),
		PendingItems: s.engine.PendingChanges(),
	}
	if !s.lastSyncTime.IsZero() {
		t := s.lastSyncTime
		status.LastSyncTime = &t
	}
	if !s.lastPullTime.IsZero() {
		t := s.lastPullTime
		status.LastPullTime = &t
	}
	s.mu.RUnlock()

	if err := s.engine.LastError(); err != nil {
		status.LastError = err.Error()
	}
	if stats, err := s.queue.GetStats(ctx); err == nil {
		status.QueueStats = stats
		status.PendingItems = stats[string(models.QueuePending)]
	}
	return status
}

// IsOnline reports the connectivity state the scheduler acts on.
func (s *Scheduler) IsOnline() bool {
	return s.monitor.Online()
}

// IsRunning returns whether the scheduler is running.
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}
