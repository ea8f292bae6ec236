package backup

import (
	"context"
	"sync"
	"time"

	apperrors "github.com/MrBigodon205/app-de-professor-sub003/internal/errors"
	"github.com/MrBigodon205/app-de-professor-sub003/internal/logging"
)

// RestoreIfEmpty imports the newest backup in sink when the store holds no
// students. It reports whether a restore happened; having no backup to
// restore is not an error.
func (s *Service) RestoreIfEmpty(ctx context.Context, sink *FileSink) (bool, error) {
	empty, err := s.IsEmpty(ctx)
	if err != nil || !empty {
		return false, err
	}
	latest, err := sink.Latest()
	if apperrors.Is(err, apperrors.ErrNotFound) {
		logging.Debug("store is empty and no backup exists", map[string]interface{}{"dir": sink.Dir()})
		return false, nil
	}
	if err != nil {
		return false, err
	}

	logging.Info("store is empty, restoring from backup", map[string]interface{}{"path": latest.Path})
	doc, err := sink.Load(latest.Path)
	if err != nil {
		return false, err
	}
	if _, err := s.Import(ctx, doc, ImportOptions{RestoreQueue: true}); err != nil {
		return false, err
	}
	return true, nil
}

// Backup exports the store into sink.
func (s *Service) Backup(ctx context.Context, sink *FileSink) (*FileInfo, error) {
	start := time.Now()
	doc, err := s.Export(ctx)
	if err != nil {
		return nil, err
	}
	info, err := sink.Save(doc)
	if err != nil {
		return nil, err
	}
	logging.Info("backup written", map[string]interface{}{
		"file":        info.Path,
		"size_bytes":  info.SizeBytes,
		"rows":        doc.RowCount(),
		"queued":      len(doc.Queue),
		"duration_ms": time.Since(start).Milliseconds(),
	})
	return info, nil
}

// Scheduler writes a backup at a fixed interval. A zero interval means
// backups are only taken on request.
type Scheduler struct {
	service  *Service
	sink     *FileSink
	interval time.Duration

	stopCh chan struct{}
	wg     sync.WaitGroup

	mu      sync.Mutex
	running bool
	last    *FileInfo
	lastErr error
}

// NewScheduler creates a backup scheduler.
func NewScheduler(service *Service, sink *FileSink, interval time.Duration) *Scheduler {
	if interval < 0 {
		interval = 0
	}
	return &Scheduler{
		service:  service,
		sink:     sink,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start begins periodic backups, taking the first one immediately.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running || s.interval == 0 {
		s.mu.Unlock()
		if s.interval == 0 {
			logging.Info("automatic backups disabled", nil)
		}
		return
	}
	s.running = true
	s.mu.Unlock()

	logging.Info("backup scheduler started", map[string]interface{}{
		"interval_seconds": s.interval.Seconds(),
		"dir":              s.sink.Dir(),
		"retention":        s.sink.retention,
	})

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		s.RunOnce(ctx)
		for {
			select {
			case <-ticker.C:
				s.RunOnce(ctx)
			case <-s.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop ends periodic backups.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()
	close(s.stopCh)
	s.wg.Wait()
}

// RunOnce takes one backup now.
func (s *Scheduler) RunOnce(ctx context.Context) (*FileInfo, error) {
	info, err := s.service.Backup(ctx, s.sink)
	s.mu.Lock()
	s.lastErr = err
	if err == nil {
		s.last = info
	}
	s.mu.Unlock()
	if err != nil {
		logging.ErrorWithCode("scheduled backup failed", string(apperrors.Code(err)), err)
	}
	return info, err
}

// Last returns the most recent successful backup and the error of the
// most recent attempt.
func (s *Scheduler) Last() (*FileInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last, s.lastErr
}
