package connectivity

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"

	"github.com/MrBigodon205/app-de-professor-sub003/internal/logging"
)

// SignalFile lets the host shell report connectivity by writing "online"
// or "offline" to a file. The file's directory is watched, so the file may
// be created, replaced or rewritten at any time.
type SignalFile struct {
	monitor *Monitor
	path    string
}

// NewSignalFile creates a watcher for path.
func NewSignalFile(m *Monitor, path string) *SignalFile {
	return &SignalFile{monitor: m, path: filepath.Clean(path)}
}

// ParseSignal maps file contents to a state.
func ParseSignal(content string) (online bool, ok bool) {
	switch strings.ToLower(strings.TrimSpace(content)) {
	case "online", "1", "true", "up":
		return true, true
	case "offline", "0", "false", "down":
		return false, true
	}
	return false, false
}

// Refresh reads the file once. A missing or unrecognised file leaves the
// monitor unchanged.
func (s *SignalFile) Refresh() {
	s.read()
}

func (s *SignalFile) read() {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			logging.Warn("read connectivity signal", map[string]interface{}{"path": s.path, "error": err.Error()})
		}
		return
	}
	online, ok := ParseSignal(string(data))
	if !ok {
		logging.Warn("unrecognised connectivity signal", map[string]interface{}{"path": s.path, "content": strings.TrimSpace(string(data))})
		return
	}
	s.monitor.Set(online, "signal-file")
}

// Run watches the signal file until ctx is done.
func (s *SignalFile) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create signal directory: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	s.read()
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != s.path {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				s.read()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logging.Error("connectivity signal watcher error", err, map[string]interface{}{"path": s.path})
		}
	}
}
