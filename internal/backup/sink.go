package backup

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	apperrors "github.com/MrBigodon205/app-de-professor-sub003/internal/errors"
	"github.com/MrBigodon205/app-de-professor-sub003/internal/logging"
)

const (
	filePrefix = "profsync_"
	fileSuffix = ".json"
	stampFmt   = "20060102_150405.000"
)

// FileInfo describes one backup file.
type FileInfo struct {
	Path      string    `json:"path"`
	SizeBytes int64     `json:"size_bytes"`
	CreatedAt time.Time `json:"created_at"`
}

// FileSink keeps timestamped backup files in a directory, pruning the
// oldest beyond the retention count. A retention of zero keeps every file.
type FileSink struct {
	dir       string
	retention int
}

// NewFileSink creates a sink over dir.
func NewFileSink(dir string, retention int) *FileSink {
	if retention < 0 {
		retention = 0
	}
	return &FileSink{dir: dir, retention: retention}
}

// Dir returns the backup directory.
func (s *FileSink) Dir() string {
	return s.dir
}

// Save writes doc to a new file. The file appears under its final name
// only once fully written.
func (s *FileSink) Save(doc *Document) (*FileInfo, error) {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrExportFailed, "create backup directory", err)
	}

	stamp := doc.Timestamp
	if stamp.IsZero() {
		stamp = time.Now()
	}
	name := filePrefix + strings.Replace(stamp.UTC().Format(stampFmt), ".", "_", 1) + fileSuffix
	final := filepath.Join(s.dir, name)

	tmp, err := os.CreateTemp(s.dir, ".profsync-*.tmp")
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrExportFailed, "create backup file", err)
	}
	defer os.Remove(tmp.Name())

	if err := Encode(tmp, doc); err != nil {
		tmp.Close()
		return nil, err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return nil, apperrors.Wrap(apperrors.ErrExportFailed, "flush backup file", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrExportFailed, "close backup file", err)
	}
	if err := os.Rename(tmp.Name(), final); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrExportFailed, "publish backup file", err)
	}

	fi, err := os.Stat(final)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrExportFailed, "stat backup file", err)
	}
	info := &FileInfo{Path: final, SizeBytes: fi.Size(), CreatedAt: stamp.UTC()}

	if s.retention > 0 {
		if err := s.prune(); err != nil {
			// The backup itself succeeded.
			logging.Warn("backup retention failed", map[string]interface{}{"error": err.Error()})
		}
	}
	return info, nil
}

// List returns the backup files, oldest first. A missing directory holds
// no backups.
func (s *FileSink) List() ([]*FileInfo, error) {
	entries, err := os.ReadDir(s.dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrImportFailed, "read backup directory", err)
	}

	var out []*FileInfo
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, filePrefix) || !strings.HasSuffix(name, fileSuffix) {
			continue
		}
		fi, err := entry.Info()
		if err != nil {
			continue
		}
		out = append(out, &FileInfo{
			Path:      filepath.Join(s.dir, name),
			SizeBytes: fi.Size(),
			CreatedAt: stampOf(name, fi.ModTime()),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].Path < out[j].Path
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// stampOf reads the time from a backup file name, falling back to the
// file's modification time.
func stampOf(name string, fallback time.Time) time.Time {
	raw := strings.TrimSuffix(strings.TrimPrefix(name, filePrefix), fileSuffix)
	if i := strings.LastIndex(raw, "_"); i > 0 {
		raw = raw[:i] + "." + raw[i+1:]
	}
	t, err := time.Parse(stampFmt, raw)
	if err != nil {
		return fallback
	}
	return t
}

// Latest returns the newest backup file, or a NOT_FOUND error.
func (s *FileSink) Latest() (*FileInfo, error) {
	files, err := s.List()
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, apperrors.Newf(apperrors.ErrNotFound, "no backups in %s", s.dir)
	}
	return files[len(files)-1], nil
}

// Load reads and validates one backup file.
func (s *FileSink) Load(path string) (*Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrImportFailed, fmt.Sprintf("open backup %s", path), err)
	}
	defer f.Close()
	return Decode(f)
}

func (s *FileSink) prune() error {
	files, err := s.List()
	if err != nil {
		return err
	}
	if len(files) <= s.retention {
		return nil
	}
	for _, f := range files[:len(files)-s.retention] {
		if err := os.Remove(f.Path); err != nil {
			logging.Warn("failed to delete old backup", map[string]interface{}{"path": f.Path, "error": err.Error()})
			continue
		}
		logging.Debug("deleted old backup", map[string]interface{}{"path": f.Path})
	}
	return nil
}
