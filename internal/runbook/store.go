package runbook

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/miradorstack/mirador-remediate/internal/models"
	"github.com/miradorstack/mirador-remediate/internal/utils"
)

// Store persists the learning corpus as a JSON array on disk. Appends are
// serialised under a mutex and written through a temp file so a crash
// mid-write never corrupts the corpus.
type Store struct {
	path   string
	mu     sync.Mutex
	logger *slog.Logger
}

// NewStore creates a Store rooted at path. The file is created lazily on
// the first append.
func NewStore(path string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{path: path, logger: logger}
}

// Load reads the full corpus. A missing, empty, or unreadable file yields
// an empty corpus rather than an error: retrieval degrades to cold start.
func (s *Store) Load() ([]models.Precedent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked()
}

func (s *Store) loadLocked() ([]models.Precedent, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, utils.NewAppError("runbook.load", "read corpus", err)
	}
	if len(data) == 0 {
		return nil, nil
	}

	var entries []models.Precedent
	if err := json.Unmarshal(data, &entries); err != nil {
		s.logger.Warn("corpus unreadable, starting empty",
			slog.String("path", s.path), slog.Any("error", err))
		return nil, nil
	}
	return entries, nil
}

// Append adds one precedent to the end of the corpus. Existing entries are
// never modified or reordered.
func (s *Store) Append(entry models.Precedent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.loadLocked()
	if err != nil {
		return err
	}
	entries = append(entries, entry)

	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return utils.NewAppError("runbook.append", "encode corpus", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return utils.NewAppError("runbook.append", "create corpus directory", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return utils.NewAppError("runbook.append", "create temp file", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return utils.NewAppError("runbook.append", "write corpus", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return utils.NewAppError("runbook.append", "flush corpus", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return utils.NewAppError("runbook.append", "replace corpus", err)
	}

	s.logger.Info("precedent recorded",
		slog.String("incident_id", entry.IncidentID),
		slog.Int("corpus_size", len(entries)))
	return nil
}

// Size returns the number of persisted precedents.
func (s *Store) Size() (int, error) {
	entries, err := s.Load()
	if err != nil {
		return 0, err
	}
	return len(entries), nil
}

// Path returns the corpus file location.
func (s *Store) Path() string { return s.path }

func (s *Store) String() string {
	return fmt.Sprintf("runbook.Store(%s)", s.path)
}
