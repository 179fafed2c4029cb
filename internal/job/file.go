package job

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// FileStore reads and atomically rewrites the jobs file.
type FileStore struct {
	path   string
	loader *Loader

	mu          sync.Mutex
	beforeWrite func(data []byte)
}

func NewFileStore(path string, loader *Loader) *FileStore {
	return &FileStore{path: filepath.Clean(path), loader: loader}
}

func (s *FileStore) Path() string { return s.path }

func (s *FileStore) Loader() *Loader { return s.loader }

// OnWrite registers fn to be called with the new content right before it replaces the file.
func (s *FileStore) OnWrite(fn func(data []byte)) {
	s.mu.Lock()
	s.beforeWrite = fn
	s.mu.Unlock()
}

func (s *FileStore) Read() ([]byte, error) { return os.ReadFile(s.path) }

// Load reads and parses the file. A missing file is an empty job list.
func (s *FileStore) Load(now time.Time) ([]*Job, error) {
	b, err := s.Read()
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return s.loader.Parse(b, now)
}

// Save replaces the file with jobs (temp file + rename).
func (s *FileStore) Save(jobs []*Job) error {
	data, err := Marshal(jobs)
	if err != nil {
		return err
	}
	return s.Write(data)
}

func (s *FileStore) Write(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if s.beforeWrite != nil {
		s.beforeWrite(data)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("replace %s: %w", s.path, err)
	}
	return nil
}
