package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/CZERTAINLY/Factory/internal/model"
)

// FileStore keeps all jobs in a single JSON file inside a directory. The file
// is an indented array of
//
//	{"id": 1, "productName": "Widget", "quantity": 3, "quantityProduced": 0, "status": "Pending"}
//
// SaveAll writes a temporary file first and renames it over the old one, so
// readers never see a half written file.
type FileStore struct {
	root *os.Root
	name string
}

// NewFileStore opens dir, which must exist, and stores jobs into dir/name.
func NewFileStore(dir, name string) (*FileStore, error) {
	if name == "" {
		name = model.DefaultJobsFile
	}
	root, err := os.OpenRoot(dir)
	if err != nil {
		return nil, fmt.Errorf("opening job store dir: %w", err)
	}
	return &FileStore{root: root, name: name}, nil
}

// Path is the job file location as passed to NewFileStore.
func (s *FileStore) Path() string {
	if s.root == nil {
		return s.name
	}
	return filepath.Join(s.root.Name(), s.name)
}

// LoadAll returns the stored jobs. A missing file means no jobs, any other
// problem is logged and also results in no jobs.
func (s *FileStore) LoadAll(ctx context.Context) []model.Job {
	if s.root == nil {
		slog.ErrorContext(ctx, "loading jobs failed", "error", "store already closed")
		return nil
	}
	b, err := s.root.ReadFile(s.name)
	if errors.Is(err, fs.ErrNotExist) {
		slog.DebugContext(ctx, "job file does not exist: starting empty", "path", s.Path())
		return nil
	}
	if err != nil {
		slog.ErrorContext(ctx, "loading jobs failed", "path", s.Path(), "error", err)
		return nil
	}
	var jobs []model.Job
	if err := json.Unmarshal(b, &jobs); err != nil {
		slog.ErrorContext(ctx, "decoding jobs failed", "path", s.Path(), "error", err)
		return nil
	}
	return jobs
}

func (s *FileStore) SaveAll(ctx context.Context, jobs []model.Job) error {
	if s.root == nil {
		return errors.New("store already closed")
	}
	if jobs == nil {
		jobs = []model.Job{}
	}
	b, err := json.MarshalIndent(jobs, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding jobs: %w", err)
	}

	tmp := s.name + "." + strconv.FormatInt(time.Now().UnixNano(), 36) + ".tmp"
	if err := s.root.WriteFile(tmp, b, 0o644); err != nil {
		return fmt.Errorf("writing jobs: %w", err)
	}
	if err := s.root.Rename(tmp, s.name); err != nil {
		_ = s.root.Remove(tmp)
		return fmt.Errorf("replacing job file: %w", err)
	}
	slog.DebugContext(ctx, "jobs saved", "path", s.Path(), "jobs", len(jobs))
	return nil
}

func (s *FileStore) Close() error {
	if s.root == nil {
		return errors.New("store already closed")
	}
	err := s.root.Close()
	s.root = nil
	return err
}
