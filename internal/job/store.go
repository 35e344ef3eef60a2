package job

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	fileutil "ytmusicdl/internal/file"
)

// Store persists job snapshots between runs.
type Store interface {
	Save(ctx context.Context, j Job) error
	Load(ctx context.Context) ([]Job, error)
	Delete(ctx context.Context, jobID string) error
}

// FileStore keeps one JSON document per job under root/<id>/status.json.
type FileStore struct {
	root string
}

func NewFileStore(root string) *FileStore {
	if root == "" {
		root = filepath.Join("data", "jobs")
	}
	return &FileStore{root: root}
}

func (s *FileStore) jobDir(jobID string) string {
	return filepath.Join(s.root, jobID)
}

func (s *FileStore) statusPath(jobID string) string {
	return filepath.Join(s.jobDir(jobID), "status.json")
}

func (s *FileStore) Save(ctx context.Context, j Job) error { //nolint:revive // context reserved for future use
	if j.ID == "" {
		return errors.New("empty job id")
	}
	if err := fileutil.EnsureDir(s.jobDir(j.ID)); err != nil {
		return fmt.Errorf("ensure job dir: %w", err)
	}
	return fileutil.WriteJSONAtomic(s.statusPath(j.ID), j) //nolint:wrapcheck
}

func (s *FileStore) Load(ctx context.Context) ([]Job, error) { //nolint:revive // context reserved for future use
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read dir: %w", err)
	}
	jobs := make([]Job, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		b, err := os.ReadFile(s.statusPath(e.Name())) //nolint:gosec // path is controlled by application
		if err != nil {
			continue
		}
		var j Job
		if err := json.Unmarshal(b, &j); err != nil || j.ID == "" {
			continue
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}

func (s *FileStore) Delete(ctx context.Context, jobID string) error { //nolint:revive // context reserved for future use
	if jobID == "" {
		return errors.New("empty job id")
	}
	if err := os.RemoveAll(s.jobDir(jobID)); err != nil {
		return fmt.Errorf("remove job dir: %w", err)
	}
	return nil
}
