package main

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/cascadefs/waterfall/internal/errors"
	"github.com/cascadefs/waterfall/internal/orchestrator"
)

// fileJobRegistry is the CLI's JobRegistry: one JSON file per job under a
// directory, rewritten whole on every Save. A real multi-process registry
// (SQLite-backed, watched by the desktop shell) is out of scope here; this
// is enough for a single `waterfall` process to remember jobs across runs.
type fileJobRegistry struct {
	dir string
	mu  sync.Mutex
}

func newFileJobRegistry(dir string) (*fileJobRegistry, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, errors.Wrap(err, "create job directory")
	}
	return &fileJobRegistry{dir: dir}, nil
}

func (r *fileJobRegistry) path(id string) string {
	return filepath.Join(r.dir, id+".json")
}

func (r *fileJobRegistry) Save(_ context.Context, job orchestrator.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	data, err := json.MarshalIndent(job, "", "  ")
	if err != nil {
		return errors.Wrap(err, "marshal job")
	}
	return errors.Wrap(os.WriteFile(r.path(job.ID), data, 0o600), "write job")
}

func (r *fileJobRegistry) Load(_ context.Context, id string) (orchestrator.Job, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	data, err := os.ReadFile(r.path(id))
	if errors.Is(err, os.ErrNotExist) {
		return orchestrator.Job{}, false, nil
	}
	if err != nil {
		return orchestrator.Job{}, false, errors.Wrap(err, "read job")
	}

	var job orchestrator.Job
	if err := json.Unmarshal(data, &job); err != nil {
		return orchestrator.Job{}, false, errors.Wrap(err, "unmarshal job")
	}
	return job, true, nil
}
