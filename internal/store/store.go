package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/agentmarketbot/minimal-provider-agent-market/internal/model"
)

// Journal keeps the latest attempt per instance.
type Journal interface {
	Record(ctx context.Context, a model.Attempt) error
	Get(ctx context.Context, instanceID string) (model.Attempt, bool, error)
	Close(ctx context.Context) error
}

const defaultRetention = 7 * 24 * time.Hour

type journalState struct {
	Attempts map[string]model.Attempt `json:"attempts"`
}

// FileJournal persists attempts to a JSON file, rewriting it atomically on
// every record. Attempts untouched for a week are dropped.
type FileJournal struct {
	path      string
	retention time.Duration
	now       func() time.Time

	mu    sync.Mutex
	state journalState
}

func OpenFileJournal(path string) (*FileJournal, error) {
	j := &FileJournal{
		path:      path,
		retention: defaultRetention,
		now:       time.Now,
		state:     journalState{Attempts: map[string]model.Attempt{}},
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return j, nil
		}
		return nil, fmt.Errorf("read journal: %w", err)
	}
	if err := json.Unmarshal(data, &j.state); err != nil {
		return nil, fmt.Errorf("parse journal: %w", err)
	}
	if j.state.Attempts == nil {
		j.state.Attempts = map[string]model.Attempt{}
	}
	return j, nil
}

func (j *FileJournal) Record(ctx context.Context, a model.Attempt) error {
	_ = ctx
	j.mu.Lock()
	defer j.mu.Unlock()
	j.state.Attempts[a.InstanceID] = a
	prune(j.state.Attempts, j.now().Add(-j.retention))
	return j.save()
}

func (j *FileJournal) Get(ctx context.Context, instanceID string) (model.Attempt, bool, error) {
	_ = ctx
	j.mu.Lock()
	defer j.mu.Unlock()
	a, ok := j.state.Attempts[instanceID]
	return a, ok, nil
}

func (j *FileJournal) Close(ctx context.Context) error {
	return nil
}

func (j *FileJournal) save() error {
	data, err := json.MarshalIndent(j.state, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(j.path), 0o755); err != nil {
		return err
	}
	tmp := j.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, j.path)
}

func prune(m map[string]model.Attempt, threshold time.Time) {
	for k, a := range m {
		if a.UpdatedAt.Before(threshold) {
			delete(m, k)
		}
	}
}
