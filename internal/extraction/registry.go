package extraction

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/local/questionextractor/internal/metrics"
)

var ErrDuplicateID = errors.New("extraction id already registered")

// Registry maps extraction ids to live tasks for the life of the process.
type Registry struct {
	mu    sync.RWMutex
	tasks map[string]*Task
	now   func() time.Time
}

func NewRegistry() *Registry {
	return &Registry{tasks: make(map[string]*Task), now: time.Now}
}

// Create registers a new in-progress task.
func (r *Registry) Create(id, fileName string) (*Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tasks[id]; ok {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateID, id)
	}
	t := newTask(id, fileName, r.now())
	r.tasks[id] = t
	metrics.SetRegistrySize(len(r.tasks))
	return t, nil
}

// Get returns a snapshot of the task, if registered.
func (r *Registry) Get(id string) (Snapshot, bool) {
	r.mu.RLock()
	t, ok := r.tasks[id]
	r.mu.RUnlock()
	if !ok {
		return Snapshot{}, false
	}
	return t.Snapshot(), true
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tasks)
}

// Evict removes terminal tasks that finished before cutoff and returns how
// many were removed. In-progress tasks are never evicted.
func (r *Registry) Evict(cutoff time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for id, t := range r.tasks {
		if t.terminalBefore(cutoff) {
			delete(r.tasks, id)
			n++
		}
	}
	metrics.SetRegistrySize(len(r.tasks))
	return n
}
