package scheduler

import (
	"os"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/iddaa-lens/scheduler/pkg/jobs"
	"github.com/iddaa-lens/scheduler/pkg/utils"
)

// Registry creates schedulers and tracks the live ones in this process.
type Registry struct {
	hostname  string
	instances atomic.Uint64

	mu         sync.RWMutex
	schedulers map[uuid.UUID]*Scheduler
}

// NewRegistry creates a registry naming schedulers after the local host.
func NewRegistry() *Registry {
	hostname, _ := os.Hostname()
	return newRegistry(hostname)
}

func newRegistry(hostname string) *Registry {
	return &Registry{
		hostname:   hostname,
		schedulers: make(map[uuid.UUID]*Scheduler),
	}
}

// NextDefaultName returns a new name of the form "<host>-scheduler-<n>".
func (r *Registry) NextDefaultName() string {
	return utils.GenerateSchedulerName(r.hostname, r.instances.Add(1))
}

// NewScheduler creates a scheduler, naming it when cfg.Name is empty, and
// tracks it until it is closed.
func (r *Registry) NewScheduler(cfg Config, store JobStore, runner *jobs.Runner) (*Scheduler, error) {
	if cfg.Name == "" {
		cfg.Name = r.NextDefaultName()
	}

	s, err := New(cfg, store, runner)
	if err != nil {
		return nil, err
	}
	r.Register(s)
	return s, nil
}

// Register tracks s until it is closed.
func (r *Registry) Register(s *Scheduler) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.schedulers[s.ID()] = s

	s.mu.Lock()
	s.onClose = r.remove
	s.mu.Unlock()
}

// Lookup returns the live scheduler with the given id.
func (r *Registry) Lookup(id uuid.UUID) (*Scheduler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.schedulers[id]
	return s, ok
}

// List returns the live schedulers ordered by name.
func (r *Registry) List() []*Scheduler {
	r.mu.RLock()
	defer r.mu.RUnlock()

	list := make([]*Scheduler, 0, len(r.schedulers))
	for _, s := range r.schedulers {
		list = append(list, s)
	}
	sort.Slice(list, func(i, j int) bool {
		return list[i].Name() < list[j].Name()
	})
	return list
}

func (r *Registry) remove(s *Scheduler) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.schedulers, s.ID())
}
