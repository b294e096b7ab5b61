package registry

import (
	"context"
	"sort"
	"sync"
)

// MemoryRegistry is an in-process Registry for single-host deployments and
// tests. TTLs are ignored: entries live until Deregister.
type MemoryRegistry struct {
	mu       sync.Mutex
	modules  map[string]map[string]Instance // module → session → instance
	watchers map[string][]chan []Instance
}

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{
		modules:  make(map[string]map[string]Instance),
		watchers: make(map[string][]chan []Instance),
	}
}

func (r *MemoryRegistry) Register(ctx context.Context, inst Instance, ttl int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	sessions, ok := r.modules[inst.Module]
	if !ok {
		sessions = make(map[string]Instance)
		r.modules[inst.Module] = sessions
	}
	sessions[inst.Session] = inst
	r.notifyLocked(inst.Module)
	return nil
}

func (r *MemoryRegistry) Deregister(ctx context.Context, inst Instance) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if sessions, ok := r.modules[inst.Module]; ok {
		delete(sessions, inst.Session)
		if len(sessions) == 0 {
			delete(r.modules, inst.Module)
		}
	}
	r.notifyLocked(inst.Module)
	return nil
}

func (r *MemoryRegistry) Discover(ctx context.Context, module string) ([]Instance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.listLocked(module), nil
}

func (r *MemoryRegistry) Watch(ctx context.Context, module string) <-chan []Instance {
	ch := make(chan []Instance, 1)
	r.mu.Lock()
	r.watchers[module] = append(r.watchers[module], ch)
	r.mu.Unlock()

	go func() {
		<-ctx.Done()
		r.mu.Lock()
		defer r.mu.Unlock()
		list := r.watchers[module]
		for i, w := range list {
			if w == ch {
				r.watchers[module] = append(list[:i], list[i+1:]...)
				break
			}
		}
		close(ch)
	}()
	return ch
}

// listLocked returns the instances of module ordered by start time.
func (r *MemoryRegistry) listLocked(module string) []Instance {
	instances := make([]Instance, 0, len(r.modules[module]))
	for _, inst := range r.modules[module] {
		instances = append(instances, inst)
	}
	sort.Slice(instances, func(i, j int) bool {
		return instances[i].Started.Before(instances[j].Started)
	})
	return instances
}

// notifyLocked delivers the latest list to every watcher, replacing an
// undelivered older one.
func (r *MemoryRegistry) notifyLocked(module string) {
	for _, ch := range r.watchers[module] {
		list := r.listLocked(module)
		select {
		case <-ch:
		default:
		}
		ch <- list
	}
}
