package station

import (
	"fmt"
	"sync"

	"github.com/openso2/so2home/internal/models"
)

// Registry holds the configured stations in insertion order.
type Registry struct {
	mu     sync.RWMutex
	order  []string
	byName map[string]*Station

	dialer Dialer
	opts   Options
}

func NewRegistry(dialer Dialer, opts Options) *Registry {
	return &Registry{
		byName: make(map[string]*Station),
		dialer: dialer,
		opts:   opts,
	}
}

// Add creates a station from info. Names are unique.
func (r *Registry) Add(info models.StationInfo) (*Station, error) {
	if info.Name == "" {
		return nil, fmt.Errorf("station name is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byName[info.Name]; ok {
		return nil, fmt.Errorf("station %q already exists", info.Name)
	}
	s := New(info, r.dialer, r.opts)
	r.byName[info.Name] = s
	r.order = append(r.order, info.Name)
	return s, nil
}

// Remove closes the station's session and forgets it.
func (r *Registry) Remove(name string) error {
	r.mu.Lock()
	s, ok := r.byName[name]
	if ok {
		delete(r.byName, name)
		for i, n := range r.order {
			if n == name {
				r.order = append(r.order[:i], r.order[i+1:]...)
				break
			}
		}
	}
	r.mu.Unlock()

	if !ok {
		return fmt.Errorf("station %q not found", name)
	}
	return s.Close()
}

func (r *Registry) Get(name string) (*Station, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byName[name]
	return s, ok
}

// List returns the stations in the order they were added.
func (r *Registry) List() []*Station {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Station, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.byName[name])
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// Update edits a station record in place. Renaming is not supported.
func (r *Registry) Update(name string, fn func(*models.StationInfo)) error {
	s, ok := r.Get(name)
	if !ok {
		return fmt.Errorf("station %q not found", name)
	}
	info := s.Info()
	fn(&info)
	if info.Name != name {
		return fmt.Errorf("station %q: rename not supported", name)
	}
	s.Update(info)
	return nil
}

// CloseAll drops every open session.
func (r *Registry) CloseAll() {
	for _, s := range r.List() {
		s.Close()
	}
}
