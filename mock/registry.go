package mock

import (
	"sort"
	"sync"
	"time"

	"github.com/featuredemo/fdk"
)

// Registry is an in memory fdk.Registry.
type Registry struct {
	mu       sync.Mutex
	entities map[string]fdk.Entity
	views    map[string]fdk.FeatureView
	until    map[string]time.Time
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	r := &Registry{}
	r.reset()
	return r
}

func (r *Registry) reset() {
	r.entities = make(map[string]fdk.Entity)
	r.views = make(map[string]fdk.FeatureView)
	r.until = make(map[string]time.Time)
}

// ApplyEntity implements fdk.Registry.
func (r *Registry) ApplyEntity(e *fdk.Entity) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entities[e.Name] = *e
	return nil
}

// ApplyFeatureView implements fdk.Registry.
func (r *Registry) ApplyFeatureView(v *fdk.FeatureView) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.views[v.Name] = *v
	return nil
}

// Entities implements fdk.Registry.
func (r *Registry) Entities() ([]*fdk.Entity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*fdk.Entity, 0, len(r.entities))
	for _, e := range r.entities {
		e := e
		out = append(out, &e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// FeatureViews implements fdk.Registry.
func (r *Registry) FeatureViews() ([]*fdk.FeatureView, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*fdk.FeatureView, 0, len(r.views))
	for _, v := range r.views {
		v := v
		out = append(out, &v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// MaterializedUntil implements fdk.Registry.
func (r *Registry) MaterializedUntil(view string) (time.Time, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.until[view]
	return t, ok, nil
}

// SetMaterializedUntil implements fdk.Registry.
func (r *Registry) SetMaterializedUntil(view string, t time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.until[view] = t
	return nil
}

// Teardown implements fdk.Registry.
func (r *Registry) Teardown() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reset()
	return nil
}

// Close implements fdk.Registry.
func (r *Registry) Close() error { return nil }
