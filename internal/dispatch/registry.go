package dispatch

import (
	"sort"
	"sync"

	"github.com/rendis/docket/pkg/schema"
)

// Registry is the concrete thread-safe ActivityRegistry implementation.
type Registry struct {
	mu         sync.RWMutex
	activities map[string]Activity
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		activities: make(map[string]Activity),
	}
}

// Register adds an activity to the registry. Returns error on duplicate name.
func (r *Registry) Register(activity Activity) error {
	if activity == nil {
		return schema.NewError(schema.ErrCodeValidation, "activity is nil")
	}
	name := activity.Name()
	if name == "" {
		return schema.NewError(schema.ErrCodeValidation, "activity name is empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.activities[name]; exists {
		return schema.NewErrorf(schema.ErrCodeConflict, "activity %q already registered", name)
	}

	r.activities[name] = activity
	return nil
}

// Get retrieves an activity by name.
func (r *Registry) Get(name string) (Activity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	activity, ok := r.activities[name]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeDispatch, "activity %q not registered", name)
	}
	return activity, nil
}

// List returns info for all registered activities, sorted by name.
func (r *Registry) List() []ActivityInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]ActivityInfo, 0, len(r.activities))
	for _, a := range r.activities {
		s := a.Schema()
		infos = append(infos, ActivityInfo{
			Name:        a.Name(),
			Description: s.Description,
		})
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].Name < infos[j].Name
	})
	return infos
}

// Has checks if an activity is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.activities[name]
	return ok
}

// Count returns the number of registered activities.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.activities)
}
