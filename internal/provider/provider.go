// Package provider defines the cloud provider boundary used by the
// reconciler and the bulk dispatcher.
package provider

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"

	"github.com/yairfalse/tally/pkg/resource"
)

// ErrUnknownContext is returned for a cloud context with no registered backend.
var ErrUnknownContext = errors.New("unknown cloud context")

// Lister fetches the complete current listing of one scope.
type Lister interface {
	ListResources(ctx context.Context, cloudContext string, t resource.Type) ([]resource.RemoteResource, error)
}

// Actor performs a bulk action against a single remote resource.
type Actor interface {
	Act(ctx context.Context, cloudContext string, t resource.Type, action resource.Action, resourceID string) error
}

// Backend is one provider connection, e.g. an AWS region or a kube context.
type Backend interface {
	Lister
	Actor

	// Name returns the provider identifier ("aws", "k8s").
	Name() string
	// Types returns the resource types the backend can list.
	Types() []resource.Type
}

// Registry maps cloud contexts to backends.
type Registry struct {
	mu       sync.RWMutex
	backends map[string]Backend
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{backends: make(map[string]Backend)}
}

// Register binds a cloud context to a backend, replacing any previous one.
func (r *Registry) Register(cloudContext string, b Backend) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.backends[cloudContext] = b
}

// Backend returns the backend registered for a cloud context.
func (r *Registry) Backend(cloudContext string) (Backend, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.backends[cloudContext]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownContext, cloudContext)
	}
	return b, nil
}

// Contexts returns the registered cloud contexts, sorted.
func (r *Registry) Contexts() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.backends))
	for name := range r.backends {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ListResources implements Lister by dispatching to the context's backend.
func (r *Registry) ListResources(ctx context.Context, cloudContext string, t resource.Type) ([]resource.RemoteResource, error) {
	b, err := r.backendFor(cloudContext, t)
	if err != nil {
		return nil, err
	}
	return b.ListResources(ctx, cloudContext, t)
}

// Act implements Actor by dispatching to the context's backend.
func (r *Registry) Act(ctx context.Context, cloudContext string, t resource.Type, action resource.Action, resourceID string) error {
	b, err := r.backendFor(cloudContext, t)
	if err != nil {
		return err
	}
	return b.Act(ctx, cloudContext, t, action, resourceID)
}

func (r *Registry) backendFor(cloudContext string, t resource.Type) (Backend, error) {
	b, err := r.Backend(cloudContext)
	if err != nil {
		return nil, err
	}
	if !slices.Contains(b.Types(), t) {
		return nil, fmt.Errorf("%w: %s on %s backend", resource.ErrUnsupportedType, t, b.Name())
	}
	return b, nil
}

// Close closes every backend that holds resources.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var errs []error
	for name, b := range r.backends {
		if c, ok := b.(interface{ Close() error }); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close %s: %w", name, err))
			}
		}
	}
	return errors.Join(errs...)
}
