package backend

import (
	"errors"
	"fmt"
	"slices"

	"github.com/gogpu/gpucontext"

	"github.com/gogpu/pls/flush"
	"github.com/gogpu/pls/internal/logging"
)

// Priority order for backend selection (first available wins).
var backendPriority = []string{BackendWGPU, BackendSoftware}

var registry = gpucontext.NewRegistry[Factory](gpucontext.WithPriority(backendPriority...))

// Register registers a backend factory with the given name. It is
// typically called from init() in backend packages. An existing factory
// with the same name is replaced.
func Register(name string, factory Factory) {
	registry.Register(name, func() Factory { return factory })
}

// Unregister removes a backend from the registry.
func Unregister(name string) {
	registry.Unregister(name)
}

// Available returns the registered backend names in selection order.
func Available() []string {
	names := registry.Available()
	slices.Sort(names)
	slices.SortStableFunc(names, func(a, b string) int {
		return rank(a) - rank(b)
	})
	return names
}

// IsRegistered reports whether a backend with the given name is registered.
func IsRegistered(name string) bool {
	return registry.Has(name)
}

// Best returns the name of the highest priority registered backend, or
// "" if none is registered.
func Best() string {
	return registry.BestName()
}

// Open opens the named backend.
func Open(name string) (flush.Backend, error) {
	factory := registry.Get(name)
	if factory == nil {
		return nil, fmt.Errorf("%w: %q", ErrBackendNotAvailable, name)
	}
	b, err := factory()
	if err != nil {
		return nil, fmt.Errorf("backend: open %s: %w", name, err)
	}
	if b == nil {
		return nil, fmt.Errorf("%w: %q returned no backend", ErrBackendNotAvailable, name)
	}
	logging.L().Info("backend: opened", "backend", b.Name())
	return b, nil
}

// OpenDefault opens the best backend that works. Backends that fail to
// open are skipped in priority order.
func OpenDefault() (flush.Backend, error) {
	var errs []error
	for _, name := range Available() {
		b, err := Open(name)
		if err == nil {
			return b, nil
		}
		logging.L().Info("backend: skipping", "backend", name, "err", err)
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		return nil, ErrBackendNotAvailable
	}
	return nil, fmt.Errorf("%w: %w", ErrBackendNotAvailable, errors.Join(errs...))
}

// rank orders listed names by priority, ahead of every other name.
func rank(name string) int {
	if i := slices.Index(backendPriority, name); i >= 0 {
		return i
	}
	return len(backendPriority)
}
