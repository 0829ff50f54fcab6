package backend

import (
	"errors"

	"github.com/gogpu/pls/flush"
)

// Backend names.
const (
	BackendWGPU     = "wgpu"
	BackendSoftware = "software"
)

var (
	// ErrBackendNotAvailable is returned when a requested backend is not
	// registered or none could be opened.
	ErrBackendNotAvailable = errors.New("backend: not available")
)

// Factory opens a backend instance.
type Factory func() (flush.Backend, error)
