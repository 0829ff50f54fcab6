package wgpu

import (
	"fmt"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	// Vulkan is the HAL backend Open uses by default.
	_ "github.com/gogpu/wgpu/hal/vulkan"
)

// halProvider is implemented by device providers that expose their HAL
// device and queue.
type halProvider interface {
	HalDevice() any
	HalQueue() any
}

// NewFromProvider creates a backend that shares the device of a host
// application. The provider keeps ownership of the device.
func NewFromProvider(p gpucontext.DeviceProvider, opts ...Option) (*Backend, error) {
	hp, ok := p.(halProvider)
	if !ok {
		return nil, fmt.Errorf("%w: provider %T does not expose HAL accessors", ErrNoDevice, p)
	}
	device, ok := hp.HalDevice().(hal.Device)
	if !ok {
		return nil, fmt.Errorf("%w: provider HalDevice is not hal.Device", ErrNoDevice)
	}
	queue, ok := hp.HalQueue().(hal.Queue)
	if !ok {
		return nil, fmt.Errorf("%w: provider HalQueue is not hal.Queue", ErrNoDevice)
	}
	b, err := New(device, queue, opts...)
	if err != nil {
		return nil, err
	}
	info := p.AdapterInfo()
	b.logger().Info("wgpu: using provider device",
		"adapter", info.Name,
		"type", info.Type.String(),
		"surfaceFormat", p.SurfaceFormat().String())
	return b, nil
}

// Open creates a standalone device on the configured HAL backend,
// preferring a discrete GPU. The backend owns the device and destroys it
// on Close.
func Open(opts ...Option) (*Backend, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	api, ok := hal.GetBackend(cfg.halBackend)
	if !ok {
		return nil, fmt.Errorf("%w: %s backend not registered", ErrNoDevice, cfg.halBackend)
	}
	instance, err := api.CreateInstance(&hal.InstanceDescriptor{})
	if err != nil {
		return nil, fmt.Errorf("%w: create instance: %w", ErrNoDevice, err)
	}
	adapters := instance.EnumerateAdapters(nil)
	if len(adapters) == 0 {
		instance.Destroy()
		return nil, fmt.Errorf("%w: no adapters", ErrNoDevice)
	}
	selected := &adapters[0]
	for i := range adapters {
		if adapters[i].Info.DeviceType == gputypes.DeviceTypeDiscreteGPU {
			selected = &adapters[i]
			break
		}
	}
	open, err := selected.Adapter.Open(0, gputypes.DefaultLimits())
	if err != nil {
		instance.Destroy()
		return nil, fmt.Errorf("%w: open device: %w", ErrNoDevice, err)
	}

	b, err := New(open.Device, open.Queue, opts...)
	if err != nil {
		open.Device.Destroy()
		instance.Destroy()
		return nil, err
	}
	b.owned = instance
	b.logger().Info("wgpu: opened device",
		"adapter", selected.Info.Name,
		"type", selected.Info.DeviceType.String(),
		"backend", cfg.halBackend.String())
	return b, nil
}
