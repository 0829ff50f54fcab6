// Package backend is the registry of flush backends.
//
// Backend packages register a factory from init():
//
//	import _ "github.com/gogpu/pls/backend/software"
//
// Hosts then open a backend by name or take the best available one:
//
//	b, err := backend.OpenDefault()
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer b.Close()
//
// # Available Backends
//
//   - "wgpu": gogpu/wgpu HAL (Vulkan, Metal, DX12, GLES)
//   - "software": CPU images, synchronous, for tests and headless use
//
// Selection priority is wgpu, then software, then anything else in
// name order.
package backend
