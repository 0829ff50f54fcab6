// Package wgpu binds the flush pipeline to a WebGPU HAL device.
//
// Ring slots are hal.Buffers. With the default shadow strategy they are
// filled through Queue.WriteBuffer; with upload.Direct they are created
// with MapWrite usage and mapped. Gradient spans and tessellation spans
// are rendered into RGBA8 and RGBA32Uint textures by instanced quads,
// and the draw list runs in one render pass that is split at barriers.
// Shaders are written in WGSL and compiled to SPIR-V with naga.
//
// Textures the backend replaces, pipelines evicted from its cache,
// per-flush bind groups and submitted command buffers are handed to a
// private resource.Ledger. The ledger advances with the frame numbers
// passed to BeginFlush and EndFrame, and its safe frame is the newest frame
// whose last submission the queue reports complete.
//
// A backend either shares a host device:
//
//	b, err := wgpu.NewFromProvider(provider)
//
// or opens its own on a HAL backend, Vulkan by default:
//
//	b, err := wgpu.Open(wgpu.WithHALBackend(gputypes.BackendVulkan))
//
// Importing the package registers it as "wgpu".
package wgpu
