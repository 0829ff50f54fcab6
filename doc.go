// Package pls drives a pixel-local-storage style 2D vector rasterizer over
// a pluggable GPU backend.
//
// # Overview
//
// A Context ties together one backend, one resource ledger and one flush
// pipeline, and paces frames so that at most a fixed number are in flight
// on the GPU. Everything below it lives in sub-packages:
//   - resource: deferred destruction (Ledger, Resource, Pool)
//   - upload: per-frame CPU to GPU buffers (Ring)
//   - flush: the per-frame flush protocol and its Backend interface
//   - backend: the backend registry; backend/wgpu and backend/software
//     are the bindings
//   - metrics: a Prometheus collector over a Context
//
// # Quick Start
//
//	import (
//		"github.com/gogpu/pls"
//		_ "github.com/gogpu/pls/backend/software"
//	)
//
//	ctx, err := pls.NewContext(pls.WithBackendName("software"))
//	if err != nil {
//		return err
//	}
//	defer ctx.Close(context.Background())
//
//	if err := ctx.BeginFrame(context.Background()); err != nil {
//		return err
//	}
//	ctx.Upload(flush.FlushUniforms, 256, writeUniforms)
//	ctx.Flush(&flush.Descriptor{Target: target, UpdateBounds: bounds})
//	ctx.EndFrame()
//
// # Frames
//
// Frame numbers start at 1. A frame is retired once the backend reports
// its last submission complete; objects released during a frame are
// destroyed only after it retires.
//
// # Concurrency
//
// A Context is driven by a single goroutine. Snapshot and Stats may be
// called from any goroutine.
package pls
