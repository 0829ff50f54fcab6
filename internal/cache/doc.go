// Package cache provides a generic LRU cache whose evictions are handed
// to a callback.
//
// The wgpu binding caches compiled pipelines in it and routes evicted
// pipelines to the resource ledger, so a pipeline still referenced by an
// in-flight frame is destroyed only after that frame retires:
//
//	pipelines := cache.New[pipelineKey, *pipeline](64, func(_ pipelineKey, p *pipeline) {
//		p.res.Release()
//	})
//	p, err := pipelines.GetOrCreate(key, compile)
//
// Cache is safe for concurrent use. The eviction callback runs with the
// cache locked and must not call back into it.
package cache
