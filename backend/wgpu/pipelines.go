package wgpu

import (
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/pls/flush"
	"github.com/gogpu/pls/internal/cache"
	"github.com/gogpu/pls/resource"
	"github.com/gogpu/wgpu/hal"
)

// pipelineKind separates the span passes from the draw list.
type pipelineKind uint8

const (
	kindGradient pipelineKind = iota
	kindTessellation
	kindDraw
)

// pipelineKey identifies one render pipeline variant.
type pipelineKey struct {
	kind          pipelineKind
	draw          flush.DrawType
	interlock     flush.InterlockMode
	format        gputypes.TextureFormat
	fixedFunction bool
	wireframe     bool
}

// renderPipeline is a cached pipeline. Evicted pipelines go through the
// ledger since a submitted flush may still reference them.
type renderPipeline struct {
	device   hal.Device
	pipeline hal.RenderPipeline
}

// Destroy implements resource.Destroyer.
func (p *renderPipeline) Destroy() {
	if p.pipeline != nil {
		p.device.DestroyRenderPipeline(p.pipeline)
		p.pipeline = nil
	}
}

type pipelineCache struct {
	device  hal.Device
	layouts *layouts
	shaders *shaderModules
	entries *cache.Cache[pipelineKey, *resource.Resource[*renderPipeline]]
}

func newPipelineCache(device hal.Device, l *layouts, shaders *shaderModules, limit int) *pipelineCache {
	return &pipelineCache{
		device:  device,
		layouts: l,
		shaders: shaders,
		entries: cache.New(limit, func(_ pipelineKey, p *resource.Resource[*renderPipeline]) {
			p.Release()
		}),
	}
}

// get returns the pipeline for key, creating it on first use.
func (c *pipelineCache) get(ledger *resource.Ledger, key pipelineKey) (hal.RenderPipeline, error) {
	res, err := c.entries.GetOrCreate(key, func() (*resource.Resource[*renderPipeline], error) {
		p, err := c.create(key)
		if err != nil {
			return nil, err
		}
		return resource.Manage(ledger, &renderPipeline{device: c.device, pipeline: p}), nil
	})
	if err != nil {
		return nil, err
	}
	return res.Native().pipeline, nil
}

func (c *pipelineCache) stats() cache.Stats { return c.entries.Stats() }

// purge releases every cached pipeline to the ledger.
func (c *pipelineCache) purge() { c.entries.Purge() }

func (c *pipelineCache) create(key pipelineKey) (hal.RenderPipeline, error) {
	var (
		id      shaderID
		layout  hal.PipelineLayout
		label   string
		buffers []gputypes.VertexBufferLayout
		blend   *gputypes.BlendState
	)
	vsEntry, fsEntry := "vs_main", "fs_main"
	topology := gputypes.PrimitiveTopologyTriangleList
	switch key.kind {
	case kindGradient:
		id, layout, label = shaderGradient, c.layouts.span, "pls_gradient"
	case kindTessellation:
		id, layout, label = shaderTessellation, c.layouts.span, "pls_tessellation"
	default:
		id, layout, label = shaderDraw, c.layouts.draw, "pls_"+key.draw.String()
		vsEntry, fsEntry = drawEntryPoints(key.draw)
		if key.draw == flush.InteriorTriangulation || key.draw == flush.ImageMesh {
			buffers = triangleVertexLayout
		}
		if key.fixedFunction {
			b := gputypes.BlendStatePremultiplied()
			blend = &b
		}
		if key.wireframe {
			topology = gputypes.PrimitiveTopologyLineList
		}
	}

	module, err := c.shaders.get(id)
	if err != nil {
		return nil, err
	}
	p, err := c.device.CreateRenderPipeline(&hal.RenderPipelineDescriptor{
		Label:  label,
		Layout: layout,
		Vertex: hal.VertexState{
			Module:     module,
			EntryPoint: vsEntry,
			Buffers:    buffers,
		},
		Fragment: &hal.FragmentState{
			Module:     module,
			EntryPoint: fsEntry,
			Targets: []gputypes.ColorTargetState{{
				Format:    key.format,
				Blend:     blend,
				WriteMask: gputypes.ColorWriteMaskAll,
			}},
		},
		Primitive: gputypes.PrimitiveState{
			Topology: topology,
			CullMode: gputypes.CullModeNone,
		},
		Multisample: gputypes.MultisampleState{Count: 1, Mask: 0xFFFFFFFF},
	})
	if err != nil {
		return nil, fmt.Errorf("wgpu: create pipeline %s: %w", label, err)
	}
	return p, nil
}

// drawEntryPoints returns the vertex and fragment entry points of t.
func drawEntryPoints(t flush.DrawType) (vs, fs string) {
	switch t {
	case flush.MidpointFanPatches, flush.OuterCurvePatches:
		return "vs_patch", "fs_path"
	case flush.InteriorTriangulation:
		return "vs_triangles", "fs_path"
	case flush.ImageRect:
		return "vs_image_rect", "fs_image"
	case flush.ImageMesh:
		return "vs_image_mesh", "fs_image"
	case flush.AtomicInitialize:
		return "vs_fullscreen", "fs_initialize"
	case flush.AtomicResolve:
		return "vs_fullscreen", "fs_resolve"
	default:
		return "vs_fullscreen", "fs_clip_reset"
	}
}

// triangleVertexLayout matches the 12-byte interior triangulation vertex:
// float32x2 position followed by a packed weight and path id.
var triangleVertexLayout = []gputypes.VertexBufferLayout{{
	ArrayStride: 12,
	StepMode:    gputypes.VertexStepModeVertex,
	Attributes: []gputypes.VertexAttribute{
		{Format: gputypes.VertexFormatFloat32x2, Offset: 0, ShaderLocation: 0},
		{Format: gputypes.VertexFormatUint32, Offset: 8, ShaderLocation: 1},
	},
}}

// Vertices per instance of each draw type. Patches emit one quad per
// segment of their span.
const (
	midpointFanPatchSegmentSpan = 8
	outerCurvePatchSegmentSpan  = 17
	quadVertices                = 6
)

// drawCounts returns the vertex count, instance count, first vertex and
// first instance for a batch.
func drawCounts(batch *flush.DrawBatch) (vertices, instances, firstVertex, firstInstance uint32) {
	switch batch.Type {
	case flush.MidpointFanPatches:
		return midpointFanPatchSegmentSpan * quadVertices, batch.ElementCount, 0, batch.BaseElement
	case flush.OuterCurvePatches:
		return outerCurvePatchSegmentSpan * quadVertices, batch.ElementCount, 0, batch.BaseElement
	case flush.InteriorTriangulation, flush.ImageMesh:
		return batch.ElementCount, 1, batch.BaseElement, 0
	default:
		return quadVertices, 1, 0, 0
	}
}
