package flush

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gogpu/pls/internal/logging"
	"github.com/gogpu/pls/resource"
	"github.com/gogpu/pls/upload"
)

type pipelineState uint8

const (
	stateIdle pipelineState = iota
	stateFrame
	stateReleased
)

// Stats are cumulative pipeline counters.
type Stats struct {
	Frames          uint64
	Flushes         uint64
	Dropped         uint64
	SkippedEmpty    uint64
	Batches         uint64
	Barriers        uint64
	Resolves        uint64
	OffscreenCopies uint64
	TargetBlits     uint64
	BindingTables   uint64
	Stripped        uint64
	RingResizes     uint64
}

// Pipeline runs the per-frame flush protocol over a Backend. It is not
// safe for concurrent use; all calls come from the thread that owns the
// command stream.
type Pipeline struct {
	backend Backend
	caps    Capabilities
	ledger  *resource.Ledger
	cfg     config

	rings    [NumBufferKinds]*upload.Ring
	bindings *resource.Pool[BindingTable]

	state          pipelineState
	flushIndex     int
	coveragePrefix uint32

	demand   [NumBufferKinds]int
	lastTrim time.Time

	stats Stats
}

// New creates a pipeline over backend. Rings are allocated from the
// backend's allocators and their backings are tracked by ledger.
func New(backend Backend, ledger *resource.Ledger, opts ...Option) *Pipeline {
	if backend == nil || ledger == nil {
		panic("flush: New requires a backend and a ledger")
	}
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	p := &Pipeline{
		backend:  backend,
		caps:     backend.Capabilities(),
		ledger:   ledger,
		cfg:      cfg,
		bindings: resource.NewPool[BindingTable](ledger, cfg.bindingPoolSize),
	}
	ringOpts := []upload.RingOption{upload.WithDepth(cfg.ringDepth)}
	if cfg.pooledRings {
		ringOpts = append(ringOpts, upload.WithPool(cfg.ringPoolSize))
	}
	for k := range p.rings {
		kind := BufferKind(k)
		p.rings[k] = upload.NewRing(ledger, backend.Allocator(kind), kind.String(), cfg.capacities[k], ringOpts...)
	}
	return p
}

// Backend returns the backend the pipeline records into.
func (p *Pipeline) Backend() Backend { return p.backend }

// Ledger returns the pipeline's resource ledger.
func (p *Pipeline) Ledger() *resource.Ledger { return p.ledger }

// Ring returns the upload ring of kind.
func (p *Pipeline) Ring(kind BufferKind) *upload.Ring {
	p.checkKind(kind)
	return p.rings[kind]
}

// BindingPool returns the pool of recycled binding tables.
func (p *Pipeline) BindingPool() *resource.Pool[BindingTable] { return p.bindings }

// InFrame reports whether PrepareToFlush was called without a matching
// PostFlush.
func (p *Pipeline) InFrame() bool { return p.state == stateFrame }

// Stats returns a snapshot of the pipeline counters.
func (p *Pipeline) Stats() Stats { return p.stats }

// PrepareToFlush starts a frame. It advances the ledger to
// (nextFrame, safeFrame) and acquires the frame's ring backings.
// Calling it twice without PostFlush panics.
func (p *Pipeline) PrepareToFlush(nextFrame, safeFrame uint64) error {
	switch p.state {
	case stateFrame:
		panic("flush: PrepareToFlush called twice without PostFlush")
	case stateReleased:
		panic("flush: use of released pipeline")
	}
	p.ledger.AdvanceFrame(nextFrame, safeFrame)
	p.state = stateFrame
	p.flushIndex = 0

	var errs []error
	for _, r := range p.rings {
		if err := r.BeginFrame(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Upload maps size bytes of the ring of kind, lets fill write them and
// submits the count fill returns. The ring grows first if it is too small.
func (p *Pipeline) Upload(kind BufferKind, size int, fill func([]byte) int) error {
	p.checkFrame("Upload")
	p.Reserve(kind, size)
	r := p.rings[kind]
	buf, err := r.Map(size)
	if err != nil {
		p.logger().Warn("flush: upload failed",
			"ring", kind.String(), "bytes", size, "frame", p.ledger.CurrentFrame(), "err", err)
		return err
	}
	return r.UnmapAndSubmit(fill(buf))
}

// Flush executes one logical flush.
//
// A flush whose update bounds miss the target returns nil without doing
// anything. A flush that does not fit the frame's resources is dropped:
// it is logged and the returned error wraps ErrFlushDropped. Other errors
// come from an unusable descriptor or the backend.
func (p *Pipeline) Flush(desc *Descriptor) error {
	p.checkFrame("Flush")
	if desc == nil || desc.Target == nil {
		return ErrNoTarget
	}
	idx := p.flushIndex
	p.flushIndex++

	bounds := desc.UpdateBounds.Intersect(desc.Target.Bounds())
	if bounds.Empty() {
		p.stats.SkippedEmpty++
		return nil
	}

	pl, err := buildPlan(desc, p.caps, idx, bounds)
	if err != nil {
		return err
	}
	if pl.stripped > 0 {
		p.stats.Stripped += uint64(pl.stripped)
		p.logger().Warn("flush: stripped batches not valid in interlock mode",
			"mode", desc.Interlock.String(), "count", pl.stripped)
	}

	res := p.frameResources()
	assign, images := assignBindings(pl.batches, p.caps.ImageBindingsPerTable)
	if err := p.checkCapacity(desc, pl, res, len(images)); err != nil {
		return p.drop(idx, err)
	}

	tables, err := p.acquireTables(images)
	if err != nil {
		p.recycleTables(tables)
		return p.drop(idx, err)
	}
	defer p.recycleTables(tables)

	pass := &DrawPass{
		Target:             desc.Target,
		Interlock:          desc.Interlock,
		LoadAction:         pl.load,
		ClearColor:         desc.ClearColor,
		CoverageClearValue: pl.coverageClear,
		Bounds:             bounds,
		Offscreen:          pl.offscreen,
		Misc:               pl.misc,
		Wireframe:          desc.Wireframe,
	}
	if desc.Interlock == ClockwiseAtomic {
		pass.CoveragePrefix, pass.ClearCoverageBuffer = p.nextCoveragePrefix()
	}

	enc, err := p.backend.BeginFlush(desc, res)
	if err != nil {
		return fmt.Errorf("flush: begin flush on %s: %w", p.backend.Name(), err)
	}
	p.encode(enc, desc, pl, pass, assign, tables)
	if err := enc.Finish(); err != nil {
		return fmt.Errorf("flush: submit on %s: %w", p.backend.Name(), err)
	}

	p.stats.Flushes++
	p.stats.Batches += uint64(len(pl.batches))
	p.stats.Barriers += uint64(pl.barriers)
	p.stats.Resolves += uint64(pl.resolves)
	p.stats.BindingTables += uint64(len(tables))
	if pl.blitIn {
		p.stats.TargetBlits++
	}
	if pl.copyOut {
		p.stats.OffscreenCopies++
	}
	p.logger().Debug("flush: submitted",
		"frame", p.ledger.CurrentFrame(),
		"flush", idx,
		"mode", desc.Interlock.String(),
		"load", pl.load.String(),
		"batches", len(pl.batches),
		"barriers", pl.barriers,
		"offscreen", pl.offscreen,
	)
	return nil
}

func (p *Pipeline) encode(enc Encoder, desc *Descriptor, pl *plan, pass *DrawPass, assign []imageBinding, tables []*resource.Resource[BindingTable]) {
	if !desc.SimpleRamps.Empty() {
		enc.UploadSimpleRamps(desc.SimpleRamps)
	}
	if !desc.GradSpans.Empty() {
		enc.RenderGradientSpans(desc.GradSpans, desc.GradTextureHeight)
	}
	if !desc.TessSpans.Empty() {
		enc.RenderTessellation(desc.TessSpans, desc.TessTextureHeight)
	}

	if pl.blitIn {
		enc.BlitTargetToOffscreen(pl.bounds)
	}
	enc.BeginDrawPass(pass)
	bound := -1
	for i := range pl.batches {
		b := &pl.batches[i]
		if b.Barriers != BarrierNone {
			enc.Barrier(b.Barriers)
		}
		a := assign[i]
		if a.table >= 0 && a.table != bound {
			enc.BindImages(tables[a.table].Native())
			bound = a.table
		}
		enc.Draw(b, a.slot)
	}
	enc.EndDrawPass()
	if pl.copyOut {
		enc.CopyOffscreenToTarget(pl.bounds)
	}
}

// PostFlush ends the frame: ring backings go back to their pools and
// oversized rings are trimmed once per trim interval.
func (p *Pipeline) PostFlush() {
	p.checkFrame("PostFlush")
	for _, r := range p.rings {
		r.EndFrame()
	}
	p.maybeTrim()
	p.state = stateIdle
	p.stats.Frames++
}

// Release hands every ring backing and pooled binding table to the
// ledger. Releasing during a frame panics.
func (p *Pipeline) Release() {
	switch p.state {
	case stateFrame:
		panic("flush: Release during a frame")
	case stateReleased:
		return
	}
	for _, r := range p.rings {
		r.Release()
	}
	p.bindings.Release()
	p.state = stateReleased
}

// frameResources collects the slots written during the current frame.
func (p *Pipeline) frameResources() *FrameResources {
	res := &FrameResources{Frame: p.ledger.CurrentFrame()}
	for k, r := range p.rings {
		frame, ok := r.SubmittedFrame()
		if !ok || frame != res.Frame {
			continue
		}
		res.Buffers[k] = r.Submitted()
		res.Bytes[k] = r.BytesWritten()
	}
	return res
}

func (p *Pipeline) checkCapacity(desc *Descriptor, pl *plan, res *FrameResources, tables int) error {
	uniformEnd := int(desc.FlushUniformOffset) + FlushUniforms.ElementSize()
	if res.Buffers[FlushUniforms] == nil || uniformEnd > res.Bytes[FlushUniforms] {
		return fmt.Errorf("%w: need %d bytes, have %d", ErrMissingUniforms, uniformEnd, res.Bytes[FlushUniforms])
	}
	for _, br := range desc.ranges() {
		if br.r.Empty() {
			continue
		}
		if end := br.r.end(br.kind.ElementSize()); end > res.Bytes[br.kind] {
			return fmt.Errorf("%w: %s needs %d bytes, %d written", ErrRangeOverflow, br.kind, end, res.Bytes[br.kind])
		}
	}
	for i := range pl.batches {
		b := &pl.batches[i]
		switch {
		case b.Type.IsImage():
			end := int(b.ImageDrawOffset) + ImageDrawUniforms.ElementSize()
			if end > res.Bytes[ImageDrawUniforms] {
				return fmt.Errorf("%w: %s needs %d bytes, %d written", ErrRangeOverflow, ImageDrawUniforms, end, res.Bytes[ImageDrawUniforms])
			}
		case b.Type == InteriorTriangulation:
			end := (int(b.BaseElement) + int(b.ElementCount)) * TriangleVertices.ElementSize()
			if end > res.Bytes[TriangleVertices] {
				return fmt.Errorf("%w: %s needs %d bytes, %d written", ErrRangeOverflow, TriangleVertices, end, res.Bytes[TriangleVertices])
			}
		}
	}
	if limit := p.caps.MaxBindingTables; limit > 0 && tables > limit {
		return fmt.Errorf("%w: %d binding tables needed, limit %d", ErrTooManyBindings, tables, limit)
	}
	return nil
}

func (p *Pipeline) drop(idx int, cause error) error {
	p.stats.Dropped++
	p.logger().Warn("flush: dropped flush",
		"frame", p.ledger.CurrentFrame(),
		"flush", idx,
		"backend", p.backend.Name(),
		"dropped", p.stats.Dropped,
		"reason", cause,
	)
	return fmt.Errorf("%w: %w", ErrFlushDropped, cause)
}

func (p *Pipeline) acquireTables(images [][]ImageTexture) ([]*resource.Resource[BindingTable], error) {
	perTable := p.caps.ImageBindingsPerTable
	if perTable <= 0 {
		perTable = DefaultImageBindingsPerTable
	}
	tables := make([]*resource.Resource[BindingTable], 0, len(images))
	for _, imgs := range images {
		t, err := p.bindings.AcquireOrCreate(func() (BindingTable, error) {
			return p.backend.NewBindingTable(perTable)
		})
		if err != nil {
			return tables, fmt.Errorf("create binding table: %w", err)
		}
		tables = append(tables, t)
		bt := t.Native()
		bt.Reset()
		for slot, img := range imgs {
			bt.Set(slot, img)
		}
	}
	return tables, nil
}

func (p *Pipeline) recycleTables(tables []*resource.Resource[BindingTable]) {
	for _, t := range tables {
		p.bindings.Recycle(t)
	}
}

// nextCoveragePrefix advances the clockwiseAtomic coverage prefix. The
// coverage buffer must be cleared whenever the prefix wraps to zero.
func (p *Pipeline) nextCoveragePrefix() (prefix uint32, clear bool) {
	for {
		if p.coveragePrefix == 0 {
			clear = true
		}
		p.coveragePrefix += 1 << clockwiseCoverageBits
		if p.coveragePrefix != 0 {
			return p.coveragePrefix, clear
		}
	}
}

func (p *Pipeline) checkFrame(op string) {
	switch p.state {
	case stateIdle:
		panic(fmt.Sprintf("flush: %s outside PrepareToFlush/PostFlush", op))
	case stateReleased:
		panic("flush: use of released pipeline")
	}
}

func (p *Pipeline) logger() *slog.Logger {
	if p.cfg.logger != nil {
		return p.cfg.logger
	}
	return logging.L()
}
