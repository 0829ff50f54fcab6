package main

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"time"

	"github.com/gogpu/pls"
	"github.com/gogpu/pls/backend"
	"github.com/gogpu/pls/backend/software"
	"github.com/gogpu/pls/backend/wgpu"
	"github.com/gogpu/pls/flush"
	"github.com/gogpu/pls/metrics"
)

// Result summarizes a finished run.
type Result struct {
	Scenario string
	Elapsed  time.Duration
	Stalls   int

	metrics.Snapshot
}

// FrameTime returns the mean wall time per frame.
func (r *Result) FrameTime() time.Duration {
	if r.Flush.Frames == 0 {
		return 0
	}
	return r.Elapsed / time.Duration(r.Flush.Frames)
}

// bench is a scenario bound to an open context.
type bench struct {
	sc     Scenario
	ctx    *pls.Context
	raw    flush.Backend
	lagged *laggedBackend
	target flush.Target

	mode flush.InterlockMode
	load flush.LoadAction
}

// newBench opens the scenario's backend and creates the context and the
// render target.
func newBench(sc Scenario) (*bench, error) {
	mode, err := parseInterlock(sc.Interlock)
	if err != nil {
		return nil, err
	}
	load, err := parseLoad(sc.Load)
	if err != nil {
		return nil, err
	}

	var raw flush.Backend
	if sc.Backend != "" {
		raw, err = backend.Open(sc.Backend)
	} else {
		raw, err = backend.OpenDefault()
	}
	if err != nil {
		return nil, err
	}
	target, err := newTarget(raw, sc.Width, sc.Height, sc.ReadWrite)
	if err != nil {
		_ = raw.Close()
		return nil, err
	}

	b := &bench{sc: sc, raw: raw, target: target, mode: mode, load: load}

	var ctxBackend flush.Backend = raw
	if sc.RetireLag > 0 {
		b.lagged = newLaggedBackend(raw, sc.RetireLag)
		ctxBackend = b.lagged
	}
	opts := []pls.Option{
		pls.WithBackend(ctxBackend),
		pls.WithMaxFramesInFlight(sc.FramesInFlight),
	}
	if sc.PooledRings > 0 {
		opts = append(opts, pls.WithPooledRings(sc.PooledRings))
	}
	if b.ctx, err = pls.NewContext(opts...); err != nil {
		_ = raw.Close()
		return nil, err
	}
	return b, nil
}

// newTarget creates a render target on the backends plsbench knows.
func newTarget(b flush.Backend, width, height int, readWrite bool) (flush.Target, error) {
	switch b := b.(type) {
	case *software.Backend:
		return software.NewTarget(image.NewRGBA(image.Rect(0, 0, width, height)), readWrite), nil
	case *wgpu.Backend:
		t, err := b.CreateTarget(width, height, readWrite)
		if err != nil {
			return nil, err
		}
		return t, nil
	default:
		return nil, fmt.Errorf("plsbench: cannot create a target on backend %s", b.Name())
	}
}

// Run submits every frame of the scenario. Dropped flushes are counted,
// not fatal.
func (b *bench) Run(ctx context.Context) (*Result, error) {
	start := time.Now()
	for range b.sc.Frames {
		if err := b.frame(ctx); err != nil {
			return nil, err
		}
		if sw, ok := b.raw.(*software.Backend); ok {
			sw.ResetCommands()
		}
	}
	res := &Result{
		Scenario: b.sc.Name,
		Elapsed:  time.Since(start),
		Snapshot: b.ctx.Snapshot(),
	}
	if b.lagged != nil {
		res.Stalls = b.lagged.Stalls()
	}
	return res, nil
}

// Close waits for the last frame and closes the context.
func (b *bench) Close(ctx context.Context) error {
	return b.ctx.Close(ctx)
}

func (b *bench) frame(ctx context.Context) error {
	if err := b.ctx.BeginFrame(ctx); err != nil {
		return err
	}
	if err := b.upload(); err != nil {
		_ = b.ctx.EndFrame()
		return err
	}
	for i := range b.sc.FlushesPerFrame {
		err := b.ctx.Flush(b.descriptor(i))
		if err != nil && !errors.Is(err, flush.ErrFlushDropped) {
			_ = b.ctx.EndFrame()
			return fmt.Errorf("plsbench: flush %d of frame %d: %w", i, b.ctx.Frame(), err)
		}
	}
	return b.ctx.EndFrame()
}

// upload writes one frame's worth of every ring the flushes read.
func (b *bench) upload() error {
	n := b.sc.FlushesPerFrame
	err := b.ctx.Upload(flush.FlushUniforms, n*flush.FlushUniforms.ElementSize(), func(buf []byte) int {
		clear(buf)
		return len(buf)
	})
	if err != nil {
		return err
	}
	if spans := n * b.sc.Batches; spans > 0 {
		err = b.ctx.Upload(flush.TessSpans, spans*flush.TessSpans.ElementSize(), func(buf []byte) int {
			clear(buf)
			return len(buf)
		})
		if err != nil {
			return err
		}
	}
	if spans := n * b.sc.Gradients; spans > 0 {
		size := flush.GradientSpans.ElementSize()
		err = b.ctx.Upload(flush.GradientSpans, spans*size, func(buf []byte) int {
			for i := range spans {
				gradientSpan(i % b.sc.Gradients).Put(buf[i*size:])
			}
			return len(buf)
		})
	}
	return err
}

func gradientSpan(row int) flush.GradientSpan {
	return flush.GradientSpan{
		X0:     0,
		X1:     0xffff,
		Y:      uint32(row),
		Color0: color.RGBA{R: uint8(row * 40), A: 0xff},
		Color1: color.RGBA{B: 0xff, A: 0xff},
	}
}

func (b *bench) descriptor(i int) *flush.Descriptor {
	sc := &b.sc
	desc := &flush.Descriptor{
		Target:             b.target,
		Interlock:          b.mode,
		LoadAction:         b.load,
		ClearColor:         color.RGBA{R: 0x20, G: 0x20, B: 0x20, A: 0xff},
		UpdateBounds:       b.target.Bounds(),
		FlushUniformOffset: uint32(i * flush.FlushUniforms.ElementSize()),
		DrawList:           make([]flush.DrawBatch, 0, sc.Batches),
	}
	if sc.Batches > 0 {
		desc.TessSpans = flush.Range{First: uint32(i * sc.Batches), Count: uint32(sc.Batches)}
		desc.TessTextureHeight = uint32(sc.Batches)
	}
	if sc.Gradients > 0 {
		desc.GradSpans = flush.Range{First: uint32(i * sc.Gradients), Count: uint32(sc.Gradients)}
		desc.GradTextureHeight = uint32(sc.Gradients)
	}
	for j := range sc.Batches {
		desc.DrawList = append(desc.DrawList, flush.DrawBatch{
			Type:         flush.MidpointFanPatches,
			ElementCount: uint32(sc.PatchesPerBatch),
			BaseElement:  uint32(j * sc.PatchesPerBatch),
			Group:        j % sc.Groups,
		})
	}
	return desc
}
