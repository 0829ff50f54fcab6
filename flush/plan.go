package flush

import (
	"fmt"
	"image"
	"image/color"
)

// PlanLoad returns the color load action and coverage clear value of a
// logical flush. Every flush after the first in a frame preserves the
// target. In atomics mode an opaque clear is folded into the resolve: the
// color is not loaded and the coverage plane starts fully covered.
func PlanLoad(mode InterlockMode, load LoadAction, clear color.RGBA, flushIndex int) (LoadAction, uint32) {
	if flushIndex > 0 {
		load = LoadPreserveRenderTarget
	} else if load == LoadClear && mode == Atomics && clear.A == 0xff {
		return LoadDontCare, FixedCoverageOne
	}
	if mode == Atomics {
		return load, FixedCoverageZero
	}
	return load, 0
}

// plan is the normalized form of a Descriptor for one backend.
type plan struct {
	load          LoadAction
	coverageClear uint32
	features      ShaderFeatures
	misc          MiscFlags
	bounds        image.Rectangle

	offscreen bool
	blitIn    bool
	copyOut   bool

	batches  []DrawBatch
	barriers int
	resolves int
	stripped int
	folded   int
}

func checkInterlock(mode InterlockMode, caps Capabilities) error {
	switch mode {
	case RasterOrdering:
		if !caps.RasterOrdering {
			return fmt.Errorf("%w: %s", ErrUnsupportedInterlock, mode)
		}
	case Atomics:
	case ClockwiseAtomic:
		if !caps.ClockwiseAtomic {
			return fmt.Errorf("%w: %s", ErrUnsupportedInterlock, mode)
		}
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedInterlock, mode)
	}
	return nil
}

// buildPlan validates desc against caps and produces the draw sequence
// the encoder will see.
func buildPlan(desc *Descriptor, caps Capabilities, flushIndex int, bounds image.Rectangle) (*plan, error) {
	if err := checkInterlock(desc.Interlock, caps); err != nil {
		return nil, err
	}

	pl := &plan{bounds: bounds, features: desc.CombinedFeatures}
	for i := range desc.DrawList {
		pl.features |= desc.DrawList[i].Features
	}

	pl.load, pl.coverageClear = PlanLoad(desc.Interlock, desc.LoadAction, desc.ClearColor, flushIndex)
	if desc.CoverageClearValue != 0 && pl.coverageClear != FixedCoverageOne {
		pl.coverageClear = desc.CoverageClearValue
	}

	fixedFunction := desc.Interlock == Atomics && pl.features&FeatureAdvancedBlend == 0
	if fixedFunction {
		pl.misc |= MiscFixedFunctionColorOutput
	}
	pl.offscreen = !fixedFunction && !desc.Target.ReadWrite()
	coalesced := pl.offscreen && desc.Interlock == Atomics && caps.CoalescedResolve
	if coalesced {
		pl.misc |= MiscCoalescedResolveAndTransfer
	}
	pl.blitIn = pl.offscreen && pl.load == LoadPreserveRenderTarget
	pl.copyOut = pl.offscreen && !coalesced

	switch desc.Interlock {
	case RasterOrdering:
		pl.planRasterOrdering(desc.DrawList)
	case Atomics:
		pl.planAtomics(desc.DrawList, caps)
	case ClockwiseAtomic:
		pl.planClockwise(desc.DrawList)
	}
	for i := range pl.batches {
		if pl.batches[i].Barriers != BarrierNone {
			pl.barriers++
		}
	}
	return pl, nil
}

func (pl *plan) planRasterOrdering(list []DrawBatch) {
	pl.batches = make([]DrawBatch, 0, len(list))
	for _, b := range list {
		if b.Type == AtomicInitialize || b.Type == AtomicResolve {
			pl.stripped++
			continue
		}
		if b.ElementCount == 0 {
			continue
		}
		b.Barriers = BarrierNone
		b.Misc |= pl.misc
		pl.batches = append(pl.batches, b)
	}
}

// planAtomics inserts the initialize draw, a barrier between overlap
// groups and the single trailing resolve.
func (pl *plan) planAtomics(list []DrawBatch, caps Capabilities) {
	pl.batches = make([]DrawBatch, 0, len(list)+2)

	var pending BarrierFlags
	if caps.AtomicInitializeAsDraw {
		pl.batches = append(pl.batches, DrawBatch{
			Type:         AtomicInitialize,
			ElementCount: 1,
			Features:     pl.features,
			Misc:         pl.misc,
		})
		pending = BarrierAtomicPostInit
	}

	group, started := 0, false
	for _, b := range list {
		switch b.Type {
		case AtomicResolve:
			pl.folded++
			continue
		case AtomicInitialize:
			pl.stripped++
			continue
		}
		if b.ElementCount == 0 {
			continue
		}
		if started && b.Group != group {
			pending |= BarrierAtomic
		}
		group, started = b.Group, true
		b.Barriers = pending
		b.Misc |= pl.misc
		pending = BarrierNone
		pl.batches = append(pl.batches, b)
	}

	// The pre-resolve barrier supersedes anything still pending.
	pl.batches = append(pl.batches, DrawBatch{
		Type:         AtomicResolve,
		ElementCount: 1,
		Features:     pl.features,
		Misc:         pl.misc,
		Barriers:     BarrierAtomicPreResolve,
	})
	pl.resolves = 1
}

// planClockwise moves borrowed-coverage prepasses ahead of the main draws,
// keeping their relative order, with one barrier in between.
func (pl *plan) planClockwise(list []DrawBatch) {
	pl.batches = make([]DrawBatch, 0, len(list))
	var main []DrawBatch
	for _, b := range list {
		if b.Type == AtomicInitialize || b.Type == AtomicResolve {
			pl.stripped++
			continue
		}
		if b.ElementCount == 0 {
			continue
		}
		b.Barriers = BarrierNone
		b.Misc |= pl.misc
		if b.Prepass {
			b.Misc |= MiscBorrowedCoveragePrepass
			pl.batches = append(pl.batches, b)
			continue
		}
		main = append(main, b)
	}
	if len(pl.batches) > 0 && len(main) > 0 {
		main[0].Barriers = BarrierClockwiseCoverage
	}
	pl.batches = append(pl.batches, main...)
}
