package flush

import "fmt"

// growTarget returns the capacity for a demand of bytes: 125% rounded up
// to the ring alignment.
func growTarget(bytes int) int {
	n := bytes * growNumerator / growDenominator
	n = (n + ringCapacityAlign - 1) / ringCapacityAlign * ringCapacityAlign
	return max(n, minRingCapacity)
}

// Reserve makes sure the ring of kind can take bytes this frame, growing
// it to 125% of the demand if needed. Growing hands the old backings to
// the ledger. Call it before writing the ring in a frame.
func (p *Pipeline) Reserve(kind BufferKind, bytes int) {
	p.checkKind(kind)
	p.demand[kind] = max(p.demand[kind], bytes)
	r := p.rings[kind]
	if bytes <= r.Capacity() {
		return
	}
	to := growTarget(bytes)
	p.logger().Debug("flush: growing ring",
		"ring", kind.String(), "from", r.Capacity(), "to", to)
	r.Resize(to)
	p.stats.RingResizes++
}

// maybeTrim shrinks rings that are more than 125% of their recent peak
// demand. It runs at most once per trim interval.
func (p *Pipeline) maybeTrim() {
	if p.cfg.trimInterval <= 0 {
		return
	}
	now := p.cfg.now()
	if p.lastTrim.IsZero() {
		p.lastTrim = now
		return
	}
	if now.Sub(p.lastTrim) < p.cfg.trimInterval {
		return
	}
	p.lastTrim = now
	for k, r := range p.rings {
		to := growTarget(p.demand[k])
		if r.Capacity() > to {
			p.logger().Debug("flush: trimming ring",
				"ring", BufferKind(k).String(), "from", r.Capacity(), "to", to)
			r.Resize(to)
			p.stats.RingResizes++
		}
		p.demand[k] = 0
	}
}

func (p *Pipeline) checkKind(kind BufferKind) {
	if int(kind) >= NumBufferKinds {
		panic(fmt.Sprintf("flush: invalid buffer kind %d", kind))
	}
}
