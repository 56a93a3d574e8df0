package model

// FlowCap is the per-link token-bucket regulating how many vehicles may leave a
// link per second (§4.1). Tokens accrue at capacity_per_second per simulated second
// and may be consumed below zero; the next refill zero-crosses naturally.
type FlowCap struct {
	capacityPerSecond float64
	accumulated       float64
	lastUpdate        uint32
}

// NewFlowCap creates a FlowCap already holding a full bucket, matching the
// original's Flowcap::new (accumulated_capacity starts at capacity_s).
func NewFlowCap(capacityPerSecond float64) *FlowCap {
	return &FlowCap{
		capacityPerSecond: capacityPerSecond,
		accumulated:       capacityPerSecond,
	}
}

// Update advances the bucket to now: accumulated := min(capacity, accumulated +
// (now-last)*capacity); last := now. A no-op if now has not advanced.
func (f *FlowCap) Update(now uint32) {
	if f.lastUpdate >= now {
		return
	}
	steps := float64(now - f.lastUpdate)
	acc := steps*f.capacityPerSecond + f.accumulated
	if acc < f.capacityPerSecond {
		f.accumulated = acc
	} else {
		f.accumulated = f.capacityPerSecond
	}
	f.lastUpdate = now
}

// HasCapacity reports whether the bucket currently holds positive capacity.
func (f *FlowCap) HasCapacity() bool {
	return f.accumulated > 0
}

// Consume withdraws units from the bucket. Consuming below zero is permitted.
func (f *FlowCap) Consume(units float64) {
	f.accumulated -= units
}

// CapacityPerSecond returns the configured token accrual rate.
func (f *FlowCap) CapacityPerSecond() float64 {
	return f.capacityPerSecond
}
