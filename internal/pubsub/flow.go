package pubsub

import (
	"math"
	"sync"
)

// FlowControlState is the demand accounting of one open stream.
// Delivered never exceeds Requested.
type FlowControlState struct {
	Requested   int
	Delivered   int
	PendingAcks int
}

// Outstanding is the demand the server may still fill.
func (s FlowControlState) Outstanding() int { return s.Requested - s.Delivered }

// flowController is owned by a single receive loop. Other goroutines only
// see the snapshot published through flowView.
type flowController struct {
	batch    int
	lowWater int
	state    FlowControlState
	view     *flowView
}

func newFlowController(batch int, lowWaterRatio float64, view *flowView) *flowController {
	low := int(math.Floor(float64(batch) * lowWaterRatio))
	f := &flowController{batch: batch, lowWater: low, view: view}
	view.store(f.state)
	return f
}

// demand records n more requested events.
func (f *flowController) demand(n int) {
	f.state.Requested += n
	f.view.store(f.state)
}

// deliver accounts for a received batch of n events.
func (f *flowController) deliver(n int) error {
	if f.state.Delivered+n > f.state.Requested {
		return &FlowControlViolation{Requested: f.state.Requested, Delivered: f.state.Delivered, Received: n}
	}
	f.state.Delivered += n
	f.state.PendingAcks += n
	f.view.store(f.state)
	return nil
}

func (f *flowController) ack() {
	f.state.PendingAcks--
	f.view.store(f.state)
}

// topUp returns how many events to request so outstanding demand is back
// at the batch size, or 0 while outstanding demand is above the low-water
// mark.
func (f *flowController) topUp() int {
	out := f.state.Outstanding()
	if out > f.lowWater {
		return 0
	}
	return f.batch - out
}

type flowView struct {
	mu    sync.Mutex
	state FlowControlState
}

func (v *flowView) store(s FlowControlState) {
	v.mu.Lock()
	v.state = s
	v.mu.Unlock()
}

func (v *flowView) load() FlowControlState {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.state
}
