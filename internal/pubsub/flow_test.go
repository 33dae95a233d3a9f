package pubsub

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlowController(t *testing.T) {
	var view flowView
	f := newFlowController(10, 0.5, &view)
	assert.Equal(t, 5, f.lowWater)

	f.demand(10)
	require.NoError(t, f.deliver(4))
	assert.Zero(t, f.topUp(), "outstanding 6 is above the low-water mark")

	require.NoError(t, f.deliver(1))
	assert.Equal(t, 5, f.topUp())

	for range 5 {
		f.ack()
	}
	assert.Equal(t, FlowControlState{Requested: 10, Delivered: 5, PendingAcks: 0}, view.load())

	err := f.deliver(6)
	var fv *FlowControlViolation
	require.ErrorAs(t, err, &fv)
	assert.Equal(t, FlowControlViolation{Requested: 10, Delivered: 5, Received: 6}, *fv)
	assert.Equal(t, 5, view.load().Delivered, "a rejected batch is not counted")
}

func TestFlowController_LowWaterRounding(t *testing.T) {
	tests := []struct {
		batch int
		ratio float64
		want  int
	}{
		{batch: 7, ratio: 0.5, want: 3},
		{batch: 100, ratio: 0.5, want: 50},
		{batch: 1, ratio: 0.5, want: 0},
		{batch: 10, ratio: 0, want: 0},
		{batch: 10, ratio: 1, want: 10},
	}
	for _, tt := range tests {
		f := newFlowController(tt.batch, tt.ratio, &flowView{})
		assert.Equal(t, tt.want, f.lowWater, "batch %d ratio %v", tt.batch, tt.ratio)
	}
}

func TestFlowController_ZeroRatioWaitsForExhaustion(t *testing.T) {
	f := newFlowController(3, 0, &flowView{})
	f.demand(3)

	require.NoError(t, f.deliver(2))
	assert.Zero(t, f.topUp())
	require.NoError(t, f.deliver(1))
	assert.Equal(t, 3, f.topUp())
}
