package publish

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to State
		want     bool
	}{
		{StateVerifying, StateRateLimiting, true},
		{StateVerifying, StateDecoding, false},
		{StateReleaseCreate, StateAssetUpload, true},
		{StateReleaseCreate, StateReleaseReuse, true},
		{StateAssetUpload, StateReleaseRollback, true},
		{StateReleaseCreate, StateReleaseRollback, false},
		{StateIndexUpdate, StateReleaseRollback, false},
		{StateReleaseRollback, StateFailed, true},
		{StateReleaseRollback, StateIndexUpdate, false},
		{StateHashing, StateFailed, true},
		{StateDone, StateFailed, false},
		{StateFailed, StateVerifying, false},
	}
	for _, tt := range tests {
		t.Run(tt.from.String()+"->"+tt.to.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}
}

func TestTrail(t *testing.T) {
	trail := Trail{StateVerifying, StateRateLimiting, StateFailed}
	assert.Equal(t, StateFailed, trail.Last())
	assert.True(t, trail.Contains(StateRateLimiting))
	assert.False(t, trail.Contains(StateDone))
	assert.Equal(t, "verifying -> rate_limiting -> failed", trail.String())
	assert.Equal(t, "state(99)", State(99).String())
}
