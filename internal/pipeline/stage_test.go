package pipeline

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to Stage
		want     bool
	}{
		{Discovered, Enhancing, true},
		{Enhancing, Compositing, true},
		{Watermarking, Delivering, true},
		{Delivering, Delivered, true},
		{Enhancing, Grading, false},
		{Discovered, Failed, true},
		{Grading, Failed, true},
		{Cropping, Discovered, true},
		{Discovered, Discovered, false},
		{Delivered, Failed, false},
		{Failed, Discovered, false},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s->%s", tt.from, tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}
}

func TestStageText(t *testing.T) {
	b, err := json.Marshal(map[string]Stage{"s": Watermarking})
	require.NoError(t, err)
	assert.JSONEq(t, `{"s":"watermarking"}`, string(b))

	var s Stage
	require.NoError(t, s.UnmarshalText([]byte("Delivering")))
	assert.Equal(t, Delivering, s)
	require.Error(t, s.UnmarshalText([]byte("uploading")))
	assert.Equal(t, "stage(42)", Stage(42).String())

	assert.True(t, Failed.Terminal())
	assert.False(t, Discovered.Active())
	assert.True(t, Delivering.Active())
	assert.Len(t, ProcessingStages(), 6)
}

func TestErrorTaxonomy(t *testing.T) {
	cause := errors.New("boom")
	se := NewStageError(Cropping, cause)
	assert.ErrorIs(t, se, cause)
	assert.Same(t, se, NewStageError(Delivering, se), "an existing stage is kept")
	assert.Nil(t, NewStageError(Grading, nil))

	exhausted := &RetryExhaustedError{ItemID: "a", Attempts: 3, Last: se}
	assert.Equal(t, Cropping, StageOf(exhausted))
	assert.Contains(t, exhausted.Error(), "after 3 attempts")
	assert.False(t, IsFatal(exhausted))

	fatal := NewFatalStartup("face detector", cause)
	assert.True(t, IsFatal(fatal))
	assert.True(t, IsFatal(fmt.Errorf("wrap: %w", ErrConfigInvalid)))
	assert.Equal(t, Failed, StageOf(cause))
}
