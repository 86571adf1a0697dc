package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventTypeUnmarshalText(t *testing.T) {
	tests := []struct {
		input   string
		want    EventType
		wantErr bool
	}{
		{input: "progress", want: EventTypeProgress},
		{input: "COMPLETED", want: EventTypeCompleted},
		{input: " error ", want: EventTypeError},
		{input: "running", wantErr: true},
		{input: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			var et EventType
			err := et.UnmarshalText([]byte(tt.input))
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, et)
		})
	}
}

func TestJobStateTerminal(t *testing.T) {
	assert.False(t, JobStateProcessing.Terminal())
	assert.True(t, JobStateCompleted.Terminal())
	assert.True(t, JobStateError.Terminal())
}

func TestClampPercent(t *testing.T) {
	assert.Equal(t, 0, ClampPercent(-5))
	assert.Equal(t, 0, ClampPercent(0))
	assert.Equal(t, 42, ClampPercent(42))
	assert.Equal(t, 100, ClampPercent(100))
	assert.Equal(t, 100, ClampPercent(250))
}

func TestMonotonicPercent(t *testing.T) {
	assert.Equal(t, 10, MonotonicPercent(10, 5), "percent must never regress")
	assert.Equal(t, 20, MonotonicPercent(10, 20))
	assert.Equal(t, 10, MonotonicPercent(10, 10))
}

func TestCountersMerge(t *testing.T) {
	base := Counters{Total: 100, Processed: 40, Successful: 35, Failed: 5}

	t.Run("advances only", func(t *testing.T) {
		merged := base.Merge(Counters{Total: 100, Processed: 50, Successful: 44, Failed: 6})
		assert.Equal(t, Counters{Total: 100, Processed: 50, Successful: 44, Failed: 6}, merged)
	})

	t.Run("never regresses", func(t *testing.T) {
		merged := base.Merge(Counters{Total: 90, Processed: 10, Successful: 5, Failed: 1})
		assert.Equal(t, base, merged)
	})

	t.Run("zero merge is identity", func(t *testing.T) {
		assert.Equal(t, base, base.Merge(Counters{}))
	})
}

func TestProgressEventPercent(t *testing.T) {
	p := 33
	e := ProgressEvent{Progress: &p}
	assert.Equal(t, 33, e.Percent(0))

	e.Progress = nil
	assert.Equal(t, 7, e.Percent(7))
}

func TestProgressUpdateRequestValidate(t *testing.T) {
	req := ProgressUpdateRequest{Stage: "scan", Message: "scanning covers"}
	require.NoError(t, req.Validate())

	req.Stage = "  "
	require.Error(t, req.Validate())

	req = ProgressUpdateRequest{
		Stage:    "scan",
		Counters: &Counters{Processed: -1},
	}
	require.Error(t, req.Validate())
}

func TestValidateSessionID(t *testing.T) {
	require.NoError(t, ValidateSessionID("recognition-abc-123"))
	require.Error(t, ValidateSessionID(""))
	require.Error(t, ValidateSessionID("   "))

	long := make([]byte, 129)
	for i := range long {
		long[i] = 'a'
	}
	require.Error(t, ValidateSessionID(string(long)))
}

func TestNotFoundView(t *testing.T) {
	view := NotFoundView("missing")
	assert.Equal(t, "missing", view.SessionID)
	assert.Equal(t, SourceNotFound, view.Source)
	assert.False(t, view.HasChannel)
	assert.Nil(t, view.Progress)
}

func TestJobRecordCounters(t *testing.T) {
	rec := JobRecord{
		TotalItems:      12,
		ProcessedItems:  8,
		SuccessfulItems: 7,
		FailedItems:     1,
		StartedAt:       time.Now(),
	}
	assert.Equal(t, Counters{Total: 12, Processed: 8, Successful: 7, Failed: 1}, rec.Counters())
}
