package service

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTruncateResultUnderThresholdUnchanged(t *testing.T) {
	result := json.RawMessage(`{"matches":[1,2,3,4,5,6]}`)
	out := TruncateResult(result, 1024, 3)
	assert.Equal(t, result, out)
}

func TestTruncateResultKeepsFirstEntries(t *testing.T) {
	result := json.RawMessage(`{"matches":[1,2,3,4,5,6],"summary":"ok"}`)

	// Threshold below the serialized size forces truncation.
	out := TruncateResult(result, 10, 3)

	var decoded struct {
		Matches       []int  `json:"matches"`
		Summary       string `json:"summary"`
		Truncated     bool   `json:"truncated"`
		OriginalCount int    `json:"originalCount"`
	}
	require.NoError(t, json.Unmarshal(out, &decoded))
	assert.Equal(t, []int{1, 2, 3}, decoded.Matches)
	assert.Equal(t, "ok", decoded.Summary)
	assert.True(t, decoded.Truncated)
	assert.Equal(t, 6, decoded.OriginalCount)
}

func TestTruncateResultPicksLargestArray(t *testing.T) {
	result := json.RawMessage(`{"small":[1,2],"large":[1,2,3,4,5,6,7,8]}`)

	out := TruncateResult(result, 10, 3)

	var decoded struct {
		Small         []int `json:"small"`
		Large         []int `json:"large"`
		Truncated     bool  `json:"truncated"`
		OriginalCount int   `json:"originalCount"`
	}
	require.NoError(t, json.Unmarshal(out, &decoded))
	assert.Equal(t, []int{1, 2}, decoded.Small)
	assert.Equal(t, []int{1, 2, 3}, decoded.Large)
	assert.True(t, decoded.Truncated)
	assert.Equal(t, 8, decoded.OriginalCount)
}

func TestTruncateResultNoArrayField(t *testing.T) {
	result := json.RawMessage(`{"summary":"a very long string value"}`)
	out := TruncateResult(result, 5, 3)
	assert.Equal(t, result, out, "objects without arrays cannot be truncated")
}

func TestTruncateResultArrayAlreadySmall(t *testing.T) {
	result := json.RawMessage(`{"matches":[1,2],"note":"padding padding padding"}`)
	out := TruncateResult(result, 5, 3)
	assert.Equal(t, result, out, "arrays at or under the keep count stay intact")
}

func TestTruncateResultNonObjectPayload(t *testing.T) {
	result := json.RawMessage(`[1,2,3,4,5,6,7,8,9,10]`)
	out := TruncateResult(result, 5, 3)
	assert.Equal(t, result, out)
}
