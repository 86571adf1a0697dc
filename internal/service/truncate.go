package service

import (
	"bytes"
	"encoding/json"
)

// TruncateResult bounds an oversized completion payload. When the serialized
// result exceeds threshold bytes and contains a top-level JSON array, the
// largest such array is cut down to its first keep entries and the payload is
// annotated with truncated=true and originalCount. Payloads under the
// threshold, non-object payloads and objects without an array field are
// returned unchanged.
func TruncateResult(result json.RawMessage, threshold, keep int) json.RawMessage {
	if len(result) <= threshold {
		return result
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(result, &fields); err != nil {
		return result
	}

	// Find the largest top-level array field.
	var (
		largestKey   string
		largestItems []json.RawMessage
	)
	for key, raw := range fields {
		trimmed := bytes.TrimSpace(raw)
		if len(trimmed) == 0 || trimmed[0] != '[' {
			continue
		}
		var items []json.RawMessage
		if err := json.Unmarshal(trimmed, &items); err != nil {
			continue
		}
		if len(items) > len(largestItems) {
			largestKey = key
			largestItems = items
		}
	}
	if largestKey == "" || len(largestItems) <= keep {
		return result
	}

	kept, err := json.Marshal(largestItems[:keep])
	if err != nil {
		return result
	}
	originalCount, err := json.Marshal(len(largestItems))
	if err != nil {
		return result
	}

	fields[largestKey] = kept
	fields["truncated"] = json.RawMessage("true")
	fields["originalCount"] = originalCount

	out, err := json.Marshal(fields)
	if err != nil {
		return result
	}
	return out
}
