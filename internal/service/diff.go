package service

import (
	"bytes"
	"encoding/json"
	"reflect"
)

// Changed reports whether two payloads differ structurally. A nil/non-nil
// transition in either direction is always a change. Two non-nil payloads are
// compared by deep equality of their decoded values: object key order is
// irrelevant, array element order is significant. Numbers keep their exact
// textual form during decoding so integer ids beyond float64 precision never
// compare equal by accident. Suppresses re-broadcasting identical snapshots
// on fast polling intervals.
func Changed(old, new json.RawMessage) bool {
	if old == nil && new == nil {
		return false
	}
	if (old == nil) != (new == nil) {
		return true
	}

	a, errA := decodeExact(old)
	b, errB := decodeExact(new)
	if errA != nil || errB != nil {
		// Undecodable payloads fall back to byte identity.
		return !bytes.Equal(old, new)
	}
	return !reflect.DeepEqual(a, b)
}

func decodeExact(raw json.RawMessage) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}
