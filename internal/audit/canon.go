// Package audit builds, writes, reads, and replays the append-only
// governance audit log.
package audit

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// MarshalCanonical renders v as canonical JSON: sorted keys, compact
// separators, deterministic number formatting. The value is marshalled
// once, re-read preserving raw number text, and re-encoded through Go's
// map encoder, which emits keys in sorted order. Golden tests and the
// replay contract depend on this byte stability.
func MarshalCanonical(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	tree, err := reparse(raw)
	if err != nil {
		return nil, err
	}
	return json.Marshal(tree)
}

// MarshalCanonicalIndent is MarshalCanonical with indentation, for human
// inspection on a TTY. Not used for log lines.
func MarshalCanonicalIndent(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	tree, err := reparse(raw)
	if err != nil {
		return nil, err
	}
	return json.MarshalIndent(tree, "", "  ")
}

func reparse(raw []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var tree any
	if err := dec.Decode(&tree); err != nil {
		return nil, fmt.Errorf("reparse for canonical encoding: %w", err)
	}
	return tree, nil
}
