package policy

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadError wraps any failure to read or validate a policy document.
type LoadError struct {
	Path string
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("policy load %s: %v", e.Path, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// Hash returns the SHA-256 hex digest of the raw policy source bytes,
// exactly as read. This is the integrity anchor stamped into every audit
// event.
func Hash(raw []byte) string {
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

// Parse decodes and validates a policy from raw YAML bytes. Unknown keys
// at any depth are rejected. Missing defaults are filled before decoding
// (version "0.1", timezone UTC, mode enforce, decision deny).
func Parse(raw []byte) (*Policy, error) {
	p := Policy{
		Version:  "0.1",
		Timezone: "UTC",
		Defaults: Defaults{Mode: ModeEnforce, Decision: DecisionDeny},
	}
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&p); err != nil {
		return nil, fmt.Errorf("parse policy YAML: %w", err)
	}
	// Reject a second YAML document in the same file.
	if err := dec.Decode(new(any)); err != io.EOF {
		return nil, fmt.Errorf("policy file must contain a single YAML document")
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("policy validation failed: %w", err)
	}
	return &p, nil
}

// Load reads, parses and validates a policy file. It returns the typed
// policy together with the content hash of the raw source bytes.
func Load(path string) (*Policy, string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, "", &LoadError{Path: path, Err: err}
	}
	p, err := Parse(raw)
	if err != nil {
		return nil, "", &LoadError{Path: path, Err: err}
	}
	return p, Hash(raw), nil
}
