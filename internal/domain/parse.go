package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
)

// decodeStrict unmarshals a single JSON value rejecting unknown fields at
// any depth and trailing garbage after the value.
func decodeStrict(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if dec.More() {
		return fmt.Errorf("trailing data after JSON value")
	}
	return nil
}

// ParseIntent decodes and validates an OrderIntent from JSON.
func ParseIntent(data []byte) (*OrderIntent, error) {
	var o OrderIntent
	if err := decodeStrict(data, &o); err != nil {
		return nil, fmt.Errorf("invalid order intent: %w", err)
	}
	if err := o.Validate(); err != nil {
		return nil, fmt.Errorf("invalid order intent: %w", err)
	}
	return &o, nil
}

// ParsePortfolio decodes and validates a PortfolioState from JSON.
func ParsePortfolio(data []byte) (*PortfolioState, error) {
	var p PortfolioState
	if err := decodeStrict(data, &p); err != nil {
		return nil, fmt.Errorf("invalid portfolio state: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("invalid portfolio state: %w", err)
	}
	return &p, nil
}

// ParseMarket decodes and validates a MarketSnapshot from JSON.
func ParseMarket(data []byte) (*MarketSnapshot, error) {
	var m MarketSnapshot
	if err := decodeStrict(data, &m); err != nil {
		return nil, fmt.Errorf("invalid market snapshot: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("invalid market snapshot: %w", err)
	}
	return &m, nil
}

// ParseExecution decodes and validates an ExecutionState from JSON.
func ParseExecution(data []byte) (*ExecutionState, error) {
	var e ExecutionState
	if err := decodeStrict(data, &e); err != nil {
		return nil, fmt.Errorf("invalid execution state: %w", err)
	}
	if err := e.Validate(); err != nil {
		return nil, fmt.Errorf("invalid execution state: %w", err)
	}
	return &e, nil
}

// LoadIntentFile reads and parses an OrderIntent JSON file.
func LoadIntentFile(path string) (*OrderIntent, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read intent file: %w", err)
	}
	return ParseIntent(data)
}

// LoadPortfolioFile reads and parses a PortfolioState JSON file.
func LoadPortfolioFile(path string) (*PortfolioState, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read portfolio file: %w", err)
	}
	return ParsePortfolio(data)
}

// LoadMarketFile reads and parses a MarketSnapshot JSON file.
func LoadMarketFile(path string) (*MarketSnapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read market file: %w", err)
	}
	return ParseMarket(data)
}

// LoadExecutionFile reads and parses an ExecutionState JSON file.
func LoadExecutionFile(path string) (*ExecutionState, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read execution file: %w", err)
	}
	return ParseExecution(data)
}

// LoadIntentsJSONL reads a JSONL file of OrderIntents, one per line.
// Blank lines are skipped.
func LoadIntentsJSONL(path string) ([]OrderIntent, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read intents file: %w", err)
	}
	var intents []OrderIntent
	for i, line := range bytes.Split(data, []byte("\n")) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		intent, err := ParseIntent(line)
		if err != nil {
			return nil, fmt.Errorf("intents line %d: %w", i+1, err)
		}
		intents = append(intents, *intent)
	}
	return intents, nil
}
