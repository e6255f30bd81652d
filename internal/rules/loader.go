package rules

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/pytake/backend/internal/types"
	"gopkg.in/yaml.v3"
)

// File is the on-disk rules document
type File struct {
	Rules []types.AssignmentRule `yaml:"rules"`
}

// Parse decodes a rules document and builds a rule set.
// Unknown keys are rejected.
func Parse(data []byte) (*RuleSet, error) {
	var f File
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to decode rules: %w", err)
	}
	return NewRuleSet(f.Rules)
}

// LoadFile reads and parses a rules file
func LoadFile(path string) (*RuleSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rules file: %w", err)
	}
	rs, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return rs, nil
}

// Marshal encodes rules back into the on-disk format
func Marshal(rules []types.AssignmentRule) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(File{Rules: rules}); err != nil {
		return nil, fmt.Errorf("failed to encode rules: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
