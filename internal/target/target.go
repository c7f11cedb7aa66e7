// Package target holds the monitored endpoint set: the Target model, the
// atomically swapped Registry snapshot, the providers targets are loaded
// from, and the Syncer that refreshes the registry on an interval.
package target

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Target is a monitored endpoint, identified by ID within Prefix
type Target struct {
	ID      string `json:"id" yaml:"id" mapstructure:"id"`
	Address string `json:"address" yaml:"address" mapstructure:"address"`
	Prefix  string `json:"prefix" yaml:"prefix" mapstructure:"prefix"`
}

// Key returns the identity of the target as "prefix:id"
func (t Target) Key() string {
	return t.Prefix + ":" + t.ID
}

// String returns a human-readable representation for logs
func (t Target) String() string {
	return fmt.Sprintf("%s (%s)", t.Key(), t.Address)
}

// Validate checks that all identity and address fields are present
func (t Target) Validate() error {
	if strings.TrimSpace(t.ID) == "" {
		return fmt.Errorf("id is required")
	}
	if strings.TrimSpace(t.Address) == "" {
		return fmt.Errorf("target %q: address is required", t.ID)
	}
	if strings.TrimSpace(t.Prefix) == "" {
		return fmt.Errorf("target %q: prefix is required", t.ID)
	}
	return nil
}

// Parse decodes one provider record: {"id": ..., "address": ..., "prefix": ...}
func Parse(data []byte) (Target, error) {
	var t Target
	if err := json.Unmarshal(data, &t); err != nil {
		return Target{}, fmt.Errorf("invalid target record: %w", err)
	}
	if err := t.Validate(); err != nil {
		return Target{}, fmt.Errorf("invalid target record: %w", err)
	}
	return t, nil
}

// Dedupe drops later targets whose key was already seen, keeping order
func Dedupe(targets []Target) []Target {
	seen := make(map[string]struct{}, len(targets))
	out := make([]Target, 0, len(targets))
	for _, t := range targets {
		if _, dup := seen[t.Key()]; dup {
			continue
		}
		seen[t.Key()] = struct{}{}
		out = append(out, t)
	}
	return out
}
