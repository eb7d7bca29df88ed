// Package manifest parses rollout manifests into coordination units.
//
// Two formats are supported: the native YAML rollout manifest, and a
// Docker Compose file whose services and depends_on edges are imported
// as units and prerequisites.
package manifest

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/atlasdeploy/cascade/internal/core/domain"
)

// =============================================================================
// Errors
// =============================================================================

var (
	// ErrEmptyManifest is returned for an empty or whitespace-only input.
	ErrEmptyManifest = errors.New("manifest is empty")

	// ErrNoUnits is returned when a manifest declares no units.
	ErrNoUnits = errors.New("manifest declares no units")

	// ErrDuplicateUnit is returned when two units share a name.
	ErrDuplicateUnit = errors.New("duplicate unit name")

	// ErrUnknownNeed is returned when a unit needs a unit that is not
	// declared in the same manifest.
	ErrUnknownNeed = errors.New("unit needs an undeclared unit")
)

// =============================================================================
// Manifest Types
// =============================================================================

// UnitSpec is one unit entry in a rollout manifest.
type UnitSpec struct {
	Name   string            `yaml:"name"`
	Needs  []string          `yaml:"needs,omitempty"`
	Image  string            `yaml:"image,omitempty"`
	Target string            `yaml:"target,omitempty"`
	Env    map[string]string `yaml:"env,omitempty"`
}

// Manifest is a parsed rollout manifest.
type Manifest struct {
	Version string     `yaml:"version,omitempty"`
	Units   []UnitSpec `yaml:"units"`
}

// =============================================================================
// Parsing
// =============================================================================

// Parse parses the native YAML rollout manifest. Unit names must be
// unique and every prerequisite must be declared in the same manifest.
func Parse(content []byte) (*Manifest, error) {
	if strings.TrimSpace(string(content)) == "" {
		return nil, ErrEmptyManifest
	}

	var m Manifest
	if err := yaml.Unmarshal(content, &m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	if len(m.Units) == 0 {
		return nil, ErrNoUnits
	}

	names := make(map[string]bool, len(m.Units))
	for _, u := range m.Units {
		if u.Name == "" {
			return nil, fmt.Errorf("unit with empty name: %w", ErrNoUnits)
		}
		if names[u.Name] {
			return nil, fmt.Errorf("unit %q: %w", u.Name, ErrDuplicateUnit)
		}
		names[u.Name] = true
	}
	for _, u := range m.Units {
		for _, need := range u.Needs {
			if !names[need] {
				return nil, fmt.Errorf("unit %q needs %q: %w", u.Name, need, ErrUnknownNeed)
			}
		}
	}

	return &m, nil
}

// DomainUnits converts the manifest's unit specs into coordination units,
// preserving declaration order.
func (m *Manifest) DomainUnits() []domain.Unit {
	units := make([]domain.Unit, 0, len(m.Units))
	for _, u := range m.Units {
		units = append(units, domain.Unit{
			ID:     u.Name,
			Needs:  append([]string(nil), u.Needs...),
			Image:  u.Image,
			Target: u.Target,
			Env:    u.Env,
		})
	}
	return units
}

// sortedKeys returns map keys in stable order.
func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
