// Package metadata describes parameters for presentation: labels, units,
// enumerations, and the access level used by the standard-only filter.
//
// Metadata is advisory. Nothing here is enforced against staged values.
package metadata

import (
	"context"
	"strings"
)

const (
	AccessStandard = "standard"
	AccessAdvanced = "advanced"
)

// Range is the documented value range of a parameter.
type Range struct {
	Min float64 `toml:"min" json:"min"`
	Max float64 `toml:"max" json:"max"`
}

// Contains reports whether v lies inside the range bounds.
func (r Range) Contains(v float64) bool {
	return v >= r.Min && v <= r.Max
}

// Entry is the metadata for one parameter name.
type Entry struct {
	AccessLevel    string            `toml:"access_level" json:"access_level,omitempty"`
	Label          string            `toml:"label" json:"label,omitempty"`
	Description    string            `toml:"description" json:"description,omitempty"`
	Units          string            `toml:"units" json:"units,omitempty"`
	Values         map[string]string `toml:"values" json:"values,omitempty"`
	Bitmask        map[string]string `toml:"bitmask" json:"bitmask,omitempty"`
	Range          *Range            `toml:"range" json:"range,omitempty"`
	RebootRequired bool              `toml:"reboot_required" json:"reboot_required,omitempty"`
}

// Standard reports whether the entry belongs in the standard-only view.
// Blank access levels count as standard.
func (e Entry) Standard() bool {
	level := strings.ToLower(strings.TrimSpace(e.AccessLevel))
	return level == "" || level == AccessStandard
}

// Catalog maps parameter names to metadata. A nil Catalog is valid and empty.
type Catalog map[string]Entry

// Lookup returns the entry for name, if any.
func (c Catalog) Lookup(name string) (Entry, bool) {
	if c == nil {
		return Entry{}, false
	}
	e, ok := c[name]
	return e, ok
}

// IsStandard applies the standard-only rule; unknown names are standard.
func (c Catalog) IsStandard(name string) bool {
	e, ok := c.Lookup(name)
	if !ok {
		return true
	}
	return e.Standard()
}

// Provider supplies a catalog for a device type hint.
type Provider interface {
	Fetch(ctx context.Context, deviceTypeHint string) (Catalog, error)
}

// StaticProvider serves one fixed catalog for every hint.
type StaticProvider struct {
	Catalog Catalog
}

func (p StaticProvider) Fetch(_ context.Context, _ string) (Catalog, error) {
	return p.Catalog, nil
}
