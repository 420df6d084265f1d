package engine

import (
	"github.com/danmuck/paramctl/internal/metadata"
	"github.com/danmuck/paramctl/internal/params"
)

// View is an immutable snapshot of engine state.
type View struct {
	Version     uint64           `json:"version"`
	Session     string           `json:"session"`
	Connected   bool             `json:"connected"`
	Applying    bool             `json:"applying"`
	Store       Store            `json:"-"`
	Staged      StagingSet       `json:"staged"`
	StagedCount int              `json:"staged_count"`
	Progress    params.Progress  `json:"progress"`
	Catalog     metadata.Catalog `json:"-"`
}

// Summary is the wire-friendly subset of a View pushed to observers.
type Summary struct {
	Version     uint64          `json:"version"`
	Session     string          `json:"session"`
	Connected   bool            `json:"connected"`
	Applying    bool            `json:"applying"`
	ParamCount  int             `json:"param_count"`
	StagedCount int             `json:"staged_count"`
	Staged      []params.Entry  `json:"staged"`
	Progress    params.Progress `json:"progress"`
}

func (v *View) Summary() Summary {
	return Summary{
		Version:     v.Version,
		Session:     v.Session,
		Connected:   v.Connected,
		Applying:    v.Applying,
		ParamCount:  len(v.Store),
		StagedCount: v.StagedCount,
		Staged:      v.Staged.Entries(),
		Progress:    v.Progress,
	}
}

// Classify filters this view; see the package-level Classify.
func (v *View) Classify(mode FilterMode, search string) []string {
	return Classify(v.Store, v.Staged, v.Catalog, mode, search)
}

// Row is one parameter as presented in a table.
type Row struct {
	Name     string          `json:"name"`
	Known    bool            `json:"known"`
	Type     params.Type     `json:"type"`
	Value    *float64        `json:"value,omitempty"`
	Display  string          `json:"display,omitempty"`
	Staged   *float64        `json:"staged,omitempty"`
	Metadata *metadata.Entry `json:"metadata,omitempty"`
}

// Row resolves one name against store, staging set, and catalog.
func (v *View) Row(name string) (Row, bool) {
	p, known := v.Store[name]
	pending, staged := v.Staged[name]
	if !known && !staged {
		return Row{}, false
	}
	row := Row{Name: name, Known: known}
	if known {
		row.Type = p.Type
		row.Value = params.Float64Ptr(p.Value)
		row.Display = p.Type.Format(p.Value)
	}
	if staged {
		row.Staged = params.Float64Ptr(pending)
	}
	if meta, ok := v.Catalog.Lookup(name); ok {
		row.Metadata = &meta
	}
	return row, true
}

// DiffEntry is one staged change next to its authoritative value.
type DiffEntry struct {
	Name           string      `json:"name"`
	Type           params.Type `json:"type"`
	Known          bool        `json:"known"`
	Current        *float64    `json:"current,omitempty"`
	Staged         float64     `json:"staged"`
	Label          string      `json:"label,omitempty"`
	Units          string      `json:"units,omitempty"`
	RebootRequired bool        `json:"reboot_required,omitempty"`
	// OutOfRange is advisory; the device decides.
	OutOfRange bool `json:"out_of_range,omitempty"`
}

// Diff lists staged entries in name order.
func (v *View) Diff() []DiffEntry {
	out := make([]DiffEntry, 0, len(v.Staged))
	for _, name := range v.Staged.Names() {
		entry := DiffEntry{Name: name, Staged: v.Staged[name]}
		if p, ok := v.Store[name]; ok {
			entry.Known = true
			entry.Type = p.Type
			entry.Current = params.Float64Ptr(p.Value)
		}
		if meta, ok := v.Catalog.Lookup(name); ok {
			entry.Label = meta.Label
			entry.Units = meta.Units
			entry.RebootRequired = meta.RebootRequired
			if meta.Range != nil {
				entry.OutOfRange = !meta.Range.Contains(entry.Staged)
			}
		}
		out = append(out, entry)
	}
	return out
}
