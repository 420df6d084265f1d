package engine

import (
	"fmt"
	"sort"
	"strings"

	"github.com/danmuck/paramctl/internal/metadata"
)

// FilterMode selects which parameters a view shows.
type FilterMode string

const (
	FilterAll      FilterMode = "all"
	FilterModified FilterMode = "modified"
	FilterStandard FilterMode = "standard"

	// DefaultFilterMode applies at start and after every disconnect.
	DefaultFilterMode = FilterStandard
)

// ParseFilterMode resolves a mode name; blank selects DefaultFilterMode.
func ParseFilterMode(raw string) (FilterMode, error) {
	switch FilterMode(strings.ToLower(strings.TrimSpace(raw))) {
	case "":
		return DefaultFilterMode, nil
	case FilterAll:
		return FilterAll, nil
	case FilterModified, "staged":
		return FilterModified, nil
	case FilterStandard:
		return FilterStandard, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidFilterMode, raw)
	}
}

// Classify returns the visible parameter names for mode and search, sorted
// by name. The universe is every authoritative name plus every staged name.
// It does not mutate its inputs.
func Classify(store Store, staged StagingSet, catalog metadata.Catalog, mode FilterMode, search string) []string {
	names := make([]string, 0, len(store)+len(staged))
	for name := range store {
		names = append(names, name)
	}
	for name := range staged {
		if _, ok := store[name]; !ok {
			names = append(names, name)
		}
	}

	needle := strings.ToLower(strings.TrimSpace(search))
	out := names[:0]
	for _, name := range names {
		if !modeAllows(mode, name, staged, catalog) {
			continue
		}
		if needle != "" && !matchesSearch(name, needle, catalog) {
			continue
		}
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func modeAllows(mode FilterMode, name string, staged StagingSet, catalog metadata.Catalog) bool {
	switch mode {
	case FilterModified:
		_, ok := staged[name]
		return ok
	case FilterStandard:
		return catalog.IsStandard(name)
	default:
		return true
	}
}

func matchesSearch(name, needle string, catalog metadata.Catalog) bool {
	if strings.Contains(strings.ToLower(name), needle) {
		return true
	}
	meta, ok := catalog.Lookup(name)
	if !ok {
		return false
	}
	return strings.Contains(strings.ToLower(meta.Label), needle) ||
		strings.Contains(strings.ToLower(meta.Description), needle)
}

// Group is one prefix bucket of a classified list.
type Group struct {
	Prefix string   `json:"prefix"`
	Names  []string `json:"names"`
}

// GroupByPrefix buckets names by the text before their first underscore,
// preserving input order within and across groups.
func GroupByPrefix(names []string) []Group {
	out := make([]Group, 0)
	index := make(map[string]int)
	for _, name := range names {
		prefix := name
		if i := strings.IndexByte(name, '_'); i > 0 {
			prefix = name[:i]
		}
		at, ok := index[prefix]
		if !ok {
			at = len(out)
			index[prefix] = at
			out = append(out, Group{Prefix: prefix})
		}
		out[at].Names = append(out[at].Names, name)
	}
	return out
}
