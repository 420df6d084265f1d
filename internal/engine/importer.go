package engine

import (
	"sort"
	"strings"

	"github.com/danmuck/paramctl/internal/params"
)

// ImportReport summarises one file import.
type ImportReport struct {
	Total    int      `json:"total"`
	Staged   int      `json:"staged"`
	Skipped  int      `json:"skipped"`
	Rejected int      `json:"rejected"`
	Unknown  []string `json:"unknown,omitempty"`
}

// importEntries stages every entry that differs from the authoritative value
// beyond tolerance. Names the store has never seen are staged as-is. The
// store itself is never written.
func (s *state) importEntries(entries map[string]float64) ImportReport {
	report := ImportReport{Total: len(entries)}
	names := make([]string, 0, len(entries))
	for name := range entries {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, raw := range names {
		value := entries[raw]
		name := strings.TrimSpace(raw)
		if name == "" || !params.Finite(value) {
			report.Rejected++
			continue
		}
		current, known := s.store[name]
		if known && s.tolerance.Within(current.Type, current.Value, value) {
			report.Skipped++
			continue
		}
		if err := s.stage(name, value); err != nil {
			report.Rejected++
			continue
		}
		if !known {
			report.Unknown = append(report.Unknown, name)
		}
		report.Staged++
	}
	return report
}
