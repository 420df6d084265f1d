package engine

import (
	"github.com/danmuck/paramctl/internal/params"
	"github.com/google/uuid"
)

const errNoResult = "no result returned"

// EntryOutcome is the per-name result of one batch apply.
type EntryOutcome struct {
	Name        string   `json:"name"`
	Submitted   float64  `json:"submitted"`
	Succeeded   bool     `json:"succeeded"`
	Confirmed   *float64 `json:"confirmed,omitempty"`
	Error       string   `json:"error,omitempty"`
	StillStaged bool     `json:"still_staged"`
}

// ApplyReport partitions a batch apply into successes and failures.
type ApplyReport struct {
	ApplyID   string         `json:"apply_id,omitempty"`
	Session   string         `json:"session,omitempty"`
	Requested int            `json:"requested"`
	Succeeded int            `json:"succeeded"`
	Failed    int            `json:"failed"`
	Stale     bool           `json:"stale,omitempty"`
	Outcomes  []EntryOutcome `json:"outcomes,omitempty"`
}

// applySnapshot is the immutable request captured at apply start.
type applySnapshot struct {
	id        string
	session   string
	entries   []params.Entry
	submitted map[string]float64
}

func (s *state) beginApply() (applySnapshot, error) {
	if s.inflight != "" {
		return applySnapshot{}, ErrApplyInProgress
	}
	entries := s.staged.Entries()
	snap := applySnapshot{
		session:   s.session,
		entries:   entries,
		submitted: make(map[string]float64, len(entries)),
	}
	for _, e := range entries {
		snap.submitted[e.Name] = e.Value
	}
	if len(entries) == 0 {
		return snap, nil
	}
	snap.id = uuid.NewString()
	s.inflight = snap.id
	s.dirty = true
	return snap, nil
}

// abortApply releases the in-flight marker after a wholesale transport
// failure. Staged values are untouched.
func (s *state) abortApply(snap applySnapshot) {
	if s.session != snap.session || s.inflight != snap.id {
		return
	}
	s.inflight = ""
	s.dirty = true
}

// completeApply merges per-entry results. A success confirms the value in
// the store and removes the staged entry only if it still holds the value
// that was submitted; a newer edit made during the call survives.
func (s *state) completeApply(snap applySnapshot, results []params.WriteResult) (ApplyReport, error) {
	report := ApplyReport{
		ApplyID:   snap.id,
		Session:   snap.session,
		Requested: len(snap.entries),
	}
	if s.session != snap.session {
		report.Stale = true
		return report, ErrStaleSession
	}
	if s.inflight == snap.id {
		s.inflight = ""
		s.dirty = true
	}

	byName := make(map[string]params.WriteResult, len(results))
	for _, r := range results {
		if _, requested := snap.submitted[r.Name]; !requested {
			continue
		}
		if _, dup := byName[r.Name]; dup {
			continue
		}
		byName[r.Name] = r
	}

	report.Outcomes = make([]EntryOutcome, 0, len(snap.entries))
	for _, e := range snap.entries {
		out := EntryOutcome{Name: e.Name, Submitted: e.Value}
		r, ok := byName[e.Name]
		switch {
		case !ok:
			out.Error = errNoResult
		case !r.Succeeded:
			out.Error = r.Error
		default:
			out.Succeeded = true
			confirmed := e.Value
			if r.ConfirmedValue != nil && params.Finite(*r.ConfirmedValue) {
				confirmed = *r.ConfirmedValue
			}
			out.Confirmed = params.Float64Ptr(confirmed)
			if current, known := s.store[e.Name]; known {
				current.Value = confirmed
				s.putAuthoritative(current)
			}
			if pending, staged := s.staged[e.Name]; staged && pending == e.Value {
				delete(s.staged, e.Name)
				s.dirty = true
			}
		}
		if out.Succeeded {
			report.Succeeded++
		} else {
			report.Failed++
		}
		_, out.StillStaged = s.staged[e.Name]
		report.Outcomes = append(report.Outcomes, out)
	}
	return report, nil
}
