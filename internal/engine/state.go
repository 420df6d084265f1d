package engine

import (
	"fmt"
	"sort"
	"strings"

	"github.com/danmuck/paramctl/internal/metadata"
	"github.com/danmuck/paramctl/internal/params"
	"github.com/google/uuid"
)

// Store is the authoritative name->Param mapping last confirmed by the device.
type Store = params.Snapshot

// StagingSet maps parameter names to pending, unconfirmed values.
type StagingSet map[string]float64

// Names returns staged names in lexicographic order.
func (s StagingSet) Names() []string {
	out := make([]string, 0, len(s))
	for name := range s {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Entries returns the staged values as a name-ordered write list.
func (s StagingSet) Entries() []params.Entry {
	out := make([]params.Entry, 0, len(s))
	for name, v := range s {
		out = append(out, params.Entry{Name: name, Value: v})
	}
	params.SortEntries(out)
	return out
}

// Clone returns an independent copy of the set.
func (s StagingSet) Clone() StagingSet {
	out := make(StagingSet, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// state is owned by the engine loop goroutine. Nothing outside Engine.Run
// touches it.
type state struct {
	store     Store
	staged    StagingSet
	catalog   metadata.Catalog
	session   string
	connected bool
	inflight  string
	progress  params.Progress
	tolerance params.Tolerance

	version uint64
	dirty   bool
}

func newState(tol params.Tolerance) *state {
	return &state{
		store:     make(Store),
		staged:    make(StagingSet),
		session:   newSessionToken(),
		tolerance: tol,
		dirty:     true,
	}
}

func newSessionToken() string {
	return uuid.NewString()
}

// settle enforces the staging invariant for one name: a staged value equal
// to the authoritative value is not a pending change and is dropped.
// Every path that touches staged or authoritative values ends here.
func (s *state) settle(name string) bool {
	pending, staged := s.staged[name]
	if !staged {
		return false
	}
	current, known := s.store[name]
	if !known {
		return false
	}
	if !current.Type.Equal(current.Value, pending) {
		return false
	}
	delete(s.staged, name)
	s.dirty = true
	return true
}

func (s *state) stage(name string, value float64) error {
	key, err := validateInput(name, value)
	if err != nil {
		return err
	}
	if current, ok := s.store[key]; ok {
		value = current.Type.Normalize(value)
	}
	s.staged[key] = value
	s.dirty = true
	s.settle(key)
	return nil
}

func (s *state) unstage(name string) bool {
	key := strings.TrimSpace(name)
	if _, ok := s.staged[key]; !ok {
		return false
	}
	delete(s.staged, key)
	s.dirty = true
	return true
}

func (s *state) unstageAll() int {
	n := len(s.staged)
	if n == 0 {
		return 0
	}
	s.staged = make(StagingSet)
	s.dirty = true
	return n
}

// putAuthoritative records one confirmed value and reconciles the staged
// entry for that name. It runs for every authoritative update regardless of
// which write path produced it.
func (s *state) putAuthoritative(p params.Param) bool {
	p.Name = strings.TrimSpace(p.Name)
	if p.Name == "" || !params.Finite(p.Value) {
		return false
	}
	s.store[p.Name] = p
	s.dirty = true
	return s.settle(p.Name)
}

// replaceStore swaps in a full download and reconciles each entry.
func (s *state) replaceStore(snap params.Snapshot) int {
	s.store = make(Store, len(snap))
	s.dirty = true
	settled := 0
	for _, name := range snap.Names() {
		p := snap[name]
		p.Name = name
		if s.putAuthoritative(p) {
			settled++
		}
	}
	return settled
}

// reset drops all session state and rotates the session token so results of
// calls started before the reset are recognised as stale.
func (s *state) reset() {
	s.store = make(Store)
	s.staged = make(StagingSet)
	s.progress = params.Progress{}
	s.inflight = ""
	s.connected = false
	s.session = newSessionToken()
	s.dirty = true
}

func (s *state) view() *View {
	s.version++
	return &View{
		Version:     s.version,
		Session:     s.session,
		Connected:   s.connected,
		Applying:    s.inflight != "",
		Store:       s.store.Clone(),
		Staged:      s.staged.Clone(),
		StagedCount: len(s.staged),
		Progress:    s.progress,
		Catalog:     s.catalog,
	}
}

func validateInput(name string, value float64) (string, error) {
	key := strings.TrimSpace(name)
	if key == "" {
		return "", ErrInvalidName
	}
	if !params.Finite(value) {
		return "", fmt.Errorf("%w: %s=%v", ErrInvalidValue, key, value)
	}
	return key, nil
}
