package schema

import (
	"sort"
	"strings"
	"sync"

	"github.com/rzpsarthak13/featuresync/internal/core"
)

// Column names every source document carries that never reach a destination.
const (
	ChangeColumn = "__change__"
	GMLIDColumn  = "gml_id"
)

// wideIntegerToken marks columns whose values exceed float precision in JSON.
const wideIntegerToken = "sufi"

// IsWideIntegerColumn reports whether a column carries 64-bit identifiers
// that must be stored as text.
func IsWideIntegerColumn(name string) bool {
	return strings.Contains(name, wideIntegerToken)
}

// OptionalColumnSet is the set of transient column names for one run.
// It grows as layers add their discard lists and never shrinks.
type OptionalColumnSet struct {
	mu    sync.RWMutex
	names map[string]struct{}
}

// NewOptionalColumnSet creates a set seeded with the synthetic change and id columns.
func NewOptionalColumnSet(extra ...string) *OptionalColumnSet {
	s := &OptionalColumnSet{names: map[string]struct{}{
		ChangeColumn: {},
		GMLIDColumn:  {},
	}}
	s.Add(extra...)
	return s
}

// Add extends the set. Blank names are ignored.
func (s *OptionalColumnSet) Add(names ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n != "" {
			s.names[n] = struct{}{}
		}
	}
}

// Contains reports whether name is optional.
func (s *OptionalColumnSet) Contains(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.names[name]
	return ok
}

// Names returns the members in sorted order.
func (s *OptionalColumnSet) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.names))
	for n := range s.names {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// DestinationFields filters source fields down to the destination layout:
// optional columns are dropped and wide-integer columns become strings.
// Reconciler and transcoder both derive their layouts from this iteration.
func DestinationFields(src []core.FieldDefinition, optional *OptionalColumnSet) []core.FieldDefinition {
	out := make([]core.FieldDefinition, 0, len(src))
	for _, f := range src {
		if optional.Contains(f.Name) {
			continue
		}
		if IsWideIntegerColumn(f.Name) {
			f = core.FieldDefinition{Name: f.Name, Type: core.FieldString}
		}
		out = append(out, f)
	}
	return out
}
