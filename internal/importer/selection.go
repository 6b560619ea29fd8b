// ABOUTME: Selection set over import candidates keyed by external ID.
// ABOUTME: Severity filters change visibility only; bulk actions touch visible candidates only.

package importer

import (
	"sort"

	"github.com/jfeddern/VulnLedger/internal/types"
)

// Filter narrows which candidates are displayed. An empty filter shows everything.
type Filter struct {
	Severities map[types.Severity]bool
}

// SeverityFilter shows only candidates with one of the given severities
func SeverityFilter(severities ...types.Severity) Filter {
	f := Filter{Severities: make(map[types.Severity]bool, len(severities))}
	for _, severity := range severities {
		f.Severities[severity] = true
	}
	return f
}

// Matches reports whether candidate is displayed under f
func (f Filter) Matches(candidate types.ImportCandidate) bool {
	if len(f.Severities) == 0 {
		return true
	}
	return f.Severities[candidate.Severity]
}

// Visible returns the candidates displayed under f, in input order
func (f Filter) Visible(candidates []types.ImportCandidate) []types.ImportCandidate {
	visible := make([]types.ImportCandidate, 0, len(candidates))
	for _, candidate := range candidates {
		if f.Matches(candidate) {
			visible = append(visible, candidate)
		}
	}
	return visible
}

// Selection is the set of candidate external IDs chosen for import. It survives filter
// changes because it is keyed by identifier rather than by display position.
type Selection struct {
	selected map[string]struct{}
}

// NewSelection creates a selection containing ids
func NewSelection(ids ...string) *Selection {
	s := &Selection{selected: make(map[string]struct{}, len(ids))}
	for _, id := range ids {
		s.Select(id)
	}
	return s
}

func (s *Selection) Select(id string) {
	if id != "" {
		s.selected[id] = struct{}{}
	}
}

func (s *Selection) Deselect(id string) {
	delete(s.selected, id)
}

func (s *Selection) Toggle(id string) {
	if s.IsSelected(id) {
		s.Deselect(id)
		return
	}
	s.Select(id)
}

func (s *Selection) IsSelected(id string) bool {
	_, ok := s.selected[id]
	return ok
}

func (s *Selection) Len() int {
	return len(s.selected)
}

// IDs returns the selected identifiers in sorted order
func (s *Selection) IDs() []string {
	ids := make([]string, 0, len(s.selected))
	for id := range s.selected {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// SelectAllVisible adds every candidate displayed under filter and returns how many were added
func (s *Selection) SelectAllVisible(candidates []types.ImportCandidate, filter Filter) int {
	added := 0
	for _, candidate := range filter.Visible(candidates) {
		if !s.IsSelected(candidate.ExternalID) {
			s.Select(candidate.ExternalID)
			added++
		}
	}
	return added
}

// DeselectAllVisible removes every candidate displayed under filter and returns how many were removed
func (s *Selection) DeselectAllVisible(candidates []types.ImportCandidate, filter Filter) int {
	removed := 0
	for _, candidate := range filter.Visible(candidates) {
		if s.IsSelected(candidate.ExternalID) {
			s.Deselect(candidate.ExternalID)
			removed++
		}
	}
	return removed
}

// ToggleAllVisible behaves like a "select all" checkbox: when every displayed candidate is
// already selected they are all removed, otherwise they are all added.
func (s *Selection) ToggleAllVisible(candidates []types.ImportCandidate, filter Filter) {
	visible := filter.Visible(candidates)
	if len(visible) == 0 {
		return
	}
	for _, candidate := range visible {
		if !s.IsSelected(candidate.ExternalID) {
			s.SelectAllVisible(candidates, filter)
			return
		}
	}
	s.DeselectAllVisible(candidates, filter)
}
