package encodeidmap

import errs "github.com/ruizhang0519/encodeidmap/errors"

// MaxGroups is the fixed upper bound on distinct group ids, matching the
// original's Groups.MAX_NUMBER_OF_GROUPS.
const MaxGroups = 256

// Group namespaces input identifiers: (id, group) is the effective lookup
// key, so the same input identifier can appear in two different groups
// without colliding.
type Group struct {
	ID   uint16
	Name string
}

// Groups is a registry of every group a mapper has seen, indexed directly
// by group id (not insertion order) so name lookups during duplicate
// reporting stay O(1) — the same layout as the original's
// groups[MAX_NUMBER_OF_GROUPS] array keyed by group.id().
type Groups struct {
	table [MaxGroups]*Group
}

// NewGroups returns an empty group registry.
func NewGroups() *Groups {
	return &Groups{}
}

// Register records group, or is a no-op if that id was already registered
// (the first-registered name is kept, even if group.Name differs). Returns
// ErrTooManyGroups if group.ID is out of range.
func (g *Groups) Register(group Group) error {
	if int(group.ID) >= MaxGroups {
		return errs.ErrTooManyGroups
	}
	if g.table[group.ID] == nil {
		gg := group
		g.table[group.ID] = &gg
	}
	return nil
}

// NameOf returns the display name registered for id, or "" if none was.
func (g *Groups) NameOf(id uint16) string {
	if int(id) >= MaxGroups || g.table[id] == nil {
		return ""
	}
	return g.table[id].Name
}
