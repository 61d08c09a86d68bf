// Package staged accumulates uncommitted permission changes for one role
// across an operator's editing session, and assembles the atomic save
// request that replaces the role's persisted grants.
package staged

import (
	"github.com/meridian-commerce/meridian-admin/internal/perm"
)

// PendingChangeSet holds the staged permission sets for one role, keyed by
// section and subsection. The empty subsection key addresses the section
// itself. The zero value is not usable; use NewPendingChangeSet.
type PendingChangeSet struct {
	RoleID  int64                          `json:"role_id"`
	Entries map[string]map[string][]string `json:"entries"`
}

// NewPendingChangeSet builds an empty change set for the role.
func NewPendingChangeSet(roleID int64) *PendingChangeSet {
	return &PendingChangeSet{RoleID: roleID, Entries: make(map[string]map[string][]string)}
}

// Stage records or overwrites the staged set for the exact key.
func (p *PendingChangeSet) Stage(section, subsection string, set perm.Set) {
	if p.Entries == nil {
		p.Entries = make(map[string]map[string][]string)
	}
	subs, ok := p.Entries[section]
	if !ok {
		subs = make(map[string][]string)
		p.Entries[section] = subs
	}
	subs[subsection] = set.Strings()
}

// Lookup implements perm.Overlay: it returns the staged set for the exact
// (section, subsection) key.
func (p *PendingChangeSet) Lookup(section, subsection string) (perm.Set, bool) {
	if p == nil {
		return nil, false
	}
	subs, ok := p.Entries[section]
	if !ok {
		return nil, false
	}
	values, ok := subs[subsection]
	if !ok {
		return nil, false
	}
	return perm.SetFromStrings(values), true
}

// Empty reports whether nothing has been staged.
func (p *PendingChangeSet) Empty() bool {
	if p == nil {
		return true
	}
	for _, subs := range p.Entries {
		if len(subs) > 0 {
			return false
		}
	}
	return true
}

// BuildSaveRequest assembles the full grant array to persist for the role.
// The result covers every declared section exactly once, including sections
// untouched by this editing session: a save never drops or blanks a section
// because it was not edited.
//
// Subsectioned sections take, per declared subsection, the staged set if
// present, else the persisted sub-grant, else empty; the section's own
// top-level set is carried through from the persisted role unchanged.
// Flat sections take the staged set if present, else the persisted set.
func BuildSaveRequest(pending *PendingChangeSet, role perm.Role) []perm.SectionGrant {
	out := make([]perm.SectionGrant, 0, len(perm.Taxonomy()))
	for _, section := range perm.Taxonomy() {
		persisted, hasPersisted := role.GrantFor(section.Name)
		if section.HasSubsections() {
			grant := perm.SectionGrant{Section: section.Name, Set: perm.NewSet()}
			if hasPersisted {
				grant.Set = persisted.Set.Clone().Normalize()
			}
			for _, sub := range section.Subsections {
				set := perm.NewSet()
				if staged, ok := pending.Lookup(section.Name, sub); ok {
					set = staged
				} else if hasPersisted {
					if sg, ok := persisted.SubGrantFor(sub); ok {
						set = sg.Set.Clone().Normalize()
					}
				}
				grant.SubGrants = append(grant.SubGrants, perm.SubGrant{Subsection: sub, Set: set})
			}
			out = append(out, grant)
			continue
		}
		set := perm.NewSet()
		if staged, ok := pending.Lookup(section.Name, ""); ok {
			set = staged
		} else if hasPersisted {
			set = persisted.Set.Clone().Normalize()
		}
		out = append(out, perm.SectionGrant{Section: section.Name, Set: set})
	}
	return out
}
