package perm

import "time"

// SubGrant is the permission set a role holds on one subsection.
type SubGrant struct {
	Subsection string
	Set        Set
}

// SectionGrant is the permission state a role holds on one section,
// including its subsection grants when the section declares any.
type SectionGrant struct {
	Section   string
	Set       Set
	SubGrants []SubGrant
}

// SubGrantFor returns the sub-grant for the named subsection, if present.
func (g SectionGrant) SubGrantFor(subsection string) (SubGrant, bool) {
	for _, sg := range g.SubGrants {
		if sg.Subsection == subsection {
			return sg, true
		}
	}
	return SubGrant{}, false
}

// Role is an operator role with its persisted grants. Super-admin roles
// resolve every query to granted regardless of stored grants; the stored
// grants stay visible for bookkeeping but are never consulted at runtime.
type Role struct {
	ID                 int64
	Name               string
	Description        string
	IsSuperAdmin       bool
	CanEditPermissions bool
	Grants             []SectionGrant
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// GrantFor returns the role's grant for the named section, if present.
func (r Role) GrantFor(section string) (SectionGrant, bool) {
	for _, g := range r.Grants {
		if g.Section == section {
			return g, true
		}
	}
	return SectionGrant{}, false
}
