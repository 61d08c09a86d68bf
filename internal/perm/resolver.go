package perm

// Overlay supplies uncommitted permission sets that shadow a role's
// persisted grants during resolution. A staged editing session implements
// this; a nil Overlay means no staged changes.
type Overlay interface {
	// Lookup returns the staged set for the exact (section, subsection)
	// key, if one has been staged.
	Lookup(section, subsection string) (Set, bool)
}

// Resolve answers whether the role may perform kind on (section, subsection).
// An empty subsection addresses the section itself.
//
// Resolution order: super-admin roles are granted unconditionally; a staged
// entry for the exact key shadows the persisted grant; a subsection with no
// entry of its own inherits the section-level set; view is satisfied by any
// stronger permission, edit and upload only literally.
func Resolve(role Role, pending Overlay, section, subsection string, kind Kind) bool {
	if role.IsSuperAdmin {
		return true
	}
	set, ok := resolveSet(role, pending, section, subsection)
	if !ok {
		return false
	}
	if kind == KindView {
		return set.Has(KindView) || set.Has(KindEdit) || set.Has(KindUpload)
	}
	return set.Has(kind)
}

// EffectiveSet returns the permission set the console should display for
// (section, subsection), honoring staged shadowing and subsection
// inheritance. The second return is false when the section is unknown to
// the role and nothing is staged for it.
func EffectiveSet(role Role, pending Overlay, section, subsection string) (Set, bool) {
	return resolveSet(role, pending, section, subsection)
}

func resolveSet(role Role, pending Overlay, section, subsection string) (Set, bool) {
	if pending != nil {
		if set, ok := pending.Lookup(section, subsection); ok {
			return set, true
		}
	}
	grant, ok := role.GrantFor(section)
	if !ok {
		return nil, false
	}
	decl, declared := SectionByName(section)
	if subsection != "" && declared && decl.HasSubsections() {
		if sg, ok := grant.SubGrantFor(subsection); ok {
			return sg.Set, true
		}
		// An unconfigured subsection inherits the parent section's set.
	}
	return grant.Set, true
}
