package perm

import (
	"errors"
	"fmt"
)

// ErrCoverage indicates a grant array that does not cover the declared
// taxonomy exactly. A save request missing a declared section would
// silently blank that section's permissions; it is rejected before it can
// reach persistence.
var ErrCoverage = errors.New("perm: grant array does not cover the declared taxonomy")

// ValidateCoverage checks that grants carry every declared section exactly
// once, no undeclared sections, and no undeclared or duplicate subsections.
func ValidateCoverage(grants []SectionGrant) error {
	seen := make(map[string]bool, len(grants))
	for _, g := range grants {
		decl, ok := SectionByName(g.Section)
		if !ok {
			return fmt.Errorf("%w: undeclared section %q", ErrCoverage, g.Section)
		}
		if seen[g.Section] {
			return fmt.Errorf("%w: section %q appears twice", ErrCoverage, g.Section)
		}
		seen[g.Section] = true
		subSeen := make(map[string]bool, len(g.SubGrants))
		for _, sg := range g.SubGrants {
			if !decl.DeclaresSubsection(sg.Subsection) {
				return fmt.Errorf("%w: undeclared subsection %q in %q", ErrCoverage, sg.Subsection, g.Section)
			}
			if subSeen[sg.Subsection] {
				return fmt.Errorf("%w: subsection %q appears twice in %q", ErrCoverage, sg.Subsection, g.Section)
			}
			subSeen[sg.Subsection] = true
		}
	}
	for _, s := range Taxonomy() {
		if !seen[s.Name] {
			return fmt.Errorf("%w: section %q missing", ErrCoverage, s.Name)
		}
	}
	return nil
}
