// Package perm implements the hierarchical permission model of the admin
// console: a closed section/subsection taxonomy, per-role grants with
// implication rules, and a side-effect free resolver.
package perm

import "sort"

// Kind is an atomic permission on a section or subsection.
type Kind string

const (
	// KindView allows reading a section's data.
	KindView Kind = "view"
	// KindEdit allows mutating a section's data. Implies view.
	KindEdit Kind = "edit"
	// KindUpload allows uploading files into a section. Implies view.
	KindUpload Kind = "upload"
)

// Kinds lists every permission kind in display order.
func Kinds() []Kind {
	return []Kind{KindView, KindEdit, KindUpload}
}

// IsValid reports whether k is a declared permission kind.
func (k Kind) IsValid() bool {
	switch k {
	case KindView, KindEdit, KindUpload:
		return true
	}
	return false
}

// Set is an unordered collection of permission kinds.
type Set map[Kind]struct{}

// NewSet builds a Set from the given kinds.
func NewSet(kinds ...Kind) Set {
	s := make(Set, len(kinds))
	for _, k := range kinds {
		s[k] = struct{}{}
	}
	return s
}

// Has reports whether the set contains k.
func (s Set) Has(k Kind) bool {
	_, ok := s[k]
	return ok
}

// Clone returns an independent copy of the set.
func (s Set) Clone() Set {
	out := make(Set, len(s))
	for k := range s {
		out[k] = struct{}{}
	}
	return out
}

// Equal reports whether both sets contain exactly the same kinds.
func (s Set) Equal(other Set) bool {
	if len(s) != len(other) {
		return false
	}
	for k := range s {
		if !other.Has(k) {
			return false
		}
	}
	return true
}

// Normalize repairs the implication invariant in place: edit or upload
// without view gains view. Returns the receiver for chaining.
func (s Set) Normalize() Set {
	if s.Has(KindEdit) || s.Has(KindUpload) {
		s[KindView] = struct{}{}
	}
	return s
}

// Slice returns the kinds in stable display order.
func (s Set) Slice() []Kind {
	out := make([]Kind, 0, len(s))
	for k := range s {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return kindRank(out[i]) < kindRank(out[j]) })
	return out
}

// Strings returns the kinds as strings in stable display order.
func (s Set) Strings() []string {
	kinds := s.Slice()
	out := make([]string, len(kinds))
	for i, k := range kinds {
		out[i] = string(k)
	}
	return out
}

// SetFromStrings parses stored kind names, dropping unknown values and
// repairing the implication invariant.
func SetFromStrings(values []string) Set {
	s := make(Set, len(values))
	for _, v := range values {
		k := Kind(v)
		if k.IsValid() {
			s[k] = struct{}{}
		}
	}
	return s.Normalize()
}

func kindRank(k Kind) int {
	switch k {
	case KindView:
		return 0
	case KindEdit:
		return 1
	case KindUpload:
		return 2
	}
	return 3
}
