package perm

// Toggle flips kind on the given set and returns the next set. The input is
// never mutated.
//
// Removing view while edit or upload survives is rejected: the stronger
// permission must be revoked first. Adding edit or upload auto-grants view.
// When the request is rejected the original set is returned with changed
// set to false.
func Toggle(current Set, kind Kind) (next Set, changed bool) {
	if !kind.IsValid() {
		return current, false
	}
	if current.Has(kind) {
		if kind == KindView && (current.Has(KindEdit) || current.Has(KindUpload)) {
			return current, false
		}
		next = current.Clone()
		delete(next, kind)
		return next, true
	}
	next = current.Clone()
	next[kind] = struct{}{}
	return next.Normalize(), true
}
