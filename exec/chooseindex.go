package exec

import "github.com/relquery/relquery/rangealg"

// IndexDescriptor names a persistent store's index by its composite
// keyPath and cardinality properties (spec.md §4.9). A store package
// (kvmem, kvbadger) describes its primary key and secondary indexes this
// way so ChooseIndex can stay store-agnostic.
type IndexDescriptor struct {
	Name string
	// KeyPath is the ordered list of record field paths this index is
	// built over (a single-element slice for a non-composite index).
	KeyPath []string
	// Unique marks a secondary index that admits at most one record per
	// key (preferred over a non-unique secondary — step 3).
	Unique bool
	// MultiEntry marks a secondary index keyed off a sequence-valued
	// field (one index entry per element); spec.md §4.9 step 2 excludes
	// these from candidacy entirely.
	MultiEntry bool
}

// ChosenIndex is the result of ChooseIndex: which index to scan and the
// CompositeRange ready to synthesize native cursor bounds from.
type ChosenIndex struct {
	Index IndexDescriptor
	Range rangealg.CompositeRange
}

// usablePrefix implements spec.md §4.9 step 1: the longest prefix of idx's
// keyPath such that a KeyRange exists for every component collected and
// every one of them before the last is an equality; the walk stops the
// instant it appends a non-equality range, since the rule permits only the
// last component to be one.
func usablePrefix(idx IndexDescriptor, ranges map[string]rangealg.KeyRange) ([]rangealg.KeyRange, bool) {
	var usable []rangealg.KeyRange
	for _, path := range idx.KeyPath {
		r, ok := ranges[path]
		if !ok {
			break
		}
		usable = append(usable, r)
		if !r.IsEquality() {
			break
		}
	}
	return usable, len(usable) > 0
}

// ChooseIndex implements spec.md §4.9 steps 2-3: primary wins if its
// usable prefix is nonempty; otherwise the first unique non-multi-entry
// secondary with a usable prefix; otherwise the first non-unique one;
// otherwise ok is false (full scan).
func ChooseIndex(ranges map[string]rangealg.KeyRange, primary IndexDescriptor, secondaries []IndexDescriptor) (ChosenIndex, bool) {
	if usable, ok := usablePrefix(primary, ranges); ok {
		return buildChosen(primary, usable), true
	}

	var uniqueIdx, anyIdx *IndexDescriptor
	var uniqueUsable, anyUsable []rangealg.KeyRange
	for i := range secondaries {
		sec := secondaries[i]
		if sec.MultiEntry {
			continue
		}
		usable, ok := usablePrefix(sec, ranges)
		if !ok {
			continue
		}
		if sec.Unique && uniqueIdx == nil {
			uniqueIdx, uniqueUsable = &secondaries[i], usable
		}
		if anyIdx == nil {
			anyIdx, anyUsable = &secondaries[i], usable
		}
	}
	if uniqueIdx != nil {
		return buildChosen(*uniqueIdx, uniqueUsable), true
	}
	if anyIdx != nil {
		return buildChosen(*anyIdx, anyUsable), true
	}
	return ChosenIndex{}, false
}

// buildChosen splits a usable prefix into its leading equalities and
// trailing (possibly non-equality) final range, the shape CompositeRange
// needs to synthesize the cross-product bounds of spec.md §4.9 step 4.
func buildChosen(idx IndexDescriptor, usable []rangealg.KeyRange) ChosenIndex {
	if len(usable) == 0 {
		return ChosenIndex{Index: idx}
	}
	eqs := append([]rangealg.KeyRange{}, usable[:len(usable)-1]...)
	final := usable[len(usable)-1]
	return ChosenIndex{Index: idx, Range: rangealg.CompositeRange{Equalities: eqs, Final: final}}
}
