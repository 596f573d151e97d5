package exec

import (
	"testing"

	"github.com/relquery/relquery"
	"github.com/relquery/relquery/rangealg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChooseIndexPrefersPrimaryWhenUsable(t *testing.T) {
	primary := IndexDescriptor{Name: "primary", KeyPath: []string{"id"}}
	secondary := IndexDescriptor{Name: "by_name", KeyPath: []string{"name"}, Unique: true}
	ranges := map[string]rangealg.KeyRange{
		"id":   rangealg.Equality(relquery.Value(1.0)),
		"name": rangealg.Equality(relquery.Value("a")),
	}

	chosen, ok := ChooseIndex(ranges, primary, []IndexDescriptor{secondary})
	require.True(t, ok)
	assert.Equal(t, "primary", chosen.Index.Name)
}

func TestChooseIndexFallsBackToUniqueSecondary(t *testing.T) {
	primary := IndexDescriptor{Name: "primary", KeyPath: []string{"id"}}
	unique := IndexDescriptor{Name: "by_email", KeyPath: []string{"email"}, Unique: true}
	nonUnique := IndexDescriptor{Name: "by_status", KeyPath: []string{"status"}}
	ranges := map[string]rangealg.KeyRange{
		"email":  rangealg.Equality(relquery.Value("a@example.com")),
		"status": rangealg.Equality(relquery.Value("active")),
	}

	chosen, ok := ChooseIndex(ranges, primary, []IndexDescriptor{nonUnique, unique})
	require.True(t, ok)
	assert.Equal(t, "by_email", chosen.Index.Name)
}

func TestChooseIndexFallsBackToNonUniqueSecondaryWhenNoUniqueUsable(t *testing.T) {
	primary := IndexDescriptor{Name: "primary", KeyPath: []string{"id"}}
	nonUnique := IndexDescriptor{Name: "by_status", KeyPath: []string{"status"}}
	ranges := map[string]rangealg.KeyRange{
		"status": rangealg.Equality(relquery.Value("active")),
	}

	chosen, ok := ChooseIndex(ranges, primary, []IndexDescriptor{nonUnique})
	require.True(t, ok)
	assert.Equal(t, "by_status", chosen.Index.Name)
}

func TestChooseIndexExcludesMultiEntrySecondaries(t *testing.T) {
	primary := IndexDescriptor{Name: "primary", KeyPath: []string{"id"}}
	multi := IndexDescriptor{Name: "by_tag", KeyPath: []string{"tags"}, MultiEntry: true}
	ranges := map[string]rangealg.KeyRange{
		"tags": rangealg.Equality(relquery.Value("x")),
	}

	_, ok := ChooseIndex(ranges, primary, []IndexDescriptor{multi})
	assert.False(t, ok)
}

func TestChooseIndexFallsBackToFullScanWhenNothingUsable(t *testing.T) {
	primary := IndexDescriptor{Name: "primary", KeyPath: []string{"id"}}
	secondary := IndexDescriptor{Name: "by_status", KeyPath: []string{"status"}}
	ranges := map[string]rangealg.KeyRange{
		"other": rangealg.Equality(relquery.Value("x")),
	}

	_, ok := ChooseIndex(ranges, primary, []IndexDescriptor{secondary})
	assert.False(t, ok)
}

func TestUsablePrefixStopsAtFirstNonEquality(t *testing.T) {
	idx := IndexDescriptor{Name: "composite", KeyPath: []string{"a", "b", "c"}}
	ranges := map[string]rangealg.KeyRange{
		"a": rangealg.Equality(relquery.Value(1.0)),
		"b": rangealg.GTE(relquery.Value(2.0)),
		"c": rangealg.Equality(relquery.Value(3.0)),
	}

	usable, ok := usablePrefix(idx, ranges)
	require.True(t, ok)
	require.Len(t, usable, 2)
	assert.True(t, usable[0].IsEquality())
	assert.False(t, usable[1].IsEquality())
}

func TestUsablePrefixStopsAtFirstMissingComponent(t *testing.T) {
	idx := IndexDescriptor{Name: "composite", KeyPath: []string{"a", "b", "c"}}
	ranges := map[string]rangealg.KeyRange{
		"a": rangealg.Equality(relquery.Value(1.0)),
		"c": rangealg.Equality(relquery.Value(3.0)),
	}

	usable, ok := usablePrefix(idx, ranges)
	require.True(t, ok)
	require.Len(t, usable, 1)
}

func TestBuildChosenSplitsEqualitiesFromFinalRange(t *testing.T) {
	idx := IndexDescriptor{Name: "composite", KeyPath: []string{"a", "b"}}
	usable := []rangealg.KeyRange{
		rangealg.Equality(relquery.Value(1.0)),
		rangealg.GTE(relquery.Value(2.0)),
	}

	chosen := buildChosen(idx, usable)
	require.Len(t, chosen.Range.Equalities, 1)
	assert.False(t, chosen.Range.Final.IsEquality())
}
