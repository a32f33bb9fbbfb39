package monitor

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// S4 — Monitor assignment.
func TestResolveInclusiveThenExclusive(t *testing.T) {
	m := Monitor{
		ID: "m1", OwnerID: "u1", Active: true,
		AssignmentType: AssignmentInclusive,
		DirectHostIDs:  []string{"h3"},
		TagNames:       []string{"t"},
	}
	hosts := []HostFact{
		{HostID: "h1", OwnerID: "u1", Tags: []string{"t"}},
		{HostID: "h2", OwnerID: "u1"},
		{HostID: "h3", OwnerID: "u1"},
	}

	result := Resolve([]Monitor{m}, hosts)
	require.Len(t, result["h1"], 1)
	require.Len(t, result["h2"], 0)
	require.Len(t, result["h3"], 1)

	m.AssignmentType = AssignmentExclusive
	result = Resolve([]Monitor{m}, hosts)
	require.Len(t, result["h1"], 0)
	require.Len(t, result["h2"], 1)
	require.Len(t, result["h3"], 0)
}

func TestResolveIsIdempotent(t *testing.T) {
	m := Monitor{ID: "m1", OwnerID: "u1", Active: true, AssignmentType: AssignmentInclusive, DirectHostIDs: []string{"h1"}}
	hosts := []HostFact{{HostID: "h1", OwnerID: "u1"}}

	first := Resolve([]Monitor{m}, hosts)
	second := Resolve([]Monitor{m}, hosts)
	require.Equal(t, first, second)
}

func TestAffectedHostsSymmetricDifference(t *testing.T) {
	m1 := Monitor{ID: "m1"}
	before := map[string][]Monitor{"h1": {m1}, "h2": nil}
	after := map[string][]Monitor{"h1": nil, "h2": nil}
	require.ElementsMatch(t, []string{"h1"}, AffectedHosts(before, after))
}
