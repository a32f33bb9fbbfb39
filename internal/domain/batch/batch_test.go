package batch

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// S2 — Batch command happy path (partial failure variant).
func TestRecomputeParentStatusMixedOutcome(t *testing.T) {
	children := []Child{
		{Status: ChildCompletedSuccessfully},
		{Status: ChildCompletedWithFailure},
	}
	status, ok := RecomputeParentStatus(children)
	require.True(t, ok)
	require.Equal(t, ParentCompletedWithErrors, status)
}

func TestRecomputeParentStatusAllSuccess(t *testing.T) {
	children := []Child{{Status: ChildCompletedSuccessfully}, {Status: ChildCompletedSuccessfully}}
	status, ok := RecomputeParentStatus(children)
	require.True(t, ok)
	require.Equal(t, ParentCompletedSuccessfully, status)
}

func TestRecomputeParentStatusTerminatedMix(t *testing.T) {
	children := []Child{{Status: ChildTerminated}, {Status: ChildCompletedSuccessfully}}
	status, ok := RecomputeParentStatus(children)
	require.True(t, ok)
	require.Equal(t, ParentTerminated, status)
}

func TestRecomputeParentStatusLeftAsIsWhileActive(t *testing.T) {
	children := []Child{{Status: ChildCompletedSuccessfully}, {Status: ChildExecuting}}
	_, ok := RecomputeParentStatus(children)
	require.False(t, ok)
}

func TestRecomputeParentStatusNoOpOnRepeat(t *testing.T) {
	children := []Child{{Status: ChildCompletedSuccessfully}}
	first, _ := RecomputeParentStatus(children)
	second, _ := RecomputeParentStatus(children)
	require.Equal(t, first, second)
}

func TestChildIsActiveAndTerminal(t *testing.T) {
	require.True(t, ChildPending.IsActive())
	require.False(t, ChildPending.IsTerminal())
	require.True(t, ChildTimedOut.IsTerminal())
	require.False(t, ChildTimedOut.IsActive())
}
