package alert

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// S5 — Alert cooldown.
func TestInCooldownGatesReTrigger(t *testing.T) {
	t0 := time.Unix(0, 0)
	triggered := t0
	r := Rule{CooldownSeconds: 300, LastTriggeredAt: &triggered}

	require.True(t, r.InCooldown(t0.Add(60*time.Second)))
	require.True(t, r.InCooldown(t0.Add(120*time.Second)))
	require.True(t, r.InCooldown(t0.Add(240*time.Second)))
	require.False(t, r.InCooldown(t0.Add(301*time.Second)))
}

func TestEvaluateDurationWindowRequiresAllPoints(t *testing.T) {
	r := Rule{Comparator: ComparatorGT, Threshold: 80}
	require.True(t, r.EvaluateDurationWindow([]float64{95, 96, 90}))
	require.False(t, r.EvaluateDurationWindow([]float64{95, 70, 90}))
	require.False(t, r.EvaluateDurationWindow(nil))
}

func TestUnsupportedComparatorNeverTriggers(t *testing.T) {
	r := Rule{Comparator: "bogus", Threshold: 1}
	require.False(t, r.EvaluateInstant(100))
}
