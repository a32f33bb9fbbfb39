package host

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestApplyTrafficDeltaNormalIncrease(t *testing.T) {
	h := &Host{
		LastProcessedCumulativeRx:  1_000_000,
		TrafficCurrentCycleRxBytes: 500_000,
	}
	h.ApplyTrafficDelta(1_200_000, 0)
	require.EqualValues(t, 700_000, h.TrafficCurrentCycleRxBytes)
	require.EqualValues(t, 1_200_000, h.LastProcessedCumulativeRx)
}

func TestApplyTrafficDeltaCounterReset(t *testing.T) {
	// S3: last=1_000_000, cycle=500_000; new cumulative 200_000 is a reset.
	h := &Host{
		LastProcessedCumulativeRx:  1_000_000,
		TrafficCurrentCycleRxBytes: 500_000,
	}
	h.ApplyTrafficDelta(200_000, 0)
	require.EqualValues(t, 700_000, h.TrafficCurrentCycleRxBytes)
	require.EqualValues(t, 200_000, h.LastProcessedCumulativeRx)
}

func TestMergeHandshakeMetadataPreservesUnrelatedKeys(t *testing.T) {
	h := &Host{Metadata: map[string]any{"user_note": "do not touch", "os_name": "old"}}
	h.MergeHandshakeMetadata(map[string]any{"os_name": "linux", "kernel_version": "6.1"})
	require.Equal(t, "do not touch", h.Metadata["user_note"])
	require.Equal(t, "linux", h.Metadata["os_name"])
	require.Equal(t, "6.1", h.Metadata["kernel_version"])
}

func TestTrafficUsagePercentZeroLimitSkips(t *testing.T) {
	h := &Host{}
	_, ok := h.TrafficUsagePercent()
	require.False(t, ok)
}

func TestTrafficUsagePercentSumInOut(t *testing.T) {
	h := &Host{
		TrafficLimitBytes:          1000,
		TrafficCurrentCycleRxBytes: 300,
		TrafficCurrentCycleTxBytes: 200,
		TrafficBillingRule:         TrafficBillingSumInOut,
	}
	pct, ok := h.TrafficUsagePercent()
	require.True(t, ok)
	require.InDelta(t, 50.0, pct, 0.001)
}
