package metrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAggregateComputesMeanAndLatestCumulative(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	snaps := []Snapshot{
		{HostID: "h1", Time: base, CPUPercent: 10, MemoryUsedBytes: 100, NetworkRxCumulative: 1000},
		{HostID: "h1", Time: base.Add(20 * time.Second), CPUPercent: 30, MemoryUsedBytes: 300, NetworkRxCumulative: 2000},
		{HostID: "h1", Time: base.Add(40 * time.Second), CPUPercent: 20, MemoryUsedBytes: 200, NetworkRxCumulative: 3000},
	}

	summary := Aggregate("h1", Bucket1m, base, snaps)

	require.InDelta(t, 20.0, summary.CPUPercentAvg, 0.001)
	require.EqualValues(t, 200, summary.MemoryUsedBytesAvg)
	require.EqualValues(t, 3000, summary.NetworkRxCumulative, "must reflect the snapshot with the greatest time")
	require.Equal(t, 3, summary.SampleCount)
}

func TestMemoryPercentZeroTotalSkips(t *testing.T) {
	s := Snapshot{MemoryUsedBytes: 10, MemoryTotalBytes: 0}
	_, ok := s.MemoryPercent()
	require.False(t, ok)
}
