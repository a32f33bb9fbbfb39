// Package metrics defines PerformanceSnapshot and the aggregated Summary
// rows computed by the aggregation/retention scheduler (C3).
package metrics

import "time"

// Snapshot is one collection tick's metrics for a single host. Snapshots are
// append-only per host; Time is monotonic per host within a session but not
// guaranteed globally.
type Snapshot struct {
	HostID     string
	Time       time.Time

	CPUPercent             float64
	MemoryUsedBytes        uint64
	MemoryTotalBytes       uint64
	SwapUsedBytes          uint64
	SwapTotalBytes         uint64
	DiskReadBytesPerSec    float64
	DiskWriteBytesPerSec   float64
	DiskUsedBytes          uint64
	DiskTotalBytes         uint64
	NetworkRxCumulative    uint64
	NetworkTxCumulative    uint64
	NetworkRxBytesPerSec   float64
	NetworkTxBytesPerSec   float64
	UptimeSeconds          uint64
	TotalProcessesCount    int
	RunningProcessesCount  int
	TCPEstablishedCount    int
}

// MemoryPercent is the per-point value alert evaluation reads for the
// memory_usage_percent metric type. Returns false when MemoryTotalBytes is
// zero (the alert evaluator must skip this point, not error).
func (s Snapshot) MemoryPercent() (float64, bool) {
	if s.MemoryTotalBytes == 0 {
		return 0, false
	}
	return float64(s.MemoryUsedBytes) / float64(s.MemoryTotalBytes) * 100, true
}

// Bucket names the aggregation granularity a Summary row belongs to.
type Bucket string

const (
	Bucket1m Bucket = "1m"
	Bucket1h Bucket = "1h"
	Bucket1d Bucket = "1d"
)

// Summary is one aggregated bucket (Summary_1m / _1h / _1d in the spec).
// NetworkRxCumulative/NetworkTxCumulative carry arg_max(cumulative, time):
// the value from the snapshot with the greatest Time in the bucket.
type Summary struct {
	HostID      string
	Bucket      Bucket
	BucketStart time.Time

	CPUPercentAvg          float64
	MemoryUsedBytesAvg     uint64
	NetworkRxBytesPerSecAvg float64
	NetworkTxBytesPerSecAvg float64
	NetworkRxCumulative    uint64
	NetworkTxCumulative    uint64
	SampleCount            int
}

// Aggregate folds a run of same-bucket raw snapshots into one Summary.
// Snapshots must already be confined to [bucketStart, bucketStart+granularity)
// by the caller; Aggregate only computes the arithmetic reduction: the means
// of CPU, memory and network rates, and the latest cumulative network
// counters (Testable Property #3). No per-bucket maximum is computed.
func Aggregate(hostID string, bucket Bucket, bucketStart time.Time, snapshots []Snapshot) Summary {
	summary := Summary{HostID: hostID, Bucket: bucket, BucketStart: bucketStart}
	if len(snapshots) == 0 {
		return summary
	}

	var cpuSum float64
	var memSum uint64
	var rxSum, txSum float64
	latest := snapshots[0]

	for _, s := range snapshots {
		cpuSum += s.CPUPercent
		memSum += s.MemoryUsedBytes
		rxSum += s.NetworkRxBytesPerSec
		txSum += s.NetworkTxBytesPerSec
		if s.Time.After(latest.Time) {
			latest = s
		}
	}

	n := float64(len(snapshots))
	summary.CPUPercentAvg = cpuSum / n
	summary.MemoryUsedBytesAvg = memSum / uint64(len(snapshots))
	summary.NetworkRxBytesPerSecAvg = rxSum / n
	summary.NetworkTxBytesPerSecAvg = txSum / n
	summary.NetworkRxCumulative = latest.NetworkRxCumulative
	summary.NetworkTxCumulative = latest.NetworkTxCumulative
	summary.SampleCount = len(snapshots)
	return summary
}
