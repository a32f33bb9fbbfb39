package agent

import (
	"context"
	"time"

	pscpu "github.com/shirou/gopsutil/v3/cpu"
	psdisk "github.com/shirou/gopsutil/v3/disk"
	pshost "github.com/shirou/gopsutil/v3/host"
	psmem "github.com/shirou/gopsutil/v3/mem"
	psnet "github.com/shirou/gopsutil/v3/net"
	psprocess "github.com/shirou/gopsutil/v3/process"

	"github.com/nodenexus/nodenexus/pkg/protocol"
)

// Collector samples host metrics with gopsutil. It is stateful across
// calls: disk and network counters are cumulative in the OS, so byte-per
// second rates are derived from the delta against the previous sample.
// The first Collect call after construction has no baseline and reports
// zero for every rate field, per spec.
type Collector struct {
	netIface string

	lastSampleAt  time.Time
	lastNetRx     uint64
	lastNetTx     uint64
	lastDiskRead  uint64
	lastDiskWrite uint64
	haveBaseline  bool
}

// NewCollector picks the default-route network interface once at
// construction: the first non-loopback interface that is up and carries at
// least one address. Subsequent cumulative counters are read against this
// one interface for the lifetime of the process.
func NewCollector() *Collector {
	return &Collector{netIface: detectDefaultIface()}
}

func detectDefaultIface() string {
	ifaces, err := psnet.Interfaces()
	if err != nil {
		return ""
	}
	for _, iface := range ifaces {
		isLoopback := false
		isUp := false
		for _, flag := range iface.Flags {
			switch flag {
			case "loopback":
				isLoopback = true
			case "up":
				isUp = true
			}
		}
		if isLoopback || !isUp || len(iface.Addrs) == 0 {
			continue
		}
		return iface.Name
	}
	return ""
}

// Collect gathers one PerformanceSnapshot. ctx bounds the process-listing
// calls only; gopsutil's stat-file reads are otherwise synchronous.
func (c *Collector) Collect(ctx context.Context) (protocol.PerformanceSnapshot, error) {
	now := time.Now().UTC()
	snap := protocol.PerformanceSnapshot{TimestampUnixMS: now.UnixMilli()}

	if percents, err := pscpu.PercentWithContext(ctx, 0, false); err == nil && len(percents) > 0 {
		snap.CPUOverallUsagePercent = percents[0]
	}

	if vm, err := psmem.VirtualMemoryWithContext(ctx); err == nil {
		snap.MemoryUsageBytes = vm.Used
		snap.MemoryTotalBytes = vm.Total
	}
	if sm, err := psmem.SwapMemoryWithContext(ctx); err == nil {
		snap.SwapUsageBytes = sm.Used
		snap.SwapTotalBytes = sm.Total
	}

	if uptime, err := pshost.UptimeWithContext(ctx); err == nil {
		snap.UptimeSeconds = uptime
	}

	c.collectDiskUsage(ctx, &snap)
	c.collectDiskIO(ctx, &snap, now)
	c.collectNetIO(ctx, &snap, now)
	c.collectProcesses(ctx, &snap)
	c.collectConnections(ctx, &snap)

	c.lastSampleAt = now
	c.haveBaseline = true
	return snap, nil
}

func (c *Collector) collectDiskUsage(ctx context.Context, snap *protocol.PerformanceSnapshot) {
	partitions, err := psdisk.PartitionsWithContext(ctx, false)
	if err != nil {
		return
	}
	var totalBytes, usedBytes uint64
	for _, p := range partitions {
		usage, err := psdisk.UsageWithContext(ctx, p.Mountpoint)
		if err != nil {
			continue
		}
		snap.DiskUsages = append(snap.DiskUsages, protocol.DiskUsage{
			MountPoint:   p.Mountpoint,
			UsedBytes:    usage.Used,
			TotalBytes:   usage.Total,
			FSType:       p.Fstype,
			UsagePercent: usage.UsedPercent,
		})
		totalBytes += usage.Total
		usedBytes += usage.Used
	}
	snap.TotalDiskSpaceBytes = totalBytes
	snap.UsedDiskSpaceBytes = usedBytes
}

func (c *Collector) collectDiskIO(ctx context.Context, snap *protocol.PerformanceSnapshot, now time.Time) {
	counters, err := psdisk.IOCountersWithContext(ctx)
	if err != nil {
		return
	}
	var readBytes, writeBytes uint64
	for _, io := range counters {
		readBytes += io.ReadBytes
		writeBytes += io.WriteBytes
	}
	if c.haveBaseline {
		elapsed := now.Sub(c.lastSampleAt).Seconds()
		if elapsed > 0 {
			snap.DiskTotalIOReadBytesPerSec = rate(c.lastDiskRead, readBytes, elapsed)
			snap.DiskTotalIOWriteBytesPerSec = rate(c.lastDiskWrite, writeBytes, elapsed)
		}
	}
	c.lastDiskRead = readBytes
	c.lastDiskWrite = writeBytes
}

func (c *Collector) collectNetIO(ctx context.Context, snap *protocol.PerformanceSnapshot, now time.Time) {
	counters, err := psnet.IOCountersWithContext(ctx, true)
	if err != nil {
		return
	}
	var rx, tx uint64
	found := false
	for _, cnt := range counters {
		if c.netIface != "" && cnt.Name != c.netIface {
			continue
		}
		rx += cnt.BytesRecv
		tx += cnt.BytesSent
		found = true
	}
	if !found {
		// Fall back to summing every interface if the chosen one vanished
		// (e.g. a container's veth renumbered across a restart).
		for _, cnt := range counters {
			rx += cnt.BytesRecv
			tx += cnt.BytesSent
		}
	}
	snap.NetworkRxBytesCumulative = rx
	snap.NetworkTxBytesCumulative = tx
	if c.haveBaseline {
		elapsed := now.Sub(c.lastSampleAt).Seconds()
		if elapsed > 0 {
			snap.NetworkRxBytesPerSec = rate(c.lastNetRx, rx, elapsed)
			snap.NetworkTxBytesPerSec = rate(c.lastNetTx, tx, elapsed)
		}
	}
	c.lastNetRx = rx
	c.lastNetTx = tx
}

func (c *Collector) collectProcesses(ctx context.Context, snap *protocol.PerformanceSnapshot) {
	pids, err := psprocess.PidsWithContext(ctx)
	if err != nil {
		return
	}
	snap.TotalProcessesCount = len(pids)

	running := 0
	for _, pid := range pids {
		proc, err := psprocess.NewProcess(pid)
		if err != nil {
			continue
		}
		statuses, err := proc.StatusWithContext(ctx)
		if err != nil || len(statuses) == 0 {
			continue
		}
		if statuses[0] == "running" {
			running++
		}
	}
	snap.RunningProcessesCount = running
}

func (c *Collector) collectConnections(ctx context.Context, snap *protocol.PerformanceSnapshot) {
	conns, err := psnet.ConnectionsWithContext(ctx, "tcp")
	if err != nil {
		return
	}
	count := 0
	for _, conn := range conns {
		if conn.Status == "ESTABLISHED" {
			count++
		}
	}
	snap.TCPEstablishedConnectionCount = count
}

// rate guards against a counter reset (e.g. interface replaced) producing a
// negative delta, reporting zero instead of a huge wraparound value.
func rate(prev, cur uint64, elapsedSeconds float64) float64 {
	if cur < prev {
		return 0
	}
	return float64(cur-prev) / elapsedSeconds
}
