// Package host defines the Host (VPS) entity: the managed endpoint a
// NodeNexus agent runs on.
package host

import "time"

// Status is the host's connectivity state as observed by the session
// manager and liveness sweeper.
type Status string

const (
	StatusPending Status = "pending"
	StatusOnline  Status = "online"
	StatusOffline Status = "offline"
)

// ConfigStatus tracks whether the agent has acknowledged the most recently
// pushed effective configuration.
type ConfigStatus string

const (
	ConfigStatusUnknown ConfigStatus = "unknown"
	ConfigStatusSynced  ConfigStatus = "synced"
	ConfigStatusPending ConfigStatus = "pending"
	ConfigStatusFailed  ConfigStatus = "failed"
)

// TrafficBillingRule selects how rx/tx are combined into a usage figure for
// alert evaluation and status reporting.
type TrafficBillingRule string

const (
	TrafficBillingSumInOut TrafficBillingRule = "sum_in_out"
	TrafficBillingOutOnly  TrafficBillingRule = "out_only"
	TrafficBillingMaxInOut TrafficBillingRule = "max_in_out"
)

// Host is the VPS/endpoint entity. agent_secret never changes silently; a
// change implies a deliberate re-enrollment (see NewAgentSecret).
type Host struct {
	ID           string
	OwnerID      string
	Name         string
	AgentSecret  string
	// NewAgentSecret is sent in every successful handshake's ACK. No
	// endpoint in this module sets it, and the handshake does not clear it
	// after sending.
	NewAgentSecret string

	PublicIPAddresses []string
	OSDescriptor      string
	Status            Status
	ConfigStatus      ConfigStatus

	// Metadata holds handshake-reported OS/runtime facts plus any
	// user-supplied keys. Handshake merges only its own key set into this
	// object; unrelated keys are preserved (Testable Property #1).
	Metadata map[string]any

	GroupName string
	Tags      []string

	// Traffic cycle accounting (C12).
	TrafficLimitBytes            uint64
	TrafficCurrentCycleRxBytes   uint64
	TrafficCurrentCycleTxBytes   uint64
	LastProcessedCumulativeRx    uint64
	LastProcessedCumulativeTx    uint64
	TrafficBillingRule           TrafficBillingRule
	TrafficCycleDayOfMonth       int
	TrafficResetPolicy           string // e.g. "monthly_day_of_month" or "fixed_days"
	TrafficResetPolicyValue      string
	TrafficLastResetAt           *time.Time
	NextTrafficResetAt           *time.Time

	// Renewal cycle accounting (C13).
	AutoRenewEnabled bool
	RenewalCycle     string // monthly|quarterly|semi_annually|annually|biennially|triennially|custom_days
	CustomDays       int
	LastRenewalDate  *time.Time
	NextRenewalDate  *time.Time
	ReminderActive   bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

// TrafficUsagePercent reports the current cycle's usage against the limit,
// aggregated per the host's billing rule. Returns false if the limit is zero
// or missing (the alert evaluator must skip, not error, in that case).
func (h *Host) TrafficUsagePercent() (float64, bool) {
	if h.TrafficLimitBytes == 0 {
		return 0, false
	}
	var used uint64
	switch h.TrafficBillingRule {
	case TrafficBillingOutOnly:
		used = h.TrafficCurrentCycleTxBytes
	case TrafficBillingMaxInOut:
		used = h.TrafficCurrentCycleRxBytes
		if h.TrafficCurrentCycleTxBytes > used {
			used = h.TrafficCurrentCycleTxBytes
		}
	default: // sum_in_out
		used = h.TrafficCurrentCycleRxBytes + h.TrafficCurrentCycleTxBytes
	}
	return float64(used) / float64(h.TrafficLimitBytes) * 100, true
}

// ApplyTrafficDelta folds one collection tick's cumulative rx/tx counters
// into the current cycle, with counter-reset protection: a cumulative value
// lower than the last-seen one is treated as a counter reset (agent reboot),
// and the new value itself is taken as the delta (Testable Property #5).
func (h *Host) ApplyTrafficDelta(newCumRx, newCumTx uint64) {
	h.TrafficCurrentCycleRxBytes += trafficDelta(newCumRx, h.LastProcessedCumulativeRx)
	h.TrafficCurrentCycleTxBytes += trafficDelta(newCumTx, h.LastProcessedCumulativeTx)
	h.LastProcessedCumulativeRx = newCumRx
	h.LastProcessedCumulativeTx = newCumTx
}

func trafficDelta(newCum, lastCum uint64) uint64 {
	if newCum >= lastCum {
		return newCum - lastCum
	}
	return newCum
}

// MergeHandshakeMetadata overwrites only the handshake-owned keys in
// Metadata, preserving any unrelated keys a user or integration wrote
// (Testable Property #1).
func (h *Host) MergeHandshakeMetadata(fields map[string]any) {
	if h.Metadata == nil {
		h.Metadata = make(map[string]any, len(fields))
	}
	for k, v := range fields {
		h.Metadata[k] = v
	}
}
