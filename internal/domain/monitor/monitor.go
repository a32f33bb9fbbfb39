// Package monitor defines ServiceMonitor and the host-set resolution
// algorithm used by internal/monitorsvc (C9).
package monitor

import "time"

// MonitorType selects the probe kind the agent runs.
type MonitorType string

const (
	TypeHTTP  MonitorType = "http"
	TypeHTTPS MonitorType = "https"
	TypeTCP   MonitorType = "tcp"
	TypePing  MonitorType = "ping"
)

// AssignmentType controls whether a monitor's target set names hosts to
// include or hosts to exclude (see Resolve below).
type AssignmentType string

const (
	AssignmentInclusive AssignmentType = "INCLUSIVE"
	AssignmentExclusive AssignmentType = "EXCLUSIVE"
)

// Monitor is a user-defined uptime probe definition.
type Monitor struct {
	ID              string
	OwnerID         string
	Name            string
	Type            MonitorType
	Target          string
	FrequencySeconds int
	TimeoutSeconds   int
	Active           bool
	ConfigJSON       string
	AssignmentType   AssignmentType

	// DirectHostIDs and TagNames are the two junction tables from the spec's
	// data model, pre-loaded by the caller.
	DirectHostIDs []string
	TagNames      []string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Result is a single probe outcome, append-only.
type Result struct {
	MonitorID string
	HostID    string
	Time      time.Time
	Success   bool
	LatencyMS int64
	Details   string
}

// HostFact is the caller-supplied view of a host needed to resolve its
// runnable set: ownership and the tags it carries.
type HostFact struct {
	HostID  string
	OwnerID string
	Tags    []string
}

// Resolve computes the runnable monitor set per host, per spec §4.C9:
//
//	direct  = monitors directly assigned to host
//	tagged  = monitors assigned to a tag the host carries
//	active  = { m : m.OwnerID == host.OwnerID, m.Active }
//	combined = (direct ∪ tagged) ∩ active
//	result   = { m ∈ combined : INCLUSIVE } ∪ { m ∈ active \ combined : EXCLUSIVE }
//
// Resolve is a pure function of its inputs (Testable Property #4:
// idempotent for the same (monitors, hosts) pair).
func Resolve(monitors []Monitor, hosts []HostFact) map[string][]Monitor {
	result := make(map[string][]Monitor, len(hosts))
	for _, h := range hosts {
		result[h.HostID] = nil
	}

	hostTags := make(map[string]map[string]struct{}, len(hosts))
	for _, h := range hosts {
		tagSet := make(map[string]struct{}, len(h.Tags))
		for _, t := range h.Tags {
			tagSet[t] = struct{}{}
		}
		hostTags[h.HostID] = tagSet
	}

	for _, h := range hosts {
		for _, m := range monitors {
			if m.OwnerID != h.OwnerID || !m.Active {
				continue
			}
			combined := directlyAssigned(m, h.HostID) || taggedAssigned(m, hostTags[h.HostID])
			switch m.AssignmentType {
			case AssignmentExclusive:
				if !combined {
					result[h.HostID] = append(result[h.HostID], m)
				}
			default: // INCLUSIVE
				if combined {
					result[h.HostID] = append(result[h.HostID], m)
				}
			}
		}
	}
	return result
}

func directlyAssigned(m Monitor, hostID string) bool {
	for _, id := range m.DirectHostIDs {
		if id == hostID {
			return true
		}
	}
	return false
}

func taggedAssigned(m Monitor, hostTags map[string]struct{}) bool {
	for _, tag := range m.TagNames {
		if _, ok := hostTags[tag]; ok {
			return true
		}
	}
	return false
}

// AffectedHosts returns the symmetric difference between two runnable-set
// snapshots for the same host, used when a monitor or its assignments change
// to decide which connected hosts need a fresh effective config (§4.C9).
func AffectedHosts(before, after map[string][]Monitor) []string {
	hostIDs := make(map[string]struct{}, len(before)+len(after))
	for id := range before {
		hostIDs[id] = struct{}{}
	}
	for id := range after {
		hostIDs[id] = struct{}{}
	}

	var affected []string
	for id := range hostIDs {
		if !sameMonitorSet(before[id], after[id]) {
			affected = append(affected, id)
		}
	}
	return affected
}

func sameMonitorSet(a, b []Monitor) bool {
	if len(a) != len(b) {
		return false
	}
	ids := make(map[string]int, len(a))
	for _, m := range a {
		ids[m.ID]++
	}
	for _, m := range b {
		ids[m.ID]--
	}
	for _, v := range ids {
		if v != 0 {
			return false
		}
	}
	return true
}
