// Package batch defines BatchCommandTask/ChildCommandTask and the parent
// status transition function used by internal/batchsvc (C10).
package batch

import "time"

// ParentStatus is the overall status of a batch command task.
type ParentStatus string

const (
	ParentPending               ParentStatus = "Pending"
	ParentExecuting             ParentStatus = "Executing"
	ParentTerminating           ParentStatus = "Terminating"
	ParentCompletedSuccessfully ParentStatus = "CompletedSuccessfully"
	ParentCompletedWithErrors   ParentStatus = "CompletedWithErrors"
	ParentTerminated            ParentStatus = "Terminated"
)

// ChildStatus is one child command task's lifecycle state.
type ChildStatus string

const (
	ChildPending              ChildStatus = "Pending"
	ChildSentToAgent          ChildStatus = "SentToAgent"
	ChildAgentAccepted        ChildStatus = "AgentAccepted"
	ChildExecuting            ChildStatus = "Executing"
	ChildTerminating          ChildStatus = "Terminating"
	ChildCompletedSuccessfully ChildStatus = "CompletedSuccessfully"
	ChildCompletedWithFailure ChildStatus = "CompletedWithFailure"
	ChildTerminated           ChildStatus = "Terminated"
	ChildAgentUnreachable     ChildStatus = "AgentUnreachable"
	ChildTimedOut             ChildStatus = "TimedOut"
	ChildAgentError           ChildStatus = "AgentError"
)

// terminalChildStatuses are the states from which a child never transitions
// again.
var terminalChildStatuses = map[ChildStatus]struct{}{
	ChildCompletedSuccessfully: {},
	ChildCompletedWithFailure:  {},
	ChildTerminated:            {},
	ChildAgentUnreachable:      {},
	ChildTimedOut:              {},
	ChildAgentError:            {},
}

// IsTerminal reports whether s is a terminal child status.
func (s ChildStatus) IsTerminal() bool {
	_, ok := terminalChildStatuses[s]
	return ok
}

// activeChildStatuses are the states a child can still be terminated from.
var activeChildStatuses = map[ChildStatus]struct{}{
	ChildPending:       {},
	ChildSentToAgent:   {},
	ChildAgentAccepted: {},
	ChildExecuting:     {},
}

// IsActive reports whether a child in status s can still be terminated.
func (s ChildStatus) IsActive() bool {
	_, ok := activeChildStatuses[s]
	return ok
}

// Child is one per-host command execution within a ParentTask.
type Child struct {
	ID              string
	ParentID        string
	HostID          string
	Status          ChildStatus
	ExitCode        *int
	ErrorMessage    string
	StdoutLogPath   string
	StderrLogPath   string
	LastOutputAt    *time.Time
	DispatchedAt    *time.Time
	AgentCompletedAt *time.Time
}

// Parent is a batch command's top-level task, one row per user request.
type Parent struct {
	ID             string
	OwnerID        string
	RequestPayload string
	Status         ParentStatus
	ExecutionAlias string
	CreatedAt      time.Time
	CompletedAt    *time.Time
}

// RecomputeParentStatus is a pure function of child statuses, per spec
// §4.C10 (Testable Property #6): re-evaluating with no child change must be
// a no-op, and the function never reads or writes anything but its inputs.
// ok is false while any child remains non-terminal, meaning the parent is
// left as-is (Executing or Terminating).
func RecomputeParentStatus(children []Child) (status ParentStatus, ok bool) {
	if len(children) == 0 {
		return "", false
	}

	allTerminal := true
	anyFailureLike := false
	anyTerminated := false
	allTerminatedOrSuccess := true

	for _, c := range children {
		if !c.Status.IsTerminal() {
			allTerminal = false
			continue
		}
		switch c.Status {
		case ChildCompletedWithFailure, ChildAgentUnreachable, ChildTimedOut, ChildAgentError:
			anyFailureLike = true
		case ChildTerminated:
			anyTerminated = true
		case ChildCompletedSuccessfully:
			// compatible with either outcome
		}
		if c.Status != ChildTerminated && c.Status != ChildCompletedSuccessfully {
			allTerminatedOrSuccess = false
		}
	}

	if !allTerminal {
		return "", false
	}

	switch {
	case anyFailureLike:
		return ParentCompletedWithErrors, true
	case anyTerminated && allTerminatedOrSuccess:
		return ParentTerminated, true
	default:
		return ParentCompletedSuccessfully, true
	}
}
