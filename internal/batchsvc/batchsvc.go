// Package batchsvc wraps internal/domain/batch with the storage,
// dispatch, and streamed-output side effects of the batch-command
// coordinator (C10).
package batchsvc

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nodenexus/nodenexus/internal/broadcast"
	"github.com/nodenexus/nodenexus/internal/domain/batch"
	"github.com/nodenexus/nodenexus/pkg/protocol"
)

// ErrNoTarget is returned by Create when the target list is empty.
var ErrNoTarget = errors.New("batchsvc: target host list must be non-empty")

// ErrNotTerminable is returned by TerminateChild when the child is already
// in a terminal or non-active state (spec §4.C10).
var ErrNotTerminable = errors.New("batchsvc: child task is not in a terminable state")

// Store is the C10 storage surface.
type Store interface {
	CreateParent(ctx context.Context, p *batch.Parent, children []batch.Child) error
	GetParent(ctx context.Context, id string) (*batch.Parent, error)
	GetChild(ctx context.Context, childID string) (batch.Child, error)
	ListChildren(ctx context.Context, parentID string) ([]batch.Child, error)
	UpdateParentStatus(ctx context.Context, id string, status batch.ParentStatus, completedAt *time.Time) error
	UpdateChild(ctx context.Context, c batch.Child) error
}

// AgentSender dispatches a frame to a connected host, implemented by
// internal/session against the live registry. Returns false if the host is
// not currently connected.
type AgentSender interface {
	SendToAgent(ctx context.Context, hostID string, msg *protocol.MessageToAgent) bool
}

// NewLogOutput, ChildTaskUpdate, BatchTaskUpdate are the undebounced
// broadcast variants C10 emits.
type NewLogOutput struct {
	ParentID string
	ChildID  string
	Stream   protocol.StreamType
}

type ChildTaskUpdate struct {
	Child batch.Child
}

type BatchTaskUpdate struct {
	Parent batch.Parent
}

// Service is the wired C10 component.
type Service struct {
	store   Store
	sender  AgentSender
	fabric  *broadcast.Fabric
	logRoot string

	mu sync.Mutex // serializes log-directory creation per child
}

// New constructs a Service; logRoot is the base directory for streamed
// output (spec §4.C10: "logs/batch_commands/<parent>/<child>/...").
func New(store Store, sender AgentSender, fabric *broadcast.Fabric, logRoot string) *Service {
	return &Service{store: store, sender: sender, fabric: fabric, logRoot: logRoot}
}

// Create validates the target list, inserts the parent and its children in
// one transaction, and returns the parent UUID.
func (s *Service) Create(ctx context.Context, ownerID, requestPayload string, targetHostIDs []string) (string, error) {
	if len(targetHostIDs) == 0 {
		return "", ErrNoTarget
	}

	parent := &batch.Parent{
		ID:             uuid.NewString(),
		OwnerID:        ownerID,
		RequestPayload: requestPayload,
		Status:         batch.ParentPending,
		ExecutionAlias: requestPayload,
	}
	children := make([]batch.Child, 0, len(targetHostIDs))
	for _, hostID := range targetHostIDs {
		children = append(children, batch.Child{
			ID:       uuid.NewString(),
			ParentID: parent.ID,
			HostID:   hostID,
			Status:   batch.ChildPending,
		})
	}

	if err := s.store.CreateParent(ctx, parent, children); err != nil {
		return "", err
	}
	return parent.ID, nil
}

// Dispatch sends each pending child to its agent, marking unreachable
// hosts AgentUnreachable (spec §4.C10).
func (s *Service) Dispatch(ctx context.Context, parentID, content string) error {
	children, err := s.store.ListChildren(ctx, parentID)
	if err != nil {
		return err
	}

	for _, c := range children {
		if c.Status != batch.ChildPending {
			continue
		}
		sent := s.sender.SendToAgent(ctx, c.HostID, &protocol.MessageToAgent{
			AgentCommand: &protocol.BatchAgentCommandRequest{CommandID: c.ID, Content: content},
		})
		if !sent {
			c.Status = batch.ChildAgentUnreachable
			c.ErrorMessage = "agent not connected"
			now := time.Now().UTC()
			c.AgentCompletedAt = &now
		} else {
			c.Status = batch.ChildSentToAgent
			now := time.Now().UTC()
			c.DispatchedAt = &now
		}
		if err := s.store.UpdateChild(ctx, c); err != nil {
			return err
		}
		s.fabric.PublishAuthenticated(ChildTaskUpdate{Child: c})
	}

	return s.recomputeParent(ctx, parentID)
}

// RecordOutput appends a streamed chunk to the child's log file, setting
// the log-path column the first time a stream is written.
func (s *Service) RecordOutput(ctx context.Context, childID string, stream protocol.StreamType, chunk []byte) error {
	parentID, child, err := s.findChild(ctx, childID)
	if err != nil {
		return err
	}

	path, err := s.appendLog(parentID, childID, stream, chunk)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	child.LastOutputAt = &now
	switch stream {
	case protocol.StreamStdout:
		if child.StdoutLogPath == "" {
			child.StdoutLogPath = path
		}
	case protocol.StreamStderr:
		if child.StderrLogPath == "" {
			child.StderrLogPath = path
		}
	}
	if err := s.store.UpdateChild(ctx, child); err != nil {
		return err
	}
	s.fabric.PublishAuthenticated(NewLogOutput{ParentID: parentID, ChildID: childID, Stream: stream})
	return nil
}

// UpdateChildStatus applies the agent's terminal (or interim) status
// report, then recomputes the parent (spec §4.C10).
func (s *Service) UpdateChildStatus(ctx context.Context, childID string, status batch.ChildStatus, exitCode *int, errMsg string) error {
	parentID, child, err := s.findChild(ctx, childID)
	if err != nil {
		return err
	}

	child.Status = status
	child.ExitCode = exitCode
	child.ErrorMessage = errMsg
	if status.IsTerminal() {
		now := time.Now().UTC()
		child.AgentCompletedAt = &now
	}
	if err := s.store.UpdateChild(ctx, child); err != nil {
		return err
	}
	s.fabric.PublishAuthenticated(ChildTaskUpdate{Child: child})

	return s.recomputeParent(ctx, parentID)
}

// TerminateParent marks every active child Terminating and sends a
// terminate frame, and moves the parent to Terminating.
func (s *Service) TerminateParent(ctx context.Context, parentID string) error {
	children, err := s.store.ListChildren(ctx, parentID)
	if err != nil {
		return err
	}
	for _, c := range children {
		if !c.Status.IsActive() {
			continue
		}
		c.Status = batch.ChildTerminating
		if err := s.store.UpdateChild(ctx, c); err != nil {
			return err
		}
		s.sender.SendToAgent(ctx, c.HostID, &protocol.MessageToAgent{
			TerminateCommand: &protocol.BatchTerminateCommandRequest{CommandID: c.ID},
		})
		s.fabric.PublishAuthenticated(ChildTaskUpdate{Child: c})
	}
	return s.store.UpdateParentStatus(ctx, parentID, batch.ParentTerminating, nil)
}

// TerminateChild terminates a single active child; returns ErrNotTerminable
// otherwise.
func (s *Service) TerminateChild(ctx context.Context, childID string) error {
	parentID, child, err := s.findChild(ctx, childID)
	if err != nil {
		return err
	}
	if !child.Status.IsActive() {
		return ErrNotTerminable
	}
	child.Status = batch.ChildTerminating
	if err := s.store.UpdateChild(ctx, child); err != nil {
		return err
	}
	s.sender.SendToAgent(ctx, child.HostID, &protocol.MessageToAgent{
		TerminateCommand: &protocol.BatchTerminateCommandRequest{CommandID: child.ID},
	})
	s.fabric.PublishAuthenticated(ChildTaskUpdate{Child: child})
	_ = parentID
	return nil
}

func (s *Service) recomputeParent(ctx context.Context, parentID string) error {
	children, err := s.store.ListChildren(ctx, parentID)
	if err != nil {
		return err
	}
	status, ok := batch.RecomputeParentStatus(children)
	if !ok {
		return nil
	}
	now := time.Now().UTC()
	if err := s.store.UpdateParentStatus(ctx, parentID, status, &now); err != nil {
		return err
	}
	parent, err := s.store.GetParent(ctx, parentID)
	if err == nil {
		s.fabric.PublishAuthenticated(BatchTaskUpdate{Parent: *parent})
	}
	return nil
}

func (s *Service) findChild(ctx context.Context, childID string) (parentID string, child batch.Child, err error) {
	child, err = s.store.GetChild(ctx, childID)
	if err != nil {
		return "", batch.Child{}, err
	}
	return child.ParentID, child, nil
}

func (s *Service) appendLog(parentID, childID string, stream protocol.StreamType, chunk []byte) (string, error) {
	dir := filepath.Join(s.logRoot, parentID, childID)
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("batchsvc: create log dir: %w", err)
	}

	name := "stdout.log"
	if stream == protocol.StreamStderr {
		name = "stderr.log"
	}
	path := filepath.Join(dir, name)

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return "", fmt.Errorf("batchsvc: open log file: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(chunk); err != nil {
		return "", fmt.Errorf("batchsvc: write log chunk: %w", err)
	}
	return path, nil
}
