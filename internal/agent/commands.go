package agent

import (
	"bufio"
	"context"
	"io"
	"os/exec"
	"sync"
	"time"

	"github.com/nodenexus/nodenexus/pkg/logger"
	"github.com/nodenexus/nodenexus/pkg/protocol"
)

// CommandSink is where streamed output and the terminal result are sent
// upstream.
type CommandSink interface {
	SendOutput(chunk protocol.BatchCommandOutputStream)
	SendCommandResult(res protocol.BatchCommandResult)
}

// CommandExecutor runs BatchAgentCommandRequests, tracking every in-flight
// child process so a later BatchTerminateCommandRequest can find and kill
// it (spec's RunningCommandsTracker).
type CommandExecutor struct {
	sink CommandSink
	log  *logger.Logger

	mu      sync.Mutex
	running map[string]*exec.Cmd
}

// NewCommandExecutor constructs an empty tracker.
func NewCommandExecutor(sink CommandSink, log *logger.Logger) *CommandExecutor {
	return &CommandExecutor{sink: sink, log: log, running: make(map[string]*exec.Cmd)}
}

// Run spawns req's command with piped stdout/stderr, streams output chunks
// as they arrive, and reports the final result once the process exits.
// Intended to be called in its own goroutine per command.
func (e *CommandExecutor) Run(ctx context.Context, req protocol.BatchAgentCommandRequest) {
	cmd := shellCommand(ctx, req.Content)
	if req.WorkingDirectory != "" {
		cmd.Dir = req.WorkingDirectory
	}
	if len(req.EnvironmentVariables) > 0 {
		cmd.Env = append(cmd.Environ(), flattenEnv(req.EnvironmentVariables)...)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		e.finish(req.CommandID, protocol.CommandResultFailure, nil, err.Error())
		return
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		e.finish(req.CommandID, protocol.CommandResultFailure, nil, err.Error())
		return
	}

	if err := cmd.Start(); err != nil {
		e.finish(req.CommandID, protocol.CommandResultFailure, nil, err.Error())
		return
	}

	e.mu.Lock()
	e.running[req.CommandID] = cmd
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		delete(e.running, req.CommandID)
		e.mu.Unlock()
	}()

	var wg sync.WaitGroup
	wg.Add(2)
	go e.streamLines(&wg, req.CommandID, protocol.StreamStdout, stdout)
	go e.streamLines(&wg, req.CommandID, protocol.StreamStderr, stderr)
	wg.Wait()

	err = cmd.Wait()
	status, exitCode, msg := classifyExit(ctx, err)
	e.finish(req.CommandID, status, exitCode, msg)
}

// Terminate looks up commandID's process and kills it; the command's own
// Run goroutine reports the Terminated result once Wait returns.
func (e *CommandExecutor) Terminate(commandID string) bool {
	e.mu.Lock()
	cmd, ok := e.running[commandID]
	e.mu.Unlock()
	if !ok || cmd.Process == nil {
		return false
	}
	return cmd.Process.Kill() == nil
}

func (e *CommandExecutor) streamLines(wg *sync.WaitGroup, commandID string, streamType protocol.StreamType, r io.Reader) {
	defer wg.Done()
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := append([]byte(nil), scanner.Bytes()...)
		line = append(line, '\n')
		if e.sink != nil {
			e.sink.SendOutput(protocol.BatchCommandOutputStream{
				CommandID:  commandID,
				StreamType: streamType,
				Chunk:      line,
				Timestamp:  time.Now().UnixMilli(),
			})
		}
	}
}

func (e *CommandExecutor) finish(commandID string, status protocol.CommandResultStatus, exitCode *int, errMsg string) {
	if e.sink == nil {
		return
	}
	e.sink.SendCommandResult(protocol.BatchCommandResult{
		CommandID:    commandID,
		Status:       status,
		ExitCode:     exitCode,
		ErrorMessage: errMsg,
	})
}

func classifyExit(ctx context.Context, err error) (protocol.CommandResultStatus, *int, string) {
	if err == nil {
		code := 0
		return protocol.CommandResultSuccess, &code, ""
	}
	if ctx.Err() != nil {
		return protocol.CommandResultTerminated, nil, ctx.Err().Error()
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		code := exitErr.ExitCode()
		if exitErr.ProcessState != nil && !exitErr.ProcessState.Exited() {
			return protocol.CommandResultTerminated, nil, err.Error()
		}
		return protocol.CommandResultFailure, &code, err.Error()
	}
	return protocol.CommandResultFailure, nil, err.Error()
}

func flattenEnv(vars map[string]string) []string {
	out := make([]string, 0, len(vars))
	for k, v := range vars {
		out = append(out, k+"="+v)
	}
	return out
}
