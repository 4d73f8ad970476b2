package agent

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/nogataka/cc-discussion/internal/log"
)

// ProcessStatus tracks an agent subprocess through its lifecycle.
type ProcessStatus string

// Process statuses.
const (
	StatusPending   ProcessStatus = "pending"
	StatusRunning   ProcessStatus = "running"
	StatusCompleted ProcessStatus = "completed"
	StatusFailed    ProcessStatus = "failed"
	StatusCancelled ProcessStatus = "cancelled"
)

// IsTerminal returns true once the process can no longer change status.
func (s ProcessStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// ErrTimeout is returned when an invocation exceeds its configured timeout.
var ErrTimeout = fmt.Errorf("agent process timed out")

// killGracePeriod is how long a cancelled process gets to exit after SIGTERM
// before it is killed.
const killGracePeriod = 2 * time.Second

// Config describes one agent invocation.
type Config struct {
	// Command is the agent executable; Args are prepended before the
	// per-invocation flags.
	Command string
	Args    []string

	ParticipantID   string
	ParticipantName string
	Role            string
	Mode            Mode
	WorkDir         string
	Language        string
	MeetingType     string
	IsFacilitator   bool

	// PermissionMode is the tool permission setting forwarded to the agent
	// CLI; empty means the agent's default.
	PermissionMode string

	Data DataPayload

	// Timeout bounds the whole invocation; zero means no timeout.
	Timeout time.Duration
}

func buildArgs(cfg Config, dataFile string) []string {
	args := append([]string{}, cfg.Args...)
	args = append(args,
		"--participant-id", cfg.ParticipantID,
		"--participant-name", cfg.ParticipantName,
		"--participant-role", cfg.Role,
		"--data-file", dataFile,
		"--mode", string(cfg.Mode),
		"--language", cfg.Language,
	)
	if cfg.WorkDir != "" {
		args = append(args, "--cwd", cfg.WorkDir)
	}
	if cfg.MeetingType != "" {
		args = append(args, "--meeting-type", cfg.MeetingType)
	}
	if cfg.IsFacilitator {
		args = append(args, "--is-facilitator")
	}
	if cfg.PermissionMode != "" {
		args = append(args, "--permission-mode", cfg.PermissionMode)
	}
	return args
}

// writeDataFile persists the invocation context to a transient JSON file. The
// caller owns removal once the process exits.
func writeDataFile(data DataPayload) (string, error) {
	f, err := os.CreateTemp("", "participant_*.json")
	if err != nil {
		return "", fmt.Errorf("create data file: %w", err)
	}
	enc := json.NewEncoder(f)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(data); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", fmt.Errorf("write data file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("close data file: %w", err)
	}
	return f.Name(), nil
}

// Process is one running agent invocation.
// Process implements Handle.
type Process struct {
	cmd        *exec.Cmd
	stdout     io.ReadCloser
	stderr     io.ReadCloser
	dataFile   string
	status     ProcessStatus
	events     chan Event
	errors     chan error
	cancelFunc context.CancelFunc
	ctx        context.Context
	mu         sync.RWMutex
	wg         sync.WaitGroup

	// stderrLines captures stderr output for inclusion in error messages.
	// Protected by mu.
	stderrLines []string
}

// Spawn writes the data file, starts the agent subprocess, and begins
// streaming its protocol output. Context is used for cancellation and
// timeout control.
func Spawn(ctx context.Context, cfg Config) (*Process, error) {
	if cfg.Command == "" {
		return nil, fmt.Errorf("agent command not configured")
	}

	dataFile, err := writeDataFile(cfg.Data)
	if err != nil {
		return nil, err
	}

	var procCtx context.Context
	var cancel context.CancelFunc
	if cfg.Timeout > 0 {
		procCtx, cancel = context.WithTimeout(ctx, cfg.Timeout)
	} else {
		procCtx, cancel = context.WithCancel(ctx)
	}

	args := buildArgs(cfg, dataFile)
	log.Debug(log.CatAgent, "Spawning agent process",
		"participant", cfg.ParticipantName, "mode", cfg.Mode, "args", strings.Join(args, " "))

	// #nosec G204 -- args are built from Config struct, not user input
	cmd := exec.CommandContext(procCtx, cfg.Command, args...)
	// Graceful shutdown: SIGTERM on cancel, SIGKILL after the grace period.
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = killGracePeriod

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		os.Remove(dataFile)
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		cancel()
		os.Remove(dataFile)
		return nil, fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	p := &Process{
		cmd:        cmd,
		stdout:     stdout,
		stderr:     stderr,
		dataFile:   dataFile,
		status:     StatusPending,
		events:     make(chan Event, 100),
		errors:     make(chan error, 10),
		cancelFunc: cancel,
		ctx:        procCtx,
	}

	if err := cmd.Start(); err != nil {
		cancel()
		os.Remove(dataFile)
		log.Debug(log.CatAgent, "Failed to start agent process", "participant", cfg.ParticipantName, "error", err)
		return nil, fmt.Errorf("failed to start agent process: %w", err)
	}

	log.Debug(log.CatAgent, "Agent process started", "participant", cfg.ParticipantName, "pid", cmd.Process.Pid)
	p.setStatus(StatusRunning)

	p.wg.Add(3)
	go p.parseOutput()
	go p.parseStderr()
	go p.waitForCompletion()

	return p, nil
}

// Events returns a channel that receives parsed protocol events. Closed when
// stdout is exhausted.
func (p *Process) Events() <-chan Event {
	return p.events
}

// Errors returns a channel that receives errors. Closed when the process has
// exited.
func (p *Process) Errors() <-chan error {
	return p.errors
}

// Status returns the current process status.
func (p *Process) Status() ProcessStatus {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.status
}

// IsRunning returns true if the process is currently running.
func (p *Process) IsRunning() bool {
	return p.Status() == StatusRunning
}

// PID returns the subprocess id, or 0 if not started.
func (p *Process) PID() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.cmd != nil && p.cmd.Process != nil {
		return p.cmd.Process.Pid
	}
	return 0
}

// Cancel terminates the process. The status is set before calling cancelFunc
// to prevent a race with waitForCompletion.
func (p *Process) Cancel() error {
	p.mu.Lock()
	if !p.status.IsTerminal() {
		p.status = StatusCancelled
	}
	p.mu.Unlock()
	p.cancelFunc()
	return nil
}

// Wait blocks until the process completes and all goroutines drain.
func (p *Process) Wait() error {
	p.wg.Wait()
	return nil
}

func (p *Process) setStatus(s ProcessStatus) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.status = s
}

// sendError attempts to send an error without blocking.
func (p *Process) sendError(err error) {
	select {
	case p.errors <- err:
	default:
		log.Debug(log.CatAgent, "Error channel full, dropping error", "error", err)
	}
}

// parseOutput reads stdout and parses protocol events.
func (p *Process) parseOutput() {
	defer p.wg.Done()
	defer close(p.events)

	scanner := bufio.NewScanner(p.stdout)
	// Large responses can exceed the default token size (64KB initial, 1MB max).
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		event, err := ParseEvent(line)
		if err != nil {
			log.Debug(log.CatAgent, "Skipping non-protocol line", "error", err, "line", string(line[:min(100, len(line))]))
			continue
		}
		event.Timestamp = time.Now()

		select {
		case p.events <- event:
		case <-p.ctx.Done():
			log.Debug(log.CatAgent, "Context done, stopping parser")
			return
		}
	}

	if err := scanner.Err(); err != nil {
		log.Debug(log.CatAgent, "Scanner error", "error", err)
		p.sendError(fmt.Errorf("stdout scanner error: %w", err))
	}
}

// parseStderr reads and logs stderr output, capturing lines for error messages.
func (p *Process) parseStderr() {
	defer p.wg.Done()

	scanner := bufio.NewScanner(p.stderr)
	for scanner.Scan() {
		line := scanner.Text()
		log.Debug(log.CatAgent, "STDERR", "line", line)

		p.mu.Lock()
		p.stderrLines = append(p.stderrLines, line)
		p.mu.Unlock()
	}
}

// waitForCompletion waits for the process to exit, updates status, and cleans
// up the data file. It closes the errors channel to signal completion.
func (p *Process) waitForCompletion() {
	defer p.wg.Done()
	defer close(p.errors)
	defer os.Remove(p.dataFile)

	err := p.cmd.Wait()

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.status == StatusCancelled {
		log.Debug(log.CatAgent, "Process was cancelled", "pid", p.cmd.Process.Pid)
		return
	}

	if errors.Is(p.ctx.Err(), context.DeadlineExceeded) {
		p.status = StatusFailed
		log.Debug(log.CatAgent, "Process timed out", "pid", p.cmd.Process.Pid)
		p.sendError(ErrTimeout)
		return
	}

	if err != nil {
		p.status = StatusFailed
		if len(p.stderrLines) > 0 {
			stderrMsg := strings.Join(p.stderrLines, "\n")
			p.sendError(fmt.Errorf("agent process failed: %s (exit: %w)", stderrMsg, err))
		} else {
			p.sendError(fmt.Errorf("agent process exited: %w", err))
		}
		return
	}

	p.status = StatusCompleted
}
