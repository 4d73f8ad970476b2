package agent

import "context"

// Handle is the consumer-facing view of one running invocation.
type Handle interface {
	Events() <-chan Event
	Errors() <-chan error
	Status() ProcessStatus
	Cancel() error
	Wait() error
}

// Runner starts agent invocations. The orchestrator depends on this interface
// so tests can substitute scripted processes.
type Runner interface {
	Start(ctx context.Context, cfg Config) (Handle, error)
}

// CLIRunner spawns real agent CLI subprocesses.
type CLIRunner struct{}

// Start implements Runner.
func (CLIRunner) Start(ctx context.Context, cfg Config) (Handle, error) {
	return Spawn(ctx, cfg)
}

// Ensure Process implements Handle at compile time.
var _ Handle = (*Process)(nil)
