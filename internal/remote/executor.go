package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"time"

	"github.com/kballard/go-shellquote"
	"github.com/sirupsen/logrus"

	"github.com/jbweber/vmspawner/internal/logging"
)

const (
	// DefaultTimeout bounds a remote command when no timeout is given.
	DefaultTimeout = 60 * time.Second

	// DefaultSSHBinary is the transport invoked for every remote command.
	DefaultSSHBinary = "ssh"
)

// Result holds the outcome of one completed remote command.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Runner runs argv on the remote host. It is implemented by *Executor and
// by fakes in tests.
type Runner interface {
	Run(ctx context.Context, argv []string, opts ...Option) (*Result, error)
}

// Option adjusts a single Run call.
type Option func(*runOptions)

type runOptions struct {
	timeout time.Duration
	check   bool
	stdin   io.Reader
}

// WithTimeout overrides DefaultTimeout.
func WithTimeout(d time.Duration) Option {
	return func(o *runOptions) { o.timeout = d }
}

// WithoutCheck returns a Result for non-zero exits instead of a CommandError.
// Callers must inspect Result.ExitCode themselves.
func WithoutCheck() Option {
	return func(o *runOptions) { o.check = false }
}

// WithStdin streams r to the remote command's standard input.
func WithStdin(r io.Reader) Option {
	return func(o *runOptions) { o.stdin = r }
}

// execFunc runs a local process and reports its exit code. A non-nil error
// means the process did not run to completion.
type execFunc func(ctx context.Context, name string, args []string, stdin io.Reader) (stdout, stderr []byte, exitCode int, err error)

// Executor runs commands on one remote host through the ssh binary.
type Executor struct {
	host    string
	keyFile string
	binary  string
	log     logrus.FieldLogger
	exec    execFunc
}

// NewExecutor creates an Executor for host (user@host form). keyFile may be
// empty to let ssh pick its default identities.
func NewExecutor(host, keyFile string, log logrus.FieldLogger) *Executor {
	return &Executor{
		host:    host,
		keyFile: keyFile,
		binary:  DefaultSSHBinary,
		log:     logging.OrDiscard(log),
		exec:    runLocal,
	}
}

// Host returns the remote host this executor targets.
func (e *Executor) Host() string {
	return e.host
}

// KeyFile returns the ssh identity file, if any.
func (e *Executor) KeyFile() string {
	return e.keyFile
}

// sshArgs builds the ssh argument list. Each argv element is quoted for the
// remote shell so it arrives as exactly one argument.
func (e *Executor) sshArgs(argv []string) []string {
	args := []string{
		"-o", "StrictHostKeyChecking=no",
		"-o", "UserKnownHostsFile=/dev/null",
	}
	if e.keyFile != "" {
		args = append(args, "-i", e.keyFile)
	}
	args = append(args, "-T", e.host, "--", shellquote.Join(argv...))
	return args
}

// Run executes argv on the remote host. Stdout and stderr are trimmed.
// With the default check, a non-zero exit returns a *CommandError.
func (e *Executor) Run(ctx context.Context, argv []string, opts ...Option) (*Result, error) {
	if len(argv) == 0 {
		return nil, fmt.Errorf("remote command is empty")
	}

	o := runOptions{timeout: DefaultTimeout, check: true}
	for _, opt := range opts {
		opt(&o)
	}

	runCtx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	log := e.log.WithField("host", e.host)
	log.Debugf("Running remote command: %s", shellquote.Join(argv...))

	stdout, stderr, code, err := e.exec(runCtx, e.binary, e.sshArgs(argv), o.stdin)
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s not found: %w", ErrTransportUnavailable, e.binary, err)
		}
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w after %s: %s", ErrTimeout, o.timeout, shellquote.Join(argv...))
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("remote command cancelled: %w", ctxErr)
		}
		return nil, fmt.Errorf("failed to run %s: %w", e.binary, err)
	}

	result := &Result{
		Stdout:   strings.TrimSpace(string(stdout)),
		Stderr:   strings.TrimSpace(string(stderr)),
		ExitCode: code,
	}

	if filtered := FilterNoise(result.Stderr); filtered != "" {
		log.Debugf("Remote command stderr: %s", filtered)
	}

	if code != 0 && o.check {
		return nil, &CommandError{
			Host:     e.host,
			Argv:     argv,
			ExitCode: code,
			Stdout:   result.Stdout,
			Stderr:   FilterNoise(result.Stderr),
		}
	}

	return result, nil
}

// runLocal starts name with args and waits for it. A process that exits
// non-zero is a completed run, not an error.
func runLocal(ctx context.Context, name string, args []string, stdin io.Reader) ([]byte, []byte, int, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.Stdin = stdin

	err := cmd.Run()
	if err == nil {
		return stdout.Bytes(), stderr.Bytes(), 0, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && ctx.Err() == nil {
		return stdout.Bytes(), stderr.Bytes(), exitErr.ExitCode(), nil
	}

	return stdout.Bytes(), stderr.Bytes(), -1, err
}
