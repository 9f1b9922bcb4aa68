package remote

import (
	"errors"
	"fmt"
	"strings"

	"github.com/kballard/go-shellquote"
)

var (
	// ErrTransportUnavailable means the local ssh binary could not be started.
	// It is not retried.
	ErrTransportUnavailable = errors.New("remote transport unavailable")

	// ErrTimeout means the remote command did not finish within its timeout.
	ErrTimeout = errors.New("remote command timed out")

	// ErrCommandFailed is matched by every *CommandError.
	ErrCommandFailed = errors.New("remote command failed")

	// ErrUnsafeDestination rejects directory uploads to shallow remote paths.
	ErrUnsafeDestination = errors.New("unsafe remote destination")

	// ErrUploadFailed wraps any failure while packaging or extracting an upload.
	ErrUploadFailed = errors.New("upload failed")
)

// noiseMarkers are ssh stderr lines that carry no information about the
// remote command itself.
var noiseMarkers = []string{
	"Pseudo-terminal will not be allocated",
	"Warning: Permanently added",
}

// FilterNoise removes transport noise lines from ssh stderr.
func FilterNoise(stderr string) string {
	var kept []string
	for _, line := range strings.Split(stderr, "\n") {
		noisy := false
		for _, marker := range noiseMarkers {
			if strings.Contains(line, marker) {
				noisy = true
				break
			}
		}
		if !noisy {
			kept = append(kept, line)
		}
	}
	return strings.TrimSpace(strings.Join(kept, "\n"))
}

// CommandError is returned when a checked remote command exits non-zero.
type CommandError struct {
	Host     string
	Argv     []string
	ExitCode int
	Stdout   string
	Stderr   string // already filtered
}

func (e *CommandError) Error() string {
	msg := fmt.Sprintf("remote command on %s exited with code %d: %s", e.Host, e.ExitCode, shellquote.Join(e.Argv...))
	if e.Stderr != "" {
		msg += ": " + e.Stderr
	}
	return msg
}

// Is reports whether target is ErrCommandFailed.
func (e *CommandError) Is(target error) bool {
	return target == ErrCommandFailed
}
