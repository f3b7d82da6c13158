package remote

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Channel executes commands and uploads files on a remote host.
type Channel interface {
	// Execute runs cmd and returns its stdout with trailing newlines removed.
	// A non-zero exit status is reported as *CommandError.
	Execute(ctx context.Context, cmd string) (string, error)

	// Upload copies localPath to remotePath. Failures are reported as *TransferError.
	Upload(ctx context.Context, localPath, remotePath string) error
}

// CommandError reports a command that ran but exited with a non-zero status.
type CommandError struct {
	Command  string
	ExitCode int
	Stderr   string
}

func (e *CommandError) Error() string {
	msg := fmt.Sprintf("command %q exited with status %d", e.Command, e.ExitCode)
	if e.Stderr != "" {
		msg += ": " + e.Stderr
	}
	return msg
}

// TransferError reports a failed upload.
type TransferError struct {
	LocalPath  string
	RemotePath string
	Err        error
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("failed to upload %s to %s: %v", e.LocalPath, e.RemotePath, e.Err)
}

func (e *TransferError) Unwrap() error {
	return e.Err
}

// IsCommandError reports whether err is, or wraps, a *CommandError.
func IsCommandError(err error) bool {
	var cmdErr *CommandError
	return errors.As(err, &cmdErr)
}

// Quote returns s as a single-quoted POSIX shell word.
//
// Example: it's → 'it'\''s'
func Quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
