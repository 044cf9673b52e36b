// Package runner launches a child process and drains its stdout/stderr into
// caller-supplied sinks under a per-stream byte cap, detecting output-limit-
// exceeded (OLE) without killing the child.
package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/neohoj/iruka-worker/internal/workerpool"
)

// pipeBufferSize is the chunk size used to drain pipes: 16 OS pages.
const pipeBufferSize = 16 * 4096

// Sink is a capture destination with an optional byte cap. Limit <= 0 means
// unlimited.
type Sink struct {
	Writer io.Writer
	Limit  int64
}

// Options configures one Run call.
type Options struct {
	Argv []string
	Dir  string
	// Stdin, if non-nil, is copied to the child's stdin before it is closed.
	Stdin io.Reader
	// Stdout and Stderr, if nil, are discarded entirely (the equivalent of
	// /dev/null); if non-nil, the corresponding stream is piped and drained
	// under the sink's limit.
	Stdout *Sink
	Stderr *Sink
	// ExtraFiles are passed to the child starting at fd 3, exactly as
	// os/exec.Cmd.ExtraFiles; this is how the sandbox's statistics log fd
	// reaches the child (its --log_fd flag).
	ExtraFiles []*os.File
	// AddressSpaceLimitBytes, if >0, applies a virtual-memory rlimit to the
	// child before exec, via a shell ulimit wrapper since os/exec has no
	// child-side pre-exec hook.
	AddressSpaceLimitBytes int64
}

// Completed is the result of a finished (or killed-on-timeout) run.
type Completed struct {
	ExitCode           int
	StdoutBytesWritten int64
	StderrBytesWritten int64
	StdoutOLE          bool
	StderrOLE          bool
	TimedOut           bool
}

// ErrTimeout is returned (wrapped) when ctx's deadline killed the child
// before it exited on its own.
var ErrTimeout = errors.New("runner: supervisor timeout exceeded")

// Run launches opts.Argv and drains its pipes to completion or until ctx is
// done. ctx supplies the supervisor timeout: a generous deadline after
// which the child is killed and the submission is failed as an internal
// error, distinct from the sandbox's own per-task wall-clock enforcement.
func Run(ctx context.Context, opts Options) (*Completed, error) {
	argv := opts.Argv
	if len(argv) == 0 {
		return nil, fmt.Errorf("runner: empty argv")
	}
	if opts.AddressSpaceLimitBytes > 0 {
		argv = wrapWithAddressSpaceLimit(argv, opts.AddressSpaceLimitBytes)
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = opts.Dir
	cmd.ExtraFiles = opts.ExtraFiles

	if opts.Stdin != nil {
		cmd.Stdin = opts.Stdin
	}

	var stdoutPipe, stderrPipe io.ReadCloser
	var err error
	if opts.Stdout != nil {
		stdoutPipe, err = cmd.StdoutPipe()
		if err != nil {
			return nil, fmt.Errorf("runner: stdout pipe: %w", err)
		}
	}
	if opts.Stderr != nil {
		stderrPipe, err = cmd.StderrPipe()
		if err != nil {
			return nil, fmt.Errorf("runner: stderr pipe: %w", err)
		}
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("runner: start: %w", err)
	}

	result := &Completed{}

	drains := make([]func() error, 0, 2)
	if stdoutPipe != nil {
		drains = append(drains, func() error {
			n, ole, err := drain(stdoutPipe, opts.Stdout)
			result.StdoutBytesWritten = n
			result.StdoutOLE = ole
			return err
		})
	}
	if stderrPipe != nil {
		drains = append(drains, func() error {
			n, ole, err := drain(stderrPipe, opts.Stderr)
			result.StderrBytesWritten = n
			result.StderrOLE = ole
			return err
		})
	}

	// Drain concurrently; the pipeline above never runs two subprocesses
	// at once, so this is the only concurrency needed here.
	drainErr := workerpool.Run(drains...)

	waitErr := cmd.Wait()

	if ctx.Err() != nil {
		result.TimedOut = true
		return result, fmt.Errorf("%w: %v", ErrTimeout, ctx.Err())
	}
	if drainErr != nil {
		return result, fmt.Errorf("runner: drain: %w", drainErr)
	}

	if waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
			return result, nil
		}
		return result, fmt.Errorf("runner: wait: %w", waitErr)
	}

	result.ExitCode = 0
	return result, nil
}

// drain reads r in chunks capped by sink.Limit, writing each chunk to
// sink.Writer. Once the running count reaches the limit, one more
// single-byte probe read decides the outcome: data returned means OLE,
// EOF means the stream ended cleanly at the cap.
func drain(r io.Reader, sink *Sink) (written int64, ole bool, err error) {
	buf := make([]byte, pipeBufferSize)
	for {
		sz := len(buf)
		if sink.Limit > 0 {
			remaining := sink.Limit - written
			if remaining <= 0 {
				probe := make([]byte, 1)
				n, perr := r.Read(probe)
				if n > 0 {
					return written, true, nil
				}
				if perr == io.EOF || n == 0 {
					return written, false, nil
				}
				return written, false, fmt.Errorf("runner: probe read: %w", perr)
			}
			if remaining < int64(sz) {
				sz = int(remaining)
			}
		}

		n, rerr := r.Read(buf[:sz])
		if n > 0 {
			if _, werr := sink.Writer.Write(buf[:n]); werr != nil {
				return written, ole, fmt.Errorf("runner: sink write: %w", werr)
			}
			written += int64(n)
		}
		if rerr != nil {
			if rerr == io.EOF {
				return written, ole, nil
			}
			return written, ole, fmt.Errorf("runner: read: %w", rerr)
		}
		if n == 0 {
			return written, ole, nil
		}
	}
}

// wrapWithAddressSpaceLimit re-exec's argv under a shell that applies a
// virtual-memory rlimit first; os/exec has no child-side hook to set
// rlimits directly.
func wrapWithAddressSpaceLimit(argv []string, limitBytes int64) []string {
	limitKB := (limitBytes + 1023) / 1024
	quoted := make([]string, len(argv))
	for i, a := range argv {
		quoted[i] = shellQuote(a)
	}
	script := "ulimit -v " + strconv.FormatInt(limitKB, 10) + " && exec " + strings.Join(quoted, " ")
	return []string{"/bin/sh", "-c", script}
}

// shellQuote wraps s in single quotes, escaping any embedded single quote,
// so it survives sh -c intact regardless of content.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
