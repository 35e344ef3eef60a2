// Package extractor wraps the external yt-dlp binary: argument building,
// process lifecycle, metadata probing and playlist expansion.
package extractor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"time"
)

const (
	defaultBinary = "yt-dlp"
	defaultGrace  = 5 * time.Second

	outputTemplate = "%(title)s.%(ext)s"
)

// ErrStart wraps failures to launch the tool (binary missing, not executable).
var ErrStart = errors.New("start extractor")

// Invocation is one request to the tool.
type Invocation struct {
	URL       string
	Directory string
	Quality   Quality
}

// Args builds the full argument list for inv.
func (inv Invocation) Args() []string {
	args := []string{
		"--extract-audio",
		"--embed-metadata",
		"--embed-thumbnail",
		"--newline",
		"--progress",
		"--no-warnings",
		"--output", filepath.Join(inv.Directory, outputTemplate),
	}
	args = append(args, inv.Quality.Args()...)
	return append(args, inv.URL)
}

// Process is a running tool instance. Output and Diagnostics reach EOF once
// the process has exited; both must be drained.
type Process interface {
	Output() io.Reader
	Diagnostics() io.Reader
	Wait() error
}

// Runner starts tool processes. Cancelling ctx asks the process to stop.
type Runner interface {
	Start(ctx context.Context, inv Invocation) (Process, error)
}

// CommandRunner runs the real binary.
type CommandRunner struct {
	Binary string
	// Grace is how long an interrupted process may take before it is killed.
	Grace time.Duration
}

// NewCommandRunner returns a runner for binary, falling back to "yt-dlp" on PATH.
func NewCommandRunner(binary string, grace time.Duration) *CommandRunner {
	if binary == "" {
		binary = defaultBinary
	}
	if grace <= 0 {
		grace = defaultGrace
	}
	return &CommandRunner{Binary: binary, Grace: grace}
}

// Start implements Runner.
func (r *CommandRunner) Start(ctx context.Context, inv Invocation) (Process, error) { //nolint:ireturn
	cmd := exec.CommandContext(ctx, r.Binary, inv.Args()...) //nolint:gosec // binary comes from config
	cmd.Cancel = func() error { return interrupt(cmd.Process) }
	cmd.WaitDelay = r.Grace

	outR, outW := io.Pipe()
	errR, errW := io.Pipe()
	cmd.Stdout = outW
	cmd.Stderr = errW

	if err := cmd.Start(); err != nil {
		_ = outW.Close()
		_ = errW.Close()
		return nil, fmt.Errorf("%w: %w", ErrStart, err)
	}

	p := &cmdProcess{stdout: outR, stderr: errR, done: make(chan struct{})}
	go func() {
		p.err = cmd.Wait()
		_ = outW.Close()
		_ = errW.Close()
		close(p.done)
	}()
	return p, nil
}

type cmdProcess struct {
	stdout io.Reader
	stderr io.Reader
	done   chan struct{}
	err    error
}

func (p *cmdProcess) Output() io.Reader      { return p.stdout }
func (p *cmdProcess) Diagnostics() io.Reader { return p.stderr }

func (p *cmdProcess) Wait() error {
	<-p.done
	return p.err
}

// interrupt asks the process to stop; windows has no SIGINT for child processes.
func interrupt(p *os.Process) error {
	if p == nil {
		return nil
	}
	if runtime.GOOS == "windows" {
		return p.Kill()
	}
	return p.Signal(os.Interrupt)
}
