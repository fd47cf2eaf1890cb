package runtime

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/armon/circbuf"
)

// maxOutputBuf bounds the output retained per job for exit reporting.
const maxOutputBuf = 256 * 1024

// ExecConfig holds configuration for the process runtime.
type ExecConfig struct {
	// WorkDir is the base directory for per-job working directories.
	WorkDir string
	// PythonBin is the interpreter used to run scraper modules.
	PythonBin string
	// AppDir is the directory containing the scraper package tree.
	AppDir string
	// Env is injected into every scraper process.
	Env map[string]string
}

// ExecRuntime implements the Runtime interface using raw OS processes.
// It mirrors the backend's local execution mode and is also what the
// test suite runs against.
type ExecRuntime struct {
	config ExecConfig
}

// NewExecRuntime creates a new process-based runtime.
func NewExecRuntime(cfg ExecConfig) *ExecRuntime {
	if cfg.WorkDir == "" {
		cfg.WorkDir = filepath.Join(os.TempDir(), "scraperd", "jobs")
	}
	if cfg.PythonBin == "" {
		cfg.PythonBin = "python3"
	}
	return &ExecRuntime{config: cfg}
}

// ExecHandle represents a running scraper process.
type ExecHandle struct {
	id      string
	cmd     *exec.Cmd
	workDir string
	output  *circbuf.Buffer
	stream  *pipeBuffer

	doneCh chan struct{}
	mu     sync.Mutex
	result ExitResult
}

// Start runs the scraper module as a child process in its own process
// group so Stop and Kill reach the whole tree.
func (e *ExecRuntime) Start(ctx context.Context, opts StartOptions) (Handle, error) {
	if opts.ScraperType == "" {
		return nil, fmt.Errorf("scraper type is required")
	}

	workDir := filepath.Join(e.config.WorkDir, opts.JobID)
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create work dir: %w", err)
	}

	module := fmt.Sprintf("app.cpt_automated_scripts.%s.main", opts.ScraperType)
	cmd := exec.Command(e.config.PythonBin, "-m", module)
	if e.config.AppDir != "" {
		cmd.Dir = e.config.AppDir
	} else {
		cmd.Dir = workDir
	}
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	cmd.Env = os.Environ()
	cmd.Env = append(cmd.Env, "PYTHONUNBUFFERED=1")
	for k, v := range e.config.Env {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
	}
	for k, v := range opts.Env {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
	}

	output, _ := circbuf.NewBuffer(maxOutputBuf)
	stream := newPipeBuffer()
	sink := io.MultiWriter(output, stream)
	cmd.Stdout = sink
	cmd.Stderr = sink

	if err := cmd.Start(); err != nil {
		stream.Close()
		return nil, fmt.Errorf("failed to start process: %w", err)
	}

	h := &ExecHandle{
		id:      fmt.Sprintf("proc-%s-%d", opts.JobID, cmd.Process.Pid),
		cmd:     cmd,
		workDir: workDir,
		output:  output,
		stream:  stream,
		doneCh:  make(chan struct{}),
	}

	go func() {
		err := cmd.Wait()
		stream.Close()

		res := ExitResult{ExitCode: 0}
		if err != nil {
			if exitErr, ok := err.(*exec.ExitError); ok {
				res = ExitResult{ExitCode: exitErr.ExitCode()}
			} else {
				res = ExitResult{ExitCode: -1, Error: err}
			}
		}
		h.mu.Lock()
		h.result = res
		h.mu.Unlock()
		close(h.doneCh)
	}()

	return h, nil
}

// ID returns the pseudo container id for this process.
func (h *ExecHandle) ID() string {
	return h.id
}

// Wait blocks until the process exits.
func (h *ExecHandle) Wait(ctx context.Context) (ExitResult, error) {
	select {
	case <-h.doneCh:
		h.mu.Lock()
		defer h.mu.Unlock()
		return h.result, nil
	case <-ctx.Done():
		return ExitResult{ExitCode: -1, Error: ctx.Err()}, ctx.Err()
	}
}

// Stop sends SIGTERM to the process group and escalates to SIGKILL
// after the grace period.
func (h *ExecHandle) Stop(ctx context.Context, grace time.Duration) error {
	h.signal(syscall.SIGTERM)

	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case <-h.doneCh:
		return nil
	case <-timer.C:
		return h.Kill(ctx)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Kill sends SIGKILL to the process group.
func (h *ExecHandle) Kill(ctx context.Context) error {
	return h.signal(syscall.SIGKILL)
}

func (h *ExecHandle) signal(sig syscall.Signal) error {
	select {
	case <-h.doneCh:
		return nil
	default:
	}
	// Negative pid targets the whole process group.
	return syscall.Kill(-h.cmd.Process.Pid, sig)
}

// Remove deletes the per-job working directory.
func (h *ExecHandle) Remove(ctx context.Context) error {
	return os.RemoveAll(h.workDir)
}

// StreamLogs returns the combined output stream. One consumer only.
func (h *ExecHandle) StreamLogs(ctx context.Context) (io.ReadCloser, error) {
	return h.stream, nil
}

// Output returns the retained tail of the process output.
func (h *ExecHandle) Output() []byte {
	return h.output.Bytes()
}

// pipeBuffer is a non-blocking in-memory pipe: writes always succeed
// and are retained until read, so the child process is never stalled by
// a slow or absent log consumer.
type pipeBuffer struct {
	mu     sync.Mutex
	cond   *sync.Cond
	buf    []byte
	closed bool
}

func newPipeBuffer() *pipeBuffer {
	p := &pipeBuffer{}
	p.cond = sync.NewCond(&p.mu)
	return p
}

func (p *pipeBuffer) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		// Discard writes after close so the child process is never
		// stalled once the consumer has gone away.
		return len(b), nil
	}
	p.buf = append(p.buf, b...)
	p.cond.Broadcast()
	return len(b), nil
}

func (p *pipeBuffer) Read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for len(p.buf) == 0 && !p.closed {
		p.cond.Wait()
	}
	if len(p.buf) == 0 {
		return 0, io.EOF
	}
	n := copy(b, p.buf)
	p.buf = p.buf[n:]
	return n, nil
}

// Close ends the stream; pending data remains readable until drained.
func (p *pipeBuffer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	p.cond.Broadcast()
	return nil
}
