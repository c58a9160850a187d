// Package process wraps the external ffmpeg processes of a playout session.
//
// A Handle owns the parent side of its pipes. Pipes are plain os.Pipe pairs
// rather than exec's StdoutPipe so that reaping the child never closes a
// stream the caller is still draining.
package process

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
)

// Role names the job a process has in the session. The value is used as the
// log tag for its diagnostic stream.
type Role string

const (
	RoleIngest  Role = "Server"
	RoleEncoder Role = "Encoder"
	RoleDecoder Role = "Decoder"
)

// State is the lifecycle state of a Handle.
type State int

const (
	StateNotStarted State = iota
	StateRunning
	StateExited
)

func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "not_started"
	case StateRunning:
		return "running"
	case StateExited:
		return "exited"
	default:
		return "unknown"
	}
}

var (
	// ErrNotStarted is returned by Wait on a handle that never started.
	ErrNotStarted = errors.New("process not started")

	// ErrAlreadyStarted is returned by a second Start.
	ErrAlreadyStarted = errors.New("process already started")
)

// Process is the view of a running external process the playout loop needs.
// Handle implements it; tests substitute in-memory fakes.
type Process interface {
	Role() Role
	Args() []string
	// Stdin is nil unless the process reads from the pipeline.
	Stdin() io.WriteCloser
	// Stdout is nil unless the process feeds the pipeline.
	Stdout() io.Reader
	Running() bool
	Kill() error
	// Wait blocks until the process has exited and been reaped. It may be
	// called any number of times; the child is reaped once.
	Wait() error
}

// Handle is one external process with optional stdin/stdout pipes and a
// drained stderr.
type Handle struct {
	role Role
	args []string

	pipeStdin  bool
	pipeStdout bool
	passStdout io.Writer

	log      *slog.Logger
	classify Classifier

	mu       sync.Mutex
	state    State
	cmd      *exec.Cmd
	stdin    *os.File
	stdout   *os.File
	exitCode int
	waitErr  error
	done     chan struct{}
	drained  chan struct{}
	release  sync.Once
}

// Option configures a Handle.
type Option func(*Handle)

// WithStdin gives the caller a pipe to the process's stdin.
func WithStdin() Option { return func(h *Handle) { h.pipeStdin = true } }

// WithStdout gives the caller a pipe from the process's stdout.
func WithStdout() Option { return func(h *Handle) { h.pipeStdout = true } }

// WithPassthroughStdout connects the child's stdout directly to w.
func WithPassthroughStdout(w io.Writer) Option { return func(h *Handle) { h.passStdout = w } }

// WithLogger sets the sink for the drained stderr.
func WithLogger(log *slog.Logger) Option { return func(h *Handle) { h.log = log } }

// WithClassifier sets how stderr lines map to log levels.
func WithClassifier(c Classifier) Option { return func(h *Handle) { h.classify = c } }

// New returns an unstarted handle for args, where args[0] is the binary.
func New(role Role, args []string, opts ...Option) *Handle {
	h := &Handle{
		role:    role,
		args:    append([]string(nil), args...),
		done:    make(chan struct{}),
		drained: make(chan struct{}),
	}
	for _, o := range opts {
		o(h)
	}
	if h.log == nil {
		h.log = slog.Default()
	}
	return h
}

// Start launches the process and its stderr drain.
func (h *Handle) Start() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.state != StateNotStarted {
		return ErrAlreadyStarted
	}
	if len(h.args) == 0 {
		return fmt.Errorf("start %s: empty command", h.role)
	}

	cmd := exec.Command(h.args[0], h.args[1:]...)

	// childEnds are closed in the parent once the child holds them.
	var childEnds, parentEnds []*os.File
	fail := func(err error) error {
		for _, f := range append(childEnds, parentEnds...) {
			_ = f.Close()
		}
		h.stdin, h.stdout = nil, nil
		return fmt.Errorf("start %s: %w", h.role, err)
	}

	if h.pipeStdin {
		r, w, err := os.Pipe()
		if err != nil {
			return fail(err)
		}
		cmd.Stdin = r
		h.stdin = w
		childEnds = append(childEnds, r)
		parentEnds = append(parentEnds, w)
	}
	if h.pipeStdout {
		r, w, err := os.Pipe()
		if err != nil {
			return fail(err)
		}
		cmd.Stdout = w
		h.stdout = r
		childEnds = append(childEnds, w)
		parentEnds = append(parentEnds, r)
	} else if h.passStdout != nil {
		cmd.Stdout = h.passStdout
	}

	errR, errW, err := os.Pipe()
	if err != nil {
		return fail(err)
	}
	cmd.Stderr = errW
	childEnds = append(childEnds, errW)
	parentEnds = append(parentEnds, errR)

	if err := cmd.Start(); err != nil {
		return fail(err)
	}
	for _, f := range childEnds {
		_ = f.Close()
	}

	h.cmd = cmd
	h.state = StateRunning

	go func() {
		defer close(h.drained)
		Drain(errR, h.role, h.log, h.classify)
		_ = errR.Close()
	}()
	go h.reap()

	return nil
}

// reap waits for the child exactly once and records the outcome.
func (h *Handle) reap() {
	err := h.cmd.Wait()

	h.mu.Lock()
	h.state = StateExited
	h.waitErr = err
	if h.cmd.ProcessState != nil {
		h.exitCode = h.cmd.ProcessState.ExitCode()
	}
	h.mu.Unlock()

	close(h.done)
}

// Role implements Process.
func (h *Handle) Role() Role { return h.role }

// Args implements Process.
func (h *Handle) Args() []string { return h.args }

// Stdin implements Process.
func (h *Handle) Stdin() io.WriteCloser {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stdin == nil {
		return nil
	}
	return h.stdin
}

// Stdout implements Process.
func (h *Handle) Stdout() io.Reader {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stdout == nil {
		return nil
	}
	return h.stdout
}

// Pid returns the OS process id, or 0 before Start.
func (h *Handle) Pid() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cmd == nil || h.cmd.Process == nil {
		return 0
	}
	return h.cmd.Process.Pid
}

// State returns the lifecycle state and, once exited, the exit code.
func (h *Handle) State() (State, int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state, h.exitCode
}

// Running implements Process.
func (h *Handle) Running() bool {
	st, _ := h.State()
	return st == StateRunning
}

// Kill force-kills a running process. Killing an exited or unstarted
// process is a no-op.
func (h *Handle) Kill() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.state != StateRunning {
		return nil
	}
	if err := h.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("kill %s: %w", h.role, err)
	}
	return nil
}

// Wait implements Process. After the child is reaped the parent pipe ends
// are released; the exit error is returned on every call.
func (h *Handle) Wait() error {
	h.mu.Lock()
	started := h.state != StateNotStarted
	h.mu.Unlock()
	if !started {
		return ErrNotStarted
	}

	<-h.done

	h.release.Do(func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if h.stdin != nil {
			_ = h.stdin.Close()
		}
		if h.stdout != nil {
			_ = h.stdout.Close()
		}
	})

	h.mu.Lock()
	defer h.mu.Unlock()
	return h.waitErr
}

// Drained is closed once the stderr drain has finished.
func (h *Handle) Drained() <-chan struct{} { return h.drained }
