package playout

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"live-playout/internal/ffmpeg"
	"live-playout/internal/platform/metrics"
	"live-playout/internal/process"
)

// DefaultRestartDelay is the pause between an ingest exit and its restart.
const DefaultRestartDelay = 330 * time.Millisecond

// RestartPolicy describes how the ingest supervisor reacts to an exit.
type RestartPolicy int

const (
	// RestartAlways restarts after a fixed delay, forever. The live feed is
	// expected to come and go, so an exit or failed start is never fatal
	// and the delay does not grow.
	RestartAlways RestartPolicy = iota
)

// Ingest supervises the live ingest server: one ffmpeg process listening for
// an inbound feed and decoding it to the intermediate format. Every buffer it
// produces is pushed onto the live queue.
type Ingest struct {
	args      []string
	launcher  process.Launcher
	queue     *Queue
	log       *slog.Logger
	metrics   *metrics.Metrics
	chunkSize int
	delay     time.Duration
	policy    RestartPolicy

	mu      sync.Mutex
	current process.Process

	starts   atomic.Int64
	restarts atomic.Int64
}

// IngestOptions configures an Ingest.
type IngestOptions struct {
	Args         []string
	Launcher     process.Launcher
	Queue        *Queue
	Log          *slog.Logger
	Metrics      *metrics.Metrics
	ChunkSize    int
	RestartDelay time.Duration
}

// NewIngest returns a supervisor that is started with Run.
func NewIngest(opts IngestOptions) *Ingest {
	in := &Ingest{
		args:      opts.Args,
		launcher:  opts.Launcher,
		queue:     opts.Queue,
		log:       opts.Log,
		metrics:   opts.Metrics,
		chunkSize: opts.ChunkSize,
		delay:     opts.RestartDelay,
		policy:    RestartAlways,
	}
	if in.log == nil {
		in.log = slog.Default()
	}
	if in.chunkSize <= 0 {
		in.chunkSize = process.DefaultChunkSize
	}
	if in.delay <= 0 {
		in.delay = DefaultRestartDelay
	}
	return in
}

// Run keeps the ingest server alive until ctx is done and then returns
// ctx.Err(). It never gives up on its own.
func (in *Ingest) Run(ctx context.Context) error {
	in.log.Warn("ingest stream is experimental, use it at your own risk")
	in.log.Debug("server command", slog.String("cmd", ffmpeg.FormatCommand(in.args)))

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		in.runOnce(ctx)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(in.delay):
		}

		in.restarts.Add(1)
		in.metrics.IncIngestRestarts()
	}
}

// runOnce starts the server and forwards its output until it ends.
func (in *Ingest) runOnce(ctx context.Context) {
	p, err := in.launcher.Launch(process.RoleIngest, in.args)
	in.starts.Add(1)
	if err != nil {
		in.log.Warn("ingest server failed to start", slog.String("error", err.Error()))
		return
	}

	in.mu.Lock()
	in.current = p
	in.mu.Unlock()

	stop := context.AfterFunc(ctx, func() { _ = p.Kill() })
	defer stop()

	out := p.Stdout()
	for out != nil {
		buf := make([]byte, in.chunkSize)
		n, err := io.ReadFull(out, buf)
		if n > 0 {
			in.queue.Push(buf[:n])
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
				in.log.Debug("ingest read ended", slog.String("error", err.Error()))
			}
			break
		}
	}

	_ = p.Kill()
	if err := p.Wait(); err != nil && ctx.Err() == nil {
		in.log.Debug("ingest server exited", slog.String("error", err.Error()))
	}

	in.mu.Lock()
	in.current = nil
	in.mu.Unlock()
}

// Running reports whether an ingest process is currently alive.
func (in *Ingest) Running() bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.current != nil && in.current.Running()
}

// Kill force-kills the current ingest process, if any. The supervisor loop
// restarts it unless its context is done.
func (in *Ingest) Kill() error {
	in.mu.Lock()
	p := in.current
	in.mu.Unlock()
	if p == nil {
		return nil
	}
	return p.Kill()
}

// Starts reports how many times a start was attempted.
func (in *Ingest) Starts() int64 { return in.starts.Load() }

// Restarts reports how many times the server was restarted.
func (in *Ingest) Restarts() int64 { return in.restarts.Load() }

// Policy reports the restart policy.
func (in *Ingest) Policy() RestartPolicy { return in.policy }
