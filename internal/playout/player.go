package playout

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"live-playout/internal/ffmpeg"
	"live-playout/internal/platform/metrics"
	"live-playout/internal/process"
)

// minItemLength is the shortest item worth starting a decoder for.
const minItemLength = 40 * time.Millisecond

// ErrBrokenPipe wraps a failed write to the encoder's input.
var ErrBrokenPipe = errors.New("broken pipe")

// Options configures a Player.
type Options struct {
	Source   ClipSource
	Launcher process.Launcher
	Queue    *Queue
	// Ingest is nil when live ingest is disabled.
	Ingest *Ingest
	// Watcher is the folder-mode collaborator, nil in schedule-mode.
	Watcher ClipWatcher
	Log     *slog.Logger
	Metrics *metrics.Metrics
	Status  *Status

	EncoderArgs   []string
	DecodeCommand func(Item) []string
	ChunkSize     int
	Now           func() time.Time
}

// Player is the output multiplexer. It owns the session encoder and, for
// every item of the clip source, starts a decoder and forwards its output
// to the encoder. Whenever live data is queued it wins the cycle: the live
// buffer is forwarded and the decoder's buffer for that cycle is dropped.
type Player struct {
	source    ClipSource
	launcher  process.Launcher
	queue     *Queue
	ingest    *Ingest
	watcher   ClipWatcher
	log       *slog.Logger
	metrics   *metrics.Metrics
	status    *Status
	encArgs   []string
	decodeCmd func(Item) []string
	chunkSize int
	now       func() time.Time

	state SwitchState

	mu      sync.Mutex
	session *Session
}

// New returns a Player. Queue, Status, ChunkSize and Now get defaults when unset.
func New(opts Options) *Player {
	p := &Player{
		source:    opts.Source,
		launcher:  opts.Launcher,
		queue:     opts.Queue,
		ingest:    opts.Ingest,
		watcher:   opts.Watcher,
		log:       opts.Log,
		metrics:   opts.Metrics,
		status:    opts.Status,
		encArgs:   opts.EncoderArgs,
		decodeCmd: opts.DecodeCommand,
		chunkSize: opts.ChunkSize,
		now:       opts.Now,
	}
	if p.log == nil {
		p.log = slog.Default()
	}
	if p.queue == nil {
		p.queue = NewQueue()
	}
	if p.status == nil {
		p.status = NewStatus(p.source.Mode())
	}
	if p.chunkSize <= 0 {
		p.chunkSize = process.DefaultChunkSize
	}
	if p.now == nil {
		p.now = time.Now
	}
	if p.decodeCmd == nil {
		p.decodeCmd = func(it Item) []string {
			return ffmpeg.Default().DecoderArgs(it.DecodeArgs, it.FilterArgs)
		}
	}
	return p
}

// Run plays until the clip source is exhausted, ctx is cancelled, or the
// encoder pipe breaks. Cancellation is a normal stop and returns nil. Every
// path ends in the session shutdown.
func (p *Player) Run(ctx context.Context) error {
	sess := newSession(p.log, p.watcher)
	p.mu.Lock()
	p.session = sess
	p.mu.Unlock()
	defer sess.Shutdown()

	p.log.Debug("encoder command", slog.String("cmd", ffmpeg.FormatCommand(p.encArgs)))
	enc, err := p.launcher.Launch(process.RoleEncoder, p.encArgs)
	if err != nil {
		return fmt.Errorf("start encoder: %w", err)
	}
	sess.setEncoder(enc)
	p.status.setStarted(p.now())

	if p.ingest != nil {
		ingestCtx, stopIngest := context.WithCancel(ctx)
		sess.setIngest(p.ingest, stopIngest)
		go func() { _ = p.ingest.Run(ingestCtx) }()
	}

	if p.watcher == nil && p.source.Mode() == ModeFolder {
		p.log.Info("start folder mode without watcher")
	}

	err = p.loop(ctx, sess, enc)
	switch {
	case err == nil:
		p.log.Info("clip source exhausted, stopping playout")
		return nil
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		p.log.Info("got close command, stopping playout")
		return nil
	case errors.Is(err, ErrBrokenPipe):
		sess.dump(err, p.queue.Len())
		p.log.Error("broken pipe", slog.String("error", err.Error()))
		return err
	default:
		sess.dump(err, p.queue.Len())
		p.log.Error("playout stopped", slog.String("error", err.Error()))
		return err
	}
}

func (p *Player) loop(ctx context.Context, sess *Session, enc process.Process) error {
	stdin := enc.Stdin()
	if stdin == nil {
		return fmt.Errorf("%w: encoder has no input pipe", ErrBrokenPipe)
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		item, err := p.source.Next(ctx)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("next clip: %w", err)
		}
		// This pull consumed the replay request.
		if p.state.PendingResume {
			p.state.PendingResume = false
			sess.setSwitchState(p.state)
		}

		if item.Length() < minItemLength {
			p.log.Debug("skip clip, too short to play",
				slog.String("source", item.Source),
				slog.Duration("length", item.Length()))
			continue
		}

		if p.watcher != nil {
			p.watcher.SetCurrentClip(item.Source)
		}
		p.log.Info(fmt.Sprintf("Play for %s: %s", formatClock(item.Length()), item.Source),
			slog.Int("index", item.Index),
			slog.Bool("filler", item.Filler))

		if err := p.playItem(ctx, sess, stdin, item); err != nil {
			return err
		}
	}
}

// playItem runs the read/forward cycle for one item.
func (p *Player) playItem(ctx context.Context, sess *Session, enc io.Writer, item Item) error {
	cmd := p.decodeCmd(item)
	p.log.Debug("decoder command", slog.String("cmd", ffmpeg.FormatCommand(cmd)))

	sess.setDecoder(nil, &item, cmd)
	dec, err := p.launcher.Launch(process.RoleDecoder, cmd)
	if err != nil {
		return fmt.Errorf("start decoder: %w", err)
	}
	sess.setDecoder(dec, nil, nil)
	p.status.setCurrent(&item)
	p.status.update(func(s *Stats) { s.ClipsStarted++ })
	p.metrics.IncClipsStarted()

	stop := context.AfterFunc(ctx, func() { _ = dec.Kill() })
	defer func() {
		stop()
		_ = dec.Kill()
		_ = dec.Wait()
		sess.setDecoder(nil, nil, nil)
	}()

	out := dec.Stdout()
	decBuf := make([]byte, p.chunkSize)
	decoderDone := out == nil

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		n := 0
		if !decoderDone {
			var rerr error
			n, rerr = io.ReadFull(out, decBuf)
			if rerr != nil {
				decoderDone = true
				if !errors.Is(rerr, io.EOF) && !errors.Is(rerr, io.ErrUnexpectedEOF) {
					p.log.Debug("decoder read ended", slog.String("error", rerr.Error()))
				}
			}
		}

		if live, ok := p.queue.TryPop(); ok {
			if !p.state.LiveActive {
				p.log.Info("switch from " + p.source.Mode().String() + " to live ingest")
				p.metrics.IncLiveSwitches()
				p.status.update(func(s *Stats) { s.LiveSwitches++ })
			}
			if err := p.forward(enc, live, metrics.SourceLive); err != nil {
				return err
			}
			p.setLive(sess, true)
			if n > 0 {
				p.metrics.IncDropped()
				p.status.update(func(s *Stats) { s.DroppedBuffers++ })
			}
			continue
		}

		if n > 0 {
			if err := p.forward(enc, decBuf[:n], metrics.SourceClip); err != nil {
				return err
			}
			continue
		}

		if p.state.LiveActive {
			p.resume(item)
			p.setLive(sess, false)
			p.log.Info("switch from live ingest to " + p.source.Mode().String())
		}
		p.state.LastItem = &item
		sess.setSwitchState(p.state)
		return ctx.Err()
	}
}

func (p *Player) forward(enc io.Writer, buf []byte, source string) error {
	if _, err := enc.Write(buf); err != nil {
		return fmt.Errorf("%w: write %s buffer to encoder: %w", ErrBrokenPipe, source, err)
	}
	p.metrics.AddForwarded(source, len(buf))
	p.status.update(func(s *Stats) {
		if source == metrics.SourceLive {
			s.LiveBuffers++
		} else {
			s.ClipBuffers++
		}
	})
	return nil
}

func (p *Player) setLive(sess *Session, active bool) {
	if p.state.LiveActive == active {
		return
	}
	p.state.LiveActive = active
	if active {
		p.state.PendingResume = false
	}
	sess.setSwitchState(p.state)
	p.status.setLive(active)
	p.metrics.SetLiveActive(active)
}

// resume runs the resume decision for the item live just interrupted.
func (p *Player) resume(item Item) {
	p.status.update(func(s *Stats) { s.ResumeChecks++ })
	if !ShouldRestartFromTop(item, p.now(), p.source.Mode()) {
		return
	}
	p.source.RequestReplay()
	p.state.PendingResume = true
	p.metrics.IncResumeRestarts()
	p.status.update(func(s *Stats) { s.ResumeRestarts++ })
	p.log.Debug("schedule will resync after live", slog.String("source", item.Source))
}

// SkipCurrent stops the current clip decoder so the loop moves on to the
// next item. It reports whether a decoder was running.
func (p *Player) SkipCurrent() bool {
	p.mu.Lock()
	sess := p.session
	p.mu.Unlock()
	if sess == nil {
		return false
	}
	return sess.killDecoder()
}

// RequestResync asks a schedule-mode source to re-deliver the current clock
// position on the next pull. It reports false in folder mode.
func (p *Player) RequestResync() bool {
	if p.source.Mode() != ModePlaylist {
		return false
	}
	p.source.RequestReplay()
	return true
}

// Snapshot reports the current playout state.
func (p *Player) Snapshot() Snapshot {
	snap := p.status.Snapshot()
	snap.QueueDepth = p.queue.Len()

	p.mu.Lock()
	sess := p.session
	p.mu.Unlock()
	if sess != nil {
		snap.EncoderRunning = sess.encoderRunning()
	}
	if p.ingest != nil {
		snap.IngestEnabled = true
		snap.IngestRunning = p.ingest.Running()
		snap.IngestRestarts = p.ingest.Restarts()
	}
	return snap
}

// Stats returns the session counters.
func (p *Player) Stats() Stats { return p.status.Stats() }

// formatClock renders d as HH:MM:SS.mmm.
func formatClock(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second
	d -= s * time.Second
	return fmt.Sprintf("%02d:%02d:%02d.%03d", h, m, s, d/time.Millisecond)
}
