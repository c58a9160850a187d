package playout

import (
	"context"
	"log/slog"
	"sync"

	"live-playout/internal/process"
)

// Session is the per-run context of the player: the long-lived encoder, the
// current clip decoder, the ingest supervisor and the folder watcher. It is
// passed to shutdown and diagnostics instead of living in package state.
type Session struct {
	log *slog.Logger

	mu           sync.Mutex
	encoder      process.Process
	decoder      process.Process
	ingest       *Ingest
	stopIngest   context.CancelFunc
	watcher      ClipWatcher
	watcherDone  bool
	item         *Item
	decodeCmd    []string
	switchState  SwitchState
	shutdowns    int
}

func newSession(log *slog.Logger, watcher ClipWatcher) *Session {
	return &Session{log: log, watcher: watcher}
}

func (s *Session) setEncoder(p process.Process) {
	s.mu.Lock()
	s.encoder = p
	s.mu.Unlock()
}

func (s *Session) setIngest(in *Ingest, stop context.CancelFunc) {
	s.mu.Lock()
	s.ingest = in
	s.stopIngest = stop
	s.mu.Unlock()
}

func (s *Session) setDecoder(p process.Process, item *Item, cmd []string) {
	s.mu.Lock()
	s.decoder = p
	if item != nil {
		s.item = item
		s.decodeCmd = cmd
	}
	s.mu.Unlock()
}

func (s *Session) setSwitchState(st SwitchState) {
	s.mu.Lock()
	s.switchState = st
	s.mu.Unlock()
}

// killDecoder stops the current clip decoder; the player then advances.
func (s *Session) killDecoder() bool {
	s.mu.Lock()
	dec := s.decoder
	s.mu.Unlock()
	if dec == nil {
		return false
	}
	return dec.Kill() == nil
}

func (s *Session) encoderRunning() bool {
	s.mu.Lock()
	enc := s.encoder
	s.mu.Unlock()
	return enc != nil && enc.Running()
}

// Shutdown stops everything the session started. It runs on every exit path
// and may be called more than once: the watcher is terminated once, running
// processes are killed, and the encoder is always waited on so it is reaped.
func (s *Session) Shutdown() {
	s.mu.Lock()
	s.shutdowns++
	watcher := s.watcher
	if s.watcherDone {
		watcher = nil
	}
	s.watcherDone = true
	enc, dec, in, stop := s.encoder, s.decoder, s.ingest, s.stopIngest
	s.mu.Unlock()

	if watcher != nil {
		if err := watcher.Terminate(); err != nil {
			s.log.Warn("stop folder watcher", slog.String("error", err.Error()))
		}
	}

	if dec != nil && dec.Running() {
		_ = dec.Kill()
	}

	if enc != nil && enc.Running() {
		if err := enc.Kill(); err != nil {
			s.log.Warn("kill encoder", slog.String("error", err.Error()))
		}
	}

	if stop != nil {
		stop()
	}
	if in != nil && in.Running() {
		if err := in.Kill(); err != nil {
			s.log.Warn("kill ingest server", slog.String("error", err.Error()))
		}
	}

	if enc != nil {
		_ = enc.Wait()
	}
}

// dump logs the diagnostic context of a failed session at debug level.
func (s *Session) dump(err error, queueDepth int) {
	s.mu.Lock()
	item, cmd, st := s.item, s.decodeCmd, s.switchState
	s.mu.Unlock()

	attrs := []any{
		slog.String("error", err.Error()),
		slog.Bool("live_active", st.LiveActive),
		slog.Bool("pending_resume", st.PendingResume),
		slog.Int("queue_depth", queueDepth),
		slog.Any("decoder_cmd", cmd),
	}
	if item != nil {
		attrs = append(attrs,
			slog.String("source", item.Source),
			slog.Duration("seek", item.Seek),
			slog.Duration("out", item.Out),
			slog.Time("begin", item.Begin),
		)
	}
	if st.LastItem != nil {
		attrs = append(attrs, slog.String("last_item", st.LastItem.Source))
	}
	s.log.Debug("session diagnostic", attrs...)
}
