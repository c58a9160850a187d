package playout

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"live-playout/internal/process"
)

// fakeProc is an in-memory process. Kill runs onKill once, which tests use
// to unblock a reader the way closing a real pipe does.
type fakeProc struct {
	role   process.Role
	args   []string
	stdin  io.WriteCloser
	stdout io.Reader
	onKill func()

	mu      sync.Mutex
	running bool
	kills   int
	waits   int
	reaps   int
}

func newFakeProc(role process.Role, args []string) *fakeProc {
	return &fakeProc{role: role, args: args, running: true}
}

func (p *fakeProc) Role() process.Role    { return p.role }
func (p *fakeProc) Args() []string        { return p.args }
func (p *fakeProc) Stdin() io.WriteCloser { return p.stdin }
func (p *fakeProc) Stdout() io.Reader     { return p.stdout }

func (p *fakeProc) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *fakeProc) Kill() error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	p.kills++
	onKill := p.onKill
	p.mu.Unlock()
	if onKill != nil {
		onKill()
	}
	return nil
}

func (p *fakeProc) Wait() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.reaps == 0 {
		p.reaps++
	}
	p.running = false
	p.waits++
	return nil
}

func (p *fakeProc) counts() (kills, waits, reaps int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.kills, p.waits, p.reaps
}

// recorder is an encoder stdin that keeps every write.
type recorder struct {
	mu     sync.Mutex
	writes [][]byte
	failAt int // 1-based write that fails; 0 never fails
	closed bool
}

func (r *recorder) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failAt > 0 && len(r.writes)+1 >= r.failAt {
		return 0, errors.New("write |1: broken pipe")
	}
	r.writes = append(r.writes, bytes.Clone(p))
	return len(p), nil
}

func (r *recorder) Close() error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	return nil
}

func (r *recorder) got() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.writes))
	for i, w := range r.writes {
		out[i] = string(w)
	}
	return out
}

// fakeLauncher hands out fake processes. Decoder output is looked up by
// the first command arg, which the tests set to the item source.
type fakeLauncher struct {
	enc     *recorder
	decoded map[string]string
	// blockDecoders makes decoders produce nothing until killed.
	blockDecoders bool
	ingest        func() (*fakeProc, error)

	mu       sync.Mutex
	encoder  *fakeProc
	decoders []*fakeProc
	ingests  []*fakeProc
	// ingestLaunches holds the time of every ingest start attempt.
	ingestLaunches []time.Time
}

func (l *fakeLauncher) Launch(role process.Role, args []string) (process.Process, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch role {
	case process.RoleEncoder:
		p := newFakeProc(role, args)
		p.stdin = l.enc
		l.encoder = p
		return p, nil

	case process.RoleDecoder:
		p := newFakeProc(role, args)
		if l.blockDecoders {
			r, w := io.Pipe()
			p.stdout = r
			p.onKill = func() { _ = w.CloseWithError(io.EOF) }
		} else {
			p.stdout = bytes.NewReader([]byte(l.decoded[args[0]]))
		}
		l.decoders = append(l.decoders, p)
		return p, nil

	case process.RoleIngest:
		l.ingestLaunches = append(l.ingestLaunches, time.Now())
		if l.ingest == nil {
			return nil, errors.New("no ingest")
		}
		p, err := l.ingest()
		if err != nil {
			return nil, err
		}
		l.ingests = append(l.ingests, p)
		return p, nil
	}
	return nil, errors.New("unknown role")
}

func (l *fakeLauncher) decoderCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.decoders)
}

func (l *fakeLauncher) launchTimes() []time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]time.Time(nil), l.ingestLaunches...)
}

func (l *fakeLauncher) lastDecoder() *fakeProc {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.decoders) == 0 {
		return nil
	}
	return l.decoders[len(l.decoders)-1]
}

// listSource yields fixed items and then io.EOF.
type listSource struct {
	mode  Mode
	items []Item

	mu      sync.Mutex
	pos     int
	replays int
}

func (s *listSource) Next(ctx context.Context) (Item, error) {
	if err := ctx.Err(); err != nil {
		return Item{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pos >= len(s.items) {
		return Item{}, io.EOF
	}
	it := s.items[s.pos]
	s.pos++
	return it, nil
}

func (s *listSource) Mode() Mode { return s.mode }

func (s *listSource) RequestReplay() {
	s.mu.Lock()
	s.replays++
	s.mu.Unlock()
}

func (s *listSource) replayCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.replays
}

type fakeWatcher struct {
	mu         sync.Mutex
	clips      []string
	terminates int
}

func (w *fakeWatcher) SetCurrentClip(path string) {
	w.mu.Lock()
	w.clips = append(w.clips, path)
	w.mu.Unlock()
}

func (w *fakeWatcher) Terminate() error {
	w.mu.Lock()
	w.terminates++
	w.mu.Unlock()
	return nil
}
