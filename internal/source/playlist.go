// Package source implements the two clip sources of the playout engine:
// the schedule-mode Playlist and folder-mode Folder.
package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	"live-playout/internal/playout"
)

const (
	minFiller = time.Second
	maxFiller = 5 * time.Minute
	day       = 24 * time.Hour
)

// ErrPlaylistNotFound is returned when no playlist exists for a date.
var ErrPlaylistNotFound = errors.New("playlist not found")

// ArgsBuilder builds decoder input and filter args for items.
// ffmpeg.Settings implements it.
type ArgsBuilder interface {
	ClipInput(source string, seek, length time.Duration) []string
	FillerInput(length time.Duration) []string
	ClipFilter() []string
}

// Program is one entry of a playlist document. Times are in seconds.
type Program struct {
	In       float64 `json:"in"`
	Out      float64 `json:"out"`
	Duration float64 `json:"duration"`
	Source   string  `json:"source"`
}

// Document is a daily playlist file.
type Document struct {
	Channel string    `json:"channel"`
	Date    string    `json:"date"`
	Program []Program `json:"program"`
}

// LoadDocument reads and decodes a playlist file.
func LoadDocument(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrPlaylistNotFound, path)
		}
		return nil, fmt.Errorf("read playlist: %w", err)
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse playlist %s: %w", path, err)
	}
	return &doc, nil
}

// Playlist is the schedule-mode clip source. Items are laid out back to back
// from the start of the broadcast day. The first pull, and any pull after
// RequestReplay, locates the item covering the current time and seeks into
// it; other pulls advance to the next item.
type Playlist struct {
	path     string
	dayStart time.Duration
	args     ArgsBuilder
	log      *slog.Logger
	now      func() time.Time
	stat     func(string) error

	mu     sync.Mutex
	doc    *Document
	date   string
	begin  time.Time // broadcast day begin of doc
	index  int
	resync bool
}

// PlaylistOptions configures a Playlist.
type PlaylistOptions struct {
	// Path is a playlist file, or a directory holding YYYY/MM/YYYY-MM-DD.json.
	Path string
	// DayStart is the offset of the broadcast day from midnight.
	DayStart time.Duration
	Args     ArgsBuilder
	Log      *slog.Logger
	Now      func() time.Time
	// Stat checks that a source exists; defaults to os.Stat.
	Stat func(string) error
}

// NewPlaylist returns a schedule-mode source.
func NewPlaylist(opts PlaylistOptions) *Playlist {
	p := &Playlist{
		path:     opts.Path,
		dayStart: opts.DayStart,
		args:     opts.Args,
		log:      opts.Log,
		now:      opts.Now,
		stat:     opts.Stat,
		resync:   true,
	}
	if p.log == nil {
		p.log = slog.Default()
	}
	if p.now == nil {
		p.now = time.Now
	}
	if p.stat == nil {
		p.stat = func(path string) error {
			_, err := os.Stat(path)
			return err
		}
	}
	return p
}

// Mode implements playout.ClipSource.
func (p *Playlist) Mode() playout.Mode { return playout.ModePlaylist }

// RequestReplay implements playout.ClipSource.
func (p *Playlist) RequestReplay() {
	p.mu.Lock()
	p.resync = true
	p.mu.Unlock()
}

// Next implements playout.ClipSource. It never returns io.EOF: holes in the
// schedule are filled with generated filler items.
func (p *Playlist) Next(ctx context.Context) (playout.Item, error) {
	if err := ctx.Err(); err != nil {
		return playout.Item{}, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	begin := dayBegin(now, p.dayStart)
	date := begin.Format(time.DateOnly)

	if p.resync || p.doc == nil {
		p.resync = false
		if err := p.load(date, begin); err != nil {
			p.log.Error("load playlist", slog.String("date", date), slog.String("error", err.Error()))
			return p.filler(now, begin.Add(day)), nil
		}
		return p.seekTo(now), nil
	}

	if p.index < len(p.doc.Program) {
		return p.itemAt(p.index, 0), nil
	}

	// Program finished early: cover the rest of its last slot first.
	if end := p.slotStart(len(p.doc.Program)); date == p.date && now.Before(end) {
		return p.filler(now, end), nil
	}

	// Program finished: reload so the next broadcast day, or more program
	// appended to today's playlist, is picked up.
	if err := p.load(date, begin); err != nil {
		p.log.Error("load playlist", slog.String("date", date), slog.String("error", err.Error()))
		return p.filler(now, begin.Add(day)), nil
	}
	return p.seekTo(now), nil
}

// load reads the playlist for date and resets the position.
func (p *Playlist) load(date string, begin time.Time) error {
	doc, err := LoadDocument(p.resolve(date))
	if err != nil {
		p.doc = nil
		return err
	}
	if len(doc.Program) == 0 {
		p.doc = nil
		return fmt.Errorf("playlist %s is empty", date)
	}
	p.doc = doc
	p.date = date
	p.begin = begin
	p.index = 0
	return nil
}

func (p *Playlist) resolve(date string) string {
	fi, err := os.Stat(p.path)
	if err != nil || !fi.IsDir() {
		return p.path
	}
	return filepath.Join(p.path, date[:4], date[5:7], date+".json")
}

// seekTo yields the item whose slot covers now, advanced into the slot.
func (p *Playlist) seekTo(now time.Time) playout.Item {
	start := p.begin
	for i, prog := range p.doc.Program {
		length := seconds(prog.Out - prog.In)
		end := start.Add(length)
		if !now.Before(start) && now.Before(end) {
			return p.itemAt(i, now.Sub(start))
		}
		start = end
	}
	if now.Before(p.begin) {
		return p.itemAt(0, 0)
	}
	p.index = len(p.doc.Program)
	return p.filler(now, p.begin.Add(day))
}

// itemAt builds item i, skipping offset into its slot.
func (p *Playlist) itemAt(i int, offset time.Duration) playout.Item {
	slotStart := p.slotStart(i)
	prog := p.doc.Program[i]
	p.index = i + 1

	seek := seconds(prog.In) + offset
	out := seconds(prog.Out)
	item := playout.Item{
		Index:    i,
		Source:   prog.Source,
		Seek:     seek,
		Out:      out,
		Duration: seconds(prog.Duration),
		Begin:    slotStart.Add(offset),
	}

	if err := p.stat(prog.Source); err != nil {
		p.log.Error("source not found, playing filler",
			slog.String("source", prog.Source),
			slog.String("error", err.Error()))
		length := item.Length()
		item.Filler = true
		item.DecodeArgs = p.args.FillerInput(length)
		item.FilterArgs = p.args.ClipFilter()
		return item
	}

	item.DecodeArgs = p.args.ClipInput(prog.Source, seek, out-seek)
	item.FilterArgs = p.args.ClipFilter()
	return item
}

// slotStart is the scheduled start of item i.
func (p *Playlist) slotStart(i int) time.Time {
	start := p.begin
	for _, prog := range p.doc.Program[:i] {
		start = start.Add(seconds(prog.Out - prog.In))
	}
	return start
}

// filler covers the time until `until`, bounded to [minFiller, maxFiller].
func (p *Playlist) filler(now, until time.Time) playout.Item {
	length := until.Sub(now)
	length = min(max(length, minFiller), maxFiller)
	return playout.Item{
		Index:      -1,
		Source:     "filler",
		Out:        length,
		Duration:   length,
		Begin:      now,
		Filler:     true,
		DecodeArgs: p.args.FillerInput(length),
		FilterArgs: p.args.ClipFilter(),
	}
}

// dayBegin returns the start of the broadcast day containing now.
func dayBegin(now time.Time, dayStart time.Duration) time.Time {
	y, m, d := now.Date()
	begin := time.Date(y, m, d, 0, 0, 0, 0, now.Location()).Add(dayStart)
	if now.Before(begin) {
		begin = begin.AddDate(0, 0, -1)
	}
	return begin
}

// ParseDayStart parses "HH:MM:SS" into an offset from midnight.
func ParseDayStart(s string) (time.Duration, error) {
	t, err := time.Parse(time.TimeOnly, s)
	if err != nil {
		return 0, fmt.Errorf("day start %q: %w", s, err)
	}
	return time.Duration(t.Hour())*time.Hour +
		time.Duration(t.Minute())*time.Minute +
		time.Duration(t.Second())*time.Second, nil
}

func seconds(f float64) time.Duration {
	return time.Duration(math.Round(f * float64(time.Second)))
}
