package playout

import (
	"context"
	"time"
)

// Mode selects how the clip source picks items.
type Mode int

const (
	// ModePlaylist plays a time-ordered schedule (schedule-mode).
	ModePlaylist Mode = iota
	// ModeFolder loops over the media files of a folder.
	ModeFolder
)

func (m Mode) String() string {
	switch m {
	case ModePlaylist:
		return "playlist"
	case ModeFolder:
		return "folder"
	default:
		return "unknown"
	}
}

// ParseMode maps a configuration value to a Mode. Anything but "folder"
// is schedule-mode.
func ParseMode(s string) Mode {
	if s == "folder" {
		return ModeFolder
	}
	return ModePlaylist
}

// Item is one playable clip. It is immutable once yielded by a ClipSource.
type Item struct {
	Index    int
	Source   string
	Seek     time.Duration
	Out      time.Duration
	Duration time.Duration
	// Begin is the scheduled wall-clock start, zero outside schedule-mode.
	Begin time.Time
	// Filler marks generated items that stand in for missing content.
	Filler bool

	DecodeArgs []string
	FilterArgs []string
}

// Length is the nominal play time of the item.
func (it Item) Length() time.Duration {
	return it.Out - it.Seek
}

// ClipSource yields the items to play. The two implementations are the
// schedule-mode playlist and folder playback.
type ClipSource interface {
	// Next returns the next item. io.EOF ends the session normally.
	Next(ctx context.Context) (Item, error)
	Mode() Mode
	// RequestReplay asks the source to re-deliver the current schedule
	// position on the next pull instead of advancing. Folder sources ignore it.
	RequestReplay()
}

// ClipWatcher is the folder-mode collaborator that tracks the playing file
// and is stopped during shutdown.
type ClipWatcher interface {
	SetCurrentClip(path string)
	Terminate() error
}

// SwitchState is the live/scheduled switch state, owned by the Player loop.
type SwitchState struct {
	LiveActive    bool
	LastItem      *Item
	PendingResume bool
}
