package source

import (
	"context"
	"io/fs"
	"log/slog"
	"math/rand/v2"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"live-playout/internal/ffmpeg"
	"live-playout/internal/playout"
)

// MediaStore is the set of playable files under a folder. The watcher keeps
// it current while the Folder source reads it.
type MediaStore struct {
	mu    sync.RWMutex
	root  string
	exts  []string
	files []string
}

// NewMediaStore scans root for files with one of exts (".mp4", ".mkv", ...).
func NewMediaStore(root string, exts []string) (*MediaStore, error) {
	s := &MediaStore{root: root}
	for _, e := range exts {
		e = strings.ToLower(strings.TrimSpace(e))
		if e == "" {
			continue
		}
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		s.exts = append(s.exts, e)
	}

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && s.Matches(path) {
			s.files = append(s.files, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	slices.Sort(s.files)
	return s, nil
}

// Root returns the scanned folder.
func (s *MediaStore) Root() string { return s.root }

// Matches reports whether path has a media extension.
func (s *MediaStore) Matches(path string) bool {
	if len(s.exts) == 0 {
		return true
	}
	return slices.Contains(s.exts, strings.ToLower(filepath.Ext(path)))
}

// Add inserts path in sorted position. It reports whether path was added.
func (s *MediaStore) Add(path string) bool {
	if !s.Matches(path) {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	i, found := slices.BinarySearch(s.files, path)
	if found {
		return false
	}
	s.files = slices.Insert(s.files, i, path)
	return true
}

// Remove deletes path, or every file under path when it was a directory.
// It returns the number of files removed.
func (s *MediaStore) Remove(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	prefix := path + string(filepath.Separator)
	before := len(s.files)
	s.files = slices.DeleteFunc(s.files, func(f string) bool {
		return f == path || strings.HasPrefix(f, prefix)
	})
	return before - len(s.files)
}

// Contains reports whether path is in the store.
func (s *MediaStore) Contains(path string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, found := slices.BinarySearch(s.files, path)
	return found
}

// Files returns a copy of the current file list.
func (s *MediaStore) Files() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.files)
}

// Len reports the number of files.
func (s *MediaStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.files)
}

// ProbeFunc returns the duration of a media file.
type ProbeFunc func(ctx context.Context, path string) (time.Duration, error)

// Folder is the folder-mode clip source. It loops over the media store
// forever, optionally shuffling each round.
type Folder struct {
	store   *MediaStore
	args    ArgsBuilder
	log     *slog.Logger
	probe   ProbeFunc
	shuffle bool
	rand    *rand.Rand

	mu    sync.Mutex
	round []string
	pos   int
	index int
}

// FolderOptions configures a Folder.
type FolderOptions struct {
	Store   *MediaStore
	Args    ArgsBuilder
	Log     *slog.Logger
	Probe   ProbeFunc
	Shuffle bool
	// Rand drives shuffling; a time-seeded source is used when nil.
	Rand *rand.Rand
}

// NewFolder returns a folder-mode source.
func NewFolder(opts FolderOptions) *Folder {
	f := &Folder{
		store:   opts.Store,
		args:    opts.Args,
		log:     opts.Log,
		probe:   opts.Probe,
		shuffle: opts.Shuffle,
		rand:    opts.Rand,
	}
	if f.log == nil {
		f.log = slog.Default()
	}
	if f.probe == nil {
		f.probe = func(ctx context.Context, path string) (time.Duration, error) {
			return ffmpeg.Probe(ctx, "", path)
		}
	}
	if f.rand == nil {
		seed := uint64(time.Now().UnixNano())
		f.rand = rand.New(rand.NewPCG(seed, seed>>1))
	}
	return f
}

// Mode implements playout.ClipSource.
func (f *Folder) Mode() playout.Mode { return playout.ModeFolder }

// RequestReplay implements playout.ClipSource. Folder playback has no
// schedule position, so it is ignored.
func (f *Folder) RequestReplay() {}

// Next implements playout.ClipSource. An empty folder yields short filler
// items so the output keeps running until media appears.
func (f *Folder) Next(ctx context.Context) (playout.Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	refreshed := false
	for {
		if err := ctx.Err(); err != nil {
			return playout.Item{}, err
		}
		if f.pos >= len(f.round) {
			// One fresh round per pull: a folder of unreadable files ends in filler.
			if refreshed {
				break
			}
			f.newRound()
			refreshed = true
			if len(f.round) == 0 {
				break
			}
		}

		path := f.round[f.pos]
		f.pos++
		if !f.store.Contains(path) {
			continue
		}

		length, err := f.probe(ctx, path)
		if err != nil || length <= 0 {
			f.log.Error("skip unreadable clip", slog.String("source", path), slog.Any("error", err))
			continue
		}

		item := playout.Item{
			Index:      f.index,
			Source:     path,
			Out:        length,
			Duration:   length,
			DecodeArgs: f.args.ClipInput(path, 0, length),
			FilterArgs: f.args.ClipFilter(),
		}
		f.index++
		return item, nil
	}

	f.log.Warn("no playable media in folder", slog.String("folder", f.store.Root()))
	return playout.Item{
		Index:      -1,
		Source:     "filler",
		Out:        minFiller * 5,
		Duration:   minFiller * 5,
		Filler:     true,
		DecodeArgs: f.args.FillerInput(minFiller * 5),
		FilterArgs: f.args.ClipFilter(),
	}, nil
}

func (f *Folder) newRound() {
	f.round = f.store.Files()
	f.pos = 0
	if f.shuffle {
		f.rand.Shuffle(len(f.round), func(i, j int) {
			f.round[i], f.round[j] = f.round[j], f.round[i]
		})
	}
}
