package process

import (
	"bufio"
	"context"
	"io"
	"log/slog"
)

// maxLineSize bounds a single diagnostic line. Longer lines end line-based
// logging; the rest of the stream is still consumed.
const maxLineSize = 256 * 1024

// Classifier maps a diagnostic line to a level and the message to log.
type Classifier func(line string) (slog.Level, string)

// Drain consumes r until it closes, forwarding each line to log tagged with
// role. Read errors are treated as end of stream. Drain never stops reading
// early, so the writing process cannot block on a full diagnostic pipe.
func Drain(r io.Reader, role Role, log *slog.Logger, classify Classifier) {
	if log == nil {
		log = slog.Default()
	}

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			continue
		}
		lvl, msg := slog.LevelInfo, line
		if classify != nil {
			lvl, msg = classify(line)
		}
		log.Log(context.Background(), lvl, msg, slog.String("role", string(role)))
	}

	if err := sc.Err(); err != nil {
		log.Debug("diagnostic stream read ended",
			slog.String("role", string(role)),
			slog.String("error", err.Error()))
		_, _ = io.Copy(io.Discard, r)
	}
}
