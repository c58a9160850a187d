package ffmpeg

import (
	"log/slog"
	"regexp"
	"strings"
)

// reLevelPrefix matches the "[level]" tag ffmpeg prints with -v level+X.
// The tag may follow a component prefix such as "[mpegts @ 0x55d0]".
var reLevelPrefix = regexp.MustCompile(`\[(panic|fatal|error|warning|info|verbose|debug|trace)\]\s*`)

// LineLevel maps one stderr line to a log level and strips the level tag.
// Lines without a tag are treated as debug output.
func LineLevel(line string) (slog.Level, string) {
	line = strings.TrimRight(line, "\r\n")
	loc := reLevelPrefix.FindStringSubmatchIndex(line)
	if loc == nil {
		return slog.LevelDebug, line
	}

	tag := line[loc[2]:loc[3]]
	msg := strings.TrimSpace(line[:loc[0]] + line[loc[1]:])

	switch tag {
	case "panic", "fatal", "error":
		return slog.LevelError, msg
	case "warning":
		return slog.LevelWarn, msg
	case "info":
		return slog.LevelInfo, msg
	default:
		return slog.LevelDebug, msg
	}
}
