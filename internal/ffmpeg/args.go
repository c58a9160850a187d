// Package ffmpeg builds the three ffmpeg command lines the playout engine runs:
// the live ingest decoder, the per-clip decoder and the session encoder.
//
// Every clip and the ingest feed are normalised with the same pre-encode
// template (frame rate, size, pixel format, intra-only mpeg2 + s302m audio in
// mpegts) so the encoder sees one continuous intermediate stream no matter
// which source a buffer came from.
package ffmpeg

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Settings holds the processing and output parameters the argument builders
// need. Zero values are replaced by Default's values in Normalize.
type Settings struct {
	Bin      string // ffmpeg binary
	LogLevel string // ffmpeg -v level, without the "level+" prefix

	Width  int
	Height int
	Aspect float64
	FPS    float64

	VideoBitrate int // kbit/s of the intermediate stream
	VideoBufsize int // kbit

	AudioSampleRate int
	AudioChannels   int

	IngestInput  []string // input args for the live feed, e.g. -f live_flv -listen 1 -i rtmp://...
	OutputParams []string // encoder codec and output args, ending with the target

	ServiceName     string
	ServiceProvider string
}

// Default returns settings for a 1024x576 PAL channel streaming to stdout.
func Default() Settings {
	return Settings{
		Bin:             "ffmpeg",
		LogLevel:        "error",
		Width:           1024,
		Height:          576,
		Aspect:          1.778,
		FPS:             25,
		VideoBitrate:    50000,
		VideoBufsize:    25000,
		AudioSampleRate: 48000,
		AudioChannels:   2,
		IngestInput:     []string{"-f", "live_flv", "-listen", "1", "-i", "rtmp://127.0.0.1:1936/live/stream"},
		OutputParams: []string{
			"-c:v", "libx264", "-crf", "23", "-x264-params", "keyint=50",
			"-preset", "veryfast", "-c:a", "aac", "-b:a", "128k",
			"-f", "mpegts", "-",
		},
		ServiceName:     "Live Stream",
		ServiceProvider: "live-playout",
	}
}

// Normalize fills unset fields from Default.
func (s Settings) Normalize() Settings {
	d := Default()
	if s.Bin == "" {
		s.Bin = d.Bin
	}
	if s.LogLevel == "" {
		s.LogLevel = d.LogLevel
	}
	if s.Width <= 0 {
		s.Width = d.Width
	}
	if s.Height <= 0 {
		s.Height = d.Height
	}
	if s.Aspect <= 0 {
		s.Aspect = float64(s.Width) / float64(s.Height)
	}
	if s.FPS <= 0 {
		s.FPS = d.FPS
	}
	if s.VideoBitrate <= 0 {
		s.VideoBitrate = d.VideoBitrate
	}
	if s.VideoBufsize <= 0 {
		s.VideoBufsize = d.VideoBufsize
	}
	if s.AudioSampleRate <= 0 {
		s.AudioSampleRate = d.AudioSampleRate
	}
	if s.AudioChannels <= 0 {
		s.AudioChannels = d.AudioChannels
	}
	if len(s.IngestInput) == 0 {
		s.IngestInput = d.IngestInput
	}
	if len(s.OutputParams) == 0 {
		s.OutputParams = d.OutputParams
	}
	return s
}

func (s Settings) logLevel() string {
	return "level+" + strings.ToLower(s.LogLevel)
}

// PreEncode returns the canonical intermediate format written to a pipe:
// every decoder and the ingest server end their command with these args.
func (s Settings) PreEncode() []string {
	v := strconv.Itoa(s.VideoBitrate) + "k"
	args := []string{
		"-pix_fmt", "yuv420p",
		"-r", formatFloat(s.FPS),
		"-c:v", "mpeg2video", "-g", "1",
		"-b:v", v,
		"-minrate", v,
		"-maxrate", v,
		"-bufsize", strconv.Itoa(s.VideoBufsize) + "k",
	}
	args = append(args, s.PreAudioCodec()...)
	return append(args, "-f", "mpegts", "-")
}

// PreAudioCodec is the uncompressed audio codec of the intermediate stream.
func (s Settings) PreAudioCodec() []string {
	return []string{
		"-c:a", "s302m", "-strict", "-2",
		"-sample_fmt", "s16",
		"-ar", strconv.Itoa(s.AudioSampleRate),
		"-ac", strconv.Itoa(s.AudioChannels),
	}
}

// EncoderArgs builds the session encoder: it reads the intermediate stream
// from stdin at native rate and writes to the configured output.
func (s Settings) EncoderArgs(year int) []string {
	args := []string{
		s.Bin, "-v", s.logLevel(), "-hide_banner", "-nostats",
		"-re", "-thread_queue_size", "160", "-i", "pipe:0",
		"-metadata", "service_name=" + s.ServiceName,
		"-metadata", "service_provider=" + s.ServiceProvider,
		"-metadata", "year=" + strconv.Itoa(year),
	}
	return append(args, s.OutputParams...)
}

// WritesStdout reports whether the encoder output target is its own stdout.
func (s Settings) WritesStdout() bool {
	if len(s.OutputParams) == 0 {
		return false
	}
	switch s.OutputParams[len(s.OutputParams)-1] {
	case "-", "pipe:", "pipe:1":
		return true
	}
	return false
}

// DecoderArgs builds the command for one clip from its input and filter args.
func (s Settings) DecoderArgs(decodeArgs, filterArgs []string) []string {
	args := make([]string, 0, 8+len(decodeArgs)+len(filterArgs)+24)
	args = append(args, s.Bin, "-v", s.logLevel(), "-hide_banner", "-nostats")
	args = append(args, decodeArgs...)
	args = append(args, filterArgs...)
	return append(args, s.PreEncode()...)
}

// IngestArgs builds the live ingest server command. The feed is scaled and
// letterboxed to the processing size; audio is mapped through.
func (s Settings) IngestArgs() []string {
	filter := fmt.Sprintf("[0:v]fps=%s,scale=%d:%d,setdar=dar=%s[vout1]",
		formatFloat(s.FPS), s.Width, s.Height, formatFloat(s.Aspect))

	args := []string{s.Bin, "-hide_banner", "-nostats", "-v", "level+error"}
	args = append(args, s.IngestInput...)
	args = append(args, "-filter_complex", filter, "-map", "[vout1]", "-map", "0:a")
	return append(args, s.PreEncode()...)
}

// ClipInput returns the input args for a file played from seek for length.
func (s Settings) ClipInput(source string, seek, length time.Duration) []string {
	var args []string
	if seek > 0 {
		args = append(args, "-ss", FormatSeconds(seek))
	}
	args = append(args, "-i", source)
	if length > 0 {
		args = append(args, "-t", FormatSeconds(length))
	}
	return args
}

// FillerInput generates a dark frame with silence for length. Used when the
// schedule has a hole or a source is missing.
func (s Settings) FillerInput(length time.Duration) []string {
	d := FormatSeconds(length)
	return []string{
		"-f", "lavfi", "-i",
		fmt.Sprintf("color=c=#121212:s=%dx%d:d=%s", s.Width, s.Height, d),
		"-f", "lavfi", "-i",
		fmt.Sprintf("anoisesrc=d=%s:c=pink:r=%d:a=0.05", d, s.AudioSampleRate),
	}
}

// ClipFilter normalises frame rate, size and aspect of any input.
func (s Settings) ClipFilter() []string {
	return []string{
		"-vf", fmt.Sprintf("fps=%s,scale=%d:%d,setdar=dar=%s",
			formatFloat(s.FPS), s.Width, s.Height, formatFloat(s.Aspect)),
		"-af", fmt.Sprintf("aresample=%d,apad", s.AudioSampleRate),
		"-shortest",
	}
}

// FormatSeconds renders d as seconds with millisecond precision.
func FormatSeconds(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', 3, 64)
}

// FormatCommand joins args for logging, quoting those that contain spaces.
func FormatCommand(args []string) string {
	parts := make([]string, len(args))
	for i, a := range args {
		if a == "" || strings.ContainsAny(a, " \t\"'") {
			parts[i] = strconv.Quote(a)
		} else {
			parts[i] = a
		}
	}
	return strings.Join(parts, " ")
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
