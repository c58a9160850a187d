package ffmpeg

import (
	"log/slog"
	"strings"
	"testing"
	"time"
)

func indexOf(args []string, v string) int {
	for i, a := range args {
		if a == v {
			return i
		}
	}
	return -1
}

func TestNormalize_fillsDefaults(t *testing.T) {
	s := Settings{Width: 1920, Height: 1080}.Normalize()
	if s.Bin != "ffmpeg" || s.FPS != 25 {
		t.Errorf("defaults not applied: %+v", s)
	}
	if s.Aspect < 1.77 || s.Aspect > 1.78 {
		t.Errorf("aspect should derive from size, got %v", s.Aspect)
	}
}

func TestPreEncode_shape(t *testing.T) {
	args := Default().PreEncode()
	joined := strings.Join(args, " ")
	for _, want := range []string{"-pix_fmt yuv420p", "-r 25", "-c:v mpeg2video", "-b:v 50000k", "-c:a s302m", "-ar 48000"} {
		if !strings.Contains(joined, want) {
			t.Errorf("missing %q in %s", want, joined)
		}
	}
	if args[len(args)-2] != "mpegts" || args[len(args)-1] != "-" {
		t.Errorf("intermediate stream must be mpegts on stdout: %v", args[len(args)-3:])
	}
}

func TestDecoderArgs_order(t *testing.T) {
	s := Default()
	decode := s.ClipInput("/media/a.mp4", 2500*time.Millisecond, 10*time.Second)
	args := s.DecoderArgs(decode, s.ClipFilter())

	if args[0] != "ffmpeg" {
		t.Errorf("binary first, got %q", args[0])
	}
	in := indexOf(args, "-i")
	vf := indexOf(args, "-vf")
	pix := indexOf(args, "-pix_fmt")
	if !(in > 0 && in < vf && vf < pix) {
		t.Errorf("expected input, filter, pre-encode order: %v", args)
	}
	if args[indexOf(args, "-ss")+1] != "2.500" || args[indexOf(args, "-t")+1] != "10.000" {
		t.Errorf("seek/length not formatted: %v", args)
	}
}

func TestClipInput_noSeek(t *testing.T) {
	args := Default().ClipInput("/a.mp4", 0, 0)
	if len(args) != 2 || args[0] != "-i" {
		t.Errorf("expected only -i, got %v", args)
	}
}

func TestEncoderArgs_readsStdin(t *testing.T) {
	args := Default().EncoderArgs(2026)
	if args[indexOf(args, "-i")+1] != "pipe:0" {
		t.Errorf("encoder must read stdin: %v", args)
	}
	if indexOf(args, "-re") < 0 {
		t.Error("encoder must pace input with -re")
	}
	if indexOf(args, "year=2026") < 0 {
		t.Errorf("missing year metadata: %v", args)
	}
}

func TestIngestArgs_filter(t *testing.T) {
	args := Default().IngestArgs()
	fc := args[indexOf(args, "-filter_complex")+1]
	if fc != "[0:v]fps=25,scale=1024:576,setdar=dar=1.778[vout1]" {
		t.Errorf("unexpected filter %q", fc)
	}
	if indexOf(args, "0:a") < 0 || indexOf(args, "[vout1]") < 0 {
		t.Errorf("missing maps: %v", args)
	}
	if indexOf(args, "mpeg2video") < 0 {
		t.Error("ingest must use the pre-encode template")
	}
}

func TestWritesStdout(t *testing.T) {
	if !Default().WritesStdout() {
		t.Error("default output params stream to stdout")
	}
	tests := map[string]bool{
		"pipe:1":                       true,
		"pipe:":                        true,
		"rtmp://127.0.0.1/live/stream": false,
		"/tmp/out.ts":                  false,
	}
	for target, want := range tests {
		s := Settings{OutputParams: []string{"-f", "mpegts", target}}
		if got := s.WritesStdout(); got != want {
			t.Errorf("%s: WritesStdout = %v, want %v", target, got, want)
		}
	}
	if (Settings{}).WritesStdout() {
		t.Error("no output params should not report stdout")
	}
}

func TestFormatCommand(t *testing.T) {
	got := FormatCommand([]string{"ffmpeg", "-metadata", "service_name=Live Stream"})
	if got != `ffmpeg -metadata "service_name=Live Stream"` {
		t.Errorf("got %s", got)
	}
}

func TestLineLevel(t *testing.T) {
	cases := []struct {
		line  string
		level slog.Level
		msg   string
	}{
		{"[error] Conversion failed!", slog.LevelError, "Conversion failed!"},
		{"[mpegts @ 0x5581] [warning] PES packet size mismatch", slog.LevelWarn, "[mpegts @ 0x5581] PES packet size mismatch"},
		{"[info] Stream mapping:", slog.LevelInfo, "Stream mapping:"},
		{"[fatal] out of memory", slog.LevelError, "out of memory"},
		{"frame=  100 fps= 25", slog.LevelDebug, "frame=  100 fps= 25"},
	}
	for _, c := range cases {
		lvl, msg := LineLevel(c.line)
		if lvl != c.level || msg != c.msg {
			t.Errorf("LineLevel(%q) = %v %q, want %v %q", c.line, lvl, msg, c.level, c.msg)
		}
	}
}

func TestParseDuration(t *testing.T) {
	d, err := ParseDuration([]byte(`{"format":{"duration":"12.480000"}}`))
	if err != nil {
		t.Fatal(err)
	}
	if d != 12480*time.Millisecond {
		t.Errorf("got %v", d)
	}
	if _, err := ParseDuration([]byte(`{"format":{}}`)); err == nil {
		t.Error("expected error for missing duration")
	}
	if _, err := ParseDuration([]byte(`nope`)); err == nil {
		t.Error("expected error for bad json")
	}
}
