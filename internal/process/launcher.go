package process

import (
	"io"
	"log/slog"
)

// Launcher starts a process for a role.
type Launcher interface {
	Launch(role Role, args []string) (Process, error)
}

// ExecLauncher starts real OS processes. The encoder gets a stdin pipe and
// writes its own output to EncoderOutput; decoders and the ingest server get
// a stdout pipe.
type ExecLauncher struct {
	Log           *slog.Logger
	Classify      Classifier
	EncoderOutput io.Writer
}

// Launch implements Launcher.
func (l *ExecLauncher) Launch(role Role, args []string) (Process, error) {
	opts := []Option{WithLogger(l.Log), WithClassifier(l.Classify)}
	switch role {
	case RoleEncoder:
		opts = append(opts, WithStdin())
		if l.EncoderOutput != nil {
			opts = append(opts, WithPassthroughStdout(l.EncoderOutput))
		}
	default:
		opts = append(opts, WithStdout())
	}

	h := New(role, args, opts...)
	if err := h.Start(); err != nil {
		return nil, err
	}
	return h, nil
}
