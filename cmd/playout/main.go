package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"live-playout/internal/api"
	"live-playout/internal/ffmpeg"
	"live-playout/internal/platform/config"
	"live-playout/internal/platform/logger"
	"live-playout/internal/platform/metrics"
	"live-playout/internal/playout"
	"live-playout/internal/process"
	"live-playout/internal/source"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func main() {
	_ = config.Load()

	settings := settingsFromEnv()
	logOut, encOut := sinks(settings)

	logLevel := config.GetEnv("LOG_LEVEL", "info")
	logFormat := config.GetEnv("LOG_FORMAT", "json")
	log := logger.NewWithWriter(logOut, logLevel, logFormat)

	if err := run(log, settings, encOut); err != nil {
		log.Error("playout exited with error", slog.String("error", err.Error()))
		os.Exit(1)
	}
	log.Info("playout stopped")
}

// sinks picks the log destination and the encoder's stdout. When the encoder
// streams to stdout, logs move to stderr so they never enter the transport.
func sinks(settings ffmpeg.Settings) (logOut, encoderOut io.Writer) {
	if settings.WritesStdout() {
		return os.Stderr, os.Stdout
	}
	return os.Stdout, nil
}

func settingsFromEnv() ffmpeg.Settings {
	d := ffmpeg.Default()
	return ffmpeg.Settings{
		Bin:             config.GetEnv("FFMPEG_BIN", d.Bin),
		LogLevel:        config.GetEnv("FFMPEG_LOG_LEVEL", d.LogLevel),
		Width:           config.GetEnvInt("PROCESSING_WIDTH", d.Width),
		Height:          config.GetEnvInt("PROCESSING_HEIGHT", d.Height),
		Aspect:          config.GetEnvFloat("PROCESSING_ASPECT", d.Aspect),
		FPS:             config.GetEnvFloat("PROCESSING_FPS", d.FPS),
		VideoBitrate:    config.GetEnvInt("PROCESSING_VIDEO_BITRATE", d.VideoBitrate),
		VideoBufsize:    config.GetEnvInt("PROCESSING_VIDEO_BUFSIZE", d.VideoBufsize),
		AudioSampleRate: config.GetEnvInt("PROCESSING_AUDIO_SAMPLE_RATE", d.AudioSampleRate),
		AudioChannels:   config.GetEnvInt("PROCESSING_AUDIO_CHANNELS", d.AudioChannels),
		IngestInput:     config.GetEnvList("INGEST_INPUT", d.IngestInput),
		OutputParams:    config.GetEnvList("OUTPUT_PARAMS", d.OutputParams),
		ServiceName:     config.GetEnv("SERVICE_NAME", d.ServiceName),
		ServiceProvider: config.GetEnv("SERVICE_PROVIDER", d.ServiceProvider),
	}.Normalize()
}

func run(log *slog.Logger, settings ffmpeg.Settings, encoderOut io.Writer) error {
	mode := playout.ParseMode(config.GetEnv("PLAYOUT_MODE", "playlist"))
	port := config.GetEnv("CONTROL_PORT", "8080")
	chunkSize := config.GetEnvInt("CHUNK_SIZE", 0)
	ingestEnabled := config.GetEnvBool("INGEST_ENABLE", false)

	met := metrics.New()
	launcher := &process.ExecLauncher{
		Log:           log,
		Classify:      ffmpeg.LineLevel,
		EncoderOutput: encoderOut,
	}
	queue := playout.NewQueue()

	opts := playout.Options{
		Launcher:    launcher,
		Queue:       queue,
		Log:         log,
		Metrics:     met,
		EncoderArgs: settings.EncoderArgs(time.Now().Year()),
		DecodeCommand: func(it playout.Item) []string {
			return settings.DecoderArgs(it.DecodeArgs, it.FilterArgs)
		},
		ChunkSize: chunkSize,
	}

	switch mode {
	case playout.ModeFolder:
		store, err := source.NewMediaStore(
			config.GetEnv("FOLDER_PATH", "media"),
			config.GetEnvCSV("FOLDER_EXTENSIONS", []string{".mp4", ".mkv", ".mov", ".ts"}),
		)
		if err != nil {
			return err
		}
		watcher, err := source.NewWatcher(store, log)
		if err != nil {
			return err
		}
		ffprobe := config.GetEnv("FFPROBE_BIN", "ffprobe")
		opts.Source = source.NewFolder(source.FolderOptions{
			Store: store,
			Args:  settings,
			Log:   log,
			Probe: func(ctx context.Context, path string) (time.Duration, error) {
				return ffmpeg.Probe(ctx, ffprobe, path)
			},
			Shuffle: config.GetEnvBool("FOLDER_SHUFFLE", false),
		})
		opts.Watcher = watcher
		log.Info("folder mode", slog.String("folder", store.Root()), slog.Int("files", store.Len()))

	default:
		dayStart, err := source.ParseDayStart(config.GetEnv("DAY_START", "00:00:00"))
		if err != nil {
			return err
		}
		opts.Source = source.NewPlaylist(source.PlaylistOptions{
			Path:     config.GetEnv("PLAYLIST_PATH", "playlists"),
			DayStart: dayStart,
			Args:     settings,
			Log:      log,
		})
	}

	if ingestEnabled {
		opts.Ingest = playout.NewIngest(playout.IngestOptions{
			Args:         settings.IngestArgs(),
			Launcher:     launcher,
			Queue:        queue,
			Log:          log,
			Metrics:      met,
			ChunkSize:    chunkSize,
			RestartDelay: config.GetEnvDuration("INGEST_RESTART_DELAY", playout.DefaultRestartDelay),
		})
	}

	player := playout.New(opts)

	ctx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	h := api.NewHandler(player, cancel, log, met)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(logger.RequestLogger(log))
	r.Use(metrics.RequestMiddleware(met))
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		met.Handler(func() {
			snap := player.Snapshot()
			met.SetQueueDepth(snap.QueueDepth)
			met.SetLiveActive(snap.LiveActive)
		}).ServeHTTP(w, r)
	})
	h.Routes(r)

	srv := &http.Server{Addr: ":" + port, Handler: r}

	log.Info("playout starting",
		slog.String("mode", mode.String()),
		slog.String("control_port", port),
		slog.Bool("ingest", ingestEnabled),
		slog.String("log_level", config.GetEnv("LOG_LEVEL", "info")),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer cancel()
		return player.Run(gctx)
	})
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutdown signal received, draining connections")
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancelShutdown()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
