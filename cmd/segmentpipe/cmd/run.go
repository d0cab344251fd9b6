package cmd

import (
	"fmt"
	"log/slog"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/segmentpipe/segmentpipe/internal/config"
	"github.com/segmentpipe/segmentpipe/internal/database"
	"github.com/segmentpipe/segmentpipe/internal/ffmpeg"
	internalhttp "github.com/segmentpipe/segmentpipe/internal/http"
	"github.com/segmentpipe/segmentpipe/internal/http/handlers"
	"github.com/segmentpipe/segmentpipe/internal/index"
	"github.com/segmentpipe/segmentpipe/internal/ingest"
	"github.com/segmentpipe/segmentpipe/internal/observability"
	"github.com/segmentpipe/segmentpipe/internal/roller"
	"github.com/segmentpipe/segmentpipe/internal/storage"
	"github.com/segmentpipe/segmentpipe/internal/uploader"
	"github.com/segmentpipe/segmentpipe/internal/util"
)

// runRoot wires ingest, indexing, upload, and HTTP serving together and
// drives them until the ingest source reaches EOF or the process is
// signalled.
func runRoot(cmd *cobra.Command, args []string) error {
	v := viper.GetViper()
	cfg, err := config.Load(v, ".env")
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	cfg.Pipeline.Source = args[0]

	logger := observability.NewLogger(cfg.Logging)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sandbox, err := storage.NewSandbox(cfg.Pipeline.OutputDir)
	if err != nil {
		return fmt.Errorf("initializing output sandbox: %w", err)
	}

	rl, err := roller.New(cfg.Pipeline.OutputDir)
	if err != nil {
		return fmt.Errorf("initializing segment roller: %w", err)
	}

	db, err := database.New(filepath.Join(cfg.Pipeline.OutputDir, cfg.Storage.IndexFile), logger)
	if err != nil {
		return fmt.Errorf("opening index database: %w", err)
	}
	defer db.Close()

	store, err := index.New(db)
	if err != nil {
		return fmt.Errorf("initializing index store: %w", err)
	}

	up, err := uploader.New(ctx, cfg.Upload, cfg.Pipeline.Prefix, sandbox, logger)
	if err != nil {
		return fmt.Errorf("initializing uploader: %w", err)
	}
	up.Start(ctx)
	defer up.Stop()

	ffmpegPath, err := util.FindBinary(cfg.FFmpeg.BinaryPath, "SEGMENTPIPE_FFMPEG_BINARY_PATH")
	if err != nil {
		return fmt.Errorf("locating ffmpeg binary: %w", err)
	}
	ffprobePath, err := util.FindBinary(cfg.FFmpeg.ProbeBinaryPath, "SEGMENTPIPE_FFPROBE_BINARY_PATH")
	if err != nil {
		return fmt.Errorf("locating ffprobe binary: %w", err)
	}

	remuxer := ffmpeg.NewRemuxer(ffmpegPath, logger)
	prober := ffmpeg.NewProber(ffprobePath, cfg.FFmpeg.StartupTimeout)
	pipeline := ingest.New(cfg.Pipeline, remuxer, rl, store, up, logger).WithProber(prober)

	httpServer := internalhttp.NewServer(cfg.Server, logger)
	fileServer := handlers.NewFileServer(store, up, sandbox, logger)
	fileServer.Register(httpServer.Router())

	httpErr := make(chan error, 1)
	go func() { httpErr <- httpServer.ListenAndServe(ctx) }()

	pipelineErr := make(chan error, 1)
	go func() { pipelineErr <- pipeline.Run(ctx) }()

	select {
	case err := <-pipelineErr:
		if err != nil {
			logger.Error("ingest pipeline failed", slog.String("error", err.Error()))
			stop()
			<-httpErr
			return err
		}
		logger.Info("ingest pipeline reached source EOF")
		stop()
		<-httpErr
		return nil
	case err := <-httpErr:
		stop()
		<-pipelineErr
		return err
	case <-ctx.Done():
		<-pipelineErr
		return <-httpErr
	}
}
