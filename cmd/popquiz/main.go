// Command popquiz ingests classroom audio per room, keeps rolling summaries
// and serves quiz questions built from the current context.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	client "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"
	"golang.org/x/sync/errgroup"

	"github.com/sjawhar/popquiz/internal/audio"
	"github.com/sjawhar/popquiz/internal/classctx"
	"github.com/sjawhar/popquiz/internal/config"
	"github.com/sjawhar/popquiz/internal/gdrive"
	"github.com/sjawhar/popquiz/internal/llm"
	"github.com/sjawhar/popquiz/internal/observe"
	"github.com/sjawhar/popquiz/internal/quiz"
	"github.com/sjawhar/popquiz/internal/server"
	"github.com/sjawhar/popquiz/internal/session"
	"github.com/sjawhar/popquiz/internal/storage"
	"github.com/sjawhar/popquiz/internal/summary"
	"github.com/sjawhar/popquiz/internal/transcribe"
)

var version = "dev"

// store is satisfied by both the SQLite and PostgreSQL backends.
type store interface {
	session.Store
	summary.Store
	classctx.Store
	server.SessionLister
	Close() error
}

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	cfg, warnings, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "popquiz: %v\n", err)
		return 1
	}

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)
	for _, w := range warnings {
		logger.Warn("config: " + w)
	}
	logger.Info("popquiz starting", "version", version, "listen_addr", cfg.ListenAddr, "db_driver", cfg.DBDriver)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownMetrics, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceVersion: version})
	if err != nil {
		logger.Error("metrics init failed", "err", err)
		return 1
	}
	defer func() { _ = shutdownMetrics(context.Background()) }()
	metrics := observe.DefaultMetrics()

	db, err := openStore(ctx, cfg)
	if err != nil {
		logger.Error("storage init failed", "err", err)
		return 1
	}
	defer func() { _ = db.Close() }()

	format := audio.PCM16(cfg.SampleRate)

	transcriber, err := newTranscriber(ctx, cfg, format)
	if err != nil {
		logger.Error("transcriber init failed", "err", err)
		return 1
	}
	summaryClient, err := newLLM(cfg, cfg.SummarizationModel)
	if err != nil {
		logger.Error("summarization model init failed", "err", err)
		return 1
	}
	quizClient, err := newLLM(cfg, cfg.QuizModel)
	if err != nil {
		logger.Error("quiz model init failed", "err", err)
		return 1
	}

	hub := server.NewHub()
	archive := storage.NewWriter(cfg.ArchiveDir)

	scheduler := summary.NewScheduler(db, summary.NewSummarizer(summaryClient),
		cfg.ParsedSummaryWindow(), cfg.SummaryMinChunks,
		summary.WithNotifier(hub),
		summary.WithMetrics(metrics),
		summary.WithLogger(logger.With("component", "summary")),
	)

	opts := []session.Option{
		session.WithArchive(archive),
		session.WithBroadcaster(hub),
		session.WithMaxPayload(cfg.MaxPayloadBytes),
		session.WithIdleTTL(cfg.ParsedSessionIdleTTL()),
		session.WithMetrics(metrics),
		session.WithLogger(logger.With("component", "ingest")),
	}
	if cfg.DeadLetterDir != "" {
		opts = append(opts, session.WithSpool(audio.NewSpool(cfg.DeadLetterDir, format)))
	}
	threshold := format.Threshold(cfg.ParsedFlushWindow())
	pipeline := session.NewManager(session.NewBufferManager(threshold), transcriber, db, scheduler, opts...)
	logger.Info("ingest configured", "flush_window", cfg.ParsedFlushWindow().String(), "threshold_bytes", threshold)

	handler := server.Handler(server.Deps{
		Hub:            hub,
		Ingest:         pipeline,
		Context:        classctx.NewAssembler(db, classctx.WithDefaultMinutes(cfg.RecentMinutes)),
		Quiz:           quiz.NewGenerator(quizClient),
		Sessions:       db,
		Metrics:        metrics,
		Logger:         logger.With("component", "http"),
		MaxUploadBytes: int64(cfg.MaxPayloadBytes) + 1<<20,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return pipeline.Run(gctx)
	})
	g.Go(func() error {
		err := server.Serve(gctx, cfg.ListenAddr, handler, logger)
		pipeline.Close()
		return err
	})

	if cfg.GDriveFolderID != "" {
		syncer, err := gdrive.NewSyncer(ctx, cfg.GoogleCredentialsFile, cfg.GDriveFolderID)
		if err != nil {
			logger.Warn("gdrive export disabled", "err", err)
		} else {
			exporter := gdrive.NewExporter(archive, syncer, cfg.ParsedExportInterval(), logger.With("component", "gdrive"))
			g.Go(func() error {
				exporter.Run(gctx)
				return nil
			})
		}
	}

	if err := g.Wait(); err != nil {
		logger.Error("popquiz stopped with error", "err", err)
		return 1
	}
	logger.Info("popquiz stopped")
	return 0
}

func openStore(ctx context.Context, cfg config.Config) (store, error) {
	if cfg.DBDriver == config.DriverPostgres {
		connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		pg, err := storage.NewPostgresStore(connectCtx, cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		return pg, nil
	}
	lite, err := storage.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		return nil, err
	}
	return lite, nil
}

func newTranscriber(ctx context.Context, cfg config.Config, format audio.Format) (transcribe.Transcriber, error) {
	provider, model, err := llm.ParseModel(cfg.TranscriptionModel)
	if err != nil {
		return nil, err
	}
	if provider == "deepgram" {
		client.Init(client.InitLib{LogLevel: client.LogLevelDefault})
	}
	return transcribe.New(ctx, provider, cfg.APIKey(provider), model, format)
}

func newLLM(cfg config.Config, modelName string) (llm.Client, error) {
	provider, model, err := llm.ParseModel(modelName)
	if err != nil {
		return nil, err
	}
	return llm.NewClient(provider, cfg.APIKey(provider), model)
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
