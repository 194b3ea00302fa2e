package main

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/peterbourgon/ff/v4"

	"github.com/zombor/finance-tracker/internal/config"
	"github.com/zombor/finance-tracker/internal/gateway"
	"github.com/zombor/finance-tracker/internal/imagestore"
	"github.com/zombor/finance-tracker/internal/ingest"
	"github.com/zombor/finance-tracker/internal/language"
	"github.com/zombor/finance-tracker/internal/notify"
	"github.com/zombor/finance-tracker/internal/scanning"
	"github.com/zombor/finance-tracker/internal/server"
)

//go:embed VERSION.txt
var versionFile string

var version = strings.TrimSpace(versionFile)

func main() {
	// Check for version flag before parsing other flags
	for _, arg := range os.Args[1:] {
		if arg == "--version" || arg == "-version" || arg == "-v" {
			fmt.Println(version)
			os.Exit(0)
		}
	}

	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		if errors.Is(err, ff.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	// Check version flag after parsing
	if cfg.ShowVersion {
		fmt.Println(version)
		os.Exit(0)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	slog.SetDefault(newLogger(os.Stderr, cfg.LogLevel, cfg.LogFormat))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		slog.Error("Server error", "error", err)
		os.Exit(1)
	}
	slog.Info("Server stopped")
}

func newLogger(w io.Writer, level, format string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func run(ctx context.Context, cfg *config.Config) error {
	srv, cleanup, err := build(ctx, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	addr := fmt.Sprintf(":%d", cfg.Port)
	slog.Info("Server started", "address", fmt.Sprintf("http://localhost%s", addr), "version", version)
	return srv.Start(ctx, addr)
}

// build wires the server from cfg. cleanup releases what was opened, in reverse order.
func build(ctx context.Context, cfg *config.Config) (srv *server.Server, cleanup func(), err error) {
	var closers []func() error
	cleanup = func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](); err != nil {
				slog.Warn("Error during shutdown", "error", err)
			}
		}
	}
	defer func() {
		if err != nil {
			cleanup()
		}
	}()

	slog.Info("Initializing database...", "backend", cfg.DataBackend)
	gw, err := openGateway(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("initializing database: %w", err)
	}
	closers = append(closers, gw.Close)

	slog.Info("Initializing image storage...", "backend", cfg.ImageBackend)
	images, err := openImages(ctx, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("initializing image storage: %w", err)
	}

	var recognizers scanning.Factory
	switch cfg.Recognizer {
	case "gemini":
		slog.Info("Using Gemini recognizer", "model", cfg.GeminiModel)
		recognizers = scanning.NewGeminiFactory(cfg.GeminiKey, cfg.GeminiModel)
	case "ollama":
		slog.Info("Using Ollama recognizer", "url", cfg.OllamaURL, "model", cfg.OllamaModel)
		recognizers = scanning.NewOllamaFactory(cfg.OllamaURL, cfg.OllamaModel)
	default:
		return nil, nil, fmt.Errorf("invalid recognizer %q", cfg.Recognizer)
	}

	pipelineCfg := ingest.Config{
		Recognizers: recognizers,
		Images:      images,
		Target:      cfg.TargetLanguage,
		Languages:   cfg.Languages,
		Timeouts: &ingest.Timeouts{
			Recognize: cfg.RecognizeTimeout,
			Detect:    cfg.DetectTimeout,
			Translate: cfg.TranslateTimeout,
			Persist:   cfg.PersistTimeout,
		},
	}

	if cfg.DetectURL != "" {
		pipelineCfg.Identifier = language.NewDetector(cfg.DetectURL, cfg.DetectKey, cfg.TargetLanguage)
	} else {
		slog.Warn("No detect URL configured, every receipt is read as the target language", "target", cfg.TargetLanguage)
	}

	switch cfg.Translator {
	case "libre":
		translator, err := language.NewLibreTranslator(cfg.TranslateURL, cfg.TranslateKey)
		if err != nil {
			return nil, nil, fmt.Errorf("initializing translator: %w", err)
		}
		pipelineCfg.Translator = translator
	case "gemini":
		translator, err := language.NewGeminiTranslator(ctx, cfg.GeminiKey, cfg.GeminiModel)
		if err != nil {
			return nil, nil, fmt.Errorf("initializing translator: %w", err)
		}
		closers = append(closers, translator.Close)
		pipelineCfg.Translator = translator
	}

	notifiers := notify.Multi{notify.NewLog(slog.Default())}
	if cfg.AMQPURL != "" {
		slog.Info("Connecting to AMQP broker...", "exchange", cfg.AMQPExchange, "queue", cfg.AMQPQueue)
		broker, err := notify.NewAMQP(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
		if err != nil {
			return nil, nil, fmt.Errorf("connecting to AMQP: %w", err)
		}
		closers = append(closers, broker.Close)
		notifiers = append(notifiers, broker)
	}
	pipelineCfg.Notifier = notifiers

	pipeline, err := ingest.New(pipelineCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("initializing pipeline: %w", err)
	}

	auth, err := server.NewTokenAuth(cfg.JWTSecret, cfg.JWTIssuer)
	if err != nil {
		return nil, nil, fmt.Errorf("initializing auth: %w", err)
	}

	sessions := server.NewSessions(gw, nil)
	if cfg.SessionIdle > 0 {
		expireCtx, stop := context.WithCancel(ctx)
		closers = append(closers, func() error { stop(); return nil })
		go sessions.Expire(expireCtx, cfg.SessionIdle, cfg.SessionIdle/4)
	}

	srv = server.NewServer(server.Options{
		Sessions: sessions,
		Pipeline: pipeline,
		Images:   images,
		Auth:     auth,
	})
	return srv, cleanup, nil
}

func openGateway(cfg *config.Config) (gateway.Gateway, error) {
	switch cfg.DataBackend {
	case "sqlite":
		return gateway.NewSQLite(cfg.SQLitePath)
	case "postgres":
		return gateway.NewPostgres(cfg.PostgresDSN)
	default:
		return gateway.NewBolt(cfg.BoltPath)
	}
}

func openImages(ctx context.Context, cfg *config.Config) (imagestore.Store, error) {
	if cfg.ImageBackend == "s3" {
		return imagestore.NewS3(ctx, imagestore.S3Config{
			Bucket:          cfg.S3Bucket,
			Region:          cfg.S3Region,
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretAccessKey,
			Endpoint:        cfg.S3Endpoint,
			UsePathStyle:    cfg.S3UsePathStyle,
			PublicURL:       cfg.S3PublicURL,
		})
	}
	return imagestore.NewLocal(cfg.StoragePath)
}
