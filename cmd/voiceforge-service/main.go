// main package for the voiceforge-service
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/book-expert/logger"
	"github.com/nats-io/nats.go"

	"github.com/book-expert/voiceforge-service/internal/conditioner"
	"github.com/book-expert/voiceforge-service/internal/config"
	"github.com/book-expert/voiceforge-service/internal/engine"
	"github.com/book-expert/voiceforge-service/internal/objectstore"
	"github.com/book-expert/voiceforge-service/internal/podcast"
	"github.com/book-expert/voiceforge-service/internal/synth"
	"github.com/book-expert/voiceforge-service/internal/textseg"
	"github.com/book-expert/voiceforge-service/internal/ttsutil"
	"github.com/book-expert/voiceforge-service/internal/voicestore"
	"github.com/book-expert/voiceforge-service/internal/worker"
)

const healthCheckTimeout = 10 * time.Second

func setupLogger(logPath string) (*logger.Logger, error) {
	log, err := logger.New(logPath, "voiceforge-service.log")
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	return log, nil
}

func run() error {
	bootstrapLog, err := setupLogger(os.TempDir())
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Failed to create bootstrap logger: %v\n", err)

		return err
	}

	cfg, err := config.Load(bootstrapLog)
	if err != nil {
		bootstrapLog.Error("Failed to load configuration: %v", err)

		return fmt.Errorf("failed to load configuration: %w", err)
	}

	finalLog, err := setupLogger(cfg.Paths.BaseLogsDir)
	if err != nil {
		bootstrapLog.Error("Failed to create final logger: %v", err)

		return fmt.Errorf("failed to create final logger: %w", err)
	}

	defer func() {
		closeErr := finalLog.Close()
		if closeErr != nil {
			fmt.Fprintf(os.Stderr, "error closing final logger: %v\n", closeErr)
		}
	}()

	return runService(cfg, finalLog)
}

func runService(cfg *config.Config, log *logger.Logger) error {
	err := ensureDirectories(cfg)
	if err != nil {
		return err
	}

	natsConnection, err := nats.Connect(cfg.NATS.URL)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS at %s: %w", cfg.NATS.URL, err)
	}
	defer natsConnection.Close()

	jetstreamContext, err := natsConnection.JetStream()
	if err != nil {
		return fmt.Errorf("failed to create JetStream context: %w", err)
	}

	uploads, err := objectstore.New(jetstreamContext, cfg.NATS.UploadsBucket)
	if err != nil {
		return fmt.Errorf("failed to open uploads bucket: %w", err)
	}

	outputs, err := objectstore.New(jetstreamContext, cfg.NATS.OutputsBucket)
	if err != nil {
		return fmt.Errorf("failed to open outputs bucket: %w", err)
	}

	natsWorker, err := buildWorker(cfg, natsConnection, uploads, outputs, log)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.System(
		"VoiceForge-Service successfully initialized. Listening for jobs on %s",
		cfg.NATS.URL,
	)

	err = natsWorker.Run(ctx)
	if err != nil {
		return fmt.Errorf("worker terminated with error: %w", err)
	}

	return nil
}

// buildWorker wires the domain components together in dependency order.
func buildWorker(
	cfg *config.Config,
	natsConnection *nats.Conn,
	uploads *objectstore.NatsObjectStore,
	outputs *objectstore.NatsObjectStore,
	log *logger.Logger,
) (*worker.NatsWorker, error) {
	synthEngine := engine.NewHTTPEngine(
		cfg.Engine.BaseURL,
		time.Duration(cfg.Engine.TimeoutSeconds)*time.Second,
		cfg.Engine.SampleRate,
	)

	checkEngineHealth(synthEngine, log)

	audioConditioner, err := conditioner.New(
		cfg.Limits.TargetSampleRate,
		cfg.Limits.MinCloneSeconds,
		cfg.Paths.WorkDir,
		log,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create conditioner: %w", err)
	}

	voices, err := voicestore.New(
		cfg.Paths.VoiceModelsDir,
		synthEngine,
		cfg.Limits.MinCloneSeconds,
		cfg.Limits.PreviewSeconds,
		log,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create voice store: %w", err)
	}

	segmenter := textseg.NewSegmenter(cfg.Limits.MaxChunkChars)

	speech, err := synth.New(
		synthEngine,
		voices,
		segmenter,
		cfg.Paths.OutputsDir,
		cfg.Engine.DefaultVoiceKey,
		log,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create synthesis orchestrator: %w", err)
	}

	podcasts, err := podcast.New(
		speech,
		cfg.Paths.PodcastOutputsDir,
		cfg.Limits.MaxConcurrentPodcasts,
		time.Duration(cfg.Limits.SegmentGapMs)*time.Millisecond,
		log,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create podcast orchestrator: %w", err)
	}

	natsWorker, err := worker.NewNatsWorker(
		natsConnection,
		cfg.NATS,
		uploads,
		outputs,
		audioConditioner,
		voices,
		speech,
		podcasts,
		cfg.Paths.WorkDir,
		cfg.Paths.PodcastOutputsDir,
		log,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create worker: %w", err)
	}

	return natsWorker, nil
}

// checkEngineHealth probes the synthesis service once at startup. A failure
// is logged, not fatal: the service may come up after the worker.
func checkEngineHealth(synthEngine *engine.HTTPEngine, log *logger.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), healthCheckTimeout)
	defer cancel()

	err := synthEngine.HealthCheck(ctx)
	if err != nil {
		log.Warn("Synthesis engine health check failed: %v", err)

		return
	}

	log.Info("Synthesis engine is healthy.")
}

func ensureDirectories(cfg *config.Config) error {
	dirs := []string{
		cfg.Paths.VoiceModelsDir,
		cfg.Paths.OutputsDir,
		cfg.Paths.PodcastOutputsDir,
		cfg.Paths.WorkDir,
	}

	for _, dir := range dirs {
		err := ttsutil.EnsureDir(dir)
		if err != nil {
			return fmt.Errorf("failed to create directory '%s': %w", dir, err)
		}
	}

	return nil
}

func main() {
	err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Service exited with error: %v\n", err)
		os.Exit(1)
	}
}
