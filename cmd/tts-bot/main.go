// main package for the tts-bot service.
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

	"github.com/voxkit/tts-bot/internal/bot"
	"github.com/voxkit/tts-bot/internal/catalog"
	"github.com/voxkit/tts-bot/internal/config"
	"github.com/voxkit/tts-bot/internal/credential"
	"github.com/voxkit/tts-bot/internal/inworld"
	"github.com/voxkit/tts-bot/internal/natsserver"
	"github.com/voxkit/tts-bot/internal/queue"
	"github.com/voxkit/tts-bot/internal/retry"
	"github.com/voxkit/tts-bot/internal/session"
	"github.com/voxkit/tts-bot/internal/stats"
	"github.com/voxkit/tts-bot/internal/userstate"
)

const (
	dirPermissions = 0o750

	defaultSynthesisTimeout = 120 * time.Second
	defaultCloneTimeout     = 300 * time.Second
)

func setupLogger(logPath string) (*logger.Logger, error) {
	log, err := logger.New(logPath, "tts-bot.log")
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	return log, nil
}

// logDelivery is the outbound edge used until a chat transport adapter is
// attached. It records deliveries in the service log.
type logDelivery struct {
	log *logger.Logger
}

func (d *logDelivery) DeliverArtifact(_ context.Context, userID int64, path, caption string) error {
	d.log.Info("Artifact for user %d: %s (%s)", userID, path, caption)

	return nil
}

func (d *logDelivery) DeliverText(_ context.Context, userID int64, message string) error {
	d.log.Info("Message for user %d: %s", userID, message)

	return nil
}

func (d *logDelivery) ReportProgress(_ context.Context, userID int64, position int) error {
	d.log.Info("User %d queued at position %d", userID, position)

	return nil
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

	natsURL, shutdownServer, err := resolveNATS(cfg, log)
	if err != nil {
		return err
	}
	defer shutdownServer()

	conn, err := nats.Connect(natsURL, nats.Name("tts-bot"))
	if err != nil {
		return fmt.Errorf("failed to connect to NATS at %s: %w", natsURL, err)
	}
	defer conn.Close()

	js, err := conn.JetStream()
	if err != nil {
		return fmt.Errorf("failed to open JetStream context: %w", err)
	}

	counters := stats.New()
	executor := retry.NewExecutor(counters, log)
	policy := retry.Policy{
		MaxAttempts: cfg.Retry.MaxAttempts,
		BackoffBase: cfg.Retry.BackoffBase,
		Unit:        backoffUnit(cfg),
	}

	cred := credential.NewManager(credential.Config{
		TokenEndpoint: cfg.Identity.TokenEndpoint,
		APIKey:        cfg.Identity.APIKey,
		PortalBaseURL: cfg.Inworld.PortalBaseURL,
		WorkspaceID:   cfg.Inworld.WorkspaceID,
	}, cfg.Identity.RefreshSecret, "", log)

	client := inworld.NewClient(
		cfg.Inworld.APIBaseURL,
		cfg.Inworld.WorkspaceID,
		cred,
		synthesisTimeout(cfg),
	)

	voices := catalog.New(client, cred, executor, policy,
		time.Duration(cfg.Catalog.TTLMinutes)*time.Minute, log)

	prefs, err := userstate.Open(cfg.Storage.UserDBPath, userstate.Preferences{
		VoiceID:      cfg.Inworld.DefaultVoiceID,
		ModelID:      cfg.Inworld.DefaultModelID,
		SpeakingRate: cfg.Inworld.SpeakingRate,
		Pitch:        cfg.Inworld.Pitch,
	}, log)
	if err != nil {
		return fmt.Errorf("failed to open user preference store: %w", err)
	}

	defer func() {
		closeErr := prefs.Close()
		if closeErr != nil {
			log.Error("Failed to close user preference store: %v", closeErr)
		}
	}()

	jobs, err := queue.New(js, cfg.Queue.StreamName, cfg.Queue.Subject, log)
	if err != nil {
		return fmt.Errorf("failed to set up job queue: %w", err)
	}

	delivery := &logDelivery{log: log}

	sessions := session.NewManager(client, cred, executor, policy, prefs, cloneTimeout(cfg), log)

	handlers := bot.New(sessions, voices, cred, prefs, jobs, counters, delivery,
		bot.Options{MaxTextChars: cfg.Limits.MaxTextChars}, log)
	_ = handlers // the chat transport adapter routes updates into handlers

	worker := queue.NewWorker(js, queue.WorkerOptions{
		StreamName:       cfg.Queue.StreamName,
		Subject:          cfg.Queue.Subject,
		ConsumerName:     cfg.Queue.ConsumerName,
		OutputDir:        cfg.Paths.OutputDir,
		SampleRateHertz:  cfg.Inworld.SampleRateHertz,
		Temperature:      cfg.Inworld.Temperature,
		SynthesisTimeout: synthesisTimeout(cfg),
		DeleteDelay:      time.Duration(cfg.Limits.DeleteDelaySeconds) * time.Second,
	}, client, cred, executor, policy, delivery, log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	refreshCredential(ctx, cred, log)

	workerDone := make(chan error, 1)

	go func() {
		workerDone <- worker.Run(ctx)
	}()

	log.System("tts-bot initialized. Consuming jobs from stream %s (subject %s)",
		cfg.Queue.StreamName, cfg.Queue.Subject)

	<-ctx.Done()
	log.System("Shutdown signal received, draining worker.")

	workerErr := <-workerDone
	if workerErr != nil {
		log.Error("Worker stopped with error: %v", workerErr)
	}

	log.System("%s", counters.Report())

	return nil
}

// refreshCredential attempts the initial token exchange. Failure is not
// fatal: the operator can supply a token manually through the bot.
func refreshCredential(ctx context.Context, cred *credential.Manager, log *logger.Logger) {
	err := cred.Refresh(ctx)
	if err != nil {
		log.Warn("Initial credential refresh failed, waiting for a manual token: %v", err)

		return
	}

	log.Info("Initial credential refresh succeeded.")
}

// resolveNATS starts the embedded server when configured and returns the URL
// to connect to plus a shutdown function.
func resolveNATS(cfg *config.Config, log *logger.Logger) (string, func(), error) {
	if !cfg.Queue.Embedded {
		return cfg.Queue.URL, func() {}, nil
	}

	server, err := natsserver.Start(-1, cfg.Queue.StoreDir, log)
	if err != nil {
		return "", nil, fmt.Errorf("failed to start embedded NATS server: %w", err)
	}

	return server.ClientURL(), server.Shutdown, nil
}

func ensureDirectories(cfg *config.Config) error {
	for _, dir := range []string{cfg.Paths.OutputDir, cfg.Sessions.StagingDir} {
		if dir == "" {
			continue
		}

		err := os.MkdirAll(dir, dirPermissions)
		if err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return nil
}

func backoffUnit(cfg *config.Config) time.Duration {
	if cfg.Retry.BackoffUnitMS > 0 {
		return time.Duration(cfg.Retry.BackoffUnitMS) * time.Millisecond
	}

	return time.Second
}

func synthesisTimeout(cfg *config.Config) time.Duration {
	if cfg.Inworld.SynthesisTimeoutSecs > 0 {
		return time.Duration(cfg.Inworld.SynthesisTimeoutSecs) * time.Second
	}

	return defaultSynthesisTimeout
}

func cloneTimeout(cfg *config.Config) time.Duration {
	if cfg.Inworld.CloneTimeoutSecs > 0 {
		return time.Duration(cfg.Inworld.CloneTimeoutSecs) * time.Second
	}

	return defaultCloneTimeout
}

func main() {
	err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Service exited with error: %v\n", err)
		os.Exit(1)
	}
}
