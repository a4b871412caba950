package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/book-expert/logger"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/voxkit/tts-bot/internal/artifact"
	"github.com/voxkit/tts-bot/internal/core"
	"github.com/voxkit/tts-bot/internal/inworld"
	"github.com/voxkit/tts-bot/internal/retry"
)

const (
	fetchWait       = time.Second
	artifactCaption = "Speech generated successfully."
)

// Generator is the slice of the TTS client the worker needs. The Inworld
// client satisfies it.
type Generator interface {
	Synthesize(ctx context.Context, req inworld.SynthesisRequest) ([]byte, int, error)
}

// Refresher brings an expired credential back to life before it is used for
// a new call. The credential manager satisfies it. May be nil.
type Refresher interface {
	EnsureFresh(ctx context.Context) error
}

// WorkerOptions holds the synthesis settings shared by every job.
type WorkerOptions struct {
	StreamName       string
	Subject          string
	ConsumerName     string
	OutputDir        string
	SampleRateHertz  int
	Temperature      float64
	SynthesisTimeout time.Duration
	DeleteDelay      time.Duration
}

// Worker drains the job stream one job at a time. Jobs are processed in
// strict enqueue order; a single job's failure is reported to its requester
// and never stops the loop.
type Worker struct {
	js        nats.JetStreamContext
	opts      WorkerOptions
	generator Generator
	refresher Refresher
	executor  *retry.Executor
	policy    retry.Policy
	delivery  core.Delivery
	log       *logger.Logger
}

// NewWorker creates the single consumer of the job stream. It must be
// started exactly once, after setup completes.
func NewWorker(
	js nats.JetStreamContext,
	opts WorkerOptions,
	generator Generator,
	refresher Refresher,
	executor *retry.Executor,
	policy retry.Policy,
	delivery core.Delivery,
	log *logger.Logger,
) *Worker {
	return &Worker{
		js:        js,
		opts:      opts,
		generator: generator,
		refresher: refresher,
		executor:  executor,
		policy:    policy,
		delivery:  delivery,
		log:       log,
	}
}

// Run consumes jobs until the context is cancelled, then drains the
// subscription. Fetching one message at a time keeps exactly one job in
// flight and preserves FIFO order regardless of individual call latency.
func (w *Worker) Run(ctx context.Context) error {
	sub, err := w.js.PullSubscribe(
		w.opts.Subject,
		w.opts.ConsumerName,
		nats.BindStream(w.opts.StreamName),
	)
	if err != nil {
		return fmt.Errorf("failed to subscribe to job stream: %w", err)
	}

	w.log.System("Worker started, draining jobs from %s", w.opts.Subject)

	for {
		select {
		case <-ctx.Done():
			drainErr := sub.Drain()
			if drainErr != nil {
				return fmt.Errorf("failed to drain job subscription: %w", drainErr)
			}

			return nil
		default:
		}

		msgs, err := sub.Fetch(1, nats.MaxWait(fetchWait))
		if err != nil {
			if errors.Is(err, nats.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
				continue
			}

			if ctx.Err() != nil {
				return nil
			}

			w.log.Error("Failed to fetch job: %v", err)

			continue
		}

		for _, msg := range msgs {
			w.handleMessage(ctx, msg)

			ackErr := msg.Ack()
			if ackErr != nil {
				w.log.Error("Failed to ack job: %v", ackErr)
			}
		}
	}
}

func (w *Worker) handleMessage(ctx context.Context, msg *nats.Msg) {
	var job core.Job

	err := json.Unmarshal(msg.Data, &job)
	if err != nil {
		w.log.Error("Failed to unmarshal job, dropping: %v", err)

		return
	}

	w.processJob(ctx, job)
}

// processJob synthesizes one job, hands the artifact to the delivery
// collaborator and schedules its deferred deletion.
func (w *Worker) processJob(ctx context.Context, job core.Job) {
	w.log.Info("Processing job for user %d: %.50q", job.RequesterID, job.Text)

	jobCtx, cancel := context.WithTimeout(ctx, w.opts.SynthesisTimeout)
	defer cancel()

	// An expired credential is refreshed here, not inside the call path.
	if w.refresher != nil {
		refreshErr := w.refresher.EnsureFresh(jobCtx)
		if refreshErr != nil {
			w.log.Error("Credential refresh before job failed for user %d: %v",
				job.RequesterID, refreshErr)
			w.deliverFailure(ctx, job.RequesterID, refreshErr)

			return
		}
	}

	audio, err := retry.Do(jobCtx, w.executor, w.policy, retry.ClassifyStatus,
		func(ctx context.Context) ([]byte, int, error) {
			return w.generator.Synthesize(ctx, inworld.SynthesisRequest{
				Text:            job.Text,
				VoiceID:         job.VoiceID,
				ModelID:         job.ModelID,
				SpeakingRate:    job.SpeakingRate,
				Pitch:           job.Pitch,
				SampleRateHertz: w.opts.SampleRateHertz,
				Temperature:     w.opts.Temperature,
			})
		})
	if err != nil {
		w.log.Error("Generation failed for user %d: %v", job.RequesterID, err)
		w.deliverFailure(ctx, job.RequesterID, err)

		return
	}

	path, err := artifact.Write(w.opts.OutputDir, uuid.NewString()+".mp3", audio)
	if err != nil {
		w.log.Error("Failed to store artifact for user %d: %v", job.RequesterID, err)
		w.deliverFailure(ctx, job.RequesterID, err)

		return
	}

	err = w.delivery.DeliverArtifact(ctx, job.RequesterID, path, artifactCaption)
	if err != nil {
		w.log.Error("Failed to deliver artifact %s: %v", path, err)
	}

	// Deletion is scheduled regardless of delivery outcome.
	artifact.DeleteAfter(path, w.opts.DeleteDelay, w.log)
}

func (w *Worker) deliverFailure(ctx context.Context, userID int64, err error) {
	deliverErr := w.delivery.DeliverText(ctx, userID, core.UserFacingMessage(err))
	if deliverErr != nil {
		w.log.Error("Failed to deliver failure notice to user %d: %v", userID, deliverErr)
	}
}
