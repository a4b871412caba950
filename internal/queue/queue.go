// Package queue provides the generation job pipeline: an unbounded FIFO
// stream of TTS jobs drained by exactly one long-lived worker.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/book-expert/logger"
	"github.com/nats-io/nats.go"
	"github.com/voxkit/tts-bot/internal/core"
)

// Queue is the intake side of the job stream. Enqueueing never waits on
// processing; an unresponsive backend stalls the worker, not the callers.
type Queue struct {
	js         nats.JetStreamContext
	streamName string
	subject    string
	log        *logger.Logger
}

// New binds to the job stream, creating it when missing.
func New(js nats.JetStreamContext, streamName, subject string, log *logger.Logger) (*Queue, error) {
	_, err := js.StreamInfo(streamName)
	if err != nil {
		if !errors.Is(err, nats.ErrStreamNotFound) {
			return nil, fmt.Errorf("failed to look up stream %s: %w", streamName, err)
		}

		_, err = js.AddStream(&nats.StreamConfig{
			Name:      streamName,
			Subjects:  []string{subject},
			Retention: nats.WorkQueuePolicy,
			Storage:   nats.FileStorage,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create stream %s: %w", streamName, err)
		}

		log.Info("Created job stream %s (subject %s)", streamName, subject)
	}

	return &Queue{
		js:         js,
		streamName: streamName,
		subject:    subject,
		log:        log,
	}, nil
}

// Enqueue appends the job to the tail of the stream and returns the number
// of jobs that were already pending before insertion, so the caller can
// report the requester's queue position.
func (q *Queue) Enqueue(ctx context.Context, job core.Job) (int, error) {
	pending := 0

	info, err := q.js.StreamInfo(q.streamName)
	if err == nil {
		pending = int(info.State.Msgs)
	} else {
		q.log.Warn("Failed to read stream depth before enqueue: %v", err)
	}

	data, err := json.Marshal(job)
	if err != nil {
		return pending, fmt.Errorf("failed to marshal job: %w", err)
	}

	_, err = q.js.Publish(q.subject, data, nats.Context(ctx))
	if err != nil {
		return pending, fmt.Errorf("failed to enqueue job: %w", err)
	}

	return pending, nil
}
