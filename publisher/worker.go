package publisher

import (
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/maxpert/waljson/cfg"
	"github.com/maxpert/waljson/telemetry"
	"github.com/rs/zerolog/log"
)

const (
	// Default topic when none is configured
	DefaultTopic = "waljson"
	// Default initial retry delay for failed publish operations
	DefaultRetryInitial = 100 * time.Millisecond
	// Default maximum retry delay (exponential backoff cap)
	DefaultRetryMax = 30 * time.Second
	// Default exponential backoff multiplier
	DefaultRetryMultiplier = 2.0
)

// WorkerConfig configures the publisher worker
type WorkerConfig struct {
	Name            string        // Sink name (for logs and metrics)
	Sink            Sink          // Destination sink
	Topic           string        // Topic or subject every unit is published to
	RetryInitial    time.Duration // Initial retry delay
	RetryMax        time.Duration // Max retry delay
	RetryMultiplier float64       // Backoff multiplier
	MaxRetries      int           // Maximum publish attempts (0 = unlimited)
}

// Worker publishes encoded units to a sink. It is the encoder's output.
type Worker struct {
	config    WorkerConfig
	stopCh    chan struct{}
	stopOnce  sync.Once
	published atomic.Uint64
	retries   atomic.Uint64
}

// NewWorker creates a new publisher worker
func NewWorker(config WorkerConfig) (*Worker, error) {
	if config.Name == "" {
		return nil, fmt.Errorf("worker name is required")
	}
	if config.Sink == nil {
		return nil, fmt.Errorf("sink is required")
	}

	if config.Topic == "" {
		config.Topic = DefaultTopic
	}
	if config.RetryInitial <= 0 {
		config.RetryInitial = DefaultRetryInitial
	}
	if config.RetryMax <= 0 {
		config.RetryMax = DefaultRetryMax
	}
	if config.RetryMultiplier <= 0 {
		config.RetryMultiplier = DefaultRetryMultiplier
	}
	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}

	return &Worker{
		config: config,
		stopCh: make(chan struct{}),
	}, nil
}

// NewWorkerFromConfig creates the sink described by config and a worker
// publishing to it.
func NewWorkerFromConfig(config cfg.SinkConfiguration) (*Worker, error) {
	snk, err := NewSink(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create sink: %w", err)
	}

	name := config.Name
	if name == "" {
		name = config.Type
	}

	w, err := NewWorker(WorkerConfig{
		Name:            name,
		Sink:            snk,
		Topic:           config.Topic,
		RetryInitial:    time.Duration(config.RetryInitialMS) * time.Millisecond,
		RetryMax:        time.Duration(config.RetryMaxMS) * time.Millisecond,
		RetryMultiplier: config.RetryMultiplier,
		MaxRetries:      config.MaxAttempts,
	})
	if err != nil {
		snk.Close()
		return nil, err
	}

	log.Info().
		Str("sink", name).
		Str("type", config.Type).
		Str("topic", w.config.Topic).
		Msg("Added output sink")

	return w, nil
}

// Write publishes one unit, keyed by its transaction ID. It blocks until the
// sink accepts the unit, retries are exhausted, or the worker is stopped.
func (w *Worker) Write(xid uint32, data []byte) error {
	key := strconv.FormatUint(uint64(xid), 10)
	if err := w.publishWithRetry(w.config.Topic, key, data); err != nil {
		return err
	}
	w.published.Add(1)
	return nil
}

// Published returns the number of units accepted by the sink.
func (w *Worker) Published() uint64 {
	return w.published.Load()
}

// Retries returns the number of failed publish attempts that were retried.
func (w *Worker) Retries() uint64 {
	return w.retries.Load()
}

// Stop aborts any retry in progress. Later writes fail after their first
// unsuccessful attempt.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() {
		log.Info().Str("worker", w.config.Name).Msg("Stopping publisher worker")
		close(w.stopCh)
	})
}

// Close stops the worker and closes its sink.
func (w *Worker) Close() error {
	w.Stop()
	return w.config.Sink.Close()
}

// publishWithRetry publishes data with exponential backoff retry
// Returns error if max retries exhausted or worker stopped
func (w *Worker) publishWithRetry(topic, key string, data []byte) error {
	delay := w.config.RetryInitial
	attempts := 0

	for {
		err := w.config.Sink.Publish(topic, key, data)
		if err == nil {
			return nil
		}

		attempts++

		// Check if we've exhausted max retries (0 = unlimited)
		if w.config.MaxRetries > 0 && attempts >= w.config.MaxRetries {
			return fmt.Errorf("exhausted max retries (%d) for topic %s: %w", w.config.MaxRetries, topic, err)
		}

		log.Warn().
			Err(err).
			Str("worker", w.config.Name).
			Str("topic", topic).
			Int("attempt", attempts).
			Dur("retry_delay", delay).
			Msg("Failed to publish, retrying")

		w.retries.Add(1)
		telemetry.SinkRetriesTotal.With(w.config.Name).Inc()

		// Sleep with stop check
		if !w.sleep(delay) {
			return fmt.Errorf("worker stopped during retry: %w", err)
		}

		// Exponential backoff
		delay = time.Duration(float64(delay) * w.config.RetryMultiplier)
		if delay > w.config.RetryMax {
			delay = w.config.RetryMax
		}
	}
}

// sleep sleeps for the given duration, checking stopCh
// Returns true if sleep completed, false if stopped
func (w *Worker) sleep(d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-w.stopCh:
		return false
	case <-timer.C:
		return true
	}
}
