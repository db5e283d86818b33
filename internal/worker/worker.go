// SPDX-License-Identifier: MIT

// Package worker implements the Streamer Worker: the per-broadcaster
// state machine that alternates between liveness polling and capture,
// accumulates finished segments, fires completion actions, and backs
// off between cycles. A Worker never returns except on cancellation, an
// unrecoverable construction error, or when its broadcaster's
// supervision lock is already held.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/qingrang/stream-rec/internal/action"
	"github.com/qingrang/stream-rec/internal/health"
	"github.com/qingrang/stream-rec/internal/lock"
	"github.com/qingrang/stream-rec/internal/model"
	"github.com/qingrang/stream-rec/internal/platform"
)

// DefaultLockDir is where per-broadcaster supervision locks are kept,
// guarding against two Workers (e.g. across a config-reload restart)
// supervising the same broadcaster concurrently.
const DefaultLockDir = "/var/run/streamrec"

// DefaultLogDir is where per-broadcaster Capture Engine stderr logs are
// rotated to.
const DefaultLogDir = "/var/log/streamrec"

// DefaultMonitorInterval is how often a running capture's resource
// usage is sampled.
const DefaultMonitorInterval = 30 * time.Second

// idleBackoff is the poll interval used when no capture session is in
// progress. Config.RetryDelaySeconds (configured per Broadcaster-list
// tunables) is used instead while collected is
// non-empty, so a paused session is retried faster.
const idleBackoff = 60 * time.Second

// endOfSessionCooldown is the fixed pause after firing
// on_streaming_finished, before polling resumes.
const endOfSessionCooldown = 60 * time.Second

// Config carries the tunables and collaborators a Worker needs on
// construction; everything here is read-only from the Worker's
// perspective after New returns.
type Config struct {
	Broadcaster       model.Broadcaster
	MaxRetries        int
	RetryDelaySeconds int
	Dispatcher        *action.Dispatcher
	Logger            *slog.Logger
	LockDir           string

	// FFmpegPath is the resolved Capture Engine binary this Worker's
	// Invoker spawns.
	FFmpegPath string
	// LogDir holds rotated Capture Engine stderr logs, one file per
	// broadcaster. Defaults to DefaultLogDir.
	LogDir string
	// MonitorInterval is how often the running capture's resource
	// usage is sampled. Defaults to DefaultMonitorInterval.
	MonitorInterval time.Duration
}

// Worker owns the full lifecycle of one broadcaster: the Plugin it
// polls and the Capture Invoker it drives, plus the mutable
// RuntimeState no other Worker ever observes or mutates.
type Worker struct {
	cfg    Config
	plugin platform.Plugin
	lock   *lock.FileLock
	state  model.RuntimeState
	logger *slog.Logger

	sleep func(ctx context.Context, d time.Duration) error

	// runCapture drives one live capture session to completion,
	// returning every segment finalized along the way. Overridden in
	// tests; production Workers leave it at captureSession.
	runCapture func(ctx context.Context) ([]model.StreamData, error)

	// runCtx is the context of the active Run call, read by
	// onPartedSegment so that a cancelled Worker cancels any
	// in-flight parted dispatch too. Set once at the top of Run;
	// defaults to context.Background() for direct (test) calls to
	// onPartedSegment made outside of Run.
	runCtx context.Context
}

// New constructs a Worker for cfg.Broadcaster. It fails only if no
// Platform Plugin is registered for the broadcaster's platform tag —
// this is fatal to this Worker alone; the Supervisor logs and skips
// it rather than failing the whole fleet.
func New(cfg Config) (*Worker, error) {
	plugin, err := platform.New(cfg.Broadcaster.Platform)
	if err != nil {
		return nil, fmt.Errorf("worker %s: %w", cfg.Broadcaster.ID, err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("broadcaster_id", cfg.Broadcaster.ID, "platform", cfg.Broadcaster.Platform)

	lockDir := cfg.LockDir
	if lockDir == "" {
		lockDir = DefaultLockDir
	}

	fileLock, err := lock.NewFileLock(filepath.Join(lockDir, cfg.Broadcaster.ID+".lock"))
	if err != nil {
		return nil, fmt.Errorf("worker %s: %w", cfg.Broadcaster.ID, err)
	}

	w := &Worker{
		cfg:    cfg,
		plugin: plugin,
		logger: logger,
		lock:   fileLock,
		sleep:  sleepContext,
		runCtx: context.Background(),
	}
	w.runCapture = w.captureSession

	return w, nil
}

// Name identifies this Worker by its broadcaster ID, satisfying
// supervisor.Service.
func (w *Worker) Name() string {
	return w.cfg.Broadcaster.ID
}

// onPartedSegment dispatches the broadcaster's enabled
// on_parted_download actions against a one-element snapshot
// containing seg. captureSession calls it one segment at a time from a
// per-session dispatch goroutine, never on the capture reader.
func (w *Worker) onPartedSegment(seg model.StreamData) {
	if w.cfg.Broadcaster.Download == nil {
		return
	}
	w.cfg.Dispatcher.Dispatch(w.runCtx, w.cfg.Broadcaster.Download.OnPartedDownload, []model.StreamData{seg})
}

// Run drives the liveness-poll/capture/dispatch/back-off loop until
// ctx is cancelled. It acquires this broadcaster's supervision lock
// first as a defensive guard against double-supervision; if the lock
// is already held, Run returns immediately (another Worker instance
// for this broadcaster is already running).
func (w *Worker) Run(ctx context.Context) error {
	if err := w.lock.AcquireContext(ctx, 0); err != nil {
		w.logger.Warn("broadcaster already supervised, exiting", "error", err)
		return nil
	}
	defer func() { _ = w.lock.Release() }()

	w.runCtx = ctx

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if w.state.RetryCount > w.cfg.MaxRetries {
			if len(w.state.Collected) == 0 {
				w.state.RetryCount = 0
				w.state.IsLive = false
				continue
			}

			snapshot := w.state.SnapshotCollected()
			if w.cfg.Broadcaster.Download != nil {
				w.cfg.Dispatcher.Dispatch(ctx, w.cfg.Broadcaster.Download.OnStreamingFinished, snapshot)
			}
			health.CaptureExitTotal.WithLabelValues(w.cfg.Broadcaster.ID, "finished").Inc()
			w.state.RetryCount = 0
			w.state.IsLive = false
			w.state.Collected = nil

			if err := w.sleep(ctx, endOfSessionCooldown); err != nil {
				return err
			}
			continue
		}

		live, err := w.plugin.ShouldDownload(ctx, &w.cfg.Broadcaster)
		if err != nil {
			w.logger.Error("liveness probe failed, treating as offline", "error", err)
			live = false
		}

		if live {
			w.state.IsLive = true
			health.CaptureStartTotal.WithLabelValues(w.cfg.Broadcaster.ID).Inc()
			segments, dlErr := w.runCapture(ctx)
			if dlErr != nil {
				w.logger.Error("capture failed", "error", dlErr)
				health.CaptureExitTotal.WithLabelValues(w.cfg.Broadcaster.ID, "error").Inc()
				segments = nil
			} else {
				health.CaptureExitTotal.WithLabelValues(w.cfg.Broadcaster.ID, "eof").Inc()
			}
			w.state.RetryCount = 0
			if len(segments) > 0 {
				w.state.Collected = append(w.state.Collected, segments...)
			} else {
				w.logger.Warn("capture yielded no segments")
			}
		} else {
			w.logger.Debug("broadcaster offline", "retry_count", w.state.RetryCount)
		}

		w.state.RetryCount++
		health.WorkerRetryCount.WithLabelValues(w.cfg.Broadcaster.ID).Set(float64(w.state.RetryCount))

		backoff := idleBackoff
		if len(w.state.Collected) > 0 {
			backoff = time.Duration(w.cfg.RetryDelaySeconds) * time.Second
		}
		if err := w.sleep(ctx, backoff); err != nil {
			return err
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
