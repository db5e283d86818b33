// SPDX-License-Identifier: MIT

package supervisor

import (
	"log/slog"

	"github.com/qingrang/stream-rec/internal/action"
	"github.com/qingrang/stream-rec/internal/config"
	"github.com/qingrang/stream-rec/internal/worker"
)

// BuildWorkers constructs one worker.Worker per activated broadcaster
// in cfg and adds each to sup. A broadcaster whose platform has no
// registered Plugin fails construction for that broadcaster only; the
// error is logged and the broadcaster is skipped, matching the
// Supervisor's per-Worker failure isolation.
func BuildWorkers(sup *Supervisor, cfg *config.Config, dispatcher *action.Dispatcher, lockDir, logDir string, logger *slog.Logger) {
	for _, b := range cfg.ActivatedStreamers() {
		w, err := worker.New(worker.Config{
			Broadcaster:       b,
			MaxRetries:        cfg.MaxDownloadRetries,
			RetryDelaySeconds: cfg.DownloadRetryDelaySeconds,
			Dispatcher:        dispatcher,
			Logger:            logger,
			LockDir:           lockDir,
			FFmpegPath:        cfg.FFmpegPath,
			LogDir:            logDir,
		})
		if err != nil {
			if logger != nil {
				logger.Error("skipping broadcaster: worker construction failed", "broadcaster_id", b.ID, "error", err)
			}
			continue
		}

		if err := sup.Add(w); err != nil {
			if logger != nil {
				logger.Error("skipping broadcaster: supervisor rejected worker", "broadcaster_id", b.ID, "error", err)
			}
		}
	}
}
