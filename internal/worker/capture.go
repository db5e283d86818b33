// SPDX-License-Identifier: MIT

package worker

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/qingrang/stream-rec/internal/capture"
	"github.com/qingrang/stream-rec/internal/model"
)

// captureSession is the default runCapture: it resolves a stream URL,
// drives a capture.Invoker against it, and turns the segments the
// invoker reports into finalized model.StreamData, dispatching each
// through onPartedSegment as it closes. It returns once the Capture
// Engine exits or ctx is cancelled.
func (w *Worker) captureSession(ctx context.Context) ([]model.StreamData, error) {
	dc := w.cfg.Broadcaster.Download
	if dc == nil {
		return nil, fmt.Errorf("worker %s: no download_config, cannot capture", w.cfg.Broadcaster.ID)
	}

	url, err := w.plugin.ResolveStreamURL(ctx, &w.cfg.Broadcaster)
	if err != nil {
		return nil, fmt.Errorf("resolve stream url: %w", err)
	}

	outputPath := resolveOutputPath(dc, w.cfg.Broadcaster.ID, w.cfg.Broadcaster.Platform, time.Now())
	if err := os.MkdirAll(filepath.Dir(outputPath), 0750); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}

	logDir := w.cfg.LogDir
	if logDir == "" {
		logDir = DefaultLogDir
	}
	logWriter, err := capture.LogWriter(logDir, w.cfg.Broadcaster.ID, capture.WithCompression(true))
	if err != nil {
		w.logger.Warn("capture log writer unavailable, continuing without stderr log", "error", err)
		logWriter = nil
	}
	if logWriter != nil {
		defer func() { _ = logWriter.Close() }()
	}

	monitorInterval := w.cfg.MonitorInterval
	if monitorInterval <= 0 {
		monitorInterval = DefaultMonitorInterval
	}

	// Parted dispatch runs one segment at a time on its own goroutine so
	// the invoker's stderr reader only queues; it waits only when 64
	// finished segments are already queued.
	parted := make(chan model.StreamData, 64)
	dispatchDone := make(chan struct{})
	go func() {
		defer close(dispatchDone)
		for seg := range parted {
			w.onPartedSegment(seg)
		}
	}()
	tracker := newSegmentTracker(w.cfg.Broadcaster.ID, func(sd model.StreamData) { parted <- sd })
	if !dc.SegmentEnabled {
		// ffmpeg never emits a "[segment @...] Opening" line outside
		// segment-muxer mode, so the whole session is tracked as one
		// segment ending when the Invoker returns.
		tracker.openPath = outputPath
		tracker.openStart = time.Now()
	}

	inv := &capture.Invoker{
		FFmpegPath:      w.cfg.FFmpegPath,
		Logger:          w.logger,
		LogWriter:       logWriter,
		Monitor:         capture.NewResourceMonitor(),
		MonitorInterval: monitorInterval,
		AlertCallback:   w.onResourceAlerts,
	}

	runErr := inv.Run(ctx, dc, url, outputPath, tracker)
	tracker.finish(time.Now())
	close(parted)
	<-dispatchDone

	return tracker.finished, runErr
}

// onResourceAlerts logs resource alerts raised by a running capture.
// Purely observational; it never changes Worker state.
func (w *Worker) onResourceAlerts(alerts []capture.ResourceAlert) {
	for _, a := range alerts {
		w.logger.Warn("capture resource alert", "level", a.Level.String(), "resource", a.Resource, "message", a.Message)
	}
}

// segmentTracker implements capture.EventHandler, converting each
// SegmentStartEvent into a finalized model.StreamData for the segment
// that was open before it, and handing that StreamData to onFinish.
// The final (or, for a non-segmented capture, the only) segment is
// finalized by an explicit finish call once the Invoker returns.
type segmentTracker struct {
	broadcasterID string
	onFinish      func(model.StreamData)

	openPath  string
	openStart time.Time
	finished  []model.StreamData
}

func newSegmentTracker(broadcasterID string, onFinish func(model.StreamData)) *segmentTracker {
	return &segmentTracker{broadcasterID: broadcasterID, onFinish: onFinish}
}

func (t *segmentTracker) OnSegmentStart(ev capture.SegmentStartEvent) {
	now := time.Now()
	t.finish(now)
	t.openPath = ev.Filename
	t.openStart = now
}

func (t *segmentTracker) OnProgress(capture.ProgressEvent) {}

// finish finalizes the currently open segment as ending at end and
// dispatches it through onFinish. A no-op if nothing is open.
func (t *segmentTracker) finish(end time.Time) {
	if t.openPath == "" {
		return
	}

	sd := model.StreamData{
		Path:          t.openPath,
		StartTime:     t.openStart,
		EndTime:       end,
		BroadcasterID: t.broadcasterID,
	}
	if info, err := os.Stat(t.openPath); err == nil {
		sd.SizeBytes = info.Size()
	}

	t.finished = append(t.finished, sd)
	t.openPath = ""
	if t.onFinish != nil {
		t.onFinish(sd)
	}
}

// resolveOutputPath expands dc.OutputPathTemplate into the single
// concrete path handed to the Capture Invoker. Recognized placeholders:
//
//	{broadcaster_id}  the broadcaster's configured ID
//	{platform}        the broadcaster's platform tag, lowercased
//	{date}            session start date, YYYYMMDD
//	{time}            session start time, HHMMSS
//	{ext}             dc.Container, defaulting to "mp4"
//
// An empty template falls back to "{broadcaster_id}/{date}-{time}.{ext}".
// Per-segment filenames beyond this base path are ffmpeg's own concern
// (-strftime 1 on the segment muxer), not this function's.
func resolveOutputPath(dc *model.DownloadConfig, broadcasterID string, platform model.Platform, start time.Time) string {
	tmpl := dc.OutputPathTemplate
	if tmpl == "" {
		tmpl = filepath.Join("{broadcaster_id}", "{date}-{time}.{ext}")
	}

	ext := dc.Container
	if ext == "" {
		ext = "mp4"
	}

	replacer := strings.NewReplacer(
		"{broadcaster_id}", broadcasterID,
		"{platform}", strings.ToLower(string(platform)),
		"{date}", start.Format("20060102"),
		"{time}", start.Format("150405"),
		"{ext}", ext,
	)
	return replacer.Replace(tmpl)
}
