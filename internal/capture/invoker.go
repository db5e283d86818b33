// SPDX-License-Identifier: MIT

package capture

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"time"

	"github.com/qingrang/stream-rec/internal/model"
)

// StopTimeout bounds how long a graceful SIGINT is given to finish
// flushing the output file before the Invoker force-kills the child.
const StopTimeout = 5 * time.Second

// EventHandler receives Capture Invoker events as they are parsed from
// the Capture Engine's stderr. Implementations must not block: the
// Invoker calls them synchronously from its stderr-reading loop.
type EventHandler interface {
	OnSegmentStart(SegmentStartEvent)
	OnProgress(ProgressEvent)
}

// Invoker launches the Capture Engine, parses its progress output, and
// reports exit status. One Invoker instance captures exactly one
// download() call; it is not reused across sessions.
type Invoker struct {
	FFmpegPath string
	Logger     *slog.Logger

	// LogWriter, if set, receives a copy of every stderr line (e.g. a
	// RotatingWriter) so the raw Capture Engine output is preserved
	// alongside the live progress parse.
	LogWriter io.Writer

	// Monitor, if set, samples the child process's resource usage for
	// the duration of the capture.
	Monitor         *ResourceMonitor
	MonitorInterval time.Duration
	AlertCallback   func([]ResourceAlert)
}

// Run builds the Capture Engine argv from cfg, spawns it, and blocks
// until it exits or ctx is cancelled. Segment-start and progress
// events are reported to handler as they are parsed. On cancellation
// the child is sent SIGINT, then force-killed if it has not exited
// within StopTimeout.
func (inv *Invoker) Run(ctx context.Context, cfg *model.DownloadConfig, url, outputPath string, handler EventHandler) error {
	args := BuildArgs(cfg, url, outputPath, inv.Logger)

	// #nosec G204 -- FFmpegPath comes from validated configuration, not user input
	cmd := exec.Command(inv.FFmpegPath, args...)

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("capture: stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("capture: start ffmpeg: %w", err)
	}

	var monitorCancel context.CancelFunc
	if inv.Monitor != nil && inv.MonitorInterval > 0 && cmd.Process != nil {
		var monitorCtx context.Context
		monitorCtx, monitorCancel = context.WithCancel(ctx)
		go inv.Monitor.MonitorProcess(monitorCtx, cmd.Process.Pid, inv.MonitorInterval, inv.AlertCallback)
	}

	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		inv.readStderr(stderr, handler)
	}()

	waitDone := make(chan error, 1)
	go func() {
		waitDone <- cmd.Wait()
	}()

	select {
	case <-ctx.Done():
		inv.stop(cmd)
		<-waitDone
		<-readerDone
		if monitorCancel != nil {
			monitorCancel()
		}
		return ctx.Err()

	case err := <-waitDone:
		<-readerDone
		if monitorCancel != nil {
			monitorCancel()
		}
		if err != nil {
			return fmt.Errorf("capture: ffmpeg exited with error: %w", err)
		}
		return nil
	}
}

func (inv *Invoker) readStderr(r io.Reader, handler EventHandler) {
	if inv.LogWriter != nil {
		r = io.TeeReader(r, inv.LogWriter)
	}

	parser := &lineParser{}
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		segStart, progress := parser.parseLine(line)
		switch {
		case segStart != nil && handler != nil:
			handler.OnSegmentStart(*segStart)
		case progress != nil && handler != nil:
			handler.OnProgress(*progress)
		}
		if inv.Logger != nil {
			inv.Logger.Debug("capture engine output", "line", line)
		}
	}
}

// stop sends SIGINT to the running child and force-kills it after
// StopTimeout if it has not exited.
func (inv *Invoker) stop(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	proc := cmd.Process
	_ = proc.Signal(os.Interrupt)

	killCtx, cancel := context.WithTimeout(context.Background(), StopTimeout)
	go func() {
		defer cancel()
		<-killCtx.Done()
		if killCtx.Err() == context.DeadlineExceeded {
			_ = proc.Kill()
		}
	}()
}
