// SPDX-License-Identifier: MIT

// Package capture launches the Capture Engine (an ffmpeg-compatible
// binary) as a child process, parses its progress output, and
// delivers segment-start/progress events and exit status back to the
// owning Streamer Worker.
package capture

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/qingrang/stream-rec/internal/model"
)

// RWTimeoutMicros is the hard-coded Capture Engine network read/write
// timeout (20 seconds, expressed in microseconds for -rw_timeout).
const RWTimeoutMicros = 20_000_000

const userAgentHeader = "User-Agent"

// BuildArgs constructs the Capture Engine argv for downloading url into
// outputPath per cfg. The argument order is bit-exact: header flags,
// cookies, the rw_timeout/loglevel flags, -i url, then the output
// arguments, -c copy, an optional trailing -f muxer flag, and finally
// outputPath.
//
// logger, if non-nil, receives a debug diagnostic whenever
// segment_part_bytes is configured alongside an active segment_time
// (the override is silently ignored by the engine otherwise).
func BuildArgs(cfg *model.DownloadConfig, url, outputPath string, logger *slog.Logger) []string {
	var args []string

	args = append(args, headerArgs(cfg.Headers)...)

	if cfg.Cookies != "" {
		args = append(args, "-cookies", cfg.Cookies)
	}

	args = append(args, "-rw_timeout", fmt.Sprintf("%d", RWTimeoutMicros))

	if cfg.DebugLogging {
		args = append(args, "-loglevel", "debug")
	}

	args = append(args, "-i", url)

	args = append(args, outputArgs(cfg, logger)...)

	args = append(args, "-c", "copy")

	if !cfg.SegmentEnabled {
		args = append(args, "-f", outputMuxer(cfg.Container))
	}

	args = append(args, outputPath)

	return args
}

// headerArgs emits the "User-Agent" header first (as -user_agent, if
// present), then one -headers flag per remaining header in sorted key
// order, followed by a trailing -headers "\r\n" terminator when any
// header was present.
func headerArgs(headers map[string]string) []string {
	if len(headers) == 0 {
		return nil
	}

	var args []string
	if ua, ok := headers[userAgentHeader]; ok {
		args = append(args, "-user_agent", fmt.Sprintf("%s: %s", userAgentHeader, ua))
	}

	keys := make([]string, 0, len(headers))
	for k := range headers {
		if k == userAgentHeader {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		args = append(args, "-headers", fmt.Sprintf("%s: %s", k, headers[k]))
	}

	args = append(args, "-headers", "\r\n")
	return args
}

func outputArgs(cfg *model.DownloadConfig, logger *slog.Logger) []string {
	var args []string

	if strings.EqualFold(cfg.Container, "avi") {
		args = append(args, "-bsf:v", "h264_mp4toannexb")
	}

	if cfg.SegmentEnabled {
		segSeconds, bytesIgnored := cfg.EffectiveSegmentTime()
		if bytesIgnored && logger != nil {
			logger.Debug("segment_part_bytes ignored: segment_time_seconds takes precedence",
				"segment_time_seconds", segSeconds,
				"segment_part_bytes", cfg.SegmentPartBytes,
			)
		}

		args = append(args, "-f", "segment", "-segment_time", fmt.Sprintf("%d", segSeconds))
		if isMP4Family(cfg.Container) {
			args = append(args, "-segment_format_options", "movflags=+faststart")
		}
		args = append(args, "-reset_timestamps", "1", "-strftime", "1")
		return args
	}

	if cfg.SegmentTimeSeconds > 0 {
		args = append(args, "-to", fmt.Sprintf("%d", cfg.SegmentTimeSeconds))
	} else if cfg.SegmentPartBytes > 0 {
		args = append(args, "-fs", fmt.Sprintf("%d", cfg.SegmentPartBytes))
	}

	return args
}

func isMP4Family(container string) bool {
	c := strings.ToLower(container)
	return c == "mp4" || c == "mov"
}

// outputMuxer maps a configured container to the ffmpeg muxer name
// passed to the trailing -f flag when segmentation is disabled.
func outputMuxer(container string) string {
	if container == "" {
		return "mp4"
	}
	return strings.ToLower(container)
}
