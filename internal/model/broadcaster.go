// SPDX-License-Identifier: MIT

// Package model contains the configuration-facing and runtime data
// types shared by the capture scheduler: broadcasters, download
// policy, completion actions, and capture artifacts.
package model

import "time"

// Platform is a closed-but-extensible tag identifying a streaming
// platform. New platforms are added by registering a Plugin factory
// under a new tag (see internal/platform).
type Platform string

const (
	PlatformHuya   Platform = "HUYA"
	PlatformDouyin Platform = "DOUYIN"
)

// Broadcaster is a configured entity read by the Supervisor. It is
// read-only from the core's perspective; the owning Streamer Worker
// never mutates it.
type Broadcaster struct {
	ID        string   `yaml:"id" koanf:"id"`
	Name      string   `yaml:"name" koanf:"name"`
	Platform  Platform `yaml:"platform" koanf:"platform"`
	URL       string   `yaml:"url" koanf:"url"`
	Activated bool     `yaml:"activated" koanf:"activated"`

	Download *DownloadConfig `yaml:"download_config,omitempty" koanf:"download_config"`
}

// DownloadConfig controls how a broadcaster's stream is captured.
type DownloadConfig struct {
	Headers map[string]string `yaml:"headers,omitempty" koanf:"headers"`
	Cookies string            `yaml:"cookies,omitempty" koanf:"cookies"`

	// Container is the desired output container, e.g. "mp4", "mov", "avi", "flv".
	Container string `yaml:"container" koanf:"container"`

	// Segmentation policy: mutually preferred fields. When segmentation is
	// enabled, SegmentTimeSeconds wins over SegmentPartBytes (see
	// EffectiveSegmentTime).
	SegmentEnabled     bool  `yaml:"segment_enabled" koanf:"segment_enabled"`
	SegmentPartBytes   int64 `yaml:"segment_part_bytes,omitempty" koanf:"segment_part_bytes"`
	SegmentTimeSeconds int64 `yaml:"segment_time_seconds,omitempty" koanf:"segment_time_seconds"`

	// OutputPathTemplate is a path template (consumed by the caller building
	// the final output path; the core's concern is only the already-resolved
	// path handed to the Capture Invoker).
	OutputPathTemplate string `yaml:"output_path_template" koanf:"output_path_template"`

	DebugLogging bool `yaml:"debug_logging" koanf:"debug_logging"`

	OnPartedDownload    []Action `yaml:"on_parted_download,omitempty" koanf:"on_parted_download"`
	OnStreamingFinished []Action `yaml:"on_streaming_finished,omitempty" koanf:"on_streaming_finished"`
}

// DefaultSegmentTimeSeconds is used when segmentation is enabled but no
// explicit segment_time_seconds was configured (2 hours).
const DefaultSegmentTimeSeconds = 7200

// EffectiveSegmentTime returns the segment duration to pass to the Capture
// Engine, and whether the configured SegmentPartBytes was overridden
// (segmentation enabled with time taking precedence over bytes).
func (d *DownloadConfig) EffectiveSegmentTime() (seconds int64, byteOverrideIgnored bool) {
	if !d.SegmentEnabled {
		return 0, false
	}
	if d.SegmentTimeSeconds > 0 {
		return d.SegmentTimeSeconds, d.SegmentPartBytes > 0
	}
	return DefaultSegmentTimeSeconds, d.SegmentPartBytes > 0
}

// RuntimeState is the mutable state owned exclusively by one Streamer
// Worker. It is never shared across workers and never read by the
// Supervisor.
type RuntimeState struct {
	IsLive     bool
	RetryCount int
	Collected  []StreamData
}

// SnapshotCollected returns a copy of the collected stream files,
// decoupled from further mutation of RuntimeState.Collected.
func (s *RuntimeState) SnapshotCollected() []StreamData {
	if len(s.Collected) == 0 {
		return nil
	}
	out := make([]StreamData, len(s.Collected))
	copy(out, s.Collected)
	return out
}

// StreamData describes one finished capture artifact. It is created by
// the Capture Invoker when a segment is finalized and is never mutated
// after creation; ownership transfers from the invoker to the owning
// Worker and then to the Action Dispatcher (and, for UploadAction, on
// to the Upload Service).
type StreamData struct {
	Path          string
	SizeBytes     int64
	StartTime     time.Time
	EndTime       time.Time
	BroadcasterID string
}
