// SPDX-License-Identifier: MIT

// Package platform defines the Plugin contract a Streamer Worker uses
// to probe liveness and capture a broadcaster's stream, plus a static
// registry mapping a config Platform tag to a plugin factory.
package platform

import (
	"context"
	"fmt"

	"github.com/qingrang/stream-rec/internal/model"
)

// Plugin is the per-platform boundary a Streamer Worker calls into to
// test liveness and resolve a capturable stream URL. Implementations
// may perform network I/O and may fail; the Worker treats any error
// from ShouldDownload as live=false rather than a fatal condition. The
// Worker itself owns the Capture Invoker and all segment bookkeeping —
// a Plugin never touches ffmpeg or model.StreamData.
type Plugin interface {
	// ShouldDownload reports whether the broadcaster is currently
	// live and should be captured.
	ShouldDownload(ctx context.Context, b *model.Broadcaster) (bool, error)

	// ResolveStreamURL returns the playable media URL the Capture
	// Invoker should open for b. Called once per capture session,
	// immediately after a live ShouldDownload result.
	ResolveStreamURL(ctx context.Context, b *model.Broadcaster) (string, error)
}

// Factory constructs a fresh Plugin instance for one Worker. Plugins
// are not shared across Workers: each Worker owns its own liveness
// state (e.g. cookies, cached room IDs) behind the interface.
type Factory func() Plugin

var registry = map[model.Platform]Factory{
	model.PlatformHuya:   func() Plugin { return NewHuyaPlugin() },
	model.PlatformDouyin: func() Plugin { return NewDouyinPlugin() },
}

// ErrUnknownPlatform is returned by New when no factory is registered
// for the requested tag. Per the Worker construction contract, this
// is fatal to that Worker only; the Supervisor logs and skips it.
type ErrUnknownPlatform struct {
	Platform model.Platform
}

func (e *ErrUnknownPlatform) Error() string {
	return fmt.Sprintf("platform: no plugin registered for %q", e.Platform)
}

// New constructs the Plugin registered for platform, or
// ErrUnknownPlatform if none is registered.
func New(platform model.Platform) (Plugin, error) {
	factory, ok := registry[platform]
	if !ok {
		return nil, &ErrUnknownPlatform{Platform: platform}
	}
	return factory(), nil
}

// Register adds or replaces the factory for a platform tag. Exported
// for tests that need a fake plugin under a throwaway tag; production
// wiring relies solely on the built-in HUYA/DOUYIN registrations.
func Register(platform model.Platform, factory Factory) {
	registry[platform] = factory
}
