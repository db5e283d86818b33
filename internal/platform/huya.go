// SPDX-License-Identifier: MIT

package platform

import (
	"context"

	"github.com/qingrang/stream-rec/internal/model"
)

// DefaultHuyaAPIBase is the base URL a real implementation would query
// for room status. No endpoint is called yet (see ErrNotImplemented).
const DefaultHuyaAPIBase = "https://mp.huya.com"

// HuyaPlugin is a documented boundary stub: it never resolves a real
// HUYA room status or stream URL. It exists so the registry and the
// Worker's construction path have a concrete, honest implementation
// to exercise instead of a nil/TODO placeholder.
type HuyaPlugin struct {
	http *httpClient
}

// NewHuyaPlugin constructs a HuyaPlugin pointed at DefaultHuyaAPIBase.
func NewHuyaPlugin() *HuyaPlugin {
	return &HuyaPlugin{http: newHTTPClient(DefaultHuyaAPIBase)}
}

func (p *HuyaPlugin) ShouldDownload(ctx context.Context, b *model.Broadcaster) (bool, error) {
	return false, &ErrNotImplemented{Platform: model.PlatformHuya}
}

func (p *HuyaPlugin) ResolveStreamURL(ctx context.Context, b *model.Broadcaster) (string, error) {
	return "", &ErrNotImplemented{Platform: model.PlatformHuya}
}
