// SPDX-License-Identifier: MIT

package platform

import (
	"context"

	"github.com/qingrang/stream-rec/internal/model"
)

// DefaultDouyinAPIBase is the base URL a real implementation would
// query for room status. No endpoint is called yet (see
// ErrNotImplemented).
const DefaultDouyinAPIBase = "https://live.douyin.com"

// DouyinPlugin is a documented boundary stub, the DOUYIN counterpart
// to HuyaPlugin. See HuyaPlugin's comment for why it stays a stub.
type DouyinPlugin struct {
	http *httpClient
}

// NewDouyinPlugin constructs a DouyinPlugin pointed at
// DefaultDouyinAPIBase.
func NewDouyinPlugin() *DouyinPlugin {
	return &DouyinPlugin{http: newHTTPClient(DefaultDouyinAPIBase)}
}

func (p *DouyinPlugin) ShouldDownload(ctx context.Context, b *model.Broadcaster) (bool, error) {
	return false, &ErrNotImplemented{Platform: model.PlatformDouyin}
}

func (p *DouyinPlugin) ResolveStreamURL(ctx context.Context, b *model.Broadcaster) (string, error) {
	return "", &ErrNotImplemented{Platform: model.PlatformDouyin}
}
