// SPDX-License-Identifier: MIT

package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/qingrang/stream-rec/internal/model"
)

// DefaultProbeTimeout bounds a single liveness-probe HTTP round trip.
const DefaultProbeTimeout = 5 * time.Second

// httpClient is the shared shape both platform stubs use to reach
// their (unofficial, undocumented) room-status endpoints. It exists so
// ShouldDownload has somewhere concrete to perform the network I/O the
// interface contract promises, even though no real endpoint is wired
// up yet (see ErrNotImplemented).
type httpClient struct {
	base   string
	client *http.Client
}

func newHTTPClient(base string) *httpClient {
	return &httpClient{
		base:   base,
		client: &http.Client{Timeout: DefaultProbeTimeout},
	}
}

// getJSON performs a GET against base+path and decodes the JSON body
// into out. A non-200 status is returned as an error carrying the
// response body.
func (c *httpClient) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
	if err != nil {
		return fmt.Errorf("platform: build request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("platform: request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			return fmt.Errorf("platform: status %d (body unreadable: %v)", resp.StatusCode, readErr)
		}
		return fmt.Errorf("platform: status %d: %s", resp.StatusCode, string(body))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("platform: decode response: %w", err)
	}
	return nil
}

// ErrNotImplemented marks a platform stub's boundary: the room-status
// API and stream-URL resolution for this platform are not implemented
// here. The Worker's error-handling policy already treats any
// ShouldDownload error as live=false, so returning this error is
// indistinguishable from an offline broadcaster to the rest of the
// system.
type ErrNotImplemented struct {
	Platform model.Platform
}

func (e *ErrNotImplemented) Error() string {
	return fmt.Sprintf("platform: %s stream resolution is not implemented", e.Platform)
}
