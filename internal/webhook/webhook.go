// Package webhook posts activity-transition notifications to a
// home-automation webhook URL, grounded on the reference
// WebhookClient's best-effort POST with a 2s timeout (spec §4.6/§5).
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/pkg/errors"
)

// Poster issues best-effort HTTP POSTs for activity events.
type Poster struct {
	url      string
	room     string
	client   *http.Client
}

// New builds a Poster. An empty url makes Post a no-op, matching the
// reference client's "no URL configured" behavior.
func New(url, room string) *Poster {
	return &Poster{
		url:    url,
		room:   room,
		client: &http.Client{Timeout: 2 * time.Second},
	}
}

// Post sends {room, activity, ts} as JSON to the configured webhook
// URL. A no-op when no URL is configured.
func (p *Poster) Post(ctx context.Context, activity string) error {
	if p.url == "" {
		return nil
	}
	payload, err := json.Marshal(map[string]string{
		"room":     p.room,
		"activity": activity,
		"ts":       time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(payload))
	if err != nil {
		return errors.Wrap(err, "webhook: build request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return errors.Wrap(err, "webhook: post")
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return errors.Errorf("webhook: post returned status %d", resp.StatusCode)
	}
	return nil
}
