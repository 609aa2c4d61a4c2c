// Package webhook fires tier-specific outbound HTTP calls when a membership
// announcement plays. Calls are fire-and-forget with a bounded timeout so a
// slow endpoint can never stall the playback pipeline.
package webhook

import (
	"context"
	"log"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// Endpoint is the per-tier configuration: a trigger only fires when the tier
// is enabled and has a URL.
type Endpoint struct {
	Enabled bool
	URL     string
}

// Triggers maps routing tags to configured endpoints.
type Triggers struct {
	endpoints map[string]Endpoint
	client    *http.Client
	limiter   *rate.Limiter
}

// Options tune the outbound behavior.
type Options struct {
	// Timeout bounds each outbound call.
	Timeout time.Duration
	// PerMinute caps outbound triggers across all tiers; excess triggers are
	// skipped, not queued.
	PerMinute int
}

func New(endpoints map[string]Endpoint, opts Options) *Triggers {
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	if opts.PerMinute <= 0 {
		opts.PerMinute = 30
	}
	eps := make(map[string]Endpoint, len(endpoints))
	for tag, ep := range endpoints {
		ep.URL = strings.TrimSpace(ep.URL)
		eps[tag] = ep
	}
	return &Triggers{
		endpoints: eps,
		client:    &http.Client{Timeout: opts.Timeout},
		limiter:   rate.NewLimiter(rate.Limit(float64(opts.PerMinute)/60.0), opts.PerMinute),
	}
}

// Enabled reports whether tag has an enabled endpoint with a URL.
func (t *Triggers) Enabled(tag string) bool {
	ep, ok := t.endpoints[tag]
	return ok && ep.Enabled && ep.URL != ""
}

// Trigger fires the webhook for tag. It returns false when the tag is
// unknown, disabled, unconfigured, rate-limited or the call failed; the
// caller treats all of those the same way (skip and move on).
func (t *Triggers) Trigger(ctx context.Context, tag string) bool {
	ep, ok := t.endpoints[tag]
	if !ok || !ep.Enabled {
		return false
	}
	if ep.URL == "" {
		log.Printf("webhook: no url configured for %s", tag)
		return false
	}
	if !t.limiter.Allow() {
		log.Printf("webhook: %s rate limited, skipping", tag)
		return false
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ep.URL, nil)
	if err != nil {
		log.Printf("webhook: %s: %v", tag, err)
		return false
	}
	resp, err := t.client.Do(req)
	if err != nil {
		log.Printf("webhook: %s: %v", tag, err)
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		log.Printf("webhook: %s returned %d", tag, resp.StatusCode)
		return false
	}
	log.Printf("webhook: triggered %s", tag)
	return true
}
