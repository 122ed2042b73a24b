package fanout

import (
	"context"
	"net/http"
	"net/url"
	"regexp"
	"time"
)

const healthProbeTimeout = 5 * time.Second

var webhookTailPattern = regexp.MustCompile(`^(.*)/api/email/(?:webhook|inbound)$`)

// deriveHealthURL substitutes the tail path segment "/api/email/{webhook|inbound}"
// with "/health", preserving any prefix such as "/helpdesk". It returns ok=false
// when the webhook URL doesn't end in a recognized tail, meaning no probe should
// be attempted.
func deriveHealthURL(webhookURL string) (healthURL string, ok bool) {
	u, err := url.Parse(webhookURL)
	if err != nil {
		return "", false
	}
	m := webhookTailPattern.FindStringSubmatch(u.Path)
	if m == nil {
		return "", false
	}
	u.Path = m[1] + "/health"
	return u.String(), true
}

// probeHealthy returns true when the health endpoint should not block this
// delivery attempt: either no probe applies (no recognized tail), or the
// probe returned 200 within healthProbeTimeout. A non-200 response or any
// transport error causes the attempt to be skipped without penalty, which
// the caller distinguishes from a genuine delivery failure.
func probeHealthy(ctx context.Context, client *http.Client, webhookURL string) (shouldProbe, healthy bool) {
	healthURL, ok := deriveHealthURL(webhookURL)
	if !ok {
		return false, true
	}

	ctx, cancel := context.WithTimeout(ctx, healthProbeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, healthURL, nil)
	if err != nil {
		return true, false
	}
	resp, err := client.Do(req)
	if err != nil {
		return true, false
	}
	defer func() { _ = resp.Body.Close() }()
	return true, resp.StatusCode == http.StatusOK
}
