package eventchannel

import (
	"context"
	"net/http"
	"time"
)

// DefaultProbeTimeout bounds the liveness check so a dead backend is detected
// quickly instead of stalling the connect path.
const DefaultProbeTimeout = 2 * time.Second

// Prober checks reachability of the push backend with a lightweight GET
// against a liveness path. Any 2xx response counts as reachable.
type Prober struct {
	url    string
	client *http.Client
}

// NewProber creates a prober for the given liveness URL. An empty URL
// disables probing; Reachable then always reports true.
func NewProber(url string, timeout time.Duration) *Prober {
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	return &Prober{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

// Reachable reports whether the backend answered the liveness probe.
func (p *Prober) Reachable(ctx context.Context) bool {
	if p.url == "" {
		return true
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return false
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}
