package capability

import (
	"context"
	"fmt"
	"net/http"
)

// HTTPProber checks connectivity by issuing a HEAD request to URL.
// Any HTTP answer below 500 counts as connected. Transport errors are
// returned as errors, so an offline result is never cached.
type HTTPProber struct {
	Client *http.Client
	URL    string
}

// Probe implements Prober.
func (p HTTPProber) Probe(ctx context.Context, _ Requirement) (bool, error) {
	client := p.Client
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.URL, nil)
	if err != nil {
		return false, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return false, err
	}
	resp.Body.Close()
	if resp.StatusCode >= http.StatusInternalServerError {
		return false, fmt.Errorf("connectivity check: status %d", resp.StatusCode)
	}
	return true, nil
}
