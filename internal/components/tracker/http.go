package tracker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/solatis/engage/internal/types"
)

// HTTPTransport posts batches as JSON to Endpoint.
type HTTPTransport struct {
	Client   *http.Client
	Endpoint string
}

// Send implements Transport.
func (t HTTPTransport) Send(ctx context.Context, batch Batch) error {
	client := t.Client
	if client == nil {
		client = http.DefaultClient
	}
	payload, err := json.Marshal(batch)
	if err != nil {
		return fmt.Errorf("encode batch: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("post %s: %w", t.Endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return &types.StatusError{URL: t.Endpoint, Status: resp.StatusCode, Body: string(body)}
	}
	io.Copy(io.Discard, resp.Body)
	return nil
}
