package registration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/solatis/engage/internal/types"
)

// Sender delivers one intent to the registration service.
// A nil error means the service acknowledged it.
type Sender interface {
	Send(ctx context.Context, intent Intent) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, intent Intent) error

// Send calls f.
func (f SenderFunc) Send(ctx context.Context, intent Intent) error { return f(ctx, intent) }

// HTTPSender posts intents as JSON to Endpoint.
type HTTPSender struct {
	Client   *http.Client
	Endpoint string
}

type requestBody struct {
	TenantID  int    `json:"tenant_id"`
	DeviceID  string `json:"device_id"`
	AppNS     string `json:"app_ns"`
	OSVersion string `json:"os_version"`
	OptIn     bool   `json:"opt_in"`
	Token     string `json:"token"`

	VisitorID     string `json:"visitor_id,omitempty"`
	CustomerID    string `json:"customer_id,omitempty"`
	IsConversion  *bool  `json:"is_conversion,omitempty"`
	OrigVisitorID string `json:"orig_visitor_id,omitempty"`
}

func bodyFor(intent Intent) requestBody {
	body := requestBody{
		TenantID:  intent.TenantID,
		DeviceID:  intent.DeviceID,
		AppNS:     intent.AppNS,
		OSVersion: intent.OSVersion,
		OptIn:     intent.OptIn,
		Token:     intent.Token,
	}
	if intent.IsCustomer() {
		conversion := intent.IsConversion
		body.CustomerID = intent.CustomerID
		body.IsConversion = &conversion
		if conversion {
			body.OrigVisitorID = intent.InitialVisitorID
		}
		return body
	}
	body.VisitorID = intent.VisitorID
	return body
}

// Send implements Sender.
func (s HTTPSender) Send(ctx context.Context, intent Intent) error {
	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}
	payload, err := json.Marshal(bodyFor(intent))
	if err != nil {
		return fmt.Errorf("encode registration: %w", err)
	}

	url := intent.URL(s.Endpoint)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("post %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return &types.StatusError{URL: url, Status: resp.StatusCode, Body: string(body)}
	}
	io.Copy(io.Discard, resp.Body)
	return nil
}
