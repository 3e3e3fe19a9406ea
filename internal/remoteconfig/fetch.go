package remoteconfig

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/solatis/engage/internal/types"
)

// maxDocumentSize bounds a configuration document read into memory.
const maxDocumentSize = 4 << 20

// Fetcher retrieves one raw configuration document.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// HTTPFetcher fetches documents with GET.
type HTTPFetcher struct {
	Client *http.Client
}

// Fetch implements Fetcher. Any failure wraps types.ErrDocumentMissing.
func (f HTTPFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrDocumentMissing, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrDocumentMissing, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentSize))
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", types.ErrDocumentMissing, url, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %w", types.ErrDocumentMissing,
			&types.StatusError{URL: url, Status: resp.StatusCode, Body: string(body)})
	}
	return body, nil
}

// ExpandURL substitutes the {token} and {config} placeholders in tmpl.
func ExpandURL(tmpl, token, configName string) string {
	return strings.NewReplacer("{token}", token, "{config}", configName).Replace(tmpl)
}
