package enrichment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"aerospin-backend/internal/retry"
)

// maxResponseBytes bounds how much of a provider response is read
const maxResponseBytes = 64 << 10

// statusError is returned for non-2xx provider responses
type statusError struct {
	code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.code)
}

func (e *statusError) retryable() bool {
	return e.code == http.StatusTooManyRequests || e.code >= 500
}

// jsonClient fetches and decodes small JSON documents with retries
type jsonClient struct {
	http  *http.Client
	retry retry.Policy
}

func newJSONClient(httpClient *http.Client, policy retry.Policy) jsonClient {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if policy == nil {
		policy = &retry.ExponentialBackoff{MaxAttempts: 2}
	}
	return jsonClient{http: httpClient, retry: policy}
}

func (c jsonClient) get(ctx context.Context, name, url string, out any) error {
	return c.retry.Start(ctx, name, func(ctx context.Context) (bool, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return false, fmt.Errorf("failed to build request: %w", err)
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			return ctx.Err() == nil, fmt.Errorf("request failed: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))
			serr := &statusError{code: resp.StatusCode}
			return serr.retryable(), serr
		}

		if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(out); err != nil {
			return false, fmt.Errorf("malformed response: %w", err)
		}
		return false, nil
	})
}

// errLookupFailed is returned when a provider answers but reports failure
var errLookupFailed = errors.New("lookup failed")
