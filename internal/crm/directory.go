package crm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

// maxResponseBody caps how much of a directory response is read.
const maxResponseBody = 10 << 20

// ListRequest describes one directory read.
type ListRequest struct {
	Scope      Scope
	APIKey     string
	LocationID string
	CompanyID  string
}

// Attempt records a single HTTP exchange made while serving a read.
type Attempt struct {
	Generation Generation
	Endpoint   string
	StatusCode int
	Duration   time.Duration
	Err        error
}

// ListResult is the outcome of a directory read.
type ListResult struct {
	Scope        Scope
	Generation   Generation
	Shape        string
	Users        []User
	RecordErrors []RecordError
	Attempts     []Attempt
}

// ListUsers reads the user directory visible to req.APIKey.
// The current generation is tried first; on failure the legacy generation is
// tried when fallback is enabled. Attempts are recorded on the result even
// when an error is returned.
func (c *Client) ListUsers(ctx context.Context, req ListRequest) (*ListResult, error) {
	if req.APIKey == "" {
		return nil, ErrMissingAPIKey
	}

	result := &ListResult{Scope: req.Scope}

	err := c.readGeneration(ctx, result, GenerationCurrent, c.currentEndpoint(req), req)
	if err == nil {
		return result, nil
	}
	if !c.cfg.LegacyFallback || ctx.Err() != nil {
		return result, err
	}

	c.logger.Warn("current generation failed, trying legacy",
		slog.String("scope", string(req.Scope)),
		slog.String("error", err.Error()),
	)

	if legacyErr := c.readGeneration(ctx, result, GenerationLegacy, c.legacyEndpoint(), req); legacyErr != nil {
		return result, errors.Join(err, legacyErr)
	}

	return result, nil
}

// readGeneration fetches and decodes one generation's listing into result.
func (c *Client) readGeneration(ctx context.Context, result *ListResult, gen Generation, endpoint string, req ListRequest) error {
	body, err := c.fetch(ctx, result, gen, endpoint, req)
	if err != nil {
		return err
	}

	users, bad, shape, err := decodeUsers(body)
	if err != nil {
		return fmt.Errorf("crm %s %s directory: %w", req.Scope, gen, err)
	}

	result.Generation = gen
	result.Shape = string(shape)
	result.Users = users
	result.RecordErrors = bad
	return nil
}

// fetch performs a GET with bounded retries on transient failures.
func (c *Client) fetch(ctx context.Context, result *ListResult, gen Generation, endpoint string, req ListRequest) ([]byte, error) {
	var lastErr error

	for attempt := 0; attempt < c.cfg.MaxAttempts; attempt++ {
		start := time.Now()
		body, status, err := c.do(ctx, gen, endpoint, req)
		result.Attempts = append(result.Attempts, Attempt{
			Generation: gen,
			Endpoint:   redactQuery(endpoint),
			StatusCode: status,
			Duration:   time.Since(start),
			Err:        err,
		})
		if err == nil {
			return body, nil
		}
		lastErr = err

		if !isRetryable(ctx, err) || attempt == c.cfg.MaxAttempts-1 {
			break
		}
		if err := sleepCtx(ctx, c.backoff(attempt)); err != nil {
			return nil, err
		}
	}

	return nil, lastErr
}

func (c *Client) do(ctx context.Context, gen Generation, endpoint string, req ListRequest) ([]byte, int, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+req.APIKey)
	httpReq.Header.Set("Accept", "application/json")
	if gen == GenerationCurrent {
		httpReq.Header.Set("Version", c.cfg.APIVersion)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, 0, fmt.Errorf("crm %s %s request: %w", req.Scope, gen, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet := string(body)
		if len(snippet) > maxErrorBody {
			snippet = snippet[:maxErrorBody]
		}
		return nil, resp.StatusCode, &APIError{
			Scope:      req.Scope,
			Generation: gen,
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Body:       snippet,
		}
	}

	return body, resp.StatusCode, nil
}

// currentEndpoint builds the filtered current-generation listing URL.
func (c *Client) currentEndpoint(req ListRequest) string {
	q := url.Values{}
	path := "/users/"

	switch req.Scope {
	case ScopeAgency:
		path = "/users/search"
		if req.CompanyID != "" {
			q.Set("companyId", req.CompanyID)
		}
	default:
		if req.LocationID != "" {
			q.Set("locationId", req.LocationID)
		}
	}

	endpoint := c.cfg.BaseURL + path
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	return endpoint
}

// legacyEndpoint is the unfiltered legacy listing URL.
func (c *Client) legacyEndpoint() string {
	return c.cfg.LegacyBaseURL + "/v1/users/"
}

func isRetryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Retryable()
	}
	// Transport failures (timeouts, resets) are worth another try.
	return true
}

// redactQuery drops the query string from endpoints recorded in attempts.
func redactQuery(endpoint string) string {
	u, err := url.Parse(endpoint)
	if err != nil {
		return endpoint
	}
	u.RawQuery = ""
	return u.String()
}
