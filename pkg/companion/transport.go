package companion

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/solacelabs/tandem/internal/api"
	"github.com/solacelabs/tandem/internal/types"
)

// APIError is a server-side rejection decoded from a Problem Details
// response body.
type APIError struct {
	Status int
	Detail string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Detail)
}

// transport sends authenticated requests to the tandem server on behalf
// of one couple member.
type transport struct {
	baseURL string
	apiKey  string
	member  types.Member
	client  *http.Client
}

func newTransport(cfg Config, timeout time.Duration) *transport {
	return &transport{
		baseURL: cfg.ServerURL,
		apiKey:  cfg.APIKey,
		member:  cfg.Member,
		client:  &http.Client{Timeout: timeout},
	}
}

// do sends a request and decodes the JSON response into out when out is
// non-nil. Non-2xx responses are returned as *APIError.
func (t *transport) do(ctx context.Context, method, path string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, t.baseURL+path, reqBody)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+t.apiKey)
	req.Header.Set(api.MemberHeader, string(t.member))
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var problem struct {
			Detail string `json:"detail"`
			Title  string `json:"title"`
		}
		detail := ""
		if err := json.NewDecoder(resp.Body).Decode(&problem); err == nil {
			detail = problem.Detail
			if detail == "" {
				detail = problem.Title
			}
		}
		return &APIError{Status: resp.StatusCode, Detail: detail}
	}

	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
