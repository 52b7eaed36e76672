package verdict

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"courtroom/api/internal/court"
)

// HTTPClient calls an external verdict service over JSON.
type HTTPClient struct {
	BaseURL string
	HTTP    *http.Client
}

func NewHTTPClient(baseURL string) *HTTPClient {
	return &HTTPClient{BaseURL: strings.TrimRight(baseURL, "/"), HTTP: &http.Client{}}
}

func (c *HTTPClient) Generate(ctx context.Context, req Request) (Result, error) {
	var out Result
	if err := c.post(ctx, "/verdicts", req, &out); err != nil {
		return Result{}, err
	}
	if err := out.Validate(); err != nil {
		return Result{}, err
	}
	return out, nil
}

func (c *HTTPClient) Hybrid(ctx context.Context, req HybridRequest) (court.ResolutionOption, error) {
	var out struct {
		Option court.ResolutionOption `json:"option"`
	}
	if err := c.post(ctx, "/hybrids", req, &out); err != nil {
		return court.ResolutionOption{}, err
	}
	if err := validateOption(out.Option); err != nil {
		return court.ResolutionOption{}, err
	}
	return out.Option, nil
}

func (c *HTTPClient) post(ctx context.Context, path string, body, out any) error {
	b, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal verdict request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(b))
	if err != nil {
		return fmt.Errorf("build verdict request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(httpReq)
	if err != nil {
		return fmt.Errorf("verdict service: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("verdict service returned %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return nil
}
