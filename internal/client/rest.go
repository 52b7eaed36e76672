package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"courtroom/api/internal/court"
)

// RESTTransport is the request/response fallback for the push channel.
type RESTTransport struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

type RESTOption func(*RESTTransport)

func WithHTTPClient(h *http.Client) RESTOption {
	return func(t *RESTTransport) { t.httpClient = h }
}

func NewRESTTransport(baseURL, token string, opts ...RESTOption) *RESTTransport {
	t := &RESTTransport{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *RESTTransport) Send(ctx context.Context, requestID string, action court.Action) (court.View, error) {
	body, err := json.Marshal(action)
	if err != nil {
		return court.View{}, fmt.Errorf("encode action: %w", err)
	}
	path := "/api/court/actions/" + url.PathEscape(string(action.Kind))
	var resp struct {
		State court.View `json:"state"`
	}
	if err := t.do(ctx, http.MethodPost, path, requestID, body, &resp); err != nil {
		return court.View{}, err
	}
	return resp.State, nil
}

func (t *RESTTransport) Fetch(ctx context.Context) (court.View, error) {
	var resp struct {
		State court.View `json:"state"`
	}
	if err := t.do(ctx, http.MethodGet, "/api/court/state", "", nil, &resp); err != nil {
		return court.View{}, err
	}
	return resp.State, nil
}

// VerdictHistory lists every verdict version of a session the caller takes part in.
func (t *RESTTransport) VerdictHistory(ctx context.Context, sessionID string) ([]court.VerdictVersion, error) {
	var resp struct {
		Verdicts []court.VerdictVersion `json:"verdicts"`
	}
	path := "/api/court/sessions/" + url.PathEscape(sessionID) + "/verdicts"
	if err := t.do(ctx, http.MethodGet, path, "", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Verdicts, nil
}

func (t *RESTTransport) do(ctx context.Context, method, path, requestID string, body []byte, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, t.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if len(body) > 0 {
		req.Header.Set("Content-Type", "application/json")
	}
	if requestID != "" {
		req.Header.Set("X-Request-ID", requestID)
	}
	if t.token != "" {
		req.Header.Set("Authorization", "Bearer "+t.token)
	}

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	respBody, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		return nil
	}
	if shouldRetryStatus(resp.StatusCode) {
		return fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}
	return parseError(resp.StatusCode, requestID, respBody)
}

func shouldRetryStatus(status int) bool {
	return status == http.StatusTooManyRequests || status == http.StatusBadGateway ||
		status == http.StatusServiceUnavailable || status == http.StatusGatewayTimeout
}

func parseError(status int, requestID string, body []byte) error {
	var payload struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	courtErr := &Error{StatusCode: status, RequestID: requestID}
	if err := json.Unmarshal(body, &payload); err == nil {
		courtErr.Code = payload.Error.Code
		courtErr.Message = payload.Error.Message
	}
	if courtErr.Code == "" {
		courtErr.Code = http.StatusText(status)
	}
	if status >= http.StatusInternalServerError {
		// Server faults are not a verdict on the action itself.
		return fmt.Errorf("%w: %v", ErrUnavailable, courtErr)
	}
	return courtErr
}
