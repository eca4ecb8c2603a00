package authority

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/avast/retry-go/v5"

	"tollgate/internal/events"
	"tollgate/internal/hitl"
)

// Client talks to the remote authority's HTTP API. The authority owns
// every approval and settings record; this client only observes and
// submits. Idempotent GETs are retried with backoff; decision and
// settings mutations are submitted exactly once per call, and a failed
// submission is the operator's retry loop, not this client's.
type Client struct {
	BaseURL       string
	Token         string
	Client        *http.Client
	RetryAttempts uint
}

func NewClient(baseURL, token string) *Client {
	return &Client{BaseURL: baseURL, Token: token}
}

// Status returns the authority's current status string for an approval.
// A 404 maps to hitl.ErrNotFound: the decision window was closed
// elsewhere.
func (c *Client) Status(ctx context.Context, approvalID string) (string, error) {
	if approvalID == "" {
		return "", errors.New("approval id required")
	}
	var resp struct {
		Status string `json:"status"`
	}
	code, err := c.getJSON(ctx, "/v1/approvals/"+approvalID, &resp)
	if err != nil {
		return "", err
	}
	switch {
	case code == http.StatusNotFound:
		return "", hitl.ErrNotFound
	case code < 200 || code >= 300:
		return "", fmt.Errorf("authority status %d", code)
	}
	if resp.Status == "" {
		return "", errors.New("authority response missing status")
	}
	return resp.Status, nil
}

// Decide submits a human decision. 404 and 409 are the two stale
// signals; anything else non-2xx is a transient failure surfaced to the
// caller with the request left pending.
func (c *Client) Decide(ctx context.Context, approvalID string, decision hitl.Decision, note string) error {
	if approvalID == "" {
		return errors.New("approval id required")
	}
	body := map[string]any{"decision": string(decision), "note": note}
	code, respBody, err := c.doRequest(ctx, http.MethodPost, "/v1/approvals/"+approvalID+"/decision", body)
	if err != nil {
		return err
	}
	switch {
	case code == http.StatusNotFound:
		return hitl.ErrNotFound
	case code == http.StatusConflict:
		return hitl.ErrAlreadyDecided
	case code < 200 || code >= 300:
		return fmt.Errorf("authority status %d: %s", code, strings.TrimSpace(string(respBody)))
	}
	return nil
}

// ListPending re-derives the set of approvals the authority still
// considers open. This is the pull-fallback source.
func (c *Client) ListPending(ctx context.Context) ([]hitl.InboundEvent, error) {
	var resp struct {
		Approvals []events.PullApproval `json:"approvals"`
	}
	code, err := c.getJSON(ctx, "/v1/approvals?status=pending", &resp)
	if err != nil {
		return nil, err
	}
	if code < 200 || code >= 300 {
		return nil, fmt.Errorf("authority status %d", code)
	}
	out := make([]hitl.InboundEvent, 0, len(resp.Approvals))
	for _, item := range resp.Approvals {
		out = append(out, events.NormalizePull(item))
	}
	return out, nil
}

func (c *Client) Settings(ctx context.Context, projectID string) (hitl.SettingsPayload, error) {
	if projectID == "" {
		return hitl.SettingsPayload{}, errors.New("project id required")
	}
	var payload hitl.SettingsPayload
	code, err := c.getJSON(ctx, "/v1/projects/"+projectID+"/settings", &payload)
	if err != nil {
		return hitl.SettingsPayload{}, err
	}
	if code < 200 || code >= 300 {
		return hitl.SettingsPayload{}, fmt.Errorf("authority status %d", code)
	}
	return payload, nil
}

func (c *Client) Toggle(ctx context.Context, projectID string, enabled bool) (hitl.SettingsPayload, error) {
	return c.settingsCommand(ctx, projectID, "toggle", map[string]any{"enabled": enabled})
}

func (c *Client) SetBudget(ctx context.Context, projectID string, total int, reset bool) (hitl.SettingsPayload, error) {
	return c.settingsCommand(ctx, projectID, "budget", map[string]any{"total": total, "reset": reset})
}

func (c *Client) Resume(ctx context.Context, projectID string, total *int) (hitl.SettingsPayload, error) {
	body := map[string]any{}
	if total != nil {
		body["total"] = *total
	}
	return c.settingsCommand(ctx, projectID, "resume", body)
}

func (c *Client) Halt(ctx context.Context, projectID string) (hitl.SettingsPayload, error) {
	return c.settingsCommand(ctx, projectID, "halt", map[string]any{})
}

func (c *Client) settingsCommand(ctx context.Context, projectID, op string, body map[string]any) (hitl.SettingsPayload, error) {
	if projectID == "" {
		return hitl.SettingsPayload{}, errors.New("project id required")
	}
	code, respBody, err := c.doRequest(ctx, http.MethodPost, "/v1/projects/"+projectID+"/settings/"+op, body)
	if err != nil {
		return hitl.SettingsPayload{}, err
	}
	if code < 200 || code >= 300 {
		return hitl.SettingsPayload{}, fmt.Errorf("authority status %d: %s", code, strings.TrimSpace(string(respBody)))
	}
	var payload hitl.SettingsPayload
	if err := json.Unmarshal(respBody, &payload); err != nil {
		return hitl.SettingsPayload{}, err
	}
	return payload, nil
}

// getJSON performs a GET with retries on network errors and 5xx
// responses. Non-5xx status codes are returned to the caller for
// classification, not retried.
func (c *Client) getJSON(ctx context.Context, path string, out any) (int, error) {
	attempts := c.RetryAttempts
	if attempts == 0 {
		attempts = 3
	}
	var code int
	var body []byte
	r := retry.New(
		retry.Context(ctx),
		retry.Attempts(attempts),
	)
	err := r.Do(func() error {
		var err error
		code, body, err = c.doRequest(ctx, http.MethodGet, path, nil)
		if err != nil {
			return err
		}
		if code >= 500 {
			return fmt.Errorf("authority status %d", code)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if code >= 200 && code < 300 && out != nil {
		if err := json.Unmarshal(body, out); err != nil {
			return code, err
		}
	}
	return code, nil
}

func (c *Client) doRequest(ctx context.Context, method, path string, body any) (int, []byte, error) {
	if c.BaseURL == "" {
		return 0, nil, errors.New("authority base url required")
	}
	if c.Client == nil {
		c.Client = &http.Client{Timeout: 10 * time.Second}
	}
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return 0, nil, err
		}
		reader = bytes.NewReader(payload)
	}
	request, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(c.BaseURL, "/")+path, reader)
	if err != nil {
		return 0, nil, err
	}
	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	if c.Token != "" {
		request.Header.Set("Authorization", "Bearer "+c.Token)
	}
	resp, err := c.Client.Do(request)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, respBody, nil
}
