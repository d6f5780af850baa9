package market

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/agentmarketbot/minimal-provider-agent-market/internal/model"
)

const apiKeyHeader = "x-api-key"

// HTTPError is a non-2xx response from the marketplace.
type HTTPError struct {
	Method     string
	Path       string
	StatusCode int
	Body       []byte
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("%s %s: status=%d body=%s", e.Method, e.Path, e.StatusCode, string(e.Body))
}

// Client talks to the marketplace REST API. It holds no per-call state and is
// safe for concurrent use.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	log     *slog.Logger
}

func NewClient(baseURL, apiKey string, timeout time.Duration, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: timeout},
		log:     logger.With("component", "market"),
	}
}

func (c *Client) GetInstance(ctx context.Context, instanceID string) (model.Instance, error) {
	var inst model.Instance
	if err := c.getJSON(ctx, "/v1/instances/"+url.PathEscape(instanceID), nil, &inst); err != nil {
		return model.Instance{}, fmt.Errorf("get instance %s: %w", instanceID, err)
	}
	return inst, nil
}

// ListInstances returns instances with the given status code.
func (c *Client) ListInstances(ctx context.Context, status int) ([]model.Instance, error) {
	q := url.Values{}
	q.Set("instance_status", strconv.Itoa(status))
	var out []model.Instance
	if err := c.getJSON(ctx, "/v1/instances/", q, &out); err != nil {
		return nil, fmt.Errorf("list instances: %w", err)
	}
	return out, nil
}

func (c *Client) ListProposals(ctx context.Context) ([]model.Proposal, error) {
	var out []model.Proposal
	if err := c.getJSON(ctx, "/v1/proposals/", nil, &out); err != nil {
		return nil, fmt.Errorf("list proposals: %w", err)
	}
	return out, nil
}

// AwardedProposals returns proposals with the awarded status created after since.
func (c *Client) AwardedProposals(ctx context.Context, awardedCode int, since time.Time) ([]model.Proposal, error) {
	all, err := c.ListProposals(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]model.Proposal, 0, len(all))
	for _, p := range all {
		if p.Status == awardedCode && p.CreationDate.After(since) {
			out = append(out, p)
		}
	}
	return out, nil
}

func (c *Client) CreateProposal(ctx context.Context, instanceID string, maxBid float64) error {
	body := map[string]any{"max_bid": maxBid}
	if err := c.postJSON(ctx, "/v1/proposals/create/for-instance/"+url.PathEscape(instanceID), body); err != nil {
		return fmt.Errorf("create proposal for %s: %w", instanceID, err)
	}
	return nil
}

func (c *Client) GetChat(ctx context.Context, instanceID string) ([]model.ChatMessage, error) {
	var out []model.ChatMessage
	if err := c.getJSON(ctx, "/v1/chat/"+url.PathEscape(instanceID), nil, &out); err != nil {
		return nil, fmt.Errorf("get chat %s: %w", instanceID, err)
	}
	return out, nil
}

func (c *Client) SendMessage(ctx context.Context, instanceID, message string) error {
	body := map[string]string{"message": message}
	if err := c.postJSON(ctx, "/v1/chat/send-message/"+url.PathEscape(instanceID), body); err != nil {
		return fmt.Errorf("send message %s: %w", instanceID, err)
	}
	c.log.Info("message sent", "instance_id", instanceID, "bytes", len(message))
	return nil
}

func (c *Client) getJSON(ctx context.Context, path string, q url.Values, out any) error {
	u := c.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	body, err := c.do(req, path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

func (c *Client) postJSON(ctx context.Context, path string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	_, err = c.do(req, path)
	return err
}

func (c *Client) do(req *http.Request, path string) ([]byte, error) {
	req.Header.Set(apiKeyHeader, c.apiKey)
	req.Header.Set("Accept", "application/json")
	res, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if res.StatusCode >= 300 {
		return nil, &HTTPError{Method: req.Method, Path: path, StatusCode: res.StatusCode, Body: body}
	}
	c.log.Debug("market call", "method", req.Method, "path", path, "status", res.StatusCode)
	return body, nil
}
