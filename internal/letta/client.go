package letta

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// Client talks to a Letta server over its REST API.
type Client struct {
	http *resty.Client
}

// NewClient builds a client for the given base URL. The API key may be
// empty for unauthenticated local servers.
func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	c := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json")
	if apiKey != "" {
		c.SetAuthToken(apiKey)
	}
	return &Client{http: c}
}

var _ Service = (*Client)(nil)

type blockBody struct {
	ID    string `json:"id,omitempty"`
	Label string `json:"label"`
	Value string `json:"value"`
}

func (c *Client) CreateMemoryBlock(ctx context.Context, label, content string) (string, error) {
	var out blockBody
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(blockBody{Label: label, Value: content}).
		SetResult(&out).
		Post("/v1/blocks/")
	if err != nil {
		return "", fmt.Errorf("letta: create block: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("letta: create block: status %d: %s", resp.StatusCode(), resp.String())
	}
	if out.ID == "" {
		return "", fmt.Errorf("letta: create block: empty id in response")
	}
	return out.ID, nil
}

func (c *Client) CreateAgent(ctx context.Context, req CreateAgentRequest) (string, error) {
	body := map[string]interface{}{
		"name": req.Name,
		"memory_blocks": []blockBody{
			{Label: "persona", Value: req.Persona},
		},
	}
	if len(req.BlockIDs) > 0 {
		body["block_ids"] = req.BlockIDs
	}
	var out struct {
		ID string `json:"id"`
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(&out).
		Post("/v1/agents/")
	if err != nil {
		return "", fmt.Errorf("letta: create agent: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("letta: create agent: status %d: %s", resp.StatusCode(), resp.String())
	}
	if out.ID == "" {
		return "", fmt.Errorf("letta: create agent: empty id in response")
	}
	return out.ID, nil
}

func (c *Client) AttachBlock(ctx context.Context, agentID, blockID string) error {
	resp, err := c.http.R().
		SetContext(ctx).
		Patch(fmt.Sprintf("/v1/agents/%s/core-memory/blocks/attach/%s", agentID, blockID))
	if err != nil {
		return fmt.Errorf("letta: attach block %s: %w", blockID, err)
	}
	// 409 means already attached, which is the state we wanted.
	if resp.IsError() && resp.StatusCode() != http.StatusConflict {
		return fmt.Errorf("letta: attach block %s: status %d: %s", blockID, resp.StatusCode(), resp.String())
	}
	return nil
}

func (c *Client) DetachBlock(ctx context.Context, agentID, blockID string) error {
	resp, err := c.http.R().
		SetContext(ctx).
		Patch(fmt.Sprintf("/v1/agents/%s/core-memory/blocks/detach/%s", agentID, blockID))
	if err != nil {
		return fmt.Errorf("letta: detach block %s: %w", blockID, err)
	}
	// 404 means the block was not attached; detach is still satisfied.
	if resp.IsError() && resp.StatusCode() != http.StatusNotFound {
		return fmt.Errorf("letta: detach block %s: status %d: %s", blockID, resp.StatusCode(), resp.String())
	}
	return nil
}

func (c *Client) ListAttachedBlocks(ctx context.Context, agentID string) ([]string, error) {
	var out []blockBody
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&out).
		Get(fmt.Sprintf("/v1/agents/%s/core-memory/blocks", agentID))
	if err != nil {
		return nil, fmt.Errorf("letta: list blocks: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("letta: list blocks: status %d: %s", resp.StatusCode(), resp.String())
	}
	ids := make([]string, 0, len(out))
	for _, b := range out {
		if b.ID != "" {
			ids = append(ids, b.ID)
		}
	}
	return ids, nil
}

type messagePart struct {
	Type string `json:"type,omitempty"`
	Text string `json:"text,omitempty"`
}

type message struct {
	Role        string        `json:"role,omitempty"`
	MessageType string        `json:"message_type,omitempty"`
	Content     []messagePart `json:"content,omitempty"`
}

func (c *Client) SendMessage(ctx context.Context, agentID, text string) (string, error) {
	body := map[string]interface{}{
		"messages": []map[string]string{
			{"role": "user", "content": text},
		},
	}
	var out struct {
		Messages []message `json:"messages"`
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(&out).
		Post(fmt.Sprintf("/v1/agents/%s/messages", agentID))
	if err != nil {
		return "", fmt.Errorf("letta: send message: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("letta: send message: status %d: %s", resp.StatusCode(), resp.String())
	}

	// The reply arrives as a list of typed messages; collect the
	// assistant-visible text parts.
	var parts []string
	for _, m := range out.Messages {
		if m.MessageType != "" && m.MessageType != "assistant_message" {
			continue
		}
		for _, p := range m.Content {
			if p.Text != "" {
				parts = append(parts, p.Text)
			}
		}
	}
	if len(parts) == 0 {
		return "", fmt.Errorf("letta: send message: no assistant reply in response")
	}
	return strings.Join(parts, " "), nil
}

// HealthPing implements health.HealthPinger by probing the server's
// health endpoint.
func (c *Client) HealthPing(ctx context.Context) error {
	resp, err := c.http.R().SetContext(ctx).Get("/v1/health/")
	if err != nil {
		return err
	}
	if resp.IsError() {
		return fmt.Errorf("letta: health status %d", resp.StatusCode())
	}
	return nil
}
