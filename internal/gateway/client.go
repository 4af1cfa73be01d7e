// Package gateway is the REST adapter for the chat platform gateway,
// the external collaborator that owns channels and messages.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

func NewClient(baseURL, token string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: timeout},
	}
}

type createChannelRequest struct {
	Name         string   `json:"name"`
	Participants []string `json:"participants"`
	Tag          string   `json:"tag"`
	Private      bool     `json:"private"`
}

type channelResponse struct {
	ChannelID string `json:"channel_id"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (c *Client) CreatePrivateChannel(ctx context.Context, name, participantA, participantB, tag string) (string, error) {
	payload := createChannelRequest{
		Name:         name,
		Participants: []string{participantA, participantB},
		Tag:          tag,
		Private:      true,
	}

	var resp channelResponse
	if err := c.do(ctx, http.MethodPost, "/v1/channels", payload, &resp); err != nil {
		return "", err
	}
	if resp.ChannelID == "" {
		return "", fmt.Errorf("gateway returned empty channel id")
	}
	return resp.ChannelID, nil
}

// ChannelExistsForTag returns the channel carrying the tag, or "" when
// none does.
func (c *Client) ChannelExistsForTag(ctx context.Context, tag string) (string, error) {
	path := "/v1/channels?tag=" + url.QueryEscape(tag)

	var resp channelResponse
	err := c.do(ctx, http.MethodGet, path, nil, &resp)
	if err != nil {
		var se *StatusError
		if errors.As(err, &se) && se.Status == http.StatusNotFound {
			return "", nil
		}
		return "", err
	}
	return resp.ChannelID, nil
}

func (c *Client) PostMessage(ctx context.Context, channelID, body string) error {
	path := fmt.Sprintf("/v1/channels/%s/messages", url.PathEscape(channelID))
	return c.do(ctx, http.MethodPost, path, map[string]string{"body": body}, nil)
}

func (c *Client) ArchiveChannel(ctx context.Context, channelID string) error {
	path := fmt.Sprintf("/v1/channels/%s/archive", url.PathEscape(channelID))
	return c.do(ctx, http.MethodPost, path, nil, nil)
}

// StatusError carries the gateway's HTTP status so callers can
// distinguish not-found from a real failure.
type StatusError struct {
	Status  int
	Code    string
	Message string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("gateway %d %s: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("gateway status %d", e.Status)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal gateway request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build gateway request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("gateway request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var eb errorBody
		_ = json.NewDecoder(resp.Body).Decode(&eb)
		return &StatusError{Status: resp.StatusCode, Code: eb.Code, Message: eb.Message}
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode gateway response: %w", err)
		}
	}
	return nil
}
