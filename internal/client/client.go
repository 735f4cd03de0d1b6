// Package client posts split requests to a relay server.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/timvw/pane-relay/internal/model"
)

// ExecutePath is the route the client posts to. The server also accepts "/".
const ExecutePath = "/execute"

// defaultTimeout covers the server's own subprocess bound plus transport.
const defaultTimeout = 2 * time.Minute

// maxBody caps how much of a response body is read.
const maxBody = 1 << 20

// Client talks to a relay server.
type Client struct {
	BaseURL string
	HTTP    *http.Client
}

// New creates a client for baseURL, e.g. "http://127.0.0.1:3000".
func New(baseURL string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP:    &http.Client{Timeout: defaultTimeout},
	}
}

// URL builds the base URL for a server address.
func URL(ip string, port int) string {
	return "http://" + net.JoinHostPort(ip, strconv.Itoa(port))
}

// Endpoint returns the full URL requests are posted to.
func (c *Client) Endpoint() string {
	return c.BaseURL + ExecutePath
}

// Execute posts req and decodes the server's response. The HTTP status is
// returned alongside; a success:false body is not an error.
func (c *Client) Execute(ctx context.Context, req model.Request) (*model.Response, int, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, 0, fmt.Errorf("encoding request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint(), bytes.NewReader(body))
	if err != nil {
		return nil, 0, fmt.Errorf("building request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	hc := c.HTTP
	if hc == nil {
		hc = http.DefaultClient
	}
	resp, err := hc.Do(httpReq)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to send a request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("reading response: %w", err)
	}

	var out model.Response
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, resp.StatusCode, fmt.Errorf("unexpected response (HTTP %d): %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	return &out, resp.StatusCode, nil
}
