package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/user/agentrelay/internal/process"
)

// Client talks to a running server's operator API.
type Client struct {
	base string
	http *http.Client
}

// NewClient targets the server listening on addr ("host:port" or a URL).
func NewClient(addr string) *Client {
	base := addr
	if !strings.Contains(base, "://") {
		if strings.HasPrefix(base, ":") {
			base = "127.0.0.1" + base
		}
		base = "http://" + base
	}
	return &Client{
		base: strings.TrimRight(base, "/"),
		http: &http.Client{Timeout: 10 * time.Second},
	}
}

// Processes lists the server's agent processes.
func (c *Client) Processes(ctx context.Context) ([]process.Record, error) {
	var out []process.Record
	err := c.do(ctx, http.MethodGet, "/api/processes", &out)
	return out, err
}

// Interrupt stops the running process matching ref.
func (c *Client) Interrupt(ctx context.Context, ref string) (process.Record, error) {
	var out process.Record
	err := c.do(ctx, http.MethodPost, "/api/processes/"+url.PathEscape(ref)+"/interrupt", &out)
	return out, err
}

// InterruptAll stops every running process and returns how many it stopped.
func (c *Client) InterruptAll(ctx context.Context) (int, error) {
	var out struct {
		Interrupted int `json:"interrupted"`
	}
	err := c.do(ctx, http.MethodPost, "/api/processes/killall", &out)
	return out.Interrupted, err
}

// APIError is a non-2xx answer from the server.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
}

func (c *Client) do(ctx context.Context, method, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		var body struct {
			Error string `json:"error"`
		}
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		if json.Unmarshal(data, &body) != nil || body.Error == "" {
			body.Error = strings.TrimSpace(string(data))
		}
		return &APIError{Status: resp.StatusCode, Message: body.Error}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}
