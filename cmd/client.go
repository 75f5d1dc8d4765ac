package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// apiPrefix is where the daemon mounts its HTTP API.
const apiPrefix = "/api/v1"

// daemonClient reads from the HTTP API of a running daemon.
type daemonClient struct {
	http *http.Client
	base string
}

func newDaemonClient(c *http.Client, addr string) (*daemonClient, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil, fmt.Errorf("daemon address cannot be empty")
	}
	if !strings.Contains(addr, "://") {
		addr = "http://" + addr
	}

	u, err := url.Parse(addr)
	if err != nil {
		return nil, fmt.Errorf("invalid daemon address '%s': %w", addr, err)
	}

	return &daemonClient{
		http: c,
		base: strings.TrimSuffix(u.String(), "/") + apiPrefix,
	}, nil
}

// get decodes the JSON body of GET path into out.
func (d *daemonClient) get(ctx context.Context, path string, query url.Values, out any) error {
	target := d.base + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := d.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach rndebug daemon (is 'rndebug daemon' running?): %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return errorFromResponse(resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode daemon response: %w", err)
	}

	return nil
}

// errorFromResponse reads a problem+json body, falling back to the status text.
func errorFromResponse(resp *http.Response) error {
	var problem struct {
		Title  string `json:"title"`
		Detail string `json:"detail"`
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err := json.Unmarshal(body, &problem); err == nil && problem.Detail != "" {
		return fmt.Errorf("daemon returned %d: %s", resp.StatusCode, problem.Detail)
	}

	return fmt.Errorf("daemon returned %d: %s", resp.StatusCode, http.StatusText(resp.StatusCode))
}
