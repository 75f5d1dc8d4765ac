// Package discover finds Metro inspector proxies and the debuggable
// JavaScript targets they expose.
package discover

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"reflect"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"
	"golang.org/x/sync/errgroup"

	"github.com/rndebug/rndebug/internal/domain"
)

// packagerRunning is the body Metro serves on /status.
const packagerRunning = "packager-status:running"

// DefaultPorts are the ports Metro and Expo commonly listen on.
func DefaultPorts() []int {
	return []int{8081, 8082, 19000, 19001, 19002}
}

// DefaultHost is the host probed when none is configured.
const DefaultHost = "localhost"

// DefaultTimeout bounds each discovery HTTP request.
const DefaultTimeout = 2 * time.Second

// Client probes inspector proxies over HTTP.
type Client struct {
	logger     hclog.Logger
	httpClient *http.Client
	host       string
	ports      []int
}

// Option configures a Client.
type Option func(*Client) error

// WithHost sets the host probed for inspector proxies.
func WithHost(host string) Option {
	return func(c *Client) error {
		if strings.TrimSpace(host) == "" {
			return fmt.Errorf("host cannot be empty")
		}
		c.host = host
		return nil
	}
}

// WithPorts replaces the candidate ports.
func WithPorts(ports ...int) Option {
	return func(c *Client) error {
		if len(ports) == 0 {
			return fmt.Errorf("at least one port is required")
		}
		for _, p := range ports {
			if p <= 0 || p > 65535 {
				return fmt.Errorf("invalid port %d", p)
			}
		}
		c.ports = slices.Clone(ports)
		return nil
	}
}

// WithTimeout sets the per-request HTTP timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) error {
		if timeout <= 0 {
			return fmt.Errorf("timeout must be positive, got %v", timeout)
		}
		c.httpClient.Timeout = timeout
		return nil
	}
}

// NewClient creates a discovery client.
func NewClient(logger hclog.Logger, opts ...Option) (*Client, error) {
	if logger == nil || reflect.ValueOf(logger).IsNil() {
		return nil, fmt.Errorf("logger cannot be nil")
	}

	c := &Client{
		logger:     logger.Named("discover"),
		httpClient: &http.Client{Timeout: DefaultTimeout},
		host:       DefaultHost,
		ports:      DefaultPorts(),
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// ListCandidatePorts probes every configured port concurrently and returns those
// running a packager, in configured order.
func (c *Client) ListCandidatePorts(ctx context.Context) ([]int, error) {
	running := make([]bool, len(c.ports))

	g, gctx := errgroup.WithContext(ctx)
	for i, port := range c.ports {
		g.Go(func() error {
			running[i] = c.probe(gctx, port)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var out []int
	for i, ok := range running {
		if ok {
			out = append(out, c.ports[i])
		}
	}
	c.logger.Debug("Probed packager ports", "ports", c.ports, "running", out)
	return out, nil
}

func (c *Client) probe(ctx context.Context, port int) bool {
	body, err := c.get(ctx, port, "/status")
	if err != nil {
		return false
	}
	return strings.Contains(string(body), packagerRunning)
}

// targetResponse is one entry of /json/list.
type targetResponse struct {
	ID                   string `json:"id"`
	Title                string `json:"title"`
	Description          string `json:"description"`
	DeviceName           string `json:"deviceName"`
	WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
}

// FetchTargets lists the debuggable targets on port. Entries without a transport URL are dropped.
func (c *Client) FetchTargets(ctx context.Context, port int) ([]domain.TargetDescriptor, error) {
	body, err := c.get(ctx, port, "/json/list")
	if err != nil {
		return nil, err
	}

	var list []targetResponse
	if err := json.Unmarshal(body, &list); err != nil {
		return nil, fmt.Errorf("failed to parse target list from port %d: %w", port, err)
	}

	targets := make([]domain.TargetDescriptor, 0, len(list))
	for _, t := range list {
		if t.WebSocketDebuggerURL == "" {
			continue
		}
		targets = append(targets, domain.TargetDescriptor{
			ID:           t.ID,
			Title:        t.Title,
			Description:  t.Description,
			TransportURL: t.WebSocketDebuggerURL,
			DisplayName:  t.DeviceName,
		})
	}
	return targets, nil
}

// SelectPreferred picks the target most likely to be the app's main JavaScript runtime.
func (c *Client) SelectPreferred(targets []domain.TargetDescriptor) *domain.TargetDescriptor {
	return SelectPreferred(targets)
}

// SelectPreferred picks, in order: the bridgeless main runtime, the Hermes runtime,
// any React Native runtime that is not experimental or a Reanimated worklet, then the first target.
func SelectPreferred(targets []domain.TargetDescriptor) *domain.TargetDescriptor {
	if len(targets) == 0 {
		return nil
	}

	rules := []func(domain.TargetDescriptor) bool{
		func(t domain.TargetDescriptor) bool {
			return strings.Contains(t.Description, "React Native Bridgeless")
		},
		func(t domain.TargetDescriptor) bool {
			return t.Title == "Hermes React Native"
		},
		func(t domain.TargetDescriptor) bool {
			return strings.Contains(t.Title, "React Native") &&
				!strings.Contains(t.Title, "Experimental") &&
				!strings.Contains(t.Title, "Reanimated")
		},
	}

	for _, rule := range rules {
		if i := slices.IndexFunc(targets, rule); i >= 0 {
			return &targets[i]
		}
	}
	return &targets[0]
}

func (c *Client) get(ctx context.Context, port int, path string) ([]byte, error) {
	url := "http://" + net.JoinHostPort(c.host, strconv.Itoa(port)) + path
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request for %s: %w", url, err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to reach inspector on port %d: %w", port, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("inspector on port %d returned HTTP %d for %s", port, resp.StatusCode, path)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response from port %d: %w", port, err)
	}
	return body, nil
}
