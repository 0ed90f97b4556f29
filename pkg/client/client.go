package client

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/loykin/cmdash/internal/scheduler"
	"github.com/loykin/cmdash/internal/state"
)

// Client provides HTTP client functionality to communicate with a cmdash
// daemon.
type Client struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// Config holds client configuration
type Config struct {
	BaseURL  string
	Timeout  time.Duration
	Logger   *slog.Logger // Optional logger for client operations
	TLS      *TLSClientConfig
	Insecure bool // Skip TLS verification
}

// TLSClientConfig holds TLS configuration for client
type TLSClientConfig struct {
	Enabled    bool   // Enable TLS
	CACert     string // CA certificate file path
	ClientCert string // Client certificate file
	ClientKey  string // Client private key file
	ServerName string // Server name for verification
	SkipVerify bool   // Skip certificate verification
}

// DefaultConfig returns default client configuration
func DefaultConfig() Config {
	return Config{
		BaseURL: "http://127.0.0.1:8720",
		Timeout: 10 * time.Second,
	}
}

// New creates a new cmdash API client with TLS support
func New(config Config) *Client {
	if config.BaseURL == "" {
		config.BaseURL = "http://127.0.0.1:8720"
	}
	if config.Timeout == 0 {
		config.Timeout = 10 * time.Second
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	transport := &http.Transport{}
	if config.TLS != nil && config.TLS.Enabled || config.Insecure {
		tlsConfig, err := setupClientTLS(config)
		if err != nil {
			config.Logger.Error("TLS setup failed", "error", err)
		} else {
			transport.TLSClientConfig = tlsConfig
		}
	}

	return &Client{
		baseURL: config.BaseURL,
		logger:  config.Logger,
		client: &http.Client{
			Timeout:   config.Timeout,
			Transport: transport,
		},
	}
}

// IsReachable checks if the daemon is running and reachable
func (c *Client) IsReachable(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/snapshot", nil)
	if err != nil {
		c.logger.Debug("Failed to create request for reachability check", "error", err)
		return false
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Debug("Daemon unreachable", "error", err)
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode != http.StatusNotFound
}

// Snapshot fetches the current dashboard state. dashboard may be empty when
// the daemon serves a single dashboard.
func (c *Client) Snapshot(ctx context.Context, dashboard string) (state.Snapshot, error) {
	var snap state.Snapshot
	err := c.getJSON(ctx, "/snapshot", url.Values{"dashboard": {dashboard}}, &snap)
	return snap, err
}

// Tasks lists the live supervised tasks of one dashboard.
func (c *Client) Tasks(ctx context.Context, dashboard string) ([]scheduler.TaskInfo, error) {
	var tasks []scheduler.TaskInfo
	err := c.getJSON(ctx, "/tasks", url.Values{"dashboard": {dashboard}}, &tasks)
	return tasks, err
}

// Refresh triggers a dashboard refresh.
func (c *Client) Refresh(ctx context.Context, dashboard string) error {
	return c.post(ctx, "/refresh", url.Values{"dashboard": {dashboard}})
}

// RunAll starts every available target of every module.
func (c *Client) RunAll(ctx context.Context, dashboard string) error {
	return c.post(ctx, "/run-all", url.Values{"dashboard": {dashboard}})
}

// RerunFailed re-enqueues every currently failed target.
func (c *Client) RerunFailed(ctx context.Context, dashboard string) error {
	return c.post(ctx, "/rerun-failed", url.Values{"dashboard": {dashboard}})
}

// RunTarget runs one target for one module.
func (c *Client) RunTarget(ctx context.Context, dashboard, moduleID, target string) error {
	return c.post(ctx, "/run-target", url.Values{
		"dashboard": {dashboard}, "module": {moduleID}, "target": {target},
	})
}

// RunTargetForModule runs every available target of one module sequentially.
func (c *Client) RunTargetForModule(ctx context.Context, dashboard, moduleID string) error {
	return c.post(ctx, "/run-target-for-module", url.Values{
		"dashboard": {dashboard}, "module": {moduleID},
	})
}

// RunTargetForAllModules fans one target out to every module that has it.
func (c *Client) RunTargetForAllModules(ctx context.Context, dashboard, target string) error {
	return c.post(ctx, "/run-target-for-all-modules", url.Values{
		"dashboard": {dashboard}, "target": {target},
	})
}

// ConfigureModule configures one module (idempotent when a cache exists).
func (c *Client) ConfigureModule(ctx context.Context, dashboard, moduleID string) error {
	return c.post(ctx, "/configure-module", url.Values{
		"dashboard": {dashboard}, "module": {moduleID},
	})
}

// ReconfigureModule wipes the module's build directory and reconfigures.
func (c *Client) ReconfigureModule(ctx context.Context, dashboard, moduleID string) error {
	return c.post(ctx, "/reconfigure-module", url.Values{
		"dashboard": {dashboard}, "module": {moduleID},
	})
}

// ConfigureAllModules configures every module of the dashboard.
func (c *Client) ConfigureAllModules(ctx context.Context, dashboard string) error {
	return c.post(ctx, "/configure-all-modules", url.Values{"dashboard": {dashboard}})
}

// StopAll cancels queued work and terminates terminal-attached runs.
func (c *Client) StopAll(ctx context.Context, dashboard string) error {
	return c.post(ctx, "/stop-all", url.Values{"dashboard": {dashboard}})
}

// ClearAllTasks fully resets the dashboard's execution surface.
func (c *Client) ClearAllTasks(ctx context.Context, dashboard string) error {
	return c.post(ctx, "/clear-all-tasks", url.Values{"dashboard": {dashboard}})
}

// setupClientTLS configures TLS settings for the HTTP client
func setupClientTLS(config Config) (*tls.Config, error) {
	tlsConfig := &tls.Config{}
	if config.Insecure {
		tlsConfig.InsecureSkipVerify = true
		return tlsConfig, nil
	}
	if config.TLS != nil {
		if config.TLS.SkipVerify {
			tlsConfig.InsecureSkipVerify = true
		}
		if config.TLS.ServerName != "" {
			tlsConfig.ServerName = config.TLS.ServerName
		}
		if config.TLS.CACert != "" {
			if err := loadCACert(tlsConfig, config.TLS.CACert); err != nil {
				return nil, fmt.Errorf("failed to load CA certificate: %w", err)
			}
		}
		if config.TLS.ClientCert != "" && config.TLS.ClientKey != "" {
			cert, err := tls.LoadX509KeyPair(config.TLS.ClientCert, config.TLS.ClientKey)
			if err != nil {
				return nil, fmt.Errorf("failed to load client certificate: %w", err)
			}
			tlsConfig.Certificates = []tls.Certificate{cert}
		}
	}
	return tlsConfig, nil
}

// loadCACert loads a CA certificate from file and adds it to the TLS config
func loadCACert(tlsConfig *tls.Config, caCertPath string) error {
	caCert, err := os.ReadFile(caCertPath)
	if err != nil {
		return fmt.Errorf("failed to read CA certificate file: %w", err)
	}
	caCertPool := x509.NewCertPool()
	if !caCertPool.AppendCertsFromPEM(caCert) {
		return fmt.Errorf("failed to parse CA certificate")
	}
	tlsConfig.RootCAs = caCertPool
	return nil
}

func (c *Client) endpoint(path string, q url.Values) string {
	for k := range q {
		if q.Get(k) == "" {
			q.Del(k)
		}
	}
	u := c.baseURL + path
	if enc := q.Encode(); enc != "" {
		u += "?" + enc
	}
	return u
}

func (c *Client) post(ctx context.Context, path string, q url.Values) error {
	u := c.endpoint(path, q)
	req, err := http.NewRequestWithContext(ctx, "POST", u, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Error("HTTP request failed", "error", err, "url", u)
		return fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	return c.handleErrorResponse(resp)
}

func (c *Client) getJSON(ctx context.Context, path string, q url.Values, into any) error {
	u := c.endpoint(path, q)
	req, err := http.NewRequestWithContext(ctx, "GET", u, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if err := c.handleErrorResponse(resp); err != nil {
		return err
	}
	return json.NewDecoder(resp.Body).Decode(into)
}

// handleErrorResponse maps non-2xx responses to errors
func (c *Client) handleErrorResponse(resp *http.Response) error {
	if resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusAccepted {
		return nil
	}
	var errorResp ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&errorResp); err != nil {
		c.logger.Error("Failed to decode error response", "status", resp.StatusCode)
		return fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	c.logger.Error("API request failed", "error", errorResp.Error, "status", resp.StatusCode)
	return fmt.Errorf("API error: %s", errorResp.Error)
}
