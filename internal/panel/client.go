// Package panel is the adapter for the 3x-ui management panel. It owns the
// session cookie and the cached inbound descriptor; everything else is a
// thin, explicitly-erroring wrapper over the panel's REST endpoints.
package panel

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/davron/xuigram/internal/config"
)

// Observer receives timing for every panel request. Implemented by the
// metrics package; a nil observer is valid.
type Observer interface {
	ObservePanelRequest(endpoint string, seconds float64, failed bool)
}

// Client talks to one 3x-ui panel. The session cookie and the resolved
// inbound are cached after the first success; Invalidate drops both so a
// refresh policy can be layered on without changing the adapter.
type Client struct {
	http     *http.Client
	baseURL  string
	username string
	password string
	remark   string
	logger   zerolog.Logger
	obs      Observer
	now      func() time.Time

	mu       sync.Mutex
	loggedIn bool
	inbound  *Inbound
}

// New creates a panel client from configuration.
func New(cfg *config.Config, log zerolog.Logger, obs Observer) (*Client, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.Panel.InsecureSkipVerify {
		// panels commonly run on self-signed certificates
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	timeout := time.Duration(cfg.Panel.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	return &Client{
		http: &http.Client{
			Jar:       jar,
			Transport: transport,
			Timeout:   timeout,
		},
		baseURL:  cfg.PanelBaseURL(),
		username: cfg.Panel.Username,
		password: cfg.Panel.Password,
		remark:   cfg.Panel.InboundRemark,
		logger:   log.With().Str("component", "panel").Logger(),
		obs:      obs,
		now:      time.Now,
	}, nil
}

// apiURL joins the base URL with an endpoint path.
func (c *Client) apiURL(endpoint string) string {
	return c.baseURL + "/" + strings.TrimLeft(endpoint, "/")
}

// ResolveInbound logs in if needed and returns the configured inbound,
// fetching it on first use and caching it for the rest of the session.
func (c *Client) ResolveInbound(ctx context.Context) (*Inbound, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.resolveInboundLocked(ctx)
}

func (c *Client) resolveInboundLocked(ctx context.Context) (*Inbound, error) {
	if c.inbound != nil {
		return c.inbound, nil
	}

	if err := c.loginLocked(ctx); err != nil {
		return nil, err
	}

	resp, err := c.get(ctx, "inbounds/list", "panel/api/inbounds/list")
	if err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, fmt.Errorf("inbound list rejected: %s: %w", resp.Msg, ErrTransport)
	}

	var inbounds []Inbound
	if err := json.Unmarshal(resp.Obj, &inbounds); err != nil {
		return nil, fmt.Errorf("failed to decode inbound list: %w", ErrTransport)
	}

	for i := range inbounds {
		if inbounds[i].Remark == c.remark {
			c.inbound = &inbounds[i]
			c.logger.Info().
				Str("remark", c.remark).
				Int("inbound_id", c.inbound.ID).
				Int("port", c.inbound.Port).
				Msg("Inbound resolved")
			return c.inbound, nil
		}
	}

	return nil, fmt.Errorf("inbound with remark %q: %w", c.remark, ErrNotFound)
}

// loginLocked authenticates against the panel. The session cookie lands in
// the jar; there is no proactive refresh on expiry.
func (c *Client) loginLocked(ctx context.Context) error {
	if c.loggedIn {
		return nil
	}

	form := url.Values{}
	form.Set("username", c.username)
	form.Set("password", c.password)

	resp, err := c.postForm(ctx, "login", "login", form)
	if err != nil {
		return err
	}
	if !resp.Success {
		return fmt.Errorf("login as %s: %w", c.username, ErrAuth)
	}

	c.loggedIn = true
	c.logger.Debug().Msg("Panel session established")
	return nil
}

// Invalidate drops the cached session and inbound so the next call
// re-authenticates and re-fetches.
func (c *Client) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.loggedIn = false
	c.inbound = nil
}

// FindClient looks up a client by its email key on the configured inbound.
// Returns ErrNotFound when the client genuinely does not exist; transport
// and auth failures keep their own identity so callers never mistake an
// outage for an empty panel.
func (c *Client) FindClient(ctx context.Context, email string) (*ClientSettings, error) {
	c.mu.Lock()
	inbound, err := c.resolveInboundLocked(ctx)
	c.mu.Unlock()
	if err != nil {
		return nil, err
	}

	resp, err := c.get(ctx, "inbounds/get", fmt.Sprintf("panel/api/inbounds/get/%d", inbound.ID))
	if err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, fmt.Errorf("inbound fetch rejected: %s: %w", resp.Msg, ErrTransport)
	}

	var fresh Inbound
	if err := json.Unmarshal(resp.Obj, &fresh); err != nil {
		return nil, fmt.Errorf("failed to decode inbound: %w", ErrTransport)
	}

	var settings inboundSettings
	if err := json.Unmarshal([]byte(fresh.Settings), &settings); err != nil {
		return nil, fmt.Errorf("failed to decode inbound settings: %w", ErrTransport)
	}

	for i := range settings.Clients {
		if settings.Clients[i].Email == email {
			return &settings.Clients[i], nil
		}
	}
	return nil, fmt.Errorf("client %s: %w", email, ErrNotFound)
}

// UpsertClient writes a client to the panel: update-in-place first, create
// on panel-reported failure. Quota arrives in GB and validity in days; the
// panel stores absolute bytes and absolute epoch milliseconds, converted
// here at write time. Zero quota means unlimited, zero validity never
// expires. Calling twice with identical arguments converges to the same
// panel state.
func (c *Client) UpsertClient(ctx context.Context, inboundID int, email, clientUUID, subID string, totalGB, validDays float64) error {
	var totalBytes int64
	if totalGB > 0 {
		totalBytes = int64(totalGB * 1024 * 1024 * 1024)
	}
	var expiryMs int64
	if validDays > 0 {
		expiryMs = c.now().UnixMilli() + int64(validDays*86400*1000)
	}

	client := ClientSettings{
		ID:         clientUUID,
		Email:      email,
		Enable:     true,
		TotalGB:    totalBytes,
		ExpiryTime: expiryMs,
		SubID:      subID,
	}
	settings, err := json.Marshal(inboundSettings{Clients: []ClientSettings{client}})
	if err != nil {
		return fmt.Errorf("failed to encode client settings: %w", err)
	}
	payload := map[string]any{
		"id":       inboundID,
		"settings": string(settings),
	}

	resp, err := c.postJSON(ctx, "inbounds/updateClient", "panel/api/inbounds/updateClient/"+clientUUID, payload)
	if err == nil && resp.Success {
		c.logger.Debug().Str("email", email).Msg("Client updated")
		return nil
	}
	if err != nil {
		c.logger.Debug().Err(err).Str("email", email).Msg("Update failed, trying create")
	}

	resp, err = c.postJSON(ctx, "inbounds/addClient", "panel/api/inbounds/addClient", payload)
	if err != nil {
		return err
	}
	if !resp.Success {
		return fmt.Errorf("add client %s: %s: %w", email, resp.Msg, ErrRefused)
	}

	c.logger.Info().Str("email", email).Msg("Client created")
	return nil
}

// ClientStats fetches the traffic counters and expiry for one client.
func (c *Client) ClientStats(ctx context.Context, email string) (*Traffic, error) {
	c.mu.Lock()
	err := c.loginLocked(ctx)
	c.mu.Unlock()
	if err != nil {
		return nil, err
	}

	resp, err := c.get(ctx, "inbounds/getClientTraffics", "panel/api/inbounds/getClientTraffics/"+email)
	if err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, fmt.Errorf("stats for %s: %w", email, ErrNotFound)
	}
	if len(resp.Obj) == 0 || string(resp.Obj) == "null" {
		return nil, fmt.Errorf("stats for %s: %w", email, ErrNotFound)
	}

	var traffic Traffic
	if err := json.Unmarshal(resp.Obj, &traffic); err != nil {
		return nil, fmt.Errorf("failed to decode traffic: %w", ErrTransport)
	}
	return &traffic, nil
}

// get performs a GET request against the panel API.
func (c *Client) get(ctx context.Context, name, endpoint string) (*apiResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiURL(endpoint), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	return c.do(name, req)
}

// postForm performs a form-encoded POST against the panel API.
func (c *Client) postForm(ctx context.Context, name, endpoint string, form url.Values) (*apiResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL(endpoint), strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.do(name, req)
}

// postJSON performs a JSON POST against the panel API.
func (c *Client) postJSON(ctx context.Context, name, endpoint string, payload any) (*apiResponse, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL(endpoint), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(name, req)
}

// do executes a request and decodes the panel envelope. Network and decode
// failures are wrapped as ErrTransport.
func (c *Client) do(name string, req *http.Request) (*apiResponse, error) {
	start := c.now()
	resp, err := c.http.Do(req)
	if c.obs != nil {
		c.obs.ObservePanelRequest(name, c.now().Sub(start).Seconds(), err != nil)
	}
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, fmt.Errorf("%s: %v: %w", name, err, ErrTransport)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("%s: read body: %w", name, ErrTransport)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s: status %d: %w", name, resp.StatusCode, ErrTransport)
	}

	var decoded apiResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, fmt.Errorf("%s: decode response: %w", name, ErrTransport)
	}
	return &decoded, nil
}
