// Package client talks to the console API on behalf of fleetctl.
package client

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

	"github.com/google/uuid"

	"github.com/byosamah/volteria-sub000/internal/connectivity"
	"github.com/byosamah/volteria-sub000/internal/diagnostics"
	"github.com/byosamah/volteria-sub000/internal/version"
	"github.com/byosamah/volteria-sub000/internal/wizard"
)

// ErrUnauthorized is returned when the token is missing or revoked.
var ErrUnauthorized = errors.New("not logged in")

// APIError is a non-2xx response from the console.
type APIError struct {
	StatusCode int
	Message    string
	// Status carries the lifecycle status on 409 already-registered errors.
	Status string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("console returned %d", e.StatusCode)
	}
	return fmt.Sprintf("console returned %d: %s", e.StatusCode, e.Message)
}

// Client is an authenticated console API client. It is safe for concurrent
// use once logged in.
type Client struct {
	baseURL string
	http    *http.Client
	token   string
}

// New creates a client for baseURL, e.g. https://console.example.com.
func New(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		// Test runs can take minutes; callers bound shorter requests with ctx.
		http: &http.Client{Timeout: 3 * time.Minute},
	}
}

// WithToken sets a bearer token obtained elsewhere.
func (c *Client) WithToken(token string) *Client {
	c.token = token
	return c
}

func (c *Client) Token() string { return c.token }

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", version.UserAgent())
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode == http.StatusUnauthorized && path != "/api/auth/login" {
		return ErrUnauthorized
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var payload struct {
			Error  string `json:"error"`
			Status string `json:"status"`
		}
		if json.Unmarshal(data, &payload) == nil {
			apiErr.Message = payload.Error
			apiErr.Status = payload.Status
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// Login exchanges credentials for a session token.
func (c *Client) Login(ctx context.Context, username, password string) error {
	var resp struct {
		Token string `json:"token"`
	}
	err := c.do(ctx, http.MethodPost, "/api/auth/login", map[string]string{
		"username": username,
		"password": password,
	}, &resp)
	if err != nil {
		return err
	}
	if resp.Token == "" {
		return errors.New("login response carried no token")
	}
	c.token = resp.Token
	return nil
}

// Config is the console's published connectivity configuration.
type Config struct {
	HeartbeatIntervalSeconds int    `json:"heartbeat_interval_seconds"`
	OnlineThresholdSeconds   int    `json:"online_threshold_seconds"`
	SSHTunnelConfigured      bool   `json:"ssh_tunnel_configured"`
	Version                  string `json:"version"`
}

func (c *Client) Config(ctx context.Context) (*Config, error) {
	var cfg Config
	return &cfg, c.do(ctx, http.MethodGet, "/api/config", nil, &cfg)
}

// Controller is the controller view returned by the console.
type Controller struct {
	ID              string              `json:"id"`
	SerialNumber    string              `json:"serial_number"`
	HardwareTypeID  string              `json:"hardware_type_id"`
	FirmwareVersion string              `json:"firmware_version"`
	Status          string              `json:"status"`
	WizardStep      *int                `json:"wizard_step"`
	EnterpriseID    string              `json:"enterprise_id"`
	SSHPort         *int                `json:"ssh_port"`
	Connectivity    connectivity.Status `json:"connectivity"`
}

// ListControllers returns the controllers visible to the logged in user.
// status may be empty.
func (c *Client) ListControllers(ctx context.Context, status string) ([]Controller, error) {
	path := "/api/controllers"
	if status != "" {
		path += "?status=" + url.QueryEscape(status)
	}
	var resp struct {
		Controllers []Controller `json:"controllers"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Controllers, nil
}

// GetController returns one controller with its connectivity.
func (c *Client) GetController(ctx context.Context, id string) (*Controller, error) {
	var resp struct {
		Controller Controller `json:"controller"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/controllers/"+url.PathEscape(id), nil, &resp); err != nil {
		return nil, err
	}
	return &resp.Controller, nil
}

// FetchHeartbeats returns controllerID -> latest heartbeat timestamp.
func (c *Client) FetchHeartbeats(ctx context.Context) (map[string]time.Time, error) {
	out := map[string]time.Time{}
	if err := c.do(ctx, http.MethodGet, "/api/controllers/heartbeats", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// LatestHeartbeat returns a controller's latest heartbeat, nil if it never sent one.
func (c *Client) LatestHeartbeat(ctx context.Context, controllerID string) (*time.Time, error) {
	var resp struct {
		Heartbeat *struct {
			Timestamp time.Time `json:"timestamp"`
		} `json:"heartbeat"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/controllers/"+url.PathEscape(controllerID)+"/heartbeat", nil, &resp); err != nil {
		return nil, err
	}
	if resp.Heartbeat == nil {
		return nil, nil
	}
	ts := resp.Heartbeat.Timestamp
	return &ts, nil
}

// Register creates a draft controller or resumes the in-progress one.
func (c *Client) Register(ctx context.Context, form wizard.Form) (wizard.RegisterResult, error) {
	var resp struct {
		Controller Controller `json:"controller"`
		Resumed    bool       `json:"resumed"`
	}
	err := c.do(ctx, http.MethodPost, "/api/controllers/register", map[string]string{
		"serial_number":    form.SerialNumber,
		"hardware_type_id": form.HardwareTypeID,
		"firmware_version": form.FirmwareVersion,
		"notes":            form.Notes,
	}, &resp)
	if err != nil {
		return wizard.RegisterResult{}, err
	}
	res := wizard.RegisterResult{ControllerID: resp.Controller.ID, Resumed: resp.Resumed}
	if resp.Controller.WizardStep != nil {
		res.WizardStep = *resp.Controller.WizardStep
	}
	return res, nil
}

func (c *Client) SaveStep(ctx context.Context, controllerID string, step int) error {
	return c.do(ctx, http.MethodPost, "/api/controllers/"+url.PathEscape(controllerID)+"/wizard", map[string]int{"step": step}, nil)
}

func (c *Client) Complete(ctx context.Context, controllerID string, passed bool) error {
	return c.do(ctx, http.MethodPost, "/api/controllers/"+url.PathEscape(controllerID)+"/wizard/complete", map[string]bool{"passed": passed}, nil)
}

// RunTests runs the diagnostics suite and returns its report.
func (c *Client) RunTests(ctx context.Context, controllerID string) (*diagnostics.Report, error) {
	var report diagnostics.Report
	if err := c.do(ctx, http.MethodPost, "/api/controllers/"+url.PathEscape(controllerID)+"/test", nil, &report); err != nil {
		return nil, err
	}
	return &report, nil
}

// HardwareType is a supported controller board.
type HardwareType struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func (c *Client) HardwareTypes(ctx context.Context) ([]HardwareType, error) {
	var resp struct {
		HardwareTypes []HardwareType `json:"hardware_types"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/hardware-types", nil, &resp); err != nil {
		return nil, err
	}
	return resp.HardwareTypes, nil
}

// ParseID validates a controller id before it is put in a path.
func ParseID(s string) (string, error) {
	id, err := uuid.Parse(strings.TrimSpace(s))
	if err != nil {
		return "", fmt.Errorf("invalid controller id %q", s)
	}
	return id.String(), nil
}
