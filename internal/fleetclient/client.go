// Package fleetclient is a Go client for the fleet daemon's REST API.
//
// It covers device registration and lookup, action initiation, action status
// reads, and the polling contract used to wait for an action to finish.
package fleetclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/nerrad567/gray-logic-fleet/internal/action"
	"github.com/nerrad567/gray-logic-fleet/internal/device"
)

// apiPrefix is the path prefix of every REST endpoint.
const apiPrefix = "/api/v1"

// defaultTimeout bounds a single request when no HTTPClient is supplied.
const defaultTimeout = 30 * time.Second

// Config holds the settings needed to construct a Client.
type Config struct {
	// BaseURL is the root URL of the daemon (e.g. "http://localhost:8080").
	BaseURL string

	// HTTPClient is an optional custom HTTP client. If nil, a client with
	// Timeout is used.
	HTTPClient *http.Client

	// Timeout applies to individual requests. Defaults to 30 seconds.
	Timeout time.Duration
}

// Client talks to one fleet daemon. All methods are safe for concurrent use.
type Client struct {
	baseURL string
	client  *http.Client
}

// NewClient creates a Client from the given configuration.
func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("fleetclient: BaseURL is required")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("fleetclient: invalid BaseURL: %w", err)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = defaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/") + apiPrefix,
		client:  httpClient,
	}, nil
}

// RegisterRequest is the body of a device registration.
type RegisterRequest struct {
	DeviceID string          `json:"device_id"`
	Status   device.Status   `json:"status,omitempty"`
	Metadata device.Metadata `json:"metadata,omitempty"`
}

// RegisterDevice adds a device to the fleet. An empty status registers the
// device as IDLE.
func (c *Client) RegisterDevice(ctx context.Context, req RegisterRequest) (*device.Device, error) {
	var d device.Device
	if err := c.do(ctx, http.MethodPost, "/devices", req, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

// GetDevice returns one device.
func (c *Client) GetDevice(ctx context.Context, deviceID string) (*device.Device, error) {
	var d device.Device
	if err := c.do(ctx, http.MethodGet, "/devices/"+url.PathEscape(deviceID), nil, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

// ListDevices returns every device ordered by ID.
func (c *Client) ListDevices(ctx context.Context) ([]device.Device, error) {
	var resp struct {
		Devices []device.Device `json:"devices"`
	}
	if err := c.do(ctx, http.MethodGet, "/devices", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Devices, nil
}

// SetDeviceStatus marks a device IDLE, OFFLINE or UNKNOWN.
func (c *Client) SetDeviceStatus(ctx context.Context, deviceID string, status device.Status) (*device.Device, error) {
	body := map[string]device.Status{"status": status}
	var d device.Device
	if err := c.do(ctx, http.MethodPut, "/devices/"+url.PathEscape(deviceID)+"/status", body, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

// InitiateAction starts an action on a device and returns it in PENDING.
func (c *Client) InitiateAction(ctx context.Context, deviceID string, typ action.Type, params action.Params) (*action.Action, error) {
	body := struct {
		ActionType action.Type   `json:"action_type"`
		Params     action.Params `json:"params,omitempty"`
	}{typ, params}
	var a action.Action
	if err := c.do(ctx, http.MethodPost, "/devices/"+url.PathEscape(deviceID)+"/actions", body, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

// SoftwareUpdate starts a SOFTWARE_UPDATE action to the given version.
func (c *Client) SoftwareUpdate(ctx context.Context, deviceID, version string) (*action.Action, error) {
	return c.InitiateAction(ctx, deviceID, action.TypeSoftwareUpdate, action.Params{action.ParamVersion: version})
}

// Reboot starts a REBOOT action. A zero delay omits the parameter.
func (c *Client) Reboot(ctx context.Context, deviceID string, delay time.Duration) (*action.Action, error) {
	var params action.Params
	if delay > 0 {
		params = action.Params{action.ParamDelaySeconds: strconv.Itoa(int(delay.Seconds()))}
	}
	return c.InitiateAction(ctx, deviceID, action.TypeReboot, params)
}

// GetAction returns the latest committed state of an action.
func (c *Client) GetAction(ctx context.Context, actionID string) (*action.Action, error) {
	var a action.Action
	if err := c.do(ctx, http.MethodGet, "/actions/"+url.PathEscape(actionID), nil, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

// ListDeviceActions returns a device's action history in creation order.
func (c *Client) ListDeviceActions(ctx context.Context, deviceID string) ([]action.Action, error) {
	var resp struct {
		Actions []action.Action `json:"actions"`
	}
	if err := c.do(ctx, http.MethodGet, "/devices/"+url.PathEscape(deviceID)+"/actions", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Actions, nil
}

// ActionTypes lists the action types the daemon accepts.
func (c *Client) ActionTypes(ctx context.Context) ([]action.Type, error) {
	var resp struct {
		Types []action.Type `json:"action_types"`
	}
	if err := c.do(ctx, http.MethodGet, "/actions/types", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Types, nil
}

// ReportOutcome delivers an execution outcome on behalf of a device agent.
func (c *Client) ReportOutcome(ctx context.Context, actionID string, success bool, message string) (*action.Action, error) {
	body := struct {
		Success bool   `json:"success"`
		Message string `json:"message,omitempty"`
	}{success, message}
	var a action.Action
	if err := c.do(ctx, http.MethodPost, "/actions/"+url.PathEscape(actionID)+"/outcome", body, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, dest any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("fleetclient: marshal request body: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("fleetclient: create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("fleetclient: %s %s: %w", method, req.URL.Path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	return handleResponse(resp, dest)
}

func handleResponse(resp *http.Response, dest any) error {
	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("fleetclient: read response body: %w", err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return parseErrorResponse(resp.StatusCode, bodyBytes)
	}
	if resp.StatusCode == http.StatusNoContent || dest == nil {
		return nil
	}
	if err := json.Unmarshal(bodyBytes, dest); err != nil {
		return fmt.Errorf("fleetclient: decode response: %w", err)
	}
	return nil
}
