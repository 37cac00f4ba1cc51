package appliance

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"voicebridge/internal/domain"
)

// Client talks to the appliance control API. Every call is a fresh read or
// write: device snapshots are never cached here.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	baseURL = strings.TrimSuffix(baseURL, "/")
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// deviceList tolerates both response shapes the API is known to produce:
// a bare JSON array and an object wrapping the array in a "devices" field.
type deviceList struct {
	Devices []domain.Device `json:"devices"`
}

// FetchDevices reads the full device catalog from GET /api/devices.
func (c *Client) FetchDevices(ctx context.Context) (domain.Snapshot, error) {
	body, err := c.get(ctx, "/api/devices")
	if err != nil {
		return domain.Snapshot{}, fmt.Errorf("fetching devices: %w", err)
	}

	snap := domain.Snapshot{FetchedAt: time.Now()}
	if err := json.Unmarshal(body, &snap.Devices); err == nil {
		return snap, nil
	}
	var wrapped deviceList
	if err := json.Unmarshal(body, &wrapped); err != nil {
		return domain.Snapshot{}, fmt.Errorf("parsing devices: %w", err)
	}
	snap.Devices = wrapped.Devices
	return snap, nil
}

// SetDevice flips one device on or off. The primary route is
// /application/{type}/{id}; on a 404 it falls back once to /{type}/{id}
// for older API builds, and never retries beyond that.
func (c *Client) SetDevice(ctx context.Context, deviceType, id string, on bool) error {
	primary := fmt.Sprintf("/application/%s/%s?status=%t", deviceType, id, on)
	fallback := fmt.Sprintf("/%s/%s?status=%t", deviceType, id, on)

	status, err := c.control(ctx, primary)
	if err != nil {
		return fmt.Errorf("controlling %s/%s: %w", deviceType, id, err)
	}
	if status == http.StatusNotFound {
		status, err = c.control(ctx, fallback)
		if err != nil {
			return fmt.Errorf("controlling %s/%s: %w", deviceType, id, err)
		}
	}
	if status >= 400 {
		return fmt.Errorf("controlling %s/%s: API returned status %d", deviceType, id, status)
	}
	return nil
}

func (c *Client) get(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("API returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return body, nil
}

// control issues one GET and reports the status code; transport failures are
// the only errors. The caller decides what each status means.
func (c *Client) control(ctx context.Context, path string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return 0, fmt.Errorf("creating request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	return resp.StatusCode, nil
}
