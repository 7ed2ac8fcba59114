package client

import (
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jumepi/polar-h10-health-checker/internal/export"
	"github.com/jumepi/polar-h10-health-checker/internal/ws"
)

// HTTPClient makes REST calls to the monitor.
type HTTPClient struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewHTTPClient creates a client targeting baseURL (e.g. "http://127.0.0.1:8080").
func NewHTTPClient(baseURL, token string) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

// DeriveHTTPBase maps a websocket URL like ws://host:8080/ws to
// http://host:8080.
func DeriveHTTPBase(wsURL string) (string, error) {
	u, err := url.Parse(wsURL)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "ws":
		u.Scheme = "http"
	case "wss":
		u.Scheme = "https"
	case "http", "https":
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path = ""
	u.RawQuery = ""
	return u.String(), nil
}

// Health fetches /api/health.
func (c *HTTPClient) Health() (*ws.HealthPayload, error) {
	var h ws.HealthPayload
	if err := c.do(http.MethodGet, "/api/health", &h); err != nil {
		return nil, err
	}
	return &h, nil
}

// Reset starts a new session.
func (c *HTTPClient) Reset() (*ws.ResetPayload, error) {
	var p ws.ResetPayload
	if err := c.do(http.MethodPost, "/api/session/reset", &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// Export downloads the current session in format f. It returns
// export.ErrEmptySession when there is nothing to export.
func (c *HTTPClient) Export(f export.Format) (name string, data []byte, err error) {
	resp, err := c.send(http.MethodGet, "/api/export?format="+url.QueryEscape(string(f)))
	if err != nil {
		return "", nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return "", nil, export.ErrEmptySession
	}
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return "", nil, fmt.Errorf("GET /api/export: %d %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	data, err = io.ReadAll(resp.Body)
	if err != nil {
		return "", nil, err
	}
	name = export.FileName("", f)
	if _, params, err := mime.ParseMediaType(resp.Header.Get("Content-Disposition")); err == nil && params["filename"] != "" {
		name = params["filename"]
	}
	return name, data, nil
}

func (c *HTTPClient) do(method, path string, out interface{}) error {
	resp, err := c.send(method, path)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%s %s: %d %s", method, path, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *HTTPClient) send(method, path string) (*http.Response, error) {
	req, err := http.NewRequest(method, c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return c.client.Do(req)
}
