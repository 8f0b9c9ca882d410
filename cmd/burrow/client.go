package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// APIClient talks to a running burrow daemon.
type APIClient struct {
	baseURL string
	client  *http.Client
}

func NewAPIClient(baseURL string, timeout time.Duration) *APIClient {
	if baseURL == "" {
		baseURL = "http://127.0.0.1:8910"
	}
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &APIClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

// IsReachable checks if the daemon is running and reachable.
func (c *APIClient) IsReachable() bool {
	resp, err := c.client.Get(c.baseURL + "/status")
	if err != nil {
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode == http.StatusOK
}

func (c *APIClient) get(path string, out any) error {
	resp, err := c.client.Get(c.baseURL + path)
	if err != nil {
		return err
	}
	return decodeResponse(resp, out)
}

func (c *APIClient) post(path string, out any) error {
	resp, err := c.client.Post(c.baseURL+path, "application/json", nil)
	if err != nil {
		return err
	}
	return decodeResponse(resp, out)
}

func decodeResponse(resp *http.Response, out any) error {
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		var errorResp struct {
			Error string `json:"error"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&errorResp); err != nil {
			return fmt.Errorf("daemon returned %s", resp.Status)
		}
		return fmt.Errorf("daemon error: %s", errorResp.Error)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// GetStatus fetches the combined tunnel + services snapshot.
func (c *APIClient) GetStatus() (json.RawMessage, error) {
	var raw json.RawMessage
	if err := c.get("/status", &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// StartTunnel blocks until the daemon reports a tunnel state.
func (c *APIClient) StartTunnel() (json.RawMessage, error) {
	var raw json.RawMessage
	if err := c.post("/tunnel/start", &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

func (c *APIClient) StopTunnel() error {
	return c.post("/tunnel/stop", nil)
}

// StartService starts one service, or all when name is empty.
func (c *APIClient) StartService(name string) error {
	path := "/services/start"
	if name != "" {
		path += "?name=" + url.QueryEscape(name)
	}
	return c.post(path, nil)
}

func (c *APIClient) StopService(name string) error {
	path := "/services/stop"
	if name != "" {
		path += "?name=" + url.QueryEscape(name)
	}
	return c.post(path, nil)
}

// GetLogs fetches the last lines of the named process log. An empty
// name selects the tunnel agent.
func (c *APIClient) GetLogs(name string, lines int) ([]string, error) {
	q := url.Values{}
	if name != "" {
		q.Set("name", name)
	}
	if lines > 0 {
		q.Set("lines", strconv.Itoa(lines))
	}
	var resp struct {
		Lines []string `json:"lines"`
	}
	if err := c.get("/logs?"+q.Encode(), &resp); err != nil {
		return nil, err
	}
	return resp.Lines, nil
}
