package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"modeld/pkg/types"
)

// adminClient is a thin HTTP client over the admin surface internal/httpapi
// exposes, used by the load/unload/status subcommands to talk to an
// already-running modeld serve process (spec.md §6's exposed
// LoadModel/UnloadModel/GetStatus surface, reached here over the ambient
// admin HTTP endpoints rather than a generic wire protocol).
type adminClient struct {
	baseURL string
	http    *http.Client
}

func newAdminClient(addr string) *adminClient {
	return &adminClient{baseURL: "http://" + addr, http: &http.Client{Timeout: 10 * time.Second}}
}

func (c *adminClient) loadModel(name string) error {
	return c.post(fmt.Sprintf("/v2/repository/models/%s/load", name))
}

func (c *adminClient) unloadModel(name string) error {
	return c.post(fmt.Sprintf("/v2/repository/models/%s/unload", name))
}

func (c *adminClient) post(path string) error {
	resp, err := c.http.Post(c.baseURL+path, "application/json", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		var e types.ErrorResponse
		if json.Unmarshal(body, &e) == nil && e.Error != "" {
			return fmt.Errorf("%s: %s", e.Code, e.Error)
		}
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}

func (c *adminClient) status() (types.ServerStatus, error) {
	var out types.ServerStatus
	resp, err := c.http.Get(c.baseURL + "/status")
	if err != nil {
		return out, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return out, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return out, err
	}
	return out, nil
}
