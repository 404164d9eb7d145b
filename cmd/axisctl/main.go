package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/spf13/cobra"
)

const version = "0.1.0"

var (
	serverURL string
	token     string
	companyID string
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "axisctl",
		Short: "Axis CLI - drive tasks, approvals and the dead-letter queue",
		Long: `axisctl is a command-line client for the Axis API.
All output is JSON (pipe through jq for human-readable formatting).`,
		Version:      version,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&serverURL, "server", "s", envOr("AXIS_SERVER", "http://localhost:8080"), "Axis server URL")
	rootCmd.PersistentFlags().StringVar(&token, "token", os.Getenv("AXIS_TOKEN"), "Bearer token")
	rootCmd.PersistentFlags().StringVar(&companyID, "company", os.Getenv("AXIS_COMPANY"), "Company id (only used when auth is disabled)")

	rootCmd.AddCommand(newTaskCommand())
	rootCmd.AddCommand(newRequestCommand())
	rootCmd.AddCommand(newDLQCommand())
	rootCmd.AddCommand(newLoopCommand())
	rootCmd.AddCommand(newActionCommand())
	return rootCmd
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// --- HTTP client ---

type Client struct {
	BaseURL string
	Token   string
	HTTP    *http.Client
}

func newClient() *Client {
	return &Client{
		BaseURL: serverURL,
		Token:   token,
		HTTP:    &http.Client{Timeout: 5 * time.Minute},
	}
}

func (c *Client) do(method, path string, params url.Values, data interface{}) ([]byte, error) {
	u := c.BaseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	var body io.Reader
	if data != nil {
		jsonData, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal data: %w", err)
		}
		body = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequest(method, u, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if data != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("server error (%d): %s", resp.StatusCode, bytes.TrimSpace(respBody))
	}
	return respBody, nil
}

func (c *Client) get(path string, params url.Values) ([]byte, error) {
	return c.do(http.MethodGet, path, params, nil)
}

func (c *Client) post(path string, data interface{}) ([]byte, error) {
	if data == nil {
		data = map[string]interface{}{}
	}
	return c.do(http.MethodPost, path, nil, data)
}

// companyParams scopes list calls when the server runs without auth
func companyParams() url.Values {
	params := url.Values{}
	if companyID != "" {
		params.Set("company_id", companyID)
	}
	return params
}

// outputJSON pretty-prints JSON to w, or the raw bytes when not JSON
func outputJSON(w io.Writer, data []byte) {
	var v interface{}
	if err := json.Unmarshal(data, &v); err != nil {
		fmt.Fprintln(w, string(data))
		return
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.Encode(v) //nolint:errcheck
}
