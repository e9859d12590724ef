package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// client calls the ramify HTTP API.
type client struct {
	server string
	user   string
	http   *http.Client
}

func newClient(server, user string, timeout time.Duration) *client {
	return &client{
		server: strings.TrimRight(server, "/"),
		user:   user,
		http:   &http.Client{Timeout: timeout},
	}
}

func (c *client) do(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	var rd io.Reader
	if body != nil {
		switch b := body.(type) {
		case []byte:
			rd = bytes.NewReader(b)
		default:
			data, err := json.Marshal(b)
			if err != nil {
				return err
			}
			rd = bytes.NewReader(data)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.server+path, rd)
	if err != nil {
		return err
	}
	if rd != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("X-Session-ID", "cli:"+c.user)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		var e struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(data, &e) == nil && e.Error != "" {
			return fmt.Errorf("server error (%d): %s", resp.StatusCode, e.Error)
		}
		return fmt.Errorf("server error (%d): %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	if out == nil {
		return nil
	}
	if raw, ok := out.(*json.RawMessage); ok {
		*raw = data
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// chat sends one line through the REST chat gateway.
func (c *client) chat(ctx context.Context, content string) (string, string, error) {
	var msg struct {
		Persona string `json:"persona"`
		Content string `json:"content"`
	}
	err := c.do(ctx, http.MethodPost, "/api/gateway/rest/message", map[string]string{
		"channel_id": c.user,
		"user_id":    c.user,
		"user_name":  c.user,
		"content":    content,
	}, &msg)
	return msg.Persona, msg.Content, err
}

func (c *client) ask(ctx context.Context, route, input, currentTime string) (string, error) {
	body := map[string]string{"userInput": input}
	if currentTime != "" {
		body["currentTime"] = currentTime
	}
	var out struct {
		Result string `json:"result"`
	}
	err := c.do(ctx, http.MethodPost, route, body, &out)
	return out.Result, err
}

func (c *client) schedule(ctx context.Context) (json.RawMessage, error) {
	var raw json.RawMessage
	err := c.do(ctx, http.MethodGet, "/api/schedule", nil, &raw)
	return raw, err
}

func (c *client) updateSchedule(ctx context.Context, schedule []byte) (string, error) {
	body := []byte(`{"schedule":` + string(bytes.TrimSpace(schedule)) + `}`)
	var out struct {
		Result string `json:"result"`
	}
	err := c.do(ctx, http.MethodPost, "/update-schedule", body, &out)
	return out.Result, err
}

func (c *client) printStatus(ctx context.Context, w io.Writer) error {
	var health struct {
		Status    string   `json:"status"`
		Providers []string `json:"providers"`
		Sessions  int      `json:"sessions"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/health", nil, &health); err != nil {
		return err
	}
	fmt.Fprintf(w, "Server: %s | Providers: %s | Sessions: %d\n",
		health.Status, strings.Join(health.Providers, ", "), health.Sessions)

	var statuses []struct {
		Platform  string `json:"platform"`
		Connected bool   `json:"connected"`
		Error     string `json:"error,omitempty"`
		Details   string `json:"details,omitempty"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/gateway/status", nil, &statuses); err != nil {
		return err
	}
	fmt.Fprintln(w, "Gateway Status:")
	for _, s := range statuses {
		icon := "\033[31m✗\033[0m"
		if s.Connected {
			icon = "\033[32m✓\033[0m"
		}
		fmt.Fprintf(w, "  %s %s", icon, s.Platform)
		if s.Details != "" {
			fmt.Fprintf(w, " (%s)", s.Details)
		}
		if s.Error != "" {
			fmt.Fprintf(w, " \033[31m%s\033[0m", s.Error)
		}
		fmt.Fprintln(w)
	}
	return nil
}
