package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"warden/internal/scheduler"
	"warden/internal/server/app"
	"warden/internal/session"
)

// Client is a thin HTTP client for the warden-server API.
type Client struct {
	base string
	http *http.Client
}

func NewClient(base string) *Client {
	return &Client{
		base: strings.TrimRight(base, "/"),
		http: &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *Client) doJSON(method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, c.base+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.NewDecoder(resp.Body).Decode(&apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("%s (%d)", apiErr.Error, resp.StatusCode)
		}
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) SubmitTask(req scheduler.SubmitRequest) (scheduler.Task, error) {
	var task scheduler.Task
	err := c.doJSON(http.MethodPost, "/api/tasks", req, &task)
	return task, err
}

func (c *Client) GetTask(taskID string) (scheduler.Task, error) {
	var task scheduler.Task
	err := c.doJSON(http.MethodGet, "/api/tasks/"+taskID, nil, &task)
	return task, err
}

func (c *Client) CancelTask(taskID string) (scheduler.Task, error) {
	var task scheduler.Task
	err := c.doJSON(http.MethodDelete, "/api/tasks/"+taskID, nil, &task)
	return task, err
}

func (c *Client) ListTasks() ([]scheduler.Task, error) {
	var body struct {
		Tasks []scheduler.Task `json:"tasks"`
	}
	err := c.doJSON(http.MethodGet, "/api/tasks", nil, &body)
	return body.Tasks, err
}

func (c *Client) ListSessions(userID string) ([]session.Session, error) {
	var body struct {
		Sessions []session.Session `json:"sessions"`
	}
	err := c.doJSON(http.MethodGet, "/api/sessions?user_id="+userID, nil, &body)
	return body.Sessions, err
}

// StreamTask follows the SSE stream of a task, invoking fn per event.
// It returns when the stream closes or ctx is cancelled.
func (c *Client) StreamTask(ctx context.Context, taskID string, fn func(app.StreamEvent)) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/api/tasks/"+taskID+"/stream", nil)
	if err != nil {
		return err
	}

	// Streaming must not hit the client timeout.
	resp, err := (&http.Client{}).Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var ev app.StreamEvent
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev); err != nil {
			continue
		}
		fn(ev)
	}
	return scanner.Err()
}
