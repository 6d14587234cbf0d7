package keyturnsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Keyturn HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Task represents the API task model.
type Task struct {
	ID         string   `json:"id"`
	PropertyID string   `json:"property_id"`
	Title      string   `json:"title"`
	Type       string   `json:"type"`
	Status     string   `json:"status"`
	DueAt      string   `json:"due_at"`
	Assignees  []string `json:"assignees"`
	CreatedAt  string   `json:"created_at"`
	UpdatedAt  string   `json:"updated_at"`
}

// Incident represents a damage report on a task.
type Incident struct {
	ID            string   `json:"id"`
	TaskID        string   `json:"task_id"`
	Description   string   `json:"description"`
	Severity      string   `json:"severity"`
	EstimatedCost *float64 `json:"estimated_cost,omitempty"`
	Photos        []string `json:"photos"`
	Status        string   `json:"status"`
	ReportedBy    string   `json:"reported_by"`
	CreatedAt     string   `json:"created_at"`
	UpdatedAt     string   `json:"updated_at"`
}

// Event represents a log entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Kind       string
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d kind=%s body=%s", e.StatusCode, e.Kind, e.Body)
}

// PaginatedTasks wraps list responses with cursors.
type PaginatedTasks struct {
	Items      []Task `json:"items"`
	NextCursor string `json:"next_cursor"`
}

// CreateTask creates a task.
func (c *Client) CreateTask(ctx context.Context, propertyID, title, taskType, dueAt string) (Task, error) {
	body := map[string]any{
		"property_id": propertyID,
		"title":       title,
		"type":        taskType,
		"due_at":      dueAt,
	}
	var resp Task
	err := c.do(ctx, http.MethodPost, "tasks", body, &resp)
	return resp, err
}

// GetTask fetches a task by id.
func (c *Client) GetTask(ctx context.Context, id string) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodGet, "tasks/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// ListTasks returns a page of tasks. Any filter may be empty.
func (c *Client) ListTasks(ctx context.Context, status, assigneeID, dueOn, cursor string) (PaginatedTasks, error) {
	q := url.Values{}
	if status != "" {
		q.Set("status", status)
	}
	if assigneeID != "" {
		q.Set("assignee_id", assigneeID)
	}
	if dueOn != "" {
		q.Set("due_on", dueOn)
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	endpoint := "tasks"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp PaginatedTasks
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// AssignCleaners assigns the cleaner set to a task.
func (c *Client) AssignCleaners(ctx context.Context, taskID string, cleanerIDs []string) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodPost, "tasks/"+url.PathEscape(taskID)+"/assign",
		map[string]any{"cleaner_ids": cleanerIDs}, &resp)
	return resp, err
}

// StartWork starts an assigned task.
func (c *Client) StartWork(ctx context.Context, taskID string) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodPost, "tasks/"+url.PathEscape(taskID)+"/start", nil, &resp)
	return resp, err
}

// SubmitForReview submits an in-progress task.
func (c *Client) SubmitForReview(ctx context.Context, taskID string) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodPost, "tasks/"+url.PathEscape(taskID)+"/submit", nil, &resp)
	return resp, err
}

// Review settles a submitted task; decision is "approve" or "reject".
func (c *Client) Review(ctx context.Context, taskID, decision string) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodPost, "tasks/"+url.PathEscape(taskID)+"/review",
		map[string]any{"decision": decision}, &resp)
	return resp, err
}

// ReportIncident raises an incident on a task.
func (c *Client) ReportIncident(ctx context.Context, taskID, description, severity string, estimatedCost *float64, photos []string) (Incident, error) {
	body := map[string]any{
		"description": description,
		"severity":    severity,
	}
	if estimatedCost != nil {
		body["estimated_cost"] = *estimatedCost
	}
	if len(photos) > 0 {
		body["photos"] = photos
	}
	var resp Incident
	err := c.do(ctx, http.MethodPost, "tasks/"+url.PathEscape(taskID)+"/incidents", body, &resp)
	return resp, err
}

// TaskIncidents lists incidents for a task.
func (c *Client) TaskIncidents(ctx context.Context, taskID string) ([]Incident, error) {
	var resp []Incident
	err := c.do(ctx, http.MethodGet, "tasks/"+url.PathEscape(taskID)+"/incidents", nil, &resp)
	return resp, err
}

// OpenIncidents lists all incidents still awaiting resolution.
func (c *Client) OpenIncidents(ctx context.Context) ([]Incident, error) {
	var resp []Incident
	err := c.do(ctx, http.MethodGet, "incidents/open", nil, &resp)
	return resp, err
}

// ResolveIncident settles an open incident; decision is "approve" or "reject".
func (c *Client) ResolveIncident(ctx context.Context, incidentID, decision string) (Incident, error) {
	var resp Incident
	err := c.do(ctx, http.MethodPost, "incidents/"+url.PathEscape(incidentID)+"/resolve",
		map[string]any{"decision": decision}, &resp)
	return resp, err
}

// ConfirmRepair marks an approved incident as repaired.
func (c *Client) ConfirmRepair(ctx context.Context, incidentID string) (Incident, error) {
	var resp Incident
	err := c.do(ctx, http.MethodPost, "incidents/"+url.PathEscape(incidentID)+"/repair", nil, &resp)
	return resp, err
}

// Events returns recent events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	endpoint := "events"
	if limit > 0 {
		endpoint = fmt.Sprintf("events?limit=%d", limit)
	}
	var resp []Event
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// DevLogin mints a development JWT for the given actor and stores it on the
// client as the bearer token.
func (c *Client) DevLogin(ctx context.Context, actorID string) error {
	var resp struct {
		Token string `json:"token"`
	}
	if err := c.do(ctx, http.MethodPost, "auth/dev/login", map[string]any{"actor_id": actorID}, &resp); err != nil {
		return err
	}
	c.BearerToken = resp.Token
	return nil
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	reqURL := c.base() + "/v1/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, reqURL, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var envelope struct {
			Error struct {
				Kind string `json:"kind"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &envelope) == nil {
			apiErr.Kind = envelope.Error.Kind
		}
		return apiErr
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
