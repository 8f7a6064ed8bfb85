package services

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

	"github.com/desertthunder/dlx/internal/models"
	"github.com/desertthunder/dlx/internal/shared"
)

const DefaultBaseURL = "http://localhost:8080"

// APIService makes HTTP requests against a running dlx server.
type APIService struct {
	baseURL    string
	httpClient *http.Client
}

// NewAPIService creates a client for the server at baseURL.
func NewAPIService(baseURL string, client *http.Client) *APIService {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if client == nil {
		client = http.DefaultClient
	}

	return &APIService{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: client,
	}
}

// APIResponse represents a raw API response with status and body.
type APIResponse struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
	IsJSON     bool
	JSONData   any
}

// OK reports whether the response has a 2xx status.
func (r *APIResponse) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// APIError is a non-2xx response decoded from the server's error body.
type APIError struct {
	StatusCode int
	Category   models.Category
	Message    string
}

func (e *APIError) Error() string {
	if e.Category == "" {
		return fmt.Sprintf("%v: status %d", shared.ErrAPIRequest, e.StatusCode)
	}
	return fmt.Sprintf("%v: %d %s: %s", shared.ErrAPIRequest, e.StatusCode, e.Category, e.Message)
}

func (e *APIError) Unwrap() error {
	if e.StatusCode == http.StatusNotFound {
		return shared.ErrTaskNotFound
	}
	return shared.ErrAPIRequest
}

// TaskView mirrors a task snapshot as rendered by the server.
type TaskView struct {
	models.Task
	DownloadURL string `json:"download_url,omitempty"`
}

// Submission is the acknowledgement returned for asynchronous requests.
type Submission struct {
	TaskID    string `json:"task_id"`
	Message   string `json:"message"`
	StatusURL string `json:"status_url"`
}

// Get performs a GET request to the specified path and returns the raw response.
func (a *APIService) Get(ctx context.Context, path string) (*APIResponse, error) {
	return a.do(ctx, http.MethodGet, path, nil)
}

// Post performs a POST request with the given JSON data and returns the raw response.
func (a *APIService) Post(ctx context.Context, path string, data []byte) (*APIResponse, error) {
	return a.do(ctx, http.MethodPost, path, data)
}

// Delete performs a DELETE request and returns the raw response.
func (a *APIService) Delete(ctx context.Context, path string) (*APIResponse, error) {
	return a.do(ctx, http.MethodDelete, path, nil)
}

func (a *APIService) do(ctx context.Context, method, path string, data []byte) (*APIResponse, error) {
	var body io.Reader
	if data != nil {
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if data != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	apiResp := &APIResponse{
		StatusCode: resp.StatusCode,
		Headers:    resp.Header,
		Body:       raw,
	}

	var jsonData any
	if err := json.Unmarshal(raw, &jsonData); err == nil {
		apiResp.IsJSON = true
		apiResp.JSONData = jsonData
	}

	return apiResp, nil
}

// Submit posts a request body to an asynchronous endpoint such as /download/track.
func (a *APIService) Submit(ctx context.Context, path string, payload any) (*Submission, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	var sub Submission
	if err := a.decode(a.Post(ctx, path, data))(&sub); err != nil {
		return nil, err
	}
	return &sub, nil
}

// Task fetches a single task snapshot.
func (a *APIService) Task(ctx context.Context, id string) (*TaskView, error) {
	var view TaskView
	if err := a.decode(a.Get(ctx, "/status/"+url.PathEscape(id)))(&view); err != nil {
		return nil, err
	}
	return &view, nil
}

// Tasks lists tasks, optionally filtered by state.
func (a *APIService) Tasks(ctx context.Context, states ...models.State) ([]TaskView, error) {
	path := "/tasks"
	if len(states) > 0 {
		names := make([]string, len(states))
		for i, s := range states {
			names[i] = string(s)
		}
		path += "?state=" + url.QueryEscape(strings.Join(names, ","))
	}

	var out struct {
		Tasks []TaskView `json:"tasks"`
	}
	if err := a.decode(a.Get(ctx, path))(&out); err != nil {
		return nil, err
	}
	return out.Tasks, nil
}

// DeleteTask removes a finished task and its artifact.
func (a *APIService) DeleteTask(ctx context.Context, id string) error {
	return a.decode(a.Delete(ctx, "/task/"+url.PathEscape(id)))(nil)
}

// Wait polls a task every interval until it reaches a terminal state or ctx ends.
func (a *APIService) Wait(ctx context.Context, id string, interval time.Duration) (*TaskView, error) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		view, err := a.Task(ctx, id)
		if err != nil {
			return nil, err
		}
		if view.State.IsTerminal() {
			return view, nil
		}

		select {
		case <-ctx.Done():
			return view, fmt.Errorf("%w: waiting for task %s: %w", shared.ErrTimeout, id, ctx.Err())
		case <-ticker.C:
		}
	}
}

// decode turns a raw response into a JSON decode step, or an [APIError] for non-2xx statuses.
func (a *APIService) decode(resp *APIResponse, err error) func(v any) error {
	return func(v any) error {
		if err != nil {
			return err
		}
		if !resp.OK() {
			apiErr := &APIError{StatusCode: resp.StatusCode}
			var problem struct {
				Error struct {
					Category models.Category `json:"category"`
					Message  string          `json:"message"`
				} `json:"error"`
			}
			if json.Unmarshal(resp.Body, &problem) == nil {
				apiErr.Category = problem.Error.Category
				apiErr.Message = problem.Error.Message
			}
			return apiErr
		}
		if v == nil {
			return nil
		}
		if err := json.Unmarshal(resp.Body, v); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
		return nil
	}
}
