package course

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Compile-time interface checks.
var (
	_ Store         = (*HTTPClient)(nil)
	_ Conversations = (*HTTPClient)(nil)
	_ Generator     = (*HTTPClient)(nil)
)

const apiPrefix = "/api/v1"

// HTTPClient talks to the course service over its REST and streaming
// endpoints.
type HTTPClient struct {
	baseURL string
	http    *http.Client
	stream  *http.Client
	logger  *slog.Logger
}

// ClientOption configures an HTTPClient.
type ClientOption func(*HTTPClient)

// WithTimeout sets the timeout of non-streaming requests. Streaming
// requests are bounded only by their context.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *HTTPClient) {
		c.http.Timeout = d
	}
}

// WithHTTPClient replaces the underlying *http.Client for both request
// kinds. Its Timeout also applies to streams.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *HTTPClient) {
		c.http = hc
		c.stream = hc
	}
}

// WithLogger sets the client logger.
func WithLogger(l *slog.Logger) ClientOption {
	return func(c *HTTPClient) {
		c.logger = l
	}
}

// NewHTTPClient creates a client for the service rooted at baseURL.
func NewHTTPClient(baseURL string, opts ...ClientOption) *HTTPClient {
	c := &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
		stream:  &http.Client{},
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ---------------------------------------------------------------------------
// Store
// ---------------------------------------------------------------------------

// Create stores a new course.
func (c *HTTPClient) Create(ctx context.Context, info Info) (*Course, error) {
	var out Course
	if err := c.do(ctx, "create course", http.MethodPost, "/courses", info, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Get fetches one course.
func (c *HTTPClient) Get(ctx context.Context, id string) (*Course, error) {
	var out Course
	if err := c.do(ctx, "get course", http.MethodGet, "/courses/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// List fetches a page of courses.
func (c *HTTPClient) List(ctx context.Context, skip, limit int) ([]Course, error) {
	q := url.Values{}
	if skip > 0 {
		q.Set("skip", strconv.Itoa(skip))
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	path := "/courses"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var out []Course
	if err := c.do(ctx, "list courses", http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// StageUpdate is the body of a stage update request.
type StageUpdate struct {
	Markdown string `json:"markdown"`
}

// UpdateStage replaces the content of one stage.
func (c *HTTPClient) UpdateStage(ctx context.Context, id string, stage StageID, content string) error {
	if !stage.Valid() {
		return fmt.Errorf("course: update stage: invalid stage %d", int(stage))
	}
	path := "/courses/" + url.PathEscape(id) + "/" + stage.Slug()
	return c.do(ctx, "update "+stage.Slug(), http.MethodPut, path, StageUpdate{Markdown: content}, nil)
}

// Delete removes a course.
func (c *HTTPClient) Delete(ctx context.Context, id string) error {
	return c.do(ctx, "delete course", http.MethodDelete, "/courses/"+url.PathEscape(id), nil, nil)
}

// ExportMarkdown downloads the server-rendered markdown of a course.
func (c *HTTPClient) ExportMarkdown(ctx context.Context, id string) (string, error) {
	resp, err := c.send(ctx, c.http, "export markdown", http.MethodGet, "/courses/"+url.PathEscape(id)+"/export/markdown", nil, "text/markdown")
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("course: export markdown: %w", err)
	}
	return string(body), nil
}

// ---------------------------------------------------------------------------
// Conversations
// ---------------------------------------------------------------------------

// MessageBatch is the wire form of a list of conversation messages.
type MessageBatch struct {
	Messages []Message `json:"messages"`
}

// AppendMessages adds messages to the end of the course conversation.
func (c *HTTPClient) AppendMessages(ctx context.Context, courseID string, msgs ...Message) error {
	if len(msgs) == 0 {
		return nil
	}
	return c.do(ctx, "append messages", http.MethodPost, conversationPath(courseID), MessageBatch{Messages: msgs}, nil)
}

// Messages returns the course conversation in order.
func (c *HTTPClient) Messages(ctx context.Context, courseID string) ([]Message, error) {
	var out MessageBatch
	if err := c.do(ctx, "get messages", http.MethodGet, conversationPath(courseID), nil, &out); err != nil {
		return nil, err
	}
	return out.Messages, nil
}

// ClearMessages deletes the course conversation.
func (c *HTTPClient) ClearMessages(ctx context.Context, courseID string) error {
	return c.do(ctx, "clear messages", http.MethodDelete, conversationPath(courseID), nil, nil)
}

func conversationPath(courseID string) string {
	return "/courses/" + url.PathEscape(courseID) + "/conversation"
}

// ---------------------------------------------------------------------------
// Generator
// ---------------------------------------------------------------------------

// StreamWorkflow opens a staged-generation stream.
func (c *HTTPClient) StreamWorkflow(ctx context.Context, req WorkflowRequest) (io.ReadCloser, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	resp, err := c.send(ctx, c.stream, "workflow stream", http.MethodPost, "/workflow/stream", req, "text/event-stream")
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// StreamChat opens a conversational stream.
func (c *HTTPClient) StreamChat(ctx context.Context, req ChatRequest) (io.ReadCloser, error) {
	resp, err := c.send(ctx, c.stream, "chat stream", http.MethodPost, "/chat/stream", req, "text/event-stream")
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// ---------------------------------------------------------------------------
// Plumbing
// ---------------------------------------------------------------------------

// do performs a JSON request and decodes a JSON response into out when out
// is non-nil.
func (c *HTTPClient) do(ctx context.Context, op, method, path string, in, out any) error {
	resp, err := c.send(ctx, c.http, op, method, path, in, "application/json")
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("course: %s: decode response: %w", op, err)
	}
	return nil
}

// send issues the request and returns the response when the status is 2xx.
// Otherwise the body is consumed into an *HTTPError.
func (c *HTTPClient) send(ctx context.Context, hc *http.Client, op, method, path string, in any, accept string) (*http.Response, error) {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return nil, fmt.Errorf("course: %s: marshal request: %w", op, err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+apiPrefix+path, body)
	if err != nil {
		return nil, fmt.Errorf("course: %s: create request: %w", op, err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", accept)

	resp, err := hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("course: %s: %w", op, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		c.logger.Debug("course service returned error", "op", op, "status", resp.StatusCode)
		return nil, &HTTPError{Op: op, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}
	return resp, nil
}
