package jobs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	defaultUploadPath = "/upload"
	defaultTimeout    = 30 * time.Second
	uploadField       = "file"
	uploadFilename    = "recording.wav"
	maxReplyBytes     = 1 << 20
)

// Options configures a backend client.
type Options struct {
	BaseURL    string
	UploadPath string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// Client issues single, non-retrying requests against the job backend.
type Client struct {
	base       *url.URL
	uploadPath string
	http       *http.Client
	upload     *http.Client
}

func NewClient(opts Options) (*Client, error) {
	raw := strings.TrimSpace(opts.BaseURL)
	if raw == "" {
		return nil, errors.New("backend url is required")
	}
	base, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse backend url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("backend url must be http or https, got %q", base.Scheme)
	}
	if base.Host == "" {
		return nil, fmt.Errorf("backend url %q has no host", raw)
	}
	base.Path = strings.TrimRight(base.Path, "/")

	uploadPath := strings.TrimSpace(opts.UploadPath)
	if uploadPath == "" {
		uploadPath = defaultUploadPath
	}
	if !strings.HasPrefix(uploadPath, "/") {
		uploadPath = "/" + uploadPath
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	// A redirected upload would re-send the body.
	upload := *httpClient
	upload.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}

	return &Client{base: base, uploadPath: uploadPath, http: httpClient, upload: &upload}, nil
}

func (c *Client) endpoint(path string) string {
	u := *c.base
	u.Path = c.base.Path + path
	u.RawPath = ""
	u.RawQuery = ""
	u.Fragment = ""
	return u.String()
}

// statusEndpoint keeps id as one opaque path segment.
func (c *Client) statusEndpoint(id JobID) string {
	u := *c.base
	u.Path = c.base.Path + "/status/" + string(id)
	u.RawPath = c.base.EscapedPath() + "/status/" + url.PathEscape(string(id))
	u.RawQuery = ""
	u.Fragment = ""
	return u.String()
}

type submitReply struct {
	JobID string `json:"job_id"`
}

// Submit uploads audio as one multipart field and returns the assigned job id.
// It makes exactly one network call; redirects are reported, not followed.
func (c *Client) Submit(ctx context.Context, audio []byte) (JobID, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile(uploadField, uploadFilename)
	if err != nil {
		return "", fmt.Errorf("create multipart field: %w", err)
	}
	if _, err := part.Write(audio); err != nil {
		return "", fmt.Errorf("write multipart field: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("close multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(c.uploadPath), &body)
	if err != nil {
		return "", &SubmissionFailedError{Err: err}
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Accept", "application/json")

	resp, err := c.upload.Do(req)
	if err != nil {
		return "", &SubmissionFailedError{Err: err}
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxReplyBytes))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &SubmissionFailedError{StatusCode: resp.StatusCode}
	}
	if err != nil {
		return "", fmt.Errorf("%w: read body: %v", ErrMalformedResponse, err)
	}

	var reply submitReply
	if err := json.Unmarshal(payload, &reply); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	id := strings.TrimSpace(reply.JobID)
	if id == "" {
		return "", fmt.Errorf("%w: missing job_id", ErrMalformedResponse)
	}
	return JobID(id), nil
}

// statusReply covers both the job record and the {"error": true} reply shape.
// error is a bool for unknown jobs and a string detail on failed ones.
type statusReply struct {
	Status   string          `json:"status"`
	Text     string          `json:"text"`
	Response json.RawMessage `json:"response"`
	Error    json.RawMessage `json:"error"`
	Message  string          `json:"message"`
}

// Status reads the job record once. Any failure to obtain a decodable record
// is a *TransportError.
func (c *Client) Status(ctx context.Context, id JobID) (Job, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.statusEndpoint(id), nil)
	if err != nil {
		return Job{}, &TransportError{Err: err}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return Job{}, &TransportError{Err: err}
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxReplyBytes))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Job{}, &TransportError{StatusCode: resp.StatusCode}
	}
	if err != nil {
		return Job{}, &TransportError{Err: fmt.Errorf("read body: %w", err)}
	}

	var reply statusReply
	if err := json.Unmarshal(payload, &reply); err != nil {
		return Job{}, &TransportError{Err: fmt.Errorf("decode status: %w", err)}
	}
	return reply.job(id)
}

func (r statusReply) job(id JobID) (Job, error) {
	if flag, ok := rawBool(r.Error); ok && flag {
		detail := strings.TrimSpace(r.Message)
		if detail == "" {
			detail = "job not found"
		}
		return Job{ID: id, Status: StatusError, Phase: "error", ErrorDetail: detail}, nil
	}
	if strings.TrimSpace(r.Status) == "" {
		return Job{}, &TransportError{Err: errors.New("decode status: missing status field")}
	}

	job := Job{
		ID:     id,
		Status: normalizeStatus(r.Status),
		Phase:  strings.TrimSpace(r.Status),
	}
	response := rawText(r.Response)
	switch job.Status {
	case StatusDone:
		job.Transcript = r.Text
		job.Response = response
	case StatusError:
		job.ErrorDetail = response
		if _, isFlag := rawBool(r.Error); job.ErrorDetail == "" && !isFlag {
			job.ErrorDetail = rawText(r.Error)
		}
	}
	return job, nil
}

type actionRequest struct {
	Action string `json:"action"`
}

type actionReply struct {
	Status  string `json:"status"`
	Error   bool   `json:"error"`
	Message string `json:"message"`
}

// Action relays a named robot action.
func (c *Client) Action(ctx context.Context, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("action name is required")
	}
	var reply actionReply
	if err := c.postJSON(ctx, "/action", actionRequest{Action: name}, &reply); err != nil {
		return fmt.Errorf("action %q: %w", name, err)
	}
	if reply.Error {
		if reply.Message == "" {
			return fmt.Errorf("action %q rejected", name)
		}
		return fmt.Errorf("action %q rejected: %s", name, reply.Message)
	}
	return nil
}

type pingRequest struct {
	Message string `json:"message"`
}

type pingReply struct {
	Reply string `json:"reply"`
}

// Ping posts a message to the backend's echo endpoint and returns the reply.
func (c *Client) Ping(ctx context.Context, message string) (string, error) {
	var reply pingReply
	if err := c.postJSON(ctx, "/test", pingRequest{Message: message}, &reply); err != nil {
		return "", fmt.Errorf("ping: %w", err)
	}
	return reply.Reply, nil
}

func (c *Client) postJSON(ctx context.Context, path string, in any, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(path), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxReplyBytes))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return nil
}

func rawBool(raw json.RawMessage) (bool, bool) {
	if len(raw) == 0 {
		return false, false
	}
	var v bool
	if err := json.Unmarshal(raw, &v); err != nil {
		return false, false
	}
	return v, true
}

// rawText renders a JSON value as display text: strings unquoted, null empty,
// anything else compact JSON.
func rawText(raw json.RawMessage) string {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return ""
	}
	var s string
	if err := json.Unmarshal(trimmed, &s); err == nil {
		return s
	}
	var compact bytes.Buffer
	if err := json.Compact(&compact, trimmed); err != nil {
		return string(trimmed)
	}
	return compact.String()
}
