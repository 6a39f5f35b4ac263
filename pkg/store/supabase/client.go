// Package supabase talks to the Supabase Storage REST API.
package supabase

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/menta2k/cover-studio/pkg/store"
)

// StatusError is a non-2xx response from the storage API.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("storage: HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("storage: HTTP %d: %s", e.StatusCode, e.Message)
}

// Client is an ObjectStore backed by one storage bucket.
type Client struct {
	baseURL    string
	apiKey     string
	bucket     string
	httpClient *http.Client
	timeout    time.Duration
}

var _ store.ObjectStore = (*Client)(nil)

// NewClient creates a client for bucket at projectURL using an anon or
// service key.
func NewClient(projectURL, apiKey, bucket string) (*Client, error) {
	if projectURL == "" {
		return nil, errors.New("supabase: project URL is required")
	}
	u, err := url.Parse(projectURL)
	if err != nil {
		return nil, fmt.Errorf("invalid project URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported URL scheme: %s (only http and https are supported)", u.Scheme)
	}
	if bucket == "" {
		bucket = store.DefaultBucket
	}

	return &Client{
		baseURL: strings.TrimSuffix(projectURL, "/"),
		apiKey:  apiKey,
		bucket:  bucket,
		httpClient: &http.Client{
			Timeout: 2 * time.Minute,
		},
		timeout: 30 * time.Second,
	}, nil
}

// WithHTTPClient replaces the underlying HTTP client.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.httpClient = hc
	return c
}

// Bucket returns the bucket name.
func (c *Client) Bucket() string {
	return c.bucket
}

type listRequest struct {
	Prefix string       `json:"prefix"`
	Limit  int          `json:"limit,omitempty"`
	Offset int          `json:"offset"`
	SortBy store.SortBy `json:"sortBy"`
}

type listedObject struct {
	Name      string `json:"name"`
	ID        string `json:"id"`
	CreatedAt string `json:"created_at"`
	Metadata  struct {
		Size int64 `json:"size"`
	} `json:"metadata"`
}

// List returns a page of objects under prefix.
func (c *Client) List(ctx context.Context, prefix string, opts store.ListOptions) ([]store.Entry, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	sortBy := opts.SortBy
	if sortBy.Column == "" {
		sortBy = store.SortBy{Column: "name", Order: store.Asc}
	}
	body, err := json.Marshal(listRequest{
		Prefix: prefix,
		Limit:  opts.Limit,
		Offset: opts.Offset,
		SortBy: sortBy,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal list request: %w", err)
	}

	respBody, err := c.do(ctx, http.MethodPost, "/storage/v1/object/list/"+url.PathEscape(c.bucket), bytes.NewReader(body), "application/json", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to list objects: %w", err)
	}

	var objects []listedObject
	if err := json.Unmarshal(respBody, &objects); err != nil {
		return nil, fmt.Errorf("failed to parse list response: %w", err)
	}

	entries := make([]store.Entry, 0, len(objects))
	for _, o := range objects {
		e := store.Entry{Name: o.Name, ID: o.ID, Size: o.Metadata.Size}
		if o.CreatedAt != "" {
			if t, err := time.Parse(time.RFC3339Nano, o.CreatedAt); err == nil {
				e.CreatedAt = t
			}
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// PublicURL returns the unauthenticated URL of name.
func (c *Client) PublicURL(name string) string {
	return c.baseURL + "/storage/v1/object/public/" + url.PathEscape(c.bucket) + "/" + escapeName(name)
}

// Upload stores data under name. Without Upsert an existing name yields
// store.ErrExists.
func (c *Client) Upload(ctx context.Context, name string, data []byte, opts store.UploadOptions) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	contentType := opts.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	headers := map[string]string{
		"x-upsert":      fmt.Sprintf("%t", opts.Upsert),
		"cache-control": "max-age=3600",
	}

	_, err := c.do(ctx, http.MethodPost, "/storage/v1/object/"+url.PathEscape(c.bucket)+"/"+escapeName(name), bytes.NewReader(data), contentType, headers)
	if err != nil {
		var se *StatusError
		if errors.As(err, &se) && (se.StatusCode == http.StatusConflict || strings.Contains(strings.ToLower(se.Message), "already exists")) {
			return fmt.Errorf("upload %s: %w", name, store.ErrExists)
		}
		return fmt.Errorf("failed to upload %s: %w", name, err)
	}
	return nil
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, hasDeadline := ctx.Deadline(); hasDeadline {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.timeout)
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, contentType string, headers map[string]string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	if c.apiKey != "" {
		req.Header.Set("apikey", c.apiKey)
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{StatusCode: resp.StatusCode, Message: errorMessage(respBody)}
	}
	return respBody, nil
}

// errorMessage pulls a message out of the API's JSON error body.
func errorMessage(body []byte) string {
	var apiErr struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(body, &apiErr); err == nil {
		if apiErr.Message != "" {
			return apiErr.Message
		}
		if apiErr.Error != "" {
			return apiErr.Error
		}
	}
	return strings.TrimSpace(string(body))
}

func escapeName(name string) string {
	parts := strings.Split(name, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}
