package cli

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

	"github.com/hyperjump/ragindex/internal/models"
)

// ErrUnchanged is returned by IndexFile when the server skipped an unmodified file.
var ErrUnchanged = errors.New("file unchanged")

// Client talks to a running ragindex server.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient returns a client for the server at baseURL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 2 * time.Minute},
	}
}

// StatusError is a non-2xx response.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.Code, e.Message)
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) (int, error) {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return 0, err
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return 0, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(resp.Body)
		var e struct {
			Error string `json:"error"`
		}
		msg := strings.TrimSpace(string(b))
		if json.Unmarshal(b, &e) == nil && e.Error != "" {
			msg = e.Error
		}
		return resp.StatusCode, &StatusError{Code: resp.StatusCode, Message: msg}
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode response: %w", err)
		}
	}
	return resp.StatusCode, nil
}

// Ping reports whether a server answers at the base URL.
func (c *Client) Ping(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	_, err := c.do(ctx, http.MethodGet, "/health", nil, nil)
	return err == nil
}

// Search runs a similarity search.
func (c *Client) Search(ctx context.Context, q *models.SearchQuery) (*models.SearchResponse, error) {
	var out models.SearchResponse
	if _, err := c.do(ctx, http.MethodPost, "/api/v1/rag/search", q, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Context assembles a grounding context bundle.
func (c *Client) Context(ctx context.Context, q *models.ContextQuery) (*models.ContextBundle, error) {
	var out models.ContextBundle
	if _, err := c.do(ctx, http.MethodPost, "/api/v1/rag/context", q, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Datasets lists indexed datasets.
func (c *Client) Datasets(ctx context.Context, previews bool) ([]models.DatasetSummary, error) {
	var out struct {
		Datasets []models.DatasetSummary `json:"datasets"`
	}
	path := "/api/v1/rag/datasets"
	if previews {
		path += "?documents=true"
	}
	if _, err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Datasets, nil
}

// RemoveDataset deletes a dataset.
func (c *Client) RemoveDataset(ctx context.Context, id string) (*models.RemoveResult, error) {
	var out models.RemoveResult
	if _, err := c.do(ctx, http.MethodDelete, "/api/v1/rag/datasets/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Stats returns the server's status report.
func (c *Client) Stats(ctx context.Context) (*models.StatusReport, error) {
	var out models.StatusReport
	if _, err := c.do(ctx, http.MethodGet, "/api/v1/rag/stats", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// IndexFile asks the server to ingest one file. It returns ErrUnchanged when
// the server skipped it.
func (c *Client) IndexFile(ctx context.Context, path string) (*models.IndexResult, error) {
	var raw json.RawMessage
	code, err := c.do(ctx, http.MethodPost, "/api/v1/rag/index-file", map[string]string{"path": path}, &raw)
	if err != nil {
		return nil, err
	}
	if code == http.StatusOK {
		return nil, ErrUnchanged
	}
	var out models.IndexResult
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &out, nil
}

// WatchList returns the watched directories.
func (c *Client) WatchList(ctx context.Context) ([]string, error) {
	var out struct {
		Directories []string `json:"directories"`
	}
	if _, err := c.do(ctx, http.MethodGet, "/api/v1/watch/directories", nil, &out); err != nil {
		return nil, err
	}
	return out.Directories, nil
}

// WatchAdd starts watching dir and indexes its existing files.
func (c *Client) WatchAdd(ctx context.Context, dir string) error {
	_, err := c.do(ctx, http.MethodPost, "/api/v1/watch/directories", map[string]interface{}{"path": dir, "sync": true}, nil)
	return err
}

// WatchRemove stops watching dir.
func (c *Client) WatchRemove(ctx context.Context, dir string) error {
	_, err := c.do(ctx, http.MethodDelete, "/api/v1/watch/directories?path="+url.QueryEscape(dir), nil, nil)
	return err
}
