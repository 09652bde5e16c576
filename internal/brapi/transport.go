package brapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/cropbase/brapi-mcp/internal/errors"
)

// Transport is the boundary with the HTTP/auth layer. The engines in this
// package only ever see decoded JSON objects or an error; retry and re-auth
// policy live behind this interface.
type Transport interface {
	Get(ctx context.Context, path string, params map[string]string) (map[string]any, error)
	Post(ctx context.Context, path string, body any, params map[string]string) (map[string]any, error)
	DownloadFile(ctx context.Context, fileURL, destination string) error
}

// HTTPTransport is the production Transport: a thin client over net/http
// with a static bearer token and a per-request timeout.
type HTTPTransport struct {
	baseURL string
	token   string
	timeout time.Duration
	client  *http.Client
	log     *slog.Logger
}

// NewHTTPTransport creates a transport for the given server base URL.
// token may be empty for unauthenticated servers.
func NewHTTPTransport(baseURL, token string, timeout time.Duration, log *slog.Logger) *HTTPTransport {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &HTTPTransport{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		timeout: timeout,
		client:  &http.Client{},
		log:     log,
	}
}

// Get performs a GET request against a server path and decodes the JSON body.
func (t *HTTPTransport) Get(ctx context.Context, path string, params map[string]string) (map[string]any, error) {
	return t.do(ctx, http.MethodGet, path, nil, params)
}

// Post performs a POST request with a JSON body against a server path.
func (t *HTTPTransport) Post(ctx context.Context, path string, body any, params map[string]string) (map[string]any, error) {
	return t.do(ctx, http.MethodPost, path, body, params)
}

func (t *HTTPTransport) do(ctx context.Context, method, path string, body any, params map[string]string) (map[string]any, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	endpoint := t.baseURL + "/" + strings.TrimLeft(path, "/")
	if len(params) > 0 {
		q := url.Values{}
		for k, v := range params {
			q.Set(k, v)
		}
		endpoint += "?" + q.Encode()
	}

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if t.token != "" {
		req.Header.Set("Authorization", "Bearer "+t.token)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		t.log.Warn("request failed", "method", method, "path", path, "error", err)
		return nil, errors.NewTransport(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		t.log.Warn("http error", "method", method, "path", path,
			"status", resp.StatusCode, "body", string(snippet))
		return nil, errors.NewTransport(fmt.Errorf("%s %s: HTTP %d", method, path, resp.StatusCode))
	}

	var decoded map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decode response from %s: %w", path, err)
	}
	return decoded, nil
}

// DownloadFile streams a remote file to a local destination.
func (t *HTTPTransport) DownloadFile(ctx context.Context, fileURL, destination string) error {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fileURL, nil)
	if err != nil {
		return err
	}
	if t.token != "" {
		req.Header.Set("Authorization", "Bearer "+t.token)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return errors.NewTransport(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return errors.NewTransport(fmt.Errorf("download %s: HTTP %d", fileURL, resp.StatusCode))
	}

	f, err := os.Create(destination)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := io.Copy(f, resp.Body); err != nil {
		os.Remove(destination)
		return err
	}
	return nil
}
