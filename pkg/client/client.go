package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/nanome-ai/plugin-vault/pkg/protocol"
	"github.com/nanome-ai/plugin-vault/pkg/retry"
)

// DefaultChunkSize is the chunk size used by AddFileChunked.
const DefaultChunkSize = 5 * 1024 * 1024 // 5 MB

// Client talks to a vault server over HTTP.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	retryConfig retry.Config
	apiKey      string

	mu        sync.RWMutex
	authToken string
}

// Config holds client configuration.
type Config struct {
	BaseURL     string
	Timeout     time.Duration
	RetryConfig retry.Config
	AuthToken   string
	APIKey      string
}

// New creates a new client.
func New(cfg Config) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.RetryConfig.MaxAttempts == 0 {
		cfg.RetryConfig = retry.DefaultConfig()
	}

	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout:   10 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				MaxIdleConns:        100,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		},
		retryConfig: cfg.RetryConfig,
		apiKey:      cfg.APIKey,
		authToken:   cfg.AuthToken,
	}
}

// SetAuthToken sets the JWT auth token for requests.
func (c *Client) SetAuthToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.authToken = token
}

// applyAuth adds the auth headers to a request.
func (c *Client) applyAuth(req *http.Request) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}
	if c.apiKey != "" {
		req.Header.Set(protocol.APIKeyHeader, c.apiKey)
	}
}

// filesURL returns the /files URL of rel with every segment escaped.
func (c *Client) filesURL(rel string) string {
	var b strings.Builder
	b.WriteString(c.baseURL)
	b.WriteString("/files")
	for _, seg := range strings.Split(strings.Trim(rel, "/"), "/") {
		if seg == "" {
			continue
		}
		b.WriteByte('/')
		b.WriteString(url.PathEscape(seg))
	}
	return b.String()
}

// safeCommands may be repeated without changing the outcome.
var safeCommands = map[string]bool{
	protocol.CommandVerify:       true,
	protocol.CommandUploadCancel: true,
}

// do sends the request built by build and returns the body of a 2xx
// response. Network errors and 5xx responses are retried only when
// idempotent is set; other requests may already have taken effect.
func (c *Client) do(ctx context.Context, idempotent bool, build func() (*http.Request, error)) ([]byte, error) {
	cfg := c.retryConfig
	if !idempotent {
		cfg.MaxAttempts = 1
	}
	return retry.DoWithResult(ctx, cfg, func() ([]byte, error) {
		req, err := build()
		if err != nil {
			return nil, err
		}
		c.applyAuth(req)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, retry.Retryable(fmt.Errorf("request failed: %w", err))
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, retry.Retryable(fmt.Errorf("read response: %w", err))
		}
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return data, nil
		}

		apiErr := &APIError{Status: resp.StatusCode}
		var envelope protocol.ErrorResponse
		if json.Unmarshal(data, &envelope) == nil {
			apiErr.Message = envelope.Error
		}
		if resp.StatusCode >= 500 {
			return nil, retry.Retryable(apiErr)
		}
		return nil, apiErr
	})
}

func (c *Client) get(ctx context.Context, target, key string) ([]byte, error) {
	return c.do(ctx, true, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return nil, err
		}
		if key != "" {
			req.Header.Set(protocol.KeyHeader, key)
		}
		return req, nil
	})
}

// command posts an url-encoded command for rel and decodes the response
// into out when it is not nil.
func (c *Client) command(ctx context.Context, rel, command, key string, fields url.Values, out any) error {
	form := url.Values{}
	for k, v := range fields {
		form[k] = v
	}
	form.Set(protocol.FieldCommand, command)
	if key != "" {
		form.Set(protocol.FieldKey, key)
	}
	body := form.Encode()

	data, err := c.do(ctx, safeCommands[command], func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.filesURL(rel), strings.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		return req, nil
	})
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse %s response: %w", command, err)
	}
	return nil
}

// multipartCommand posts a multipart command with one file part.
func (c *Client) multipartCommand(ctx context.Context, rel, command, key, field, filename string, data []byte, headers map[string]string, out any) error {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	mw.WriteField(protocol.FieldCommand, command)
	if key != "" {
		mw.WriteField(protocol.FieldKey, key)
	}
	fw, err := mw.CreateFormFile(field, filename)
	if err != nil {
		return err
	}
	if _, err := fw.Write(data); err != nil {
		return err
	}
	if err := mw.Close(); err != nil {
		return err
	}
	body := buf.Bytes()

	resp, err := c.do(ctx, false, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.filesURL(rel), bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", mw.FormDataContentType())
		for k, v := range headers {
			req.Header.Set(k, v)
		}
		return req, nil
	})
	if err != nil {
		return err
	}
	if err := json.Unmarshal(resp, out); err != nil {
		return fmt.Errorf("parse %s response: %w", command, err)
	}
	return nil
}

// Ping checks if the server is reachable.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.get(ctx, c.baseURL+"/health", "")
	return err
}

// ListPath lists the folder at rel.
func (c *Client) ListPath(ctx context.Context, rel, key string) (*protocol.Listing, error) {
	data, err := c.get(ctx, c.filesURL(rel), key)
	if err != nil {
		return nil, err
	}
	var resp protocol.ListResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("parse listing: %w", err)
	}
	return &resp.Listing, nil
}

// GetFile downloads the plaintext content of the file at rel.
func (c *Client) GetFile(ctx context.Context, rel, key string) ([]byte, error) {
	return c.get(ctx, c.filesURL(rel), key)
}

// AddFile uploads data as filename into the folder rel and returns the
// stored path.
func (c *Client) AddFile(ctx context.Context, rel, filename string, data []byte, key string) (string, error) {
	var resp protocol.UploadResponse
	err := c.multipartCommand(ctx, rel, protocol.CommandUpload, key, protocol.FieldFiles, filename, data, nil, &resp)
	if err != nil {
		return "", err
	}
	if len(resp.Files) == 0 {
		return "", fmt.Errorf("upload response lists no files")
	}
	return resp.Files[0], nil
}

// AddFileChunked uploads size bytes from r in chunks of chunkSize, so no
// single request carries a large file. A failed chunk cancels the upload.
func (c *Client) AddFileChunked(ctx context.Context, rel, filename string, r io.Reader, size int64, key string, chunkSize int) (string, error) {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	var init protocol.UploadInitResponse
	err := c.command(ctx, rel, protocol.CommandUploadInit, key, url.Values{
		protocol.FieldName: {filename},
		protocol.FieldSize: {strconv.FormatInt(size, 10)},
	}, &init)
	if err != nil {
		return "", err
	}

	buf := make([]byte, chunkSize)
	var offset int64
	for offset < size {
		n, err := io.ReadFull(r, buf)
		if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
			c.cancelUpload(ctx, rel, init.ID)
			return "", fmt.Errorf("read chunk: %w", err)
		}
		if n == 0 {
			c.cancelUpload(ctx, rel, init.ID)
			return "", fmt.Errorf("short read: got %d of %d bytes", offset, size)
		}

		var resp protocol.UploadChunkResponse
		headers := map[string]string{
			protocol.UploadIDHeader: init.ID,
			protocol.FileNameHeader: filename,
			"Content-Range":         fmt.Sprintf("bytes %d-%d/%d", offset, offset+int64(n), size),
		}
		if err := c.multipartCommand(ctx, rel, protocol.CommandUploadChunk, key, protocol.FieldChunk, "blob", buf[:n], headers, &resp); err != nil {
			c.cancelUpload(ctx, rel, init.ID)
			return "", err
		}
		offset += int64(n)
		if resp.Complete {
			return resp.File, nil
		}
	}
	return "", fmt.Errorf("upload %s did not complete", init.ID)
}

func (c *Client) cancelUpload(ctx context.Context, rel, id string) {
	c.command(ctx, rel, protocol.CommandUploadCancel, "", url.Values{protocol.FieldID: {id}}, nil)
}

// CreatePath creates the folder rel and any missing parents.
func (c *Client) CreatePath(ctx context.Context, rel, key string) error {
	return c.command(ctx, rel, protocol.CommandCreate, key, nil, nil)
}

// DeletePath removes the file or folder rel.
func (c *Client) DeletePath(ctx context.Context, rel, key string) error {
	return c.command(ctx, rel, protocol.CommandDelete, key, nil, nil)
}

// RenamePath renames rel within its folder.
func (c *Client) RenamePath(ctx context.Context, rel, newName, key string) error {
	return c.command(ctx, rel, protocol.CommandRename, key, url.Values{protocol.FieldName: {newName}}, nil)
}

// MovePath moves rel into folder.
func (c *Client) MovePath(ctx context.Context, rel, folder, key string) error {
	return c.command(ctx, rel, protocol.CommandMove, key, url.Values{protocol.FieldFolder: {folder}}, nil)
}

// IsKeyValid reports whether key opens the lock governing rel.
func (c *Client) IsKeyValid(ctx context.Context, rel, key string) (bool, error) {
	if key == "" {
		// verify needs a key; an empty one is valid exactly where a keyless
		// read succeeds
		_, err := c.do(ctx, true, func() (*http.Request, error) {
			return http.NewRequestWithContext(ctx, http.MethodHead, c.filesURL(rel), nil)
		})
		switch {
		case err == nil:
			return true, nil
		case errors.Is(err, ErrForbidden), errors.Is(err, ErrNotFound):
			return false, nil
		}
		return false, err
	}

	var resp protocol.VerifyResponse
	if err := c.command(ctx, rel, protocol.CommandVerify, key, nil, &resp); err != nil {
		return false, err
	}
	return resp.Valid, nil
}

// EncryptFolder locks the folder rel with key.
func (c *Client) EncryptFolder(ctx context.Context, rel, key string) error {
	return c.command(ctx, rel, protocol.CommandEncrypt, key, nil, nil)
}

// DecryptFolder unlocks the folder rel with key.
func (c *Client) DecryptFolder(ctx context.Context, rel, key string) error {
	return c.command(ctx, rel, protocol.CommandDecrypt, key, nil, nil)
}

// Info returns the server's /info document.
func (c *Client) Info(ctx context.Context) (*protocol.InfoResponse, error) {
	data, err := c.get(ctx, c.baseURL+"/info", "")
	if err != nil {
		return nil, err
	}
	var info protocol.InfoResponse
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("parse info: %w", err)
	}
	return &info, nil
}

// ListSupportedExtensions returns the upload allowlist.
func (c *Client) ListSupportedExtensions(ctx context.Context) (protocol.Extensions, error) {
	info, err := c.Info(ctx)
	if err != nil {
		return protocol.Extensions{}, err
	}
	return info.Extensions, nil
}
