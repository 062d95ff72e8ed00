// Package poeclient is the upstream HTTP client: it issues chat requests
// against the Poe-style upstream, decodes its SSE event stream into
// poetypes.Event, uploads attachments in a single batch call, and fetches
// the model catalog. The wire transport to the upstream SDK itself is out
// of this gateway's specified scope (spec.md §1 "the upstream SDK itself
// are treated as external"); this package owns only the HTTP framing
// around it, grounded on the teacher's own upstream-facing proxy.
package poeclient

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"strings"

	"github.com/andybalholm/brotli"

	"github.com/poe2oai/gateway/internal/attachments"
	"github.com/poe2oai/gateway/internal/config"
	"github.com/poe2oai/gateway/internal/poetypes"
)

const (
	defaultBaseURL       = "https://api.poe.com/bot"
	defaultFileUploadURL = "https://www.quora.com/poe_api/file_upload_3RD_PARTY_POST"
	defaultV1BaseURL     = "https://api.poe.com/v1"

	// DefaultCDNPrefix identifies URLs the upstream's own CDN already
	// serves — internal/attachments.Normalizer treats these as
	// pass-through (no re-upload needed) and recognizes them in an
	// assistant message's text for back-reference injection.
	DefaultCDNPrefix = "https://psc2.cf2.poecdn.net/"
)

// Client talks to the upstream on behalf of every request-scoped caller;
// it is safe for concurrent use (one *http.Client shared across requests,
// same as the teacher's handlers.ProxyHandler sharing http.DefaultClient).
type Client struct {
	httpClient     *http.Client
	baseURL        string
	fileUploadURL  string
	v1BaseURL      string
	logger         *slog.Logger
}

type Option func(*Client)

func WithBaseURL(url string) Option {
	return func(c *Client) { c.baseURL = url }
}

func WithFileUploadURL(url string) Option {
	return func(c *Client) { c.fileUploadURL = url }
}

func WithV1BaseURL(url string) Option {
	return func(c *Client) { c.v1BaseURL = url }
}

func New(logger *slog.Logger, opts ...Option) *Client {
	c := &Client{
		httpClient:    &http.Client{Timeout: 0}, // streaming: no client-side timeout, spec.md §5 "Timeouts: none at the pipeline level"
		baseURL:       defaultBaseURL,
		fileUploadURL: defaultFileUploadURL,
		v1BaseURL:     defaultV1BaseURL,
		logger:        logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// EventStream yields decoded upstream events in arrival order. The SSE
// body stays open after Done is produced; the caller closes it with Close.
type EventStream struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
}

func (s *EventStream) Close() error {
	return s.body.Close()
}

// Next returns the next decoded event, or (Event{}, false, err) at stream
// end (err is nil on clean EOF).
func (s *EventStream) Next() (poetypes.Event, bool, error) {
	for s.scanner.Scan() {
		line := strings.TrimSpace(s.scanner.Text())
		if line == "" || strings.HasPrefix(line, ":") {
			continue
		}
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		payload := strings.TrimPrefix(line, "data: ")
		if payload == "[DONE]" {
			return poetypes.Event{Type: poetypes.EventDone}, true, nil
		}
		ev, err := poetypes.DecodeEvent([]byte(payload))
		if err != nil {
			return poetypes.Event{}, false, fmt.Errorf("decode upstream frame: %w", err)
		}
		return ev, true, nil
	}
	if err := s.scanner.Err(); err != nil {
		return poetypes.Event{}, false, fmt.Errorf("read upstream stream: %w", err)
	}
	return poetypes.Event{}, false, nil
}

// StreamChat issues req against the upstream and returns a decoded event
// stream. The caller owns Close()ing it.
func (c *Client) StreamChat(ctx context.Context, apiToken string, req poetypes.UpstreamRequest) (*EventStream, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal upstream request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build upstream request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("Authorization", "Bearer "+apiToken)

	c.logger.Debug("sending upstream chat request", "messages", len(req.Query), "conversation_id", req.ConversationID)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.logger.Error("upstream chat request failed", "error", err)
		return nil, fmt.Errorf("upstream request failed: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		errBody, _ := io.ReadAll(resp.Body)
		c.logger.Error("upstream returned non-200 status", "status", resp.StatusCode)
		return nil, fmt.Errorf("upstream returned status %d: %s", resp.StatusCode, string(errBody))
	}

	reader, err := decompress(resp)
	if err != nil {
		resp.Body.Close()
		return nil, fmt.Errorf("decompress upstream response: %w", err)
	}

	return &EventStream{body: resp.Body, scanner: bufio.NewScanner(reader)}, nil
}

// decompress mirrors the teacher's internal/handlers/proxy.go
// decompressReader: the upstream may gzip- or brotli-encode its SSE body.
func decompress(resp *http.Response) (io.Reader, error) {
	switch resp.Header.Get("Content-Encoding") {
	case "gzip":
		return gzip.NewReader(resp.Body)
	case "br":
		return brotli.NewReader(resp.Body), nil
	default:
		return resp.Body, nil
	}
}

// BatchUpload implements internal/attachments.Uploader: it issues one
// multipart POST carrying every pending item (fetching remote URLs, reading
// local temp files) and returns the resulting CDN URLs in enqueue order
// (spec.md §4.3 "Batch response indices correspond to enqueue order").
func (c *Client) BatchUpload(ctx context.Context, items []attachments.PendingUpload) ([]string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	for i, item := range items {
		part, err := writer.CreateFormFile(fmt.Sprintf("file%d", i), fmt.Sprintf("upload-%d", i))
		if err != nil {
			return nil, fmt.Errorf("create multipart field: %w", err)
		}
		if err := c.copyPendingUpload(ctx, part, item); err != nil {
			return nil, fmt.Errorf("read pending upload %d: %w", i, err)
		}
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close multipart writer: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.fileUploadURL, &buf)
	if err != nil {
		return nil, fmt.Errorf("build upload request: %w", err)
	}
	httpReq.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("upload request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("upload returned status %d: %s", resp.StatusCode, string(body))
	}

	var result struct {
		URLs []string `json:"urls"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode upload response: %w", err)
	}
	return result.URLs, nil
}

// copyPendingUpload streams a pending upload's bytes into w: a local temp
// file (data-URI case) is read directly, a bare URL (HTTP case) is fetched
// first.
func (c *Client) copyPendingUpload(ctx context.Context, w io.Writer, item attachments.PendingUpload) error {
	if item.Path != "" {
		f, err := os.Open(item.Path)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(w, f)
		return err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, item.URL, nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch %s: status %d", item.URL, resp.StatusCode)
	}
	_, err = io.Copy(w, resp.Body)
	return err
}

// FetchModelList implements internal/models.Fetcher: it retrieves the
// upstream catalog via either the v1/models API or the traditional bot
// list API, per cfg.UseV1API (original_source/src/handlers/models.rs's
// get_models_from_api branch).
func (c *Client) FetchModelList(ctx context.Context, cfg *config.Config) ([]poetypes.ModelInfo, error) {
	url := c.baseURL + "/model_list"
	if cfg.UseV1API {
		url = c.v1BaseURL + "/models"
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build model list request: %w", err)
	}
	if cfg.UseV1API && cfg.APIToken != "" {
		httpReq.Header.Set("Authorization", "Bearer "+cfg.APIToken)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("model list request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("model list request returned status %d: %s", resp.StatusCode, string(body))
	}

	var result poetypes.ModelListResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode model list response: %w", err)
	}
	return result.Data, nil
}
