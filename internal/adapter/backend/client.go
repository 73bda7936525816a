// Package backend is the HTTP client for the remote generation service:
// asset uploads, presentation generation, health and spoken questions.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
	"time"

	"live-presenter/internal/domain"

	"github.com/golang/glog"
)

const (
	defaultBaseURL = "http://localhost:8000"
	defaultTimeout = 10 * time.Minute
	// maxErrorBody caps how much of a failed response is kept in the error.
	maxErrorBody = 4 << 10
)

// Option configures a Client.
type Option func(*options)

type options struct {
	httpClient *http.Client
}

// WithHTTPClient overrides the HTTP client used for requests.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.httpClient = c }
}

// Client implements the workflow's Uploader, Generator and HealthChecker
// and the capture session's QuestionAnswerer.
type Client struct {
	baseURL string
	client  *http.Client
}

func NewClient(baseURL string, opts ...Option) *Client {
	o := &options{httpClient: &http.Client{Timeout: defaultTimeout}}
	for _, opt := range opts {
		opt(o)
	}
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  o.httpClient,
	}
}

type uploadResponse struct {
	OK   bool   `json:"ok"`
	Blob string `json:"blob"`
	URL  string `json:"url"`
}

// Upload posts f as multipart field "file" to /upload/{kind}.
func (c *Client) Upload(ctx context.Context, kind domain.AssetKind, f domain.File) (domain.RemoteRef, error) {
	op := "upload " + string(kind)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if err := writeFilePart(mw, "file", f.Name, f.ContentType, f.Data); err != nil {
		return domain.RemoteRef{}, domain.NewError(domain.KindState, op, err)
	}
	if err := mw.Close(); err != nil {
		return domain.RemoteRef{}, domain.NewError(domain.KindState, op, err)
	}

	var resp uploadResponse
	if err := c.do(ctx, op, http.MethodPost, "/upload/"+string(kind), mw.FormDataContentType(), &body, &resp); err != nil {
		return domain.RemoteRef{}, err
	}
	if !resp.OK || resp.Blob == "" {
		return domain.RemoteRef{}, domain.Errorf(domain.KindBackend, op, "upload rejected")
	}
	return domain.RemoteRef{Blob: resp.Blob, URL: resp.URL}, nil
}

type generateResponse struct {
	Success      bool                 `json:"success"`
	Presentation *domain.Presentation `json:"presentation"`
	Error        string               `json:"error"`
}

// Generate submits the generation request and waits for the result.
func (c *Client) Generate(ctx context.Context, req domain.GenerateRequest) (*domain.Presentation, error) {
	const op = "generate presentation"

	raw, err := json.Marshal(req)
	if err != nil {
		return nil, domain.NewError(domain.KindState, op, err)
	}
	var resp generateResponse
	if err := c.do(ctx, op, http.MethodPost, "/generate/presentation", "application/json", bytes.NewReader(raw), &resp); err != nil {
		return nil, err
	}
	if !resp.Success || resp.Presentation == nil {
		msg := resp.Error
		if msg == "" {
			msg = "generation unsuccessful"
		}
		return nil, domain.Errorf(domain.KindBackend, op, "%s", msg)
	}
	return resp.Presentation, nil
}

// Health returns the backend's health document verbatim.
func (c *Client) Health(ctx context.Context) (json.RawMessage, error) {
	var raw json.RawMessage
	if err := c.do(ctx, "health check", http.MethodGet, "/health/", "", nil, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// BatchStatus proxies the status of a batch video task.
func (c *Client) BatchStatus(ctx context.Context, taskID string) (json.RawMessage, error) {
	if taskID == "" {
		return nil, domain.Errorf(domain.KindState, "batch status", "missing taskId parameter")
	}
	var raw json.RawMessage
	if err := c.do(ctx, "batch status", http.MethodGet, "/batch/status/"+url.PathEscape(taskID), "", nil, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

type questionResponse struct {
	Success    bool   `json:"success"`
	Transcript string `json:"transcript"`
	Response   string `json:"response"`
	URL        string `json:"url"`
}

// Ask uploads a recorded question with its presentation context.
func (c *Client) Ask(ctx context.Context, audio []byte, mimeType string, qc domain.QuestionContext) (*domain.Answer, error) {
	const op = "process question"

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if err := writeFilePart(mw, "audio", "question"+extensionFor(mimeType), mimeType, audio); err != nil {
		return nil, domain.NewError(domain.KindState, op, err)
	}
	fields := map[string]string{
		"language":      qc.Language,
		"ppt_url":       qc.PPTURL,
		"voice_id":      qc.VoiceID,
		"video_file_id": qc.VideoFileID,
	}
	if qc.SlideIndex != nil {
		fields["slide_index"] = strconv.Itoa(*qc.SlideIndex)
	}
	if fields["language"] == "" {
		fields["language"] = "en-US"
	}
	for k, v := range fields {
		if v == "" {
			continue
		}
		if err := mw.WriteField(k, v); err != nil {
			return nil, domain.NewError(domain.KindState, op, err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, domain.NewError(domain.KindState, op, err)
	}

	var resp questionResponse
	if err := c.do(ctx, op, http.MethodPost, "/questions/audio-to-text", mw.FormDataContentType(), &body, &resp); err != nil {
		return nil, err
	}
	if !resp.Success || resp.Transcript == "" || resp.Response == "" {
		return nil, domain.Errorf(domain.KindBackend, op, "failed to process audio")
	}
	return &domain.Answer{Transcript: resp.Transcript, Response: resp.Response, AudioURL: resp.URL}, nil
}

// do performs one request. Network failures are transport errors; non-2xx
// replies are backend errors carrying the service's detail message.
func (c *Client) do(ctx context.Context, op, method, path, contentType string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return domain.NewError(domain.KindState, op, err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return domain.NewError(domain.KindTransport, op, err)
	}
	defer resp.Body.Close()
	glog.V(1).Infof("backend: %s %s -> %d (%s)", method, path, resp.StatusCode, time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return domain.Errorf(domain.KindBackend, op, "status %d: %s", resp.StatusCode, errorDetail(data))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return domain.Errorf(domain.KindBackend, op, "decode response: %v", err)
	}
	return nil
}

// errorDetail extracts FastAPI-style {"detail": ...} messages.
func errorDetail(body []byte) string {
	var e struct {
		Detail any    `json:"detail"`
		Error  string `json:"error"`
	}
	if json.Unmarshal(body, &e) == nil {
		switch d := e.Detail.(type) {
		case string:
			return d
		case nil:
		default:
			if b, err := json.Marshal(d); err == nil {
				return string(b)
			}
		}
		if e.Error != "" {
			return e.Error
		}
	}
	return strings.TrimSpace(string(body))
}

func writeFilePart(mw *multipart.Writer, field, filename, contentType string, data []byte) error {
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`, field, escapeQuotes(filename)))
	h.Set("Content-Type", contentType)
	w, err := mw.CreatePart(h)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func escapeQuotes(s string) string { return quoteEscaper.Replace(s) }

func extensionFor(mimeType string) string {
	switch {
	case strings.HasPrefix(mimeType, "audio/ogg"):
		return ".ogg"
	case strings.HasPrefix(mimeType, "audio/wav"), strings.HasPrefix(mimeType, "audio/x-wav"):
		return ".wav"
	case strings.HasPrefix(mimeType, "audio/webm"):
		return ".webm"
	default:
		return ".bin"
	}
}
