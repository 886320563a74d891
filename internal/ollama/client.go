// Package ollama is the inference collaborator: it captures one preview
// frame per analyze call, submits it to an Ollama generate endpoint, and
// matches the trigger phrase in the returned text. Every outbound call
// carries an explicit timeout, and deadline failures are reported with a
// stable "timed out" phrase the monitor's breaker classifies on.
package ollama

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"strings"
	"time"
)

// ErrNoPreview means the camera produced no usable frame; callers treat
// it as a client error rather than an upstream failure.
var ErrNoPreview = errors.New("no preview image available")

const (
	previewFetchTimeout = 5 * time.Second
	probeTimeout        = 3 * time.Second
	tagsTimeout         = 4 * time.Second
	pullTimeout         = 120 * time.Second
	defaultAnalyzeSecs  = 60.0
	maxFrameBytes       = 1 << 20
)

type Client struct {
	http *http.Client
	// streamHTTP has no overall deadline: streaming pulls run for as long
	// as the download takes and are interrupted by closing the body.
	streamHTTP *http.Client
}

func NewClient() *Client {
	return &Client{
		http:       &http.Client{},
		streamHTTP: &http.Client{},
	}
}

type AnalyzeRequest struct {
	Host           string
	Port           int
	Model          string
	Prompt         string
	Trigger        string
	TimeoutSeconds float64
	PreviewURL     string
	PreviewMode    string
	StreamURL      string
	CameraID       string
	CameraName     string
	CameraModel    string
}

type AnalyzeResult struct {
	Text      string
	Triggered bool
	Image     []byte
	ImageType string
}

// Analyze fetches one still frame from the camera preview and submits it
// to /api/generate. The trigger match is a case-insensitive substring
// test against the model's response text.
func (c *Client) Analyze(ctx context.Context, req AnalyzeRequest) (AnalyzeResult, error) {
	image, err := c.FetchPreview(ctx, req.PreviewURL)
	if err != nil {
		return AnalyzeResult{}, err
	}

	timeout := req.TimeoutSeconds
	if timeout <= 0 {
		timeout = defaultAnalyzeSecs
	}

	body, err := json.Marshal(map[string]any{
		"model":  req.Model,
		"prompt": req.Prompt,
		"images": []string{base64.StdEncoding.EncodeToString(image)},
		"stream": false,
	})
	if err != nil {
		return AnalyzeResult{}, fmt.Errorf("encode generate payload: %w", err)
	}

	log.Printf("ollama_analyze_start model=%s host=%s port=%d timeout_s=%g image_bytes=%d",
		req.Model, req.Host, req.Port, timeout, len(image))

	callCtx, cancel := context.WithTimeout(ctx, time.Duration(timeout*float64(time.Second)))
	defer cancel()

	url := fmt.Sprintf("http://%s:%d/api/generate", req.Host, req.Port)
	started := time.Now()
	payload := struct {
		Response string `json:"response"`
	}{}
	if err := c.postJSON(callCtx, url, body, &payload); err != nil {
		if isDeadline(err) {
			return AnalyzeResult{}, fmt.Errorf("ollama generate timed out after %gs", timeout)
		}
		return AnalyzeResult{}, err
	}

	text := strings.TrimSpace(payload.Response)
	triggered := req.Trigger != "" && strings.Contains(strings.ToLower(text), strings.ToLower(req.Trigger))
	log.Printf("ollama_analyze_complete model=%s triggered=%t chars=%d duration_ms=%d",
		req.Model, triggered, len(text), time.Since(started).Milliseconds())

	return AnalyzeResult{
		Text:      text,
		Triggered: triggered,
		Image:     image,
		ImageType: "image/jpeg",
	}, nil
}

// FetchPreview grabs one frame from a camera preview URL. Direct image
// responses are read whole; MJPEG multipart streams are scanned for the
// first complete JPEG frame. Anything else is unsupported.
func (c *Client) FetchPreview(ctx context.Context, url string) ([]byte, error) {
	if url == "" {
		return nil, ErrNoPreview
	}

	fetchCtx, cancel := context.WithTimeout(ctx, previewFetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(fetchCtx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build preview request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		if isDeadline(err) {
			return nil, fmt.Errorf("preview fetch timed out after %s", previewFetchTimeout)
		}
		return nil, fmt.Errorf("preview fetch failed: %w", err)
	}
	defer resp.Body.Close()

	contentType := strings.ToLower(resp.Header.Get("Content-Type"))
	switch {
	case strings.HasPrefix(contentType, "image/"):
		data, err := io.ReadAll(io.LimitReader(resp.Body, maxFrameBytes))
		if err != nil {
			return nil, fmt.Errorf("read preview image: %w", err)
		}
		if len(data) == 0 {
			return nil, ErrNoPreview
		}
		return data, nil
	case strings.Contains(contentType, "multipart"), strings.Contains(contentType, "mjpeg"):
		return extractJPEGFrame(resp.Body)
	default:
		if contentType == "" {
			contentType = "unknown"
		}
		return nil, fmt.Errorf("unsupported preview content type: %s", contentType)
	}
}

// extractJPEGFrame scans a multipart stream for one SOI..EOI JPEG frame.
func extractJPEGFrame(r io.Reader) ([]byte, error) {
	var buf []byte
	chunk := make([]byte, 4096)
	for len(buf) < maxFrameBytes {
		n, err := r.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
			start := bytes.Index(buf, []byte{0xff, 0xd8})
			if start >= 0 {
				if end := bytes.Index(buf[start+2:], []byte{0xff, 0xd9}); end >= 0 {
					return buf[start : start+2+end+2], nil
				}
			}
		}
		if err != nil {
			break
		}
	}
	return nil, fmt.Errorf("failed to extract MJPEG frame")
}

type TagsResult struct {
	Models          []string
	InstalledModels int
	RunningModels   int
	RunningNames    []string
}

// Tags lists installed models from /api/tags and merges in running
// models from /api/ps. A /api/ps failure is logged and skipped; the tags
// listing alone is still useful.
func (c *Client) Tags(ctx context.Context, host string, port int) (TagsResult, error) {
	type modelEntry struct {
		Name  string `json:"name"`
		Model string `json:"model"`
	}
	var tags struct {
		Models []modelEntry `json:"models"`
	}

	tagsCtx, cancel := context.WithTimeout(ctx, tagsTimeout)
	err := c.getJSON(tagsCtx, fmt.Sprintf("http://%s:%d/api/tags", host, port), &tags)
	cancel()
	if err != nil {
		if isDeadline(err) {
			return TagsResult{}, fmt.Errorf("ollama tags request timed out after %s", tagsTimeout)
		}
		return TagsResult{}, err
	}

	var running struct {
		Models []modelEntry `json:"models"`
	}
	psCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	if err := c.getJSON(psCtx, fmt.Sprintf("http://%s:%d/api/ps", host, port), &running); err != nil {
		log.Printf("ollama_ps_skipped host=%s port=%d err=%q", host, port, err.Error())
		running.Models = nil
	}
	cancel()

	out := TagsResult{InstalledModels: len(tags.Models), RunningModels: len(running.Models)}
	seen := make(map[string]bool)
	for _, m := range tags.Models {
		if m.Name != "" && !seen[m.Name] {
			seen[m.Name] = true
			out.Models = append(out.Models, m.Name)
		}
	}
	for _, m := range running.Models {
		name := m.Name
		if name == "" {
			name = m.Model
		}
		if name == "" {
			continue
		}
		if !seen[name] {
			seen[name] = true
			out.Models = append(out.Models, name)
		}
		out.RunningNames = appendUnique(out.RunningNames, name)
	}
	return out, nil
}

type CheckResult struct {
	Status      int
	ContentType string
}

// Check probes a URL and reports the upstream status and content type.
// Used for both camera preview checks and the Ollama liveness probe.
func (c *Client) Check(ctx context.Context, url string) (CheckResult, error) {
	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, url, nil)
	if err != nil {
		return CheckResult{}, fmt.Errorf("build check request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		if isDeadline(err) {
			return CheckResult{}, fmt.Errorf("check timed out after %s", probeTimeout)
		}
		return CheckResult{}, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxFrameBytes))

	return CheckResult{Status: resp.StatusCode, ContentType: resp.Header.Get("Content-Type")}, nil
}

// Pull performs a blocking, non-streamed model pull and returns the final
// status message.
func (c *Client) Pull(ctx context.Context, host string, port int, modelName string) (string, error) {
	body, err := json.Marshal(map[string]any{"name": modelName, "stream": false})
	if err != nil {
		return "", fmt.Errorf("encode pull payload: %w", err)
	}

	pullCtx, cancel := context.WithTimeout(ctx, pullTimeout)
	defer cancel()

	var payload struct {
		Status string `json:"status"`
	}
	url := fmt.Sprintf("http://%s:%d/api/pull", host, port)
	if err := c.postJSON(pullCtx, url, body, &payload); err != nil {
		if isDeadline(err) {
			return "", fmt.Errorf("ollama pull timed out after %s", pullTimeout)
		}
		return "", err
	}
	if payload.Status == "" {
		return "Pull complete.", nil
	}
	return payload.Status, nil
}

// PullStream opens a streaming model pull and hands back the ndjson body.
// The caller owns the body: progress is read line by line and the
// transfer is interrupted by closing it. The returned stream deliberately
// has no overall deadline.
func (c *Client) PullStream(ctx context.Context, host string, port int, modelName string) (io.ReadCloser, error) {
	body, err := json.Marshal(map[string]any{"name": modelName, "stream": true})
	if err != nil {
		return nil, fmt.Errorf("encode pull payload: %w", err)
	}

	url := fmt.Sprintf("http://%s:%d/api/pull", host, port)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build pull request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.streamHTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ollama pull failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, fmt.Errorf("ollama pull failed: HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}
	return resp.Body, nil
}

func (c *Client) getJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	return c.doJSON(req, out)
}

func (c *Client) postJSON(ctx context.Context, url string, body []byte, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.doJSON(req, out)
}

func (c *Client) doJSON(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		if isDeadline(err) {
			return context.DeadlineExceeded
		}
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail := strings.TrimSpace(string(raw))
		if detail != "" {
			return fmt.Errorf("HTTP %d: %s (%s)", resp.StatusCode, http.StatusText(resp.StatusCode), detail)
		}
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, http.StatusText(resp.StatusCode))
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func isDeadline(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func appendUnique(list []string, value string) []string {
	for _, have := range list {
		if have == value {
			return list
		}
	}
	return append(list, value)
}
