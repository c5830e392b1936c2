package pdfrender

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/yungbote/bookgen-worker/internal/platform/httpx"
)

type HostedConfig struct {
	Endpoint   string
	APIKey     string
	Timeout    time.Duration
	MaxRetries int
	RetryBase  time.Duration
}

// Hosted posts the document to a remote rendering service. Local images are
// inlined as data URIs since the service cannot see the work directory.
type Hosted struct {
	cfg    HostedConfig
	client *http.Client
}

func NewHosted(cfg HostedConfig) (*Hosted, error) {
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return nil, fmt.Errorf("hosted render endpoint required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Minute
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 2 * time.Second
	}
	return &Hosted{cfg: cfg, client: &http.Client{Timeout: cfg.Timeout}}, nil
}

func (h *Hosted) Name() string { return BackendHosted }

type hostedRequest struct {
	HTML string `json:"html"`
	Name string `json:"name"`
}

type hostedResponse struct {
	Status    string `json:"status"`
	PDFBase64 string `json:"pdf_base64"`
	Log       string `json:"log"`
}

func (h *Hosted) Render(ctx context.Context, in Input) (Output, error) {
	out := Output{Backend: BackendHosted}
	raw, err := os.ReadFile(in.HTMLPath)
	if err != nil {
		return out, fmt.Errorf("read html: %w", err)
	}
	html, err := InlineLocalImages(string(raw), in.WorkDir)
	if err != nil {
		return out, err
	}
	body, err := json.Marshal(hostedRequest{HTML: html, Name: filepath.Base(in.HTMLPath)})
	if err != nil {
		return out, err
	}

	backoff := h.cfg.RetryBase
	for attempt := 0; attempt <= h.cfg.MaxRetries; attempt++ {
		resp, respBody, err := h.post(ctx, body)
		if err == nil {
			return decodeHosted(resp, respBody)
		}
		if !httpx.IsRetryableError(err) || attempt == h.cfg.MaxRetries {
			out.Log = string(respBody)
			return out, fmt.Errorf("hosted render: %w", err)
		}
		if err := httpx.Sleep(ctx, httpx.JitterSleep(httpx.RetryAfterDuration(resp, backoff, time.Minute))); err != nil {
			return out, err
		}
		backoff *= 2
	}
	return out, fmt.Errorf("unreachable retry loop")
}

func (h *Hosted) post(ctx context.Context, body []byte) (*http.Response, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/pdf, application/json")
	if h.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+h.cfg.APIKey)
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp, nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp, respBody, &httpx.StatusError{StatusCode: resp.StatusCode, Body: truncate(string(respBody), 512)}
	}
	return resp, respBody, nil
}

func decodeHosted(resp *http.Response, body []byte) (Output, error) {
	out := Output{Backend: BackendHosted}
	ct, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if ct == "application/pdf" {
		out.PDF = body
		out.Log = resp.Header.Get("X-Render-Log")
		return out, nil
	}
	var hr hostedResponse
	if err := json.Unmarshal(body, &hr); err != nil {
		return out, fmt.Errorf("hosted render: undecodable response: %w", err)
	}
	// The status line is kept in the log so ScanLog sees failures.
	out.Log = strings.TrimSpace(fmt.Sprintf("{\"status\":%q}\n%s", hr.Status, hr.Log))
	if hr.PDFBase64 != "" {
		pdf, err := base64.StdEncoding.DecodeString(hr.PDFBase64)
		if err != nil {
			return out, fmt.Errorf("hosted render: bad pdf payload: %w", err)
		}
		out.PDF = pdf
	}
	return out, nil
}

var imgSrcRe = regexp.MustCompile(`(<img\b[^>]*?\bsrc=")([^"]+)(")`)

// InlineLocalImages rewrites relative <img src> references under workDir to
// data URIs. Absolute URLs and data URIs are left alone.
func InlineLocalImages(html, workDir string) (string, error) {
	var firstErr error
	outHTML := imgSrcRe.ReplaceAllStringFunc(html, func(m string) string {
		parts := imgSrcRe.FindStringSubmatch(m)
		src := parts[2]
		if IsRemoteRef(src) {
			return m
		}
		data, err := os.ReadFile(LocalPath(workDir, src))
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("inline %s: %w", src, err)
			}
			return m
		}
		ct := http.DetectContentType(data)
		return parts[1] + "data:" + ct + ";base64," + base64.StdEncoding.EncodeToString(data) + parts[3]
	})
	return outHTML, firstErr
}

// LocalPath maps a relative src, possibly percent-encoded, to a file under
// workDir.
func LocalPath(workDir, src string) string {
	s := src
	if i := strings.IndexAny(s, "?#"); i >= 0 {
		s = s[:i]
	}
	if dec, err := url.PathUnescape(s); err == nil {
		s = dec
	}
	return filepath.Join(workDir, filepath.FromSlash(s))
}

// IsRemoteRef reports whether src needs no local file.
func IsRemoteRef(src string) bool {
	low := strings.ToLower(strings.TrimSpace(src))
	return strings.HasPrefix(low, "http://") || strings.HasPrefix(low, "https://") ||
		strings.HasPrefix(low, "data:") || strings.HasPrefix(low, "//")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
