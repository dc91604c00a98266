// Package media talks to the image/video hosting provider: validation before
// upload, one streamed multipart POST per file, and derived thumbnail URLs.
package media

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/PortNumber53/creator-studio/internal/metrics"
)

var ErrNotConfigured = errors.New("media: provider not configured")

type Config struct {
	APIBase      string // e.g. https://api.cloudinary.com
	DeliveryHost string // e.g. res.cloudinary.com
	CloudName    string
	UploadPreset string
	APIKey       string
	ImageTimeout time.Duration
	VideoTimeout time.Duration
}

func (c Config) Configured() bool {
	return strings.TrimSpace(c.CloudName) != "" && strings.TrimSpace(c.UploadPreset) != ""
}

type UploadRequest struct {
	File     io.Reader
	Filename string
	Size     int64
	Kind     Kind
	Folder   string
	// Transformation is JSON-encoded into the "transformation" field when set.
	Transformation any
	// Progress receives file bytes handed to the transport so far.
	Progress func(sent, total int64)
}

type Asset struct {
	CanonicalURL string   `json:"secureUrl"`
	AssetID      string   `json:"assetId"`
	Format       string   `json:"format,omitempty"`
	Width        *int     `json:"width,omitempty"`
	Height       *int     `json:"height,omitempty"`
	Bytes        int64    `json:"bytes"`
	Duration     *float64 `json:"duration,omitempty"`
	Kind         Kind     `json:"kind"`
}

// ProviderError is any failed upload after validation passed.
type ProviderError struct {
	StatusCode int
	Message    string
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("media provider: status %d: %s", e.StatusCode, e.Message)
	}
	return "media provider: " + e.Message
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Temporary reports whether retrying the same upload later could succeed.
// Credential and preset problems (4xx) are permanent.
func (e *ProviderError) Temporary() bool {
	if errors.Is(e.Err, context.Canceled) {
		return false
	}
	if e.StatusCode == 0 {
		return e.Err != nil
	}
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests || e.StatusCode == http.StatusRequestTimeout
}

type Client struct {
	cfg     Config
	http    *http.Client
	logger  *log.Logger
	metrics *metrics.Metrics
}

func NewClient(cfg Config, httpClient *http.Client, logger *log.Logger, m *metrics.Metrics) *Client {
	if strings.TrimSpace(cfg.APIBase) == "" {
		cfg.APIBase = "https://api.cloudinary.com"
	}
	cfg.APIBase = strings.TrimRight(cfg.APIBase, "/")
	if cfg.ImageTimeout <= 0 {
		cfg.ImageTimeout = 2 * time.Minute
	}
	if cfg.VideoTimeout <= 0 {
		cfg.VideoTimeout = 30 * time.Minute
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Client{cfg: cfg, http: httpClient, logger: logger, metrics: m}
}

func (c *Client) Config() Config { return c.cfg }

func (c *Client) endpoint(k Kind) string {
	resource := "image"
	if k == KindVideo {
		resource = "video"
	}
	return fmt.Sprintf("%s/v1_1/%s/%s/upload", c.cfg.APIBase, c.cfg.CloudName, resource)
}

type uploadResponse struct {
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
	PublicID  string   `json:"public_id"`
	SecureURL string   `json:"secure_url"`
	Format    string   `json:"format"`
	Width     *int     `json:"width"`
	Height    *int     `json:"height"`
	Bytes     int64    `json:"bytes"`
	Duration  *float64 `json:"duration"`
}

// Upload performs exactly one multipart POST. The body is streamed from
// req.File, so large videos are never buffered in memory. There is no retry.
func (c *Client) Upload(ctx context.Context, req UploadRequest) (Asset, error) {
	if !c.cfg.Configured() {
		return Asset{}, ErrNotConfigured
	}
	if req.File == nil {
		return Asset{}, errors.New("media: nil file")
	}
	if req.Kind != KindVideo {
		req.Kind = KindImage
	}
	timeout := c.cfg.ImageTimeout
	if req.Kind == KindVideo {
		timeout = c.cfg.VideoTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var transform string
	if req.Transformation != nil {
		b, err := json.Marshal(req.Transformation)
		if err != nil {
			return Asset{}, fmt.Errorf("media: encode transformation: %w", err)
		}
		transform = string(b)
	}

	start := time.Now()
	pr, pw := io.Pipe()
	defer pr.Close()
	mw := multipart.NewWriter(pw)
	counter := &progressReader{r: req.File, total: req.Size, fn: req.Progress}

	go func() {
		pw.CloseWithError(c.writeForm(mw, req, transform, counter))
	}()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(req.Kind), pr)
	if err != nil {
		return Asset{}, fmt.Errorf("media: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", mw.FormDataContentType())

	c.logger.Printf("[Media][Upload] start kind=%s folder=%q file=%q size=%d", req.Kind, req.Folder, req.Filename, req.Size)
	resp, err := c.http.Do(httpReq)
	if err != nil {
		c.metrics.UploadFinished(string(req.Kind), "error", counter.sent.Load(), time.Since(start))
		msg := "upload failed, try again"
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			msg = fmt.Sprintf("upload timed out after %s", timeout)
		} else if errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled) {
			msg = "upload canceled"
			err = context.Canceled
		}
		c.logger.Printf("[Media][Upload] failed kind=%s file=%q err=%v", req.Kind, req.Filename, err)
		return Asset{}, &ProviderError{Message: msg, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		c.metrics.UploadFinished(string(req.Kind), "error", counter.sent.Load(), time.Since(start))
		return Asset{}, &ProviderError{StatusCode: resp.StatusCode, Message: "read response failed", Err: err}
	}
	var payload uploadResponse
	decodeErr := json.Unmarshal(raw, &payload)

	if resp.StatusCode < 200 || resp.StatusCode > 299 || payload.Error != nil {
		msg := http.StatusText(resp.StatusCode)
		if payload.Error != nil && payload.Error.Message != "" {
			msg = payload.Error.Message
		}
		c.metrics.UploadFinished(string(req.Kind), "rejected", counter.sent.Load(), time.Since(start))
		c.logger.Printf("[Media][Upload] rejected kind=%s file=%q status=%d msg=%q", req.Kind, req.Filename, resp.StatusCode, msg)
		return Asset{}, &ProviderError{StatusCode: resp.StatusCode, Message: msg}
	}
	if decodeErr != nil || payload.SecureURL == "" {
		c.metrics.UploadFinished(string(req.Kind), "error", counter.sent.Load(), time.Since(start))
		return Asset{}, &ProviderError{StatusCode: resp.StatusCode, Message: "response is missing secure_url", Err: decodeErr}
	}

	c.metrics.UploadFinished(string(req.Kind), "ok", counter.sent.Load(), time.Since(start))
	c.logger.Printf("[Media][Upload] ok kind=%s assetId=%s bytes=%d took=%s", req.Kind, payload.PublicID, payload.Bytes, time.Since(start).Round(time.Millisecond))
	return Asset{
		CanonicalURL: payload.SecureURL,
		AssetID:      payload.PublicID,
		Format:       payload.Format,
		Width:        payload.Width,
		Height:       payload.Height,
		Bytes:        payload.Bytes,
		Duration:     payload.Duration,
		Kind:         req.Kind,
	}, nil
}

func (c *Client) writeForm(mw *multipart.Writer, req UploadRequest, transform string, file io.Reader) error {
	fields := [][2]string{
		{"upload_preset", c.cfg.UploadPreset},
		{"quality", "auto"},
		{"format", "auto"},
	}
	if req.Folder != "" {
		fields = append(fields, [2]string{"folder", req.Folder})
	}
	if transform != "" {
		fields = append(fields, [2]string{"transformation", transform})
	}
	if req.Kind == KindVideo {
		fields = append(fields, [2]string{"resource_type", "video"})
	}
	for _, f := range fields {
		if err := mw.WriteField(f[0], f[1]); err != nil {
			return err
		}
	}
	name := req.Filename
	if name == "" {
		name = "upload"
	}
	part, err := mw.CreateFormFile("file", name)
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, file); err != nil {
		return err
	}
	return mw.Close()
}

// progressReader counts file bytes as the transport pulls them through the pipe.
type progressReader struct {
	r     io.Reader
	total int64
	sent  atomic.Int64
	fn    func(sent, total int64)
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		sent := p.sent.Add(int64(n))
		if p.fn != nil {
			p.fn(sent, p.total)
		}
	}
	return n, err
}
