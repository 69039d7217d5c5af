// Package mastodon publishes artifacts to a Mastodon-compatible REST API.
package mastodon

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	"CrossPoster/internal/domain"
	"CrossPoster/internal/ports"
)

const (
	defaultTimeout        = 30 * time.Second
	defaultRateLimitPause = time.Minute
	maxMediaBytes         = 16 << 20
	maxErrorBody          = 1024
)

// Publisher talks to /api/v1/statuses and /api/v2/media with a bearer token.
type Publisher struct {
	baseURL    string
	token      string
	visibility string
	client     *http.Client
	logger     *slog.Logger
	now        func() time.Time
}

var _ ports.Publisher = (*Publisher)(nil)

// Options tune a Publisher; zero values fall back to defaults.
type Options struct {
	Visibility string
	Client     *http.Client
	Logger     *slog.Logger
}

// NewPublisher targets the instance at baseURL.
func NewPublisher(baseURL, token string, opts Options) *Publisher {
	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		visibility: opts.Visibility,
		client:     client,
		logger:     logger,
		now:        time.Now,
	}
}

type statusRequest struct {
	Status     string   `json:"status"`
	MediaIDs   []string `json:"media_ids,omitempty"`
	Visibility string   `json:"visibility,omitempty"`
}

type entity struct {
	ID string `json:"id"`
}

type apiError struct {
	Error string `json:"error"`
}

// Publish creates a status and returns its id. The Idempotency-Key header lets the
// instance collapse a retried request whose first attempt did land.
func (p *Publisher) Publish(ctx context.Context, text string, mediaIDs []string) (string, error) {
	body, err := json.Marshal(statusRequest{Status: text, MediaIDs: mediaIDs, Visibility: p.visibility})
	if err != nil {
		return "", fmt.Errorf("encode status: %w", err)
	}

	req, err := p.newRequest(ctx, http.MethodPost, "/api/v1/statuses", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", idempotencyKey(text, mediaIDs))

	var created entity
	if err := p.do(req, "publish", "", &created); err != nil {
		return "", err
	}
	if created.ID == "" {
		return "", &domain.ServerError{StatusCode: http.StatusOK, Body: "status created without id"}
	}
	return created.ID, nil
}

// Update replaces the text of an existing status.
func (p *Publisher) Update(ctx context.Context, artifactID, text string) error {
	body, err := json.Marshal(statusRequest{Status: text})
	if err != nil {
		return fmt.Errorf("encode status: %w", err)
	}

	req, err := p.newRequest(ctx, http.MethodPut, "/api/v1/statuses/"+url.PathEscape(artifactID), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return p.do(req, "update", artifactID, nil)
}

// UploadMedia downloads the attachment and re-uploads it to the instance.
func (p *Publisher) UploadMedia(ctx context.Context, mediaURL, description string) (string, error) {
	data, filename, err := p.download(ctx, mediaURL)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)
	part, err := form.CreateFormFile("file", filename)
	if err != nil {
		return "", fmt.Errorf("media form: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return "", fmt.Errorf("media form: %w", err)
	}
	if description != "" {
		if err := form.WriteField("description", description); err != nil {
			return "", fmt.Errorf("media form: %w", err)
		}
	}
	if err := form.Close(); err != nil {
		return "", fmt.Errorf("media form: %w", err)
	}

	req, err := p.newRequest(ctx, http.MethodPost, "/api/v2/media", &buf)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", form.FormDataContentType())

	var media entity
	if err := p.do(req, "upload media", "", &media); err != nil {
		return "", err
	}
	return media.ID, nil
}

func (p *Publisher) download(ctx context.Context, mediaURL string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, mediaURL, nil)
	if err != nil {
		return nil, "", &domain.ValidationError{Reason: fmt.Sprintf("media url %q: %v", mediaURL, err)}
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, "", &domain.NetworkError{Op: "download media", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", &domain.ValidationError{Reason: fmt.Sprintf("media %s: %s", mediaURL, resp.Status)}
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxMediaBytes+1))
	if err != nil {
		return nil, "", &domain.NetworkError{Op: "download media", Err: err}
	}
	if len(data) > maxMediaBytes {
		return nil, "", &domain.ValidationError{Reason: fmt.Sprintf("media %s exceeds %d bytes", mediaURL, maxMediaBytes)}
	}

	name := "attachment"
	if u, err := url.Parse(mediaURL); err == nil {
		if base := path.Base(u.Path); base != "." && base != "/" {
			name = base
		}
	}
	return data, name, nil
}

func (p *Publisher) newRequest(ctx context.Context, method, endpoint string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+endpoint, body)
	if err != nil {
		return nil, &domain.ConfigError{Err: fmt.Errorf("destination url: %w", err)}
	}
	req.Header.Set("Authorization", "Bearer "+p.token)
	req.Header.Set("Accept", "application/json")
	return req, nil
}

func (p *Publisher) do(req *http.Request, op, artifactID string, out any) error {
	resp, err := p.client.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		return &domain.NetworkError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out == nil {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return &domain.ServerError{StatusCode: resp.StatusCode, Body: "decode response: " + err.Error()}
		}
		return nil
	}

	err = p.statusError(resp, op, artifactID)
	p.logger.Debug("destination rejected request", "op", op, "status", resp.StatusCode, "error", err)
	return err
}

// statusError maps a non-2xx response to the error taxonomy.
func (p *Publisher) statusError(resp *http.Response, op, artifactID string) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	message := strings.TrimSpace(string(raw))
	var decoded apiError
	if json.Unmarshal(raw, &decoded) == nil && decoded.Error != "" {
		message = decoded.Error
	}

	switch code := resp.StatusCode; {
	case code == http.StatusTooManyRequests:
		return &domain.RateLimitError{RetryAfter: p.retryAfter(resp.Header)}
	case code >= 500:
		return &domain.ServerError{StatusCode: code, Body: message}
	case code == http.StatusNotFound && artifactID != "":
		return &domain.StatusNotFoundError{ArtifactID: artifactID}
	case code == http.StatusForbidden && op == "update":
		return &domain.EditNotAllowedError{ArtifactID: artifactID}
	case code == http.StatusUnauthorized, code == http.StatusForbidden:
		return &domain.ConfigError{Err: fmt.Errorf("%s: %s: %s", op, resp.Status, message)}
	default:
		return &domain.ValidationError{Reason: fmt.Sprintf("%s: %s: %s", op, resp.Status, message)}
	}
}

// retryAfter reads Retry-After (seconds or HTTP date), then Mastodon's X-RateLimit-Reset.
func (p *Publisher) retryAfter(h http.Header) time.Duration {
	if v := strings.TrimSpace(h.Get("Retry-After")); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
			return time.Duration(secs) * time.Second
		}
		if at, err := http.ParseTime(v); err == nil {
			return clampWait(at.Sub(p.now()))
		}
	}
	if v := strings.TrimSpace(h.Get("X-RateLimit-Reset")); v != "" {
		if at, err := time.Parse(time.RFC3339, v); err == nil {
			return clampWait(at.Sub(p.now()))
		}
	}
	return defaultRateLimitPause
}

func clampWait(d time.Duration) time.Duration {
	if d < time.Second {
		return time.Second
	}
	return d
}

func idempotencyKey(text string, mediaIDs []string) string {
	h := sha256.New()
	h.Write([]byte(text))
	for _, id := range mediaIDs {
		h.Write([]byte{0})
		h.Write([]byte(id))
	}
	return hex.EncodeToString(h.Sum(nil))
}
