package mastodon

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"CrossPoster/internal/domain"
)

func newTestPublisher(t *testing.T, handler http.HandlerFunc) (*Publisher, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewPublisher(srv.URL+"/", "secret", Options{Visibility: "unlisted", Client: srv.Client()}), srv
}

func TestPublish(t *testing.T) {
	var got statusRequest
	var auth, key string
	p, _ := newTestPublisher(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v1/statuses", r.URL.Path)
		auth = r.Header.Get("Authorization")
		key = r.Header.Get("Idempotency-Key")
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"id":"110","content":"<p>hi</p>"}`))
	})

	id, err := p.Publish(context.Background(), "Hello world", []string{"m1", "m2"})
	require.NoError(t, err)
	assert.Equal(t, "110", id)
	assert.Equal(t, "Bearer secret", auth)
	assert.Equal(t, idempotencyKey("Hello world", []string{"m1", "m2"}), key)
	assert.Equal(t, statusRequest{Status: "Hello world", MediaIDs: []string{"m1", "m2"}, Visibility: "unlisted"}, got)
}

func TestIdempotencyKeyDependsOnMedia(t *testing.T) {
	assert.Equal(t, idempotencyKey("a", nil), idempotencyKey("a", []string{}))
	assert.NotEqual(t, idempotencyKey("a", nil), idempotencyKey("a", []string{"m1"}))
	assert.NotEqual(t, idempotencyKey("ab", []string{"c"}), idempotencyKey("a", []string{"bc"}))
}

func TestUpdate(t *testing.T) {
	var method, path, status string
	p, _ := newTestPublisher(t, func(w http.ResponseWriter, r *http.Request) {
		method, path = r.Method, r.URL.Path
		var body statusRequest
		_ = json.NewDecoder(r.Body).Decode(&body)
		status = body.Status
		_, _ = w.Write([]byte(`{"id":"110"}`))
	})

	require.NoError(t, p.Update(context.Background(), "110", "Hello world!!"))
	assert.Equal(t, http.MethodPut, method)
	assert.Equal(t, "/api/v1/statuses/110", path)
	assert.Equal(t, "Hello world!!", status)
}

func TestUploadMedia(t *testing.T) {
	var filename, description string
	var content []byte
	p, srv := newTestPublisher(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/img/photo.png":
			_, _ = w.Write([]byte("PNGDATA"))
		case "/api/v2/media":
			file, header, err := r.FormFile("file")
			if !assert.NoError(t, err) {
				return
			}
			defer file.Close()
			content, _ = io.ReadAll(file)
			filename = header.Filename
			description = r.FormValue("description")
			w.WriteHeader(http.StatusAccepted)
			_, _ = w.Write([]byte(`{"id":"media-9"}`))
		default:
			http.NotFound(w, r)
		}
	})

	id, err := p.UploadMedia(context.Background(), srv.URL+"/img/photo.png", "a chart")
	require.NoError(t, err)
	assert.Equal(t, "media-9", id)
	assert.Equal(t, "photo.png", filename)
	assert.Equal(t, "a chart", description)
	assert.Equal(t, []byte("PNGDATA"), content)

	_, err = p.UploadMedia(context.Background(), srv.URL+"/img/missing.png", "")
	assert.Equal(t, domain.KindPermanent, domain.KindOf(err))
}

func TestStatusMapping(t *testing.T) {
	cases := []struct {
		name   string
		status int
		header map[string]string
		update bool
		check  func(t *testing.T, err error)
	}{
		{"rate limited", http.StatusTooManyRequests, map[string]string{"Retry-After": "30"}, false, func(t *testing.T, err error) {
			wait, ok := domain.RetryAfter(err)
			assert.True(t, ok)
			assert.Equal(t, 30*time.Second, wait)
		}},
		{"rate limit reset header", http.StatusTooManyRequests, map[string]string{"X-RateLimit-Reset": "2025-01-01T00:02:00Z"}, false, func(t *testing.T, err error) {
			wait, _ := domain.RetryAfter(err)
			assert.Equal(t, 2*time.Minute, wait)
		}},
		{"rate limit without hint", http.StatusTooManyRequests, nil, false, func(t *testing.T, err error) {
			wait, _ := domain.RetryAfter(err)
			assert.Equal(t, defaultRateLimitPause, wait)
		}},
		{"server error", http.StatusServiceUnavailable, nil, false, func(t *testing.T, err error) {
			var serverErr *domain.ServerError
			require.ErrorAs(t, err, &serverErr)
			assert.Equal(t, http.StatusServiceUnavailable, serverErr.StatusCode)
			assert.Equal(t, domain.KindTransient, domain.KindOf(err))
		}},
		{"validation", http.StatusUnprocessableEntity, nil, false, func(t *testing.T, err error) {
			var validation *domain.ValidationError
			require.ErrorAs(t, err, &validation)
			assert.Contains(t, validation.Reason, "Text character limit")
		}},
		{"bad request", http.StatusBadRequest, nil, false, func(t *testing.T, err error) {
			assert.Equal(t, domain.KindPermanent, domain.KindOf(err))
		}},
		{"deleted status", http.StatusNotFound, nil, true, func(t *testing.T, err error) {
			var notFound *domain.StatusNotFoundError
			require.ErrorAs(t, err, &notFound)
			assert.Equal(t, "110", notFound.ArtifactID)
		}},
		{"edit refused", http.StatusForbidden, nil, true, func(t *testing.T, err error) {
			var refused *domain.EditNotAllowedError
			assert.ErrorAs(t, err, &refused)
		}},
		{"bad token", http.StatusUnauthorized, nil, false, func(t *testing.T, err error) {
			var cfgErr *domain.ConfigError
			assert.ErrorAs(t, err, &cfgErr)
		}},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			p, _ := newTestPublisher(t, func(w http.ResponseWriter, r *http.Request) {
				for k, v := range c.header {
					w.Header().Set(k, v)
				}
				w.WriteHeader(c.status)
				_, _ = w.Write([]byte(`{"error":"Validation failed: Text character limit of 500 exceeded"}`))
			})
			p.now = func() time.Time { return time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC) }

			var err error
			if c.update {
				err = p.Update(context.Background(), "110", "text")
			} else {
				_, err = p.Publish(context.Background(), "text", nil)
			}
			require.Error(t, err)
			c.check(t, err)
		})
	}
}

func TestTransportErrorIsNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	p := NewPublisher(url, "secret", Options{})
	_, err := p.Publish(context.Background(), "text", nil)

	var netErr *domain.NetworkError
	require.True(t, errors.As(err, &netErr))
	assert.Equal(t, domain.KindTransient, domain.KindOf(err))
}
