package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"tutor-insight-go/internal/config"
)

func newTestClient(t *testing.T, url string, retries int) *generativeClient {
	t.Helper()
	c := NewClient(config.LLMConfig{
		APIKey:     "test-key",
		BaseURL:    url,
		Model:      "test-model",
		MaxRetries: retries,
		Generation: config.LLMGenerationConfig{Temperature: 0.2},
	}).(*generativeClient)
	c.backoff = time.Millisecond
	return c
}

func writeCandidate(w http.ResponseWriter, text string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"candidates": []any{
			map[string]any{"content": map[string]any{"parts": []any{map[string]any{"text": text}}}},
		},
	})
}

func TestGenerate(t *testing.T) {
	var gotReq generateRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/models/test-model:generateContent", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("x-goog-api-key"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		writeCandidate(w, "```json\n{\"concepts_used\":[]}\n```")
	}))
	defer srv.Close()

	text, err := newTestClient(t, srv.URL, 0).Generate(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, "```json\n{\"concepts_used\":[]}\n```", text)
	require.Len(t, gotReq.Contents, 1)
	assert.Equal(t, "hello", gotReq.Contents[0].Parts[0].Text)
	require.NotNil(t, gotReq.GenerationConfig.Temperature)
	assert.Equal(t, 0.2, *gotReq.GenerationConfig.Temperature)
}

func TestGenerateErrors(t *testing.T) {
	testCases := []struct {
		name    string
		handler http.HandlerFunc
		check   func(t *testing.T, err error)
	}{
		{
			name: "非 2xx",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusBadRequest)
				_, _ = w.Write([]byte(`{"error":"bad"}`))
			},
			check: func(t *testing.T, err error) {
				var se *StatusError
				require.ErrorAs(t, err, &se)
				assert.Equal(t, http.StatusBadRequest, se.StatusCode)
			},
		},
		{
			name: "非 JSON 响应",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "text/html")
				_, _ = w.Write([]byte("<html>gateway error</html>"))
			},
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, ErrNonJSONContentType)
			},
		},
		{
			name: "空响应体",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
			},
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, ErrEmptyResponse)
			},
		},
		{
			name: "没有候选文本",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write([]byte(`{"candidates":[]}`))
			},
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, ErrEmptyResponse)
			},
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(tc.handler)
			defer srv.Close()
			_, err := newTestClient(t, srv.URL, 0).Generate(context.Background(), "p")
			require.Error(t, err)
			tc.check(t, err)
		})
	}
}

func TestGenerateRetries(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		writeCandidate(w, `{"ok":true}`)
	}))
	defer srv.Close()

	text, err := newTestClient(t, srv.URL, 2).Generate(context.Background(), "p")
	require.NoError(t, err)
	assert.Equal(t, `{"ok":true}`, text)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestGenerateDoesNotRetryClientErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv.URL, 3).Generate(context.Background(), "p")
	require.Error(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestStatusErrorBodyKeepsWholeRunes(t *testing.T) {
	body := strings.Repeat("配额已用完", 200)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte("x" + body))
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv.URL, 0).Generate(context.Background(), "p")
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.True(t, utf8.ValidString(se.Body))
	assert.Equal(t, maxErrorBodyLen+1, utf8.RuneCountInString(se.Body))
	assert.True(t, strings.HasSuffix(se.Body, "…"))
}
