package llm

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/teilomillet/sumchat/config"
	"github.com/teilomillet/sumchat/providers"
	"github.com/teilomillet/sumchat/utils"
)

type capturedRequest struct {
	method  string
	headers http.Header
	body    providers.Request
}

type recorder struct {
	mu   sync.Mutex
	reqs []capturedRequest
}

func (r *recorder) all() []capturedRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]capturedRequest(nil), r.reqs...)
}

// newEndpoint starts a test server answering every request with status and
// body, recording each request it sees.
func newEndpoint(t *testing.T, status int, body string) (*httptest.Server, *recorder) {
	t.Helper()
	rec := &recorder{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		var req providers.Request
		_ = json.Unmarshal(raw, &req)
		rec.mu.Lock()
		rec.reqs = append(rec.reqs, capturedRequest{method: r.Method, headers: r.Header.Clone(), body: req})
		rec.mu.Unlock()
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv, rec
}

func newTestClient(endpoint string, opts ...ClientOption) *Client {
	return NewClient(providers.NewHuggingFaceProvider("test-bearer", endpoint, nil), utils.NewPermissiveMockLogger(), opts...)
}

func TestGenerateSuccess(t *testing.T) {
	srv, seen := newEndpoint(t, http.StatusOK, `[{"generated_text": "Hello!"}]`)
	client := newTestClient(srv.URL)

	text, err := client.Generate(context.Background(), "[INST]Hi[/INST]", providers.ChatParameters(256, 0.7))
	require.NoError(t, err)
	assert.Equal(t, "Hello!", text)

	reqs := seen.all()
	require.Len(t, reqs, 1)
	got := reqs[0]
	assert.Equal(t, http.MethodPost, got.method)
	assert.Equal(t, "Bearer test-bearer", got.headers.Get("Authorization"))
	assert.Equal(t, "application/json", got.headers.Get("Content-Type"))
	assert.Equal(t, "[INST]Hi[/INST]", got.body.Inputs)
	assert.Equal(t, 256, got.body.Parameters.MaxNewTokens)
	assert.Equal(t, []string{"</s>", "[/INST]"}, got.body.Parameters.Stop)
}

func TestGenerateFailures(t *testing.T) {
	testCases := []struct {
		name       string
		status     int
		body       string
		errType    ErrorType
		statusCode int
	}{
		{"server error", http.StatusInternalServerError, `{"error":"boom"}`, ErrorTypeAPI, 500},
		{"bad gateway", http.StatusBadGateway, ``, ErrorTypeAPI, 502},
		{"unauthorized", http.StatusUnauthorized, `{"error":"bad token"}`, ErrorTypeAuthentication, 401},
		{"forbidden", http.StatusForbidden, ``, ErrorTypeAuthentication, 403},
		{"rate limited", http.StatusTooManyRequests, ``, ErrorTypeRateLimit, 429},
		{"malformed json", http.StatusOK, `not json`, ErrorTypeMalformedResponse, 0},
		{"missing field", http.StatusOK, `[{"text":"x"}]`, ErrorTypeMalformedResponse, 0},
		{"empty array", http.StatusOK, `[]`, ErrorTypeMalformedResponse, 0},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			srv, _ := newEndpoint(t, tc.status, tc.body)
			client := newTestClient(srv.URL)

			text, err := client.Generate(context.Background(), "prompt", providers.ChatParameters(16, 0.7))
			require.Error(t, err)
			assert.Empty(t, text)
			assert.True(t, IsType(err, tc.errType), "got %v", err)

			var llmErr *LLMError
			require.ErrorAs(t, err, &llmErr)
			assert.Equal(t, tc.statusCode, llmErr.StatusCode)
		})
	}
}

func TestGenerateTransportError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	client := newTestClient(url)
	_, err := client.Generate(context.Background(), "prompt", providers.ChatParameters(16, 0.7))
	assert.True(t, IsType(err, ErrorTypeTransport), "got %v", err)
}

func TestGenerateTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(func() {
		close(release)
		srv.Close()
	})

	client := newTestClient(srv.URL, WithTimeout(50*time.Millisecond))
	_, err := client.Generate(context.Background(), "prompt", providers.ChatParameters(16, 0.7))
	assert.True(t, IsType(err, ErrorTypeTransport), "got %v", err)
}

func TestGenerateTimeoutWithCustomHTTPClient(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
			_, _ = io.WriteString(w, `[{"generated_text":"late"}]`)
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(func() {
		close(release)
		srv.Close()
	})

	hc := &http.Client{}
	for name, opts := range map[string][]ClientOption{
		"client after timeout":  {WithTimeout(50 * time.Millisecond), WithHTTPClient(hc)},
		"client before timeout": {WithHTTPClient(hc), WithTimeout(50 * time.Millisecond)},
	} {
		t.Run(name, func(t *testing.T) {
			client := newTestClient(srv.URL, opts...)

			start := time.Now()
			text, err := client.Generate(context.Background(), "prompt", providers.ChatParameters(16, 0.7))

			assert.Empty(t, text)
			assert.True(t, IsType(err, ErrorTypeTransport), "got %v", err)
			assert.Less(t, time.Since(start), time.Second)
		})
	}
	assert.Zero(t, hc.Timeout, "the supplied client is not modified")
}

func TestSharedLimiter(t *testing.T) {
	srv, seen := newEndpoint(t, http.StatusOK, `[{"generated_text":"x"}]`)
	limiter := NewLimiter(0.001)
	first := newTestClient(srv.URL, WithLimiter(limiter))
	second := newTestClient(srv.URL, WithLimiter(limiter))

	_, err := first.Generate(context.Background(), "first", providers.ChatParameters(1, 0.7))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = second.Generate(ctx, "second", providers.ChatParameters(1, 0.7))
	assert.True(t, IsType(err, ErrorTypeRateLimit), "got %v", err)
	assert.Len(t, seen.all(), 1)
}

func TestGenerateInvalidParameters(t *testing.T) {
	srv, seen := newEndpoint(t, http.StatusOK, `[{"generated_text":"x"}]`)
	client := newTestClient(srv.URL)

	_, err := client.Generate(context.Background(), "prompt", providers.ChatParameters(0, 0.7))
	assert.True(t, IsType(err, ErrorTypeInvalidInput), "got %v", err)

	_, err = client.Generate(context.Background(), "prompt", providers.ChatParameters(10, 3.5))
	assert.True(t, IsType(err, ErrorTypeInvalidInput), "got %v", err)

	assert.Empty(t, seen.all())
}

func TestGenerateRateLimitHonoursContext(t *testing.T) {
	srv, seen := newEndpoint(t, http.StatusOK, `[{"generated_text":"x"}]`)
	client := newTestClient(srv.URL, WithRateLimit(0.001))

	_, err := client.Generate(context.Background(), "first", providers.ChatParameters(1, 0.7))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = client.Generate(ctx, "second", providers.ChatParameters(1, 0.7))
	assert.True(t, IsType(err, ErrorTypeRateLimit), "got %v", err)
	assert.Len(t, seen.all(), 1)
}

func TestGenerateWithMockProvider(t *testing.T) {
	srv, _ := newEndpoint(t, http.StatusOK, `{}`)
	mockProvider := providers.NewMockProvider("", srv.URL, nil).(*providers.MockProvider)
	mockProvider.SetResponses([]string{"first reply", "second reply"}, false)
	client := NewClient(mockProvider, nil)

	first, err := client.Generate(context.Background(), "a", providers.ChatParameters(1, 0.5))
	require.NoError(t, err)
	second, err := client.Generate(context.Background(), "b", providers.ChatParameters(1, 0.5))
	require.NoError(t, err)
	_, err = client.Generate(context.Background(), "c", providers.ChatParameters(1, 0.5))

	assert.Equal(t, "first reply", first)
	assert.Equal(t, "second reply", second)
	assert.True(t, IsType(err, ErrorTypeResponse), "got %v", err)
	assert.Equal(t, []string{"a", "b", "c"}, mockProvider.Prompts())
}

func TestNewLLM(t *testing.T) {
	cfg := config.NewConfig()
	config.ApplyOptions(cfg,
		config.SetEndpointURL("https://endpoint.test"),
		config.SetTimeout(3*time.Second),
		config.SetExtraHeaders(map[string]string{"X-Session": "abc"}),
	)

	client, err := NewLLM(cfg, "token", utils.NopLogger{}, nil)
	require.NoError(t, err)
	assert.Equal(t, "huggingface", client.Provider.Name())
	assert.Equal(t, "https://endpoint.test", client.Provider.Endpoint())
	assert.Equal(t, "abc", client.Provider.Headers()["X-Session"])
	assert.Equal(t, 3*time.Second, client.timeout)

	cfg.Provider = "nonexistent"
	_, err = NewLLM(cfg, "token", utils.NopLogger{}, nil)
	assert.True(t, IsType(err, ErrorTypeProvider))
}
