package sumchat_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/teilomillet/sumchat"
	"github.com/teilomillet/sumchat/config"
	"github.com/teilomillet/sumchat/llm"
	"github.com/teilomillet/sumchat/providers"
	"github.com/teilomillet/sumchat/utils"
)

type wordCounter struct{}

func (wordCounter) Count(text string) int { return len(strings.Fields(text)) }

// fakeEndpoint answers summarization calls (authenticated with the API
// token) with a fixed summary and chat calls with a fixed reply.
type fakeEndpoint struct {
	mutex       sync.Mutex
	chatPrompts []string
	summaryHits int
}

func (f *fakeEndpoint) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	raw, _ := io.ReadAll(r.Body)
	var req providers.Request
	_ = json.Unmarshal(raw, &req)

	f.mutex.Lock()
	defer f.mutex.Unlock()

	switch r.Header.Get("Authorization") {
	case "Bearer api-token":
		f.summaryHits++
		_, _ = w.Write([]byte(`[{"generated_text":" short "}]`))
	case "Bearer bearer-token":
		f.chatPrompts = append(f.chatPrompts, req.Inputs)
		_, _ = w.Write([]byte(`[{"generated_text":"reply"}]`))
	default:
		w.WriteHeader(http.StatusUnauthorized)
	}
}

func testConfig(url string) *config.Config {
	cfg := config.NewConfig()
	config.ApplyOptions(cfg,
		config.SetEndpointURL(url),
		config.SetBearerToken("bearer-token"),
		config.SetAPIToken("api-token"),
		config.SetSystemMessage("sys"),
		config.SetTokenBudget(12, 4),
	)
	return cfg
}

func messages(contents ...string) []sumchat.Message {
	msgs := make([]sumchat.Message, len(contents))
	for i, c := range contents {
		role := sumchat.RoleUser
		if i%2 == 1 {
			role = sumchat.RoleAssistant
		}
		msgs[i] = sumchat.Message{Role: role, Content: c}
	}
	return msgs
}

func TestNewEndToEnd(t *testing.T) {
	endpoint := &fakeEndpoint{}
	server := httptest.NewServer(endpoint)
	defer server.Close()

	cfg := testConfig(server.URL)
	conv, err := sumchat.New(cfg, utils.NewPermissiveMockLogger(), sumchat.WithCounter(wordCounter{}))
	require.NoError(t, err)
	assert.Equal(t, 8, conv.Memory().TokenLimit())

	ctx := context.Background()
	history := []string{"one two"}
	for i := 0; i < 3; i++ {
		reply := conv.ContinueConversation(ctx, messages(history...), cfg.SystemMessage, cfg.MaxNewTokens, cfg.Temperature)
		require.True(t, reply.OK(), "turn %d: %v", i, reply.Err)
		assert.Equal(t, "reply", reply.String())
		history = append(history, "three four", "five six")
	}

	// Two exchanges of six words each overflow the limit of 8 once.
	assert.Equal(t, 1, endpoint.summaryHits)
	assert.Equal(t, "short", conv.Memory().Summary())
	require.Len(t, conv.Memory().Turns(), 1)

	endpoint.mutex.Lock()
	defer endpoint.mutex.Unlock()
	require.Len(t, endpoint.chatPrompts, 3)
	assert.True(t, strings.HasPrefix(endpoint.chatPrompts[2], "[INST] <<SYS>>\nsys\nshort<</SYS>>\n\n"))
	assert.True(t, strings.HasSuffix(endpoint.chatPrompts[2], "\n[INST]five six[/INST]"))
}

func TestNewSessionsAreIndependent(t *testing.T) {
	server := httptest.NewServer(&fakeEndpoint{})
	defer server.Close()

	cfg := testConfig(server.URL)
	a, err := sumchat.New(cfg, nil, sumchat.WithCounter(wordCounter{}))
	require.NoError(t, err)
	b, err := sumchat.New(cfg, nil, sumchat.WithCounter(wordCounter{}))
	require.NoError(t, err)

	a.ContinueConversation(context.Background(), messages("x", "y", "z"), "sys", 16, 0.7)

	assert.Len(t, a.Memory().Turns(), 1)
	assert.Empty(t, b.Memory().Turns())
	assert.NotEqual(t, a.ID, b.ID)
}

func TestNewFallbackReply(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	conv, err := sumchat.New(testConfig(server.URL), nil, sumchat.WithCounter(wordCounter{}))
	require.NoError(t, err)

	reply := conv.ContinueConversation(context.Background(), messages("hi"), "sys", 16, 0.7)
	assert.Equal(t, sumchat.FallbackReply, reply.String())
	assert.True(t, llm.IsType(reply.Err, llm.ErrorTypeAPI))
}

func TestNewErrors(t *testing.T) {
	t.Run("invalid config", func(t *testing.T) {
		cfg := config.NewConfig()
		_, err := sumchat.New(cfg, nil)
		require.Error(t, err)
		assert.True(t, llm.IsType(err, llm.ErrorTypeInvalidInput))
	})

	t.Run("unknown provider", func(t *testing.T) {
		cfg := testConfig("https://endpoint.test/generate")
		cfg.Provider = "nope"
		_, err := sumchat.New(cfg, nil, sumchat.WithCounter(wordCounter{}))
		require.Error(t, err)
		assert.True(t, llm.IsType(err, llm.ErrorTypeProvider))
	})

	t.Run("custom registry", func(t *testing.T) {
		cfg := testConfig("https://endpoint.test/generate")
		cfg.Provider = "mock"
		conv, err := sumchat.New(cfg, nil,
			sumchat.WithCounter(wordCounter{}),
			sumchat.WithRegistry(providers.NewProviderRegistry("mock")),
		)
		require.NoError(t, err)
		assert.NotNil(t, conv)
	})
}

func TestNewTimeoutSurvivesCustomHTTPClient(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
			_, _ = w.Write([]byte(`[{"generated_text":"late"}]`))
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(func() {
		close(release)
		server.Close()
	})

	cfg := testConfig(server.URL)
	config.ApplyOptions(cfg, config.SetTimeout(100*time.Millisecond))
	conv, err := sumchat.New(cfg, nil,
		sumchat.WithCounter(wordCounter{}),
		sumchat.WithClientOptions(llm.WithHTTPClient(&http.Client{})),
	)
	require.NoError(t, err)

	start := time.Now()
	reply := conv.ContinueConversation(context.Background(), messages("hi"), "sys", 16, 0.7)

	assert.Equal(t, sumchat.FallbackReply, reply.String())
	assert.True(t, llm.IsType(reply.Err, llm.ErrorTypeTransport), "got %v", reply.Err)
	assert.Less(t, time.Since(start), time.Second)
}

func TestNewClientsShareRateLimit(t *testing.T) {
	endpoint := &fakeEndpoint{}
	server := httptest.NewServer(endpoint)
	defer server.Close()

	cfg := testConfig(server.URL)
	config.ApplyOptions(cfg, config.SetRateLimit(0.001))
	conv, err := sumchat.New(cfg, nil, sumchat.WithCounter(wordCounter{}))
	require.NoError(t, err)

	first := conv.ContinueConversation(context.Background(), messages("one two"), "sys", 16, 0.7)
	require.NoError(t, first.Err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	history := []string{"one two", "three four", "five six"}
	second := conv.ContinueConversation(ctx, messages(history...), "sys", 16, 0.7)
	assert.True(t, llm.IsType(second.Err, llm.ErrorTypeRateLimit), "got %v", second.Err)

	// Two six word turns overflow the limit of 8 and need a fold.
	history = append(history, "seven eight", "nine ten")
	third := conv.ContinueConversation(ctx, messages(history...), "sys", 16, 0.7)
	assert.True(t, llm.IsType(third.Err, llm.ErrorTypeRateLimit), "got %v", third.Err)
	assert.Len(t, conv.Memory().Turns(), 2)
	assert.Empty(t, conv.Memory().Summary())

	endpoint.mutex.Lock()
	defer endpoint.mutex.Unlock()
	assert.Zero(t, endpoint.summaryHits, "summarization waits on the generation budget")
	assert.Len(t, endpoint.chatPrompts, 1)
}
