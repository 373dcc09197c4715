// Package sumchat wires a chat session together from a Config: the token
// counter, the generation and summarization clients, the summarizing memory
// and the conversation driver.
package sumchat

import (
	"fmt"

	"github.com/teilomillet/sumchat/chat"
	"github.com/teilomillet/sumchat/config"
	"github.com/teilomillet/sumchat/llm"
	"github.com/teilomillet/sumchat/memory"
	"github.com/teilomillet/sumchat/providers"
	"github.com/teilomillet/sumchat/tokenizer"
	"github.com/teilomillet/sumchat/utils"
)

// Type aliases so callers rarely need the sub-packages.
type (
	Conversation = chat.Conversation
	Message      = chat.Message
	Reply        = chat.Reply
)

const (
	RoleUser      = chat.RoleUser
	RoleAssistant = chat.RoleAssistant
	FallbackReply = chat.FallbackReply
)

type options struct {
	registry    *providers.ProviderRegistry
	counter     tokenizer.Counter
	clientOpts  []llm.ClientOption
	sessionOpts []chat.Option
}

// Option customizes New.
type Option func(*options)

// WithRegistry resolves the configured provider name in r instead of the
// default registry.
func WithRegistry(r *providers.ProviderRegistry) Option {
	return func(o *options) {
		o.registry = r
	}
}

// WithCounter replaces the BPE token counter selected by cfg.Encoding.
func WithCounter(c tokenizer.Counter) Option {
	return func(o *options) {
		o.counter = c
	}
}

// WithClientOptions applies opts to both the generation and the
// summarization client, after the timeout and rate limit from the config.
func WithClientOptions(opts ...llm.ClientOption) Option {
	return func(o *options) {
		o.clientOpts = append(o.clientOpts, opts...)
	}
}

// WithConversationOptions is passed through to chat.NewConversation.
func WithConversationOptions(opts ...chat.Option) Option {
	return func(o *options) {
		o.sessionOpts = append(o.sessionOpts, opts...)
	}
}

// New validates cfg and builds a fresh conversation. Every call returns an
// independent session with its own memory.
func New(cfg *config.Config, logger utils.Logger, opts ...Option) (*Conversation, error) {
	if err := config.Validate(cfg); err != nil {
		return nil, llm.NewLLMError(llm.ErrorTypeInvalidInput, "invalid configuration", err)
	}
	if logger == nil {
		logger = utils.NopLogger{}
	}

	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	counter := o.counter
	if counter == nil {
		bpe, err := tokenizer.New(cfg.Encoding)
		if err != nil {
			return nil, llm.NewLLMError(llm.ErrorTypeTokenization, fmt.Sprintf("loading encoding %s", cfg.Encoding), err)
		}
		counter = bpe
	}

	// Both clients call the same endpoint, so they share one rate budget.
	clientOpts := append([]llm.ClientOption{llm.WithLimiter(llm.NewLimiter(cfg.RateLimit))}, o.clientOpts...)

	generator, err := llm.NewLLM(cfg, cfg.BearerToken, logger, o.registry, clientOpts...)
	if err != nil {
		return nil, err
	}
	summaryClient, err := llm.NewLLM(cfg, cfg.SummarizationToken(), logger, o.registry, clientOpts...)
	if err != nil {
		return nil, err
	}

	summarizer := llm.NewSummarizer(summaryClient, cfg.SummaryMaxNewTokens)
	mem := memory.NewMemory(cfg.MemoryTokenLimit(), counter, summarizer, logger)

	sessionOpts := append([]chat.Option{chat.WithMaxSystemTokens(cfg.MaxSystemTokens)}, o.sessionOpts...)
	conv := chat.NewConversation(mem, generator, counter, logger, sessionOpts...)

	logger.Info("Conversation created",
		"session", conv.ID,
		"provider", cfg.Provider,
		"memory_token_limit", cfg.MemoryTokenLimit(),
		"encoding", cfg.Encoding,
	)
	return conv, nil
}
