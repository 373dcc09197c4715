// Package chat drives a single chat session: it commits finished exchanges
// to memory, assembles the prompt and asks the model for the next reply.
package chat

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/teilomillet/sumchat/llm"
	"github.com/teilomillet/sumchat/memory"
	"github.com/teilomillet/sumchat/providers"
	"github.com/teilomillet/sumchat/tokenizer"
	"github.com/teilomillet/sumchat/utils"
)

// FallbackReply is what a failed reply renders as.
const FallbackReply = "Can you retry please?"

// DefaultMaxSystemTokens is the system message allowance when none is set.
const DefaultMaxSystemTokens = 256

// Role identifies the author of a Message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one entry of the displayed chat history.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// GenerationModel produces the model's reply to an assembled prompt.
type GenerationModel interface {
	Generate(ctx context.Context, prompt string, params providers.Parameters) (string, error)
}

// Reply is the outcome of one turn. Err is nil on success; on failure Text
// is empty and the boundary decides how to render it.
type Reply struct {
	Text string
	Err  error
}

// OK reports whether the model produced the reply.
func (r Reply) OK() bool {
	return r.Err == nil
}

// String returns the reply text, or FallbackReply when the turn failed.
func (r Reply) String() string {
	if r.Err != nil {
		return FallbackReply
	}
	return r.Text
}

// Conversation owns the memory of one chat session. Calls are serialized.
type Conversation struct {
	ID string

	mutex           sync.Mutex
	memory          *memory.Memory
	model           GenerationModel
	counter         tokenizer.Counter
	maxSystemTokens int
	metrics         *Metrics
	logger          utils.Logger
}

// Option configures a Conversation.
type Option func(*Conversation)

// WithMetrics records replies, folds and prompt sizes in m.
func WithMetrics(m *Metrics) Option {
	return func(c *Conversation) {
		c.metrics = m
	}
}

// WithMaxSystemTokens sets the system message allowance reported by
// SystemTokens.
func WithMaxSystemTokens(n int) Option {
	return func(c *Conversation) {
		c.maxSystemTokens = n
	}
}

// WithID overrides the generated session id.
func WithID(id string) Option {
	return func(c *Conversation) {
		c.ID = id
	}
}

// NewConversation creates a session around mem, answering through model.
func NewConversation(mem *memory.Memory, model GenerationModel, counter tokenizer.Counter, logger utils.Logger, opts ...Option) *Conversation {
	if logger == nil {
		logger = utils.NopLogger{}
	}
	c := &Conversation{
		ID:              uuid.NewString(),
		memory:          mem,
		model:           model,
		counter:         counter,
		maxSystemTokens: DefaultMaxSystemTokens,
		logger:          logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Memory returns the session memory.
func (c *Conversation) Memory() *memory.Memory {
	return c.memory
}

// Reset forgets the summary and every buffered turn.
func (c *Conversation) Reset() {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.memory.Reset()
	c.logger.Info("Conversation reset", "session", c.ID)
}

// SystemTokens counts the tokens of a system message against the allowance.
func (c *Conversation) SystemTokens(systemMessage string) (used, limit int, exceeded bool) {
	used = c.counter.Count(systemMessage)
	return used, c.maxSystemTokens, used > c.maxSystemTokens
}

// ContinueConversation answers the last message of history.
//
// Once history holds a completed exchange before the newest message, that
// exchange (history[len-3], history[len-2]) is committed to memory first.
// The exchange being answered is never committed, so memory lags the
// displayed history by one turn.
//
// Failures never escape as panics or bare errors: the returned Reply carries
// the error and renders as FallbackReply. A failed summary fold is logged
// and does not fail the reply.
func (c *Conversation) ContinueConversation(ctx context.Context, history []Message, systemMessage string, maxNewTokens int, temperature float64) Reply {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if len(history) == 0 {
		err := llm.NewLLMError(llm.ErrorTypeInvalidInput, "history is empty", nil)
		c.metrics.reply(llm.ErrorTypeInvalidInput.String())
		return Reply{Err: err}
	}

	if n := len(history); n > 2 {
		c.commit(ctx, history[n-3].Content, history[n-2].Content)
	}

	newest := history[len(history)-1].Content
	prompt := BuildPrompt(systemMessage, c.memory.Summary(), c.memory.Turns(), newest)

	promptTokens := c.counter.Count(prompt)
	c.metrics.prompt(promptTokens)
	c.logger.Debug("Prompt assembled", "session", c.ID, "prompt_tokens", promptTokens, "prompt", prompt)

	text, err := c.model.Generate(ctx, prompt, providers.ChatParameters(maxNewTokens, temperature))
	if err != nil {
		c.logger.Warn("Generation failed, returning fallback reply", c.errorFields(err)...)
		c.metrics.reply(llm.Kind(err).String())
		return Reply{Err: err}
	}

	c.metrics.reply("ok")
	return Reply{Text: text}
}

func (c *Conversation) commit(ctx context.Context, input, output string) {
	folded, err := c.memory.RecordExchange(ctx, input, output)
	if folded > 0 {
		c.metrics.fold("folded")
	}
	if err != nil {
		c.logger.Warn("Summary fold deferred", c.errorFields(err)...)
		c.metrics.fold("deferred")
	}
}

// errorFields returns the log fields for a failed call, including the error
// type and status code when err carries an *llm.LLMError.
func (c *Conversation) errorFields(err error) []any {
	fields := []any{"session", c.ID}
	var llmErr *llm.LLMError
	if errors.As(err, &llmErr) {
		fields = append(fields, llmErr.LoggableFields()...)
	}
	return append(fields, "error", err)
}
