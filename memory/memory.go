// Package memory keeps a conversation inside a token budget by folding the
// oldest exchanges into a running summary.
package memory

import (
	"context"
	"strings"
	"sync"

	"github.com/teilomillet/sumchat/llm"
	"github.com/teilomillet/sumchat/tokenizer"
	"github.com/teilomillet/sumchat/utils"
)

const (
	humanPrefix = "Human: "
	aiPrefix    = "AI: "
)

// Turn is one human input paired with the model's reply to it.
type Turn struct {
	Input  string
	Output string
	Tokens int // Token count of the turn's serialized form
}

// String renders the turn the way it is shown to the summarization model.
func (t Turn) String() string {
	return humanPrefix + t.Input + "\n" + aiPrefix + t.Output
}

// SummarizationModel folds new conversation lines into a running summary.
// It receives the current summary (possibly empty) and the lines being
// folded, formatted as alternating "Human:" / "AI:" lines, and returns the
// new cumulative summary.
type SummarizationModel interface {
	Summarize(ctx context.Context, summary, newLines string) (string, error)
}

// Memory holds a running summary plus a buffer of recent turns. The token
// count of summary and buffer together is kept at or under the limit by
// folding the oldest turns into the summary.
//
// A turn is never dropped: it is either in the buffer or represented in the
// summary. If summarization fails the turns stay buffered and the fold is
// retried on the next RecordExchange, so the budget may be exceeded until
// the model is reachable again. A single turn larger than the limit is
// folded on its own and may leave the summary itself over budget.
type Memory struct {
	mutex      sync.Mutex
	summary    string
	summaryTok int
	turns      []Turn
	turnTok    int
	tokenLimit int
	counter    tokenizer.Counter
	summarizer SummarizationModel
	logger     utils.Logger
}

// NewMemory creates an empty Memory with the given token limit.
func NewMemory(tokenLimit int, counter tokenizer.Counter, summarizer SummarizationModel, logger utils.Logger) *Memory {
	if logger == nil {
		logger = utils.NopLogger{}
	}
	return &Memory{
		tokenLimit: tokenLimit,
		counter:    counter,
		summarizer: summarizer,
		logger:     logger,
	}
}

// Reset clears the summary and the buffer.
func (m *Memory) Reset() {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.summary = ""
	m.summaryTok = 0
	m.turns = nil
	m.turnTok = 0
	m.logger.Debug("Cleared memory")
}

// Summary returns the running summary.
func (m *Memory) Summary() string {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.summary
}

// Turns returns a copy of the buffered turns, oldest first.
func (m *Memory) Turns() []Turn {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return append([]Turn(nil), m.turns...)
}

// Tokens returns the token count of the summary plus the buffered turns.
func (m *Memory) Tokens() int {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.summaryTok + m.turnTok
}

// TokenLimit returns the configured limit.
func (m *Memory) TokenLimit() int {
	return m.tokenLimit
}

// RecordExchange appends a turn and folds the oldest turns into the summary
// while the memory is over its limit. It returns how many turns were folded.
// The turn is recorded even when an error is returned; the error only
// reports a deferred fold and is an *llm.LLMError of type
// ErrorTypeSummarization. Turns folded by earlier passes of the same call
// stay folded and are still counted.
func (m *Memory) RecordExchange(ctx context.Context, input, output string) (int, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	turn := Turn{Input: input, Output: output}
	turn.Tokens = m.counter.Count(turn.String())
	m.turns = append(m.turns, turn)
	m.turnTok += turn.Tokens
	m.logger.Debug("Added turn to memory", "tokens", turn.Tokens, "total_tokens", m.summaryTok+m.turnTok, "limit", m.tokenLimit)

	return m.prune(ctx)
}

// prune folds batches of the oldest turns until the memory fits or the
// buffer is empty. Each pass removes at least one turn, so it terminates.
func (m *Memory) prune(ctx context.Context) (int, error) {
	total := 0
	for m.summaryTok+m.turnTok > m.tokenLimit && len(m.turns) > 0 {
		n, remaining := 0, m.turnTok
		for n < len(m.turns) && m.summaryTok+remaining > m.tokenLimit {
			remaining -= m.turns[n].Tokens
			n++
		}

		folded := m.turns[:n]
		newSummary, err := m.summarizer.Summarize(ctx, m.summary, formatLines(folded))
		if err != nil {
			m.logger.Warn("Summarization failed, keeping turns buffered", "turns", n, "error", err)
			return total, llm.NewLLMError(llm.ErrorTypeSummarization, "fold deferred to next exchange", err)
		}

		m.summary = newSummary
		m.summaryTok = m.counter.Count(newSummary)
		m.turns = append([]Turn(nil), m.turns[n:]...)
		m.turnTok = remaining
		total += n
		m.logger.Debug("Folded turns into summary", "turns", n, "summary_tokens", m.summaryTok, "total_tokens", m.summaryTok+m.turnTok)
	}
	return total, nil
}

func formatLines(turns []Turn) string {
	lines := make([]string, len(turns))
	for i, t := range turns {
		lines[i] = t.String()
	}
	return strings.Join(lines, "\n")
}
