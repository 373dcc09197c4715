// Package tokenizer counts tokens for prompt budgeting.
//
// Counts come from OpenAI BPE encodings via tiktoken-go. The hosted models
// this module talks to (Llama-2 derivatives) use a SentencePiece vocabulary,
// so every count here is an approximation of what the model itself sees.
// It is deterministic and close enough to keep a prompt inside its budget.
package tokenizer

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// DefaultEncoding is the encoding used when none is configured.
const DefaultEncoding = "cl100k_base"

// ErrUnknownEncoding is returned for an encoding name tiktoken does not ship.
var ErrUnknownEncoding = errors.New("unknown encoding")

var knownEncodings = map[string]struct{}{
	"cl100k_base": {},
	"o200k_base":  {},
	"p50k_base":   {},
	"p50k_edit":   {},
	"r50k_base":   {},
}

// Encodings lists the encoding names New accepts, sorted.
func Encodings() []string {
	names := make([]string, 0, len(knownEncodings))
	for name := range knownEncodings {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Known reports whether New accepts the encoding name.
func Known(name string) bool {
	_, ok := knownEncodings[name]
	return ok
}

// Counter reports the number of tokens in a string.
type Counter interface {
	Count(text string) int
}

// BPE counts tokens with a tiktoken byte-pair encoding.
type BPE struct {
	name     string
	encoding *tiktoken.Tiktoken
}

var (
	cacheMu sync.Mutex
	cache   = map[string]*BPE{}
)

// New returns the BPE counter for the named encoding. Encodings are loaded
// once per process and shared.
func New(encodingName string) (*BPE, error) {
	if !Known(encodingName) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEncoding, encodingName)
	}

	cacheMu.Lock()
	defer cacheMu.Unlock()

	if c, ok := cache[encodingName]; ok {
		return c, nil
	}

	enc, err := tiktoken.GetEncoding(encodingName)
	if err != nil {
		return nil, fmt.Errorf("load encoding %q: %w", encodingName, err)
	}

	c := &BPE{name: encodingName, encoding: enc}
	cache[encodingName] = c
	return c, nil
}

// Name returns the encoding name.
func (b *BPE) Name() string {
	return b.name
}

// Count returns the number of BPE tokens in text. Special-token text such as
// "<|endoftext|>" is counted as the special token rather than rejected.
func (b *BPE) Count(text string) int {
	if text == "" {
		return 0
	}
	return len(b.encoding.Encode(text, []string{"all"}, nil))
}

// CountTokens counts the tokens in text using the named encoding.
func CountTokens(text, encodingName string) (int, error) {
	c, err := New(encodingName)
	if err != nil {
		return 0, err
	}
	return c.Count(text), nil
}

// Approximate estimates tokens at roughly four bytes per token. It needs no
// vocabulary download and is meant for offline use and tests.
type Approximate struct{}

func (Approximate) Count(text string) int {
	if len(text) == 0 {
		return 0
	}
	return (len(text) + 3) / 4
}
