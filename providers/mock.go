package providers

import (
	"encoding/json"
	"errors"
	"sync"

	"github.com/teilomillet/sumchat/utils"
)

// MockProvider implements the Provider interface for testing purposes.
// It ignores response bodies and answers from a queue of preset responses.
type MockProvider struct {
	mu           sync.Mutex
	endpoint     string
	extraHeaders map[string]string
	logger       utils.Logger
	// Mock response configuration
	responseText  string
	shouldError   bool
	errorMsg      string
	responses     []string // Queue of preset responses
	currentIndex  int      // Current position in response queue
	loopResponses bool     // Whether to loop through responses or error when exhausted
	prompts       []string // Every prompt passed to PrepareRequest
}

// NewMockProvider creates a new mock provider instance for testing.
func NewMockProvider(apiKey, endpoint string, extraHeaders map[string]string) Provider {
	if extraHeaders == nil {
		extraHeaders = make(map[string]string)
	}
	return &MockProvider{
		endpoint:     endpoint,
		extraHeaders: extraHeaders,
		logger:       utils.NopLogger{},
		responseText: "This is a mock response",
	}
}

// SetMockError configures the mock to return an error
func (p *MockProvider) SetMockError(shouldError bool, errorMsg string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.shouldError = shouldError
	p.errorMsg = errorMsg
}

// SetResponses configures a list of responses to be returned in sequence
func (p *MockProvider) SetResponses(responses []string, loop bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.responses = responses
	p.currentIndex = 0
	p.loopResponses = loop
}

// Prompts returns every prompt the mock has been asked to encode.
func (p *MockProvider) Prompts() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.prompts...)
}

func (p *MockProvider) Name() string                  { return "mock" }
func (p *MockProvider) Endpoint() string              { return p.endpoint }
func (p *MockProvider) SetEndpoint(endpoint string)   { p.endpoint = endpoint }
func (p *MockProvider) SetLogger(logger utils.Logger) { p.logger = logger }
func (p *MockProvider) SetExtraHeaders(headers map[string]string) {
	p.extraHeaders = headers
}

func (p *MockProvider) Headers() map[string]string {
	headers := map[string]string{
		"Content-Type": "application/json",
	}
	for k, v := range p.extraHeaders {
		headers[k] = v
	}
	return headers
}

func (p *MockProvider) PrepareRequest(prompt string, params Parameters) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.shouldError {
		return nil, errors.New(p.errorMsg)
	}
	p.prompts = append(p.prompts, prompt)
	return json.Marshal(Request{Inputs: prompt, Parameters: params})
}

// getNextResponse returns the next response from the queue
func (p *MockProvider) getNextResponse() (string, error) {
	if len(p.responses) == 0 {
		return p.responseText, nil // Fall back to default response
	}

	if p.currentIndex >= len(p.responses) {
		if !p.loopResponses {
			return "", errors.New("mock responses exhausted")
		}
		p.currentIndex = 0
	}

	response := p.responses[p.currentIndex]
	p.currentIndex++
	return response, nil
}

func (p *MockProvider) ParseResponse(body []byte) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.shouldError {
		return "", errors.New(p.errorMsg)
	}
	return p.getNextResponse()
}
