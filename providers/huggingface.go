package providers

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/teilomillet/sumchat/utils"
)

// HuggingFaceProvider speaks the text-generation format of Hugging Face
// Inference Endpoints and text-generation-inference servers.
type HuggingFaceProvider struct {
	apiKey       string
	endpoint     string
	extraHeaders map[string]string
	logger       utils.Logger
}

// NewHuggingFaceProvider creates a provider that authenticates with apiKey as
// a bearer token and posts to endpoint.
func NewHuggingFaceProvider(apiKey, endpoint string, extraHeaders map[string]string) Provider {
	if extraHeaders == nil {
		extraHeaders = make(map[string]string)
	}
	return &HuggingFaceProvider{
		apiKey:       apiKey,
		endpoint:     endpoint,
		extraHeaders: extraHeaders,
		logger:       utils.NewLogger(utils.LogLevelWarn),
	}
}

func (p *HuggingFaceProvider) Name() string {
	return "huggingface"
}

func (p *HuggingFaceProvider) Endpoint() string {
	return p.endpoint
}

func (p *HuggingFaceProvider) SetEndpoint(endpoint string) {
	p.endpoint = endpoint
}

func (p *HuggingFaceProvider) SetLogger(logger utils.Logger) {
	p.logger = logger
}

func (p *HuggingFaceProvider) SetExtraHeaders(extraHeaders map[string]string) {
	if extraHeaders == nil {
		extraHeaders = make(map[string]string)
	}
	p.extraHeaders = extraHeaders
}

// Headers returns the JSON content type, the bearer token and any extra
// headers. Extra headers override the defaults.
func (p *HuggingFaceProvider) Headers() map[string]string {
	headers := map[string]string{
		"Content-Type": "application/json",
	}
	if p.apiKey != "" {
		headers["Authorization"] = "Bearer " + p.apiKey
	}
	for k, v := range p.extraHeaders {
		headers[k] = v
	}
	return headers
}

// PrepareRequest encodes {"inputs": prompt, "parameters": params}.
func (p *HuggingFaceProvider) PrepareRequest(prompt string, params Parameters) ([]byte, error) {
	body, err := json.Marshal(Request{Inputs: prompt, Parameters: params})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	return body, nil
}

// ParseResponse extracts generated_text from the first element of the
// response array. A bare object is accepted too, since some servers answer
// unbatched requests that way.
func (p *HuggingFaceProvider) ParseResponse(body []byte) (string, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return "", fmt.Errorf("%w: empty body", ErrMalformedResponse)
	}

	var first generation
	switch trimmed[0] {
	case '[':
		var batch []generation
		if err := json.Unmarshal(trimmed, &batch); err != nil {
			return "", fmt.Errorf("%w: %v", ErrMalformedResponse, err)
		}
		if len(batch) == 0 {
			return "", fmt.Errorf("%w: empty result array", ErrMalformedResponse)
		}
		first = batch[0]
	case '{':
		if err := json.Unmarshal(trimmed, &first); err != nil {
			return "", fmt.Errorf("%w: %v", ErrMalformedResponse, err)
		}
	default:
		return "", fmt.Errorf("%w: unexpected JSON value", ErrMalformedResponse)
	}

	if first.GeneratedText == nil {
		return "", fmt.Errorf("%w: missing generated_text", ErrMalformedResponse)
	}

	p.logger.Debug("Parsed generation", "provider", p.Name(), "length", len(*first.GeneratedText))
	return *first.GeneratedText, nil
}
