// Package providers implements the wire format of hosted text-generation
// endpoints. A Provider knows how to address an endpoint, authenticate,
// encode a prompt with its sampling parameters and decode the generated
// text; the HTTP exchange itself lives in package llm.
package providers

import (
	"errors"

	"github.com/teilomillet/sumchat/utils"
)

// ErrMalformedResponse is returned by ParseResponse when the body does not
// have the shape the endpoint promises.
var ErrMalformedResponse = errors.New("malformed response")

// Provider defines the interface that all text-generation providers implement.
type Provider interface {
	// Core identification and configuration
	Name() string
	Endpoint() string
	SetEndpoint(endpoint string)
	Headers() map[string]string
	SetExtraHeaders(extraHeaders map[string]string)
	SetLogger(logger utils.Logger)

	// Request preparation
	PrepareRequest(prompt string, params Parameters) ([]byte, error)

	// Response handling
	ParseResponse(body []byte) (string, error)
}

// ProviderConstructor defines a function type for creating new provider instances.
type ProviderConstructor func(apiKey, endpoint string, extraHeaders map[string]string) Provider
