package llm

import (
	"errors"
	"fmt"
)

// ErrorType represents the type of an error
type ErrorType int

const (
	ErrorTypeUnknown ErrorType = iota
	ErrorTypeProvider
	ErrorTypeRequest
	ErrorTypeResponse
	ErrorTypeAPI
	ErrorTypeRateLimit
	ErrorTypeAuthentication
	ErrorTypeInvalidInput
	ErrorTypeTokenization
	ErrorTypeTransport
	ErrorTypeMalformedResponse
	ErrorTypeSummarization
)

// LLMError represents an error in the LLM package
type LLMError struct {
	Type       ErrorType
	Message    string
	StatusCode int
	Err        error
}

func (e *LLMError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s (%s): %v", e.TypeString(), e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.TypeString(), e.Message)
}

func (e *LLMError) Unwrap() error {
	return e.Err
}

func (e *LLMError) TypeString() string {
	return e.Type.String()
}

func (t ErrorType) String() string {
	switch t {
	case ErrorTypeProvider:
		return "ProviderError"
	case ErrorTypeRequest:
		return "RequestError"
	case ErrorTypeResponse:
		return "ResponseError"
	case ErrorTypeAPI:
		return "APIError"
	case ErrorTypeRateLimit:
		return "RateLimitError"
	case ErrorTypeAuthentication:
		return "AuthenticationError"
	case ErrorTypeInvalidInput:
		return "InvalidInputError"
	case ErrorTypeTokenization:
		return "TokenizationError"
	case ErrorTypeTransport:
		return "TransportError"
	case ErrorTypeMalformedResponse:
		return "MalformedResponse"
	case ErrorTypeSummarization:
		return "SummarizationFailure"
	default:
		return "UnknownError"
	}
}

// LoggableFields returns key/value pairs suitable for a structured logger.
func (e *LLMError) LoggableFields() []any {
	return []any{
		"error_type", e.TypeString(),
		"message", e.Message,
		"status_code", e.StatusCode,
	}
}

// NewLLMError creates a new LLMError
func NewLLMError(errType ErrorType, message string, err error) *LLMError {
	return &LLMError{
		Type:    errType,
		Message: message,
		Err:     err,
	}
}

// IsType reports whether any error in err's chain is an LLMError of type t.
func IsType(err error, t ErrorType) bool {
	var llmErr *LLMError
	if !errors.As(err, &llmErr) {
		return false
	}
	if llmErr.Type == t {
		return true
	}
	return IsType(llmErr.Err, t)
}

// Kind returns the ErrorType of the outermost LLMError in err's chain,
// or ErrorTypeUnknown.
func Kind(err error) ErrorType {
	var llmErr *LLMError
	if errors.As(err, &llmErr) {
		return llmErr.Type
	}
	return ErrorTypeUnknown
}
