package shopify

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrorKind classifies a failed remote call.
type ErrorKind string

const (
	// KindTransport covers network failures and 5xx responses. Retried.
	KindTransport ErrorKind = "transport"
	// KindRateLimited covers 429 responses. Retried after the server's stated wait.
	KindRateLimited ErrorKind = "rate_limited"
	// KindValidation covers GraphQL errors and mutation userErrors on a 2xx response.
	KindValidation ErrorKind = "validation"
	// KindAuth covers rejected credentials (401/403).
	KindAuth ErrorKind = "auth"
	// KindClient covers every other 4xx response.
	KindClient ErrorKind = "client"
	// KindMalformed covers 2xx responses whose body is not a GraphQL envelope.
	KindMalformed ErrorKind = "malformed"
)

var (
	ErrTransport         = errors.New("shopify: transport failure")
	ErrRateLimited       = errors.New("shopify: rate limited")
	ErrRemoteValidation  = errors.New("shopify: remote validation failed")
	ErrAuth              = errors.New("shopify: authentication rejected")
	ErrClient            = errors.New("shopify: request rejected")
	ErrMalformedResponse = errors.New("shopify: malformed response")
)

// GraphQLError is one entry of the top-level "errors" array.
type GraphQLError struct {
	Message    string         `json:"message"`
	Path       []any          `json:"path,omitempty"`
	Extensions map[string]any `json:"extensions,omitempty"`
}

// UserError is one entry of a mutation's userErrors array.
type UserError struct {
	Field   []string `json:"field"`
	Message string   `json:"message"`
	Code    string   `json:"code,omitempty"`
}

// RemoteAPIError is returned for every unrecoverable outcome of a remote call.
type RemoteAPIError struct {
	Kind       ErrorKind
	StatusCode int
	Message    string
	RawErrors  []GraphQLError
	UserErrors []UserError
	RetryAfter time.Duration
	cause      error
}

func (e *RemoteAPIError) Error() string {
	var builder strings.Builder
	builder.WriteString("shopify ")
	builder.WriteString(string(e.Kind))
	if e.StatusCode != 0 {
		fmt.Fprintf(&builder, " (status %d)", e.StatusCode)
	}
	if e.Message != "" {
		builder.WriteString(": ")
		builder.WriteString(e.Message)
	}
	return builder.String()
}

// Unwrap exposes the underlying transport failure, if any.
func (e *RemoteAPIError) Unwrap() error {
	return e.cause
}

// Is matches the kind sentinels so callers can use errors.Is.
func (e *RemoteAPIError) Is(target error) bool {
	switch target {
	case ErrTransport:
		return e.Kind == KindTransport
	case ErrRateLimited:
		return e.Kind == KindRateLimited
	case ErrRemoteValidation:
		return e.Kind == KindValidation
	case ErrAuth:
		return e.Kind == KindAuth
	case ErrClient:
		return e.Kind == KindClient
	case ErrMalformedResponse:
		return e.Kind == KindMalformed
	}
	return false
}

// Retryable reports whether the call may succeed if attempted again.
func (e *RemoteAPIError) Retryable() bool {
	return e.Kind == KindTransport || e.Kind == KindRateLimited
}

func newGraphQLError(errs []GraphQLError) *RemoteAPIError {
	messages := make([]string, 0, len(errs))
	for _, graphQLError := range errs {
		messages = append(messages, graphQLError.Message)
	}
	return &RemoteAPIError{
		Kind:      KindValidation,
		Message:   strings.Join(messages, "; "),
		RawErrors: errs,
	}
}

func newUserError(operation string, errs []UserError) *RemoteAPIError {
	messages := make([]string, 0, len(errs))
	for _, userError := range errs {
		if len(userError.Field) > 0 {
			messages = append(messages, strings.Join(userError.Field, ".")+": "+userError.Message)
			continue
		}
		messages = append(messages, userError.Message)
	}
	return &RemoteAPIError{
		Kind:       KindValidation,
		Message:    operation + ": " + strings.Join(messages, "; "),
		UserErrors: errs,
	}
}
