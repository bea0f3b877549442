package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Message roles.  All adapters speak lowercase roles; providers that
// want something else translate internally.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is a single chat message as seen by an adapter.  Adapters
// are stateless -- the full turn context is passed on every call.
type Message struct {
	Role      string
	Content   string
	CreatedAt time.Time
}

// ErrKind classifies a provider failure.  The dispatcher uses the
// kind to decide whether trying another provider can possibly help.
type ErrKind string

const (
	ErrAuth               ErrKind = "auth"
	ErrRateLimited        ErrKind = "rate_limited"
	ErrTimeout            ErrKind = "timeout"
	ErrBackendUnavailable ErrKind = "backend_unavailable"
	ErrMalformedResponse  ErrKind = "malformed_response"
)

// ErrorInfo is a classified provider error.  Adapters must convert
// every transport failure into one of these; raw http or json errors
// never cross the adapter boundary.
type ErrorInfo struct {
	Kind      ErrKind
	Message   string
	Retriable bool
}

func (e *ErrorInfo) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// NewError builds an ErrorInfo with the retriable flag implied by the
// kind.  Only rate_limited, timeout, and backend_unavailable are worth
// retrying against a different provider; auth and malformed_response
// would fail identically everywhere the same config is used.
func NewError(kind ErrKind, format string, args ...interface{}) *ErrorInfo {
	retriable := false
	switch kind {
	case ErrRateLimited, ErrTimeout, ErrBackendUnavailable:
		retriable = true
	}
	return &ErrorInfo{
		Kind:      kind,
		Message:   fmt.Sprintf(format, args...),
		Retriable: retriable,
	}
}

// ClassifyStatus maps an HTTP status code from a provider API to an
// ErrorInfo.  Shared by the adapters that talk raw HTTP.
func ClassifyStatus(provider string, status int, body string) *ErrorInfo {
	var kind ErrKind
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		kind = ErrAuth
	case status == http.StatusTooManyRequests:
		kind = ErrRateLimited
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		kind = ErrTimeout
	case status >= 500:
		kind = ErrBackendUnavailable
	default:
		kind = ErrMalformedResponse
	}
	return NewError(kind, "%s returned status %d: %s", provider, status, body)
}

// ClassifyTransport maps a transport-level error (connect refused,
// context deadline, etc.) to an ErrorInfo.
func ClassifyTransport(provider string, err error) *ErrorInfo {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return NewError(ErrTimeout, "%s: %v", provider, err)
	}
	type timeouter interface{ Timeout() bool }
	if te, ok := err.(timeouter); ok && te.Timeout() {
		return NewError(ErrTimeout, "%s: %v", provider, err)
	}
	return NewError(ErrBackendUnavailable, "%s: %v", provider, err)
}

// StreamChunk is one increment of a streamed chat response.  A stream
// is a finite sequence of zero or more delta chunks followed by
// exactly one terminal chunk: either Final is true or Err is set.
// Chunks are never persisted; only the assembled message is.
type StreamChunk struct {
	Delta string
	Final bool
	Err   *ErrorInfo
}

// Options carries per-request generation knobs.
type Options struct {
	MaxTokens   int
	Temperature float32
}

// ChatStreamer is the uniform contract every provider adapter
// implements.  StreamChat returns a channel that yields chunks in the
// exact order the backend emitted them and closes after the terminal
// chunk.  Cancelling ctx releases the underlying connection promptly;
// the adapter never blocks forever on an abandoned stream.
type ChatStreamer interface {
	// Name returns the provider id, e.g. "ollama" or "openai".
	Name() string

	// StreamChat starts one chat completion.  msgs is the full turn
	// context: compiled system prompt, history, and the new user
	// message.  The returned channel is owned by the adapter and is
	// closed when the stream ends for any reason.
	StreamChat(ctx context.Context, model string, msgs []Message, opts Options) (<-chan StreamChunk, error)

	// CheckHealth performs a lightweight liveness probe.  It must be
	// cheap, bounded by ctx, and must not share a connection with any
	// in-flight chat stream.
	CheckHealth(ctx context.Context) error
}
