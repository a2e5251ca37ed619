package completion

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration marks a fatal setup problem detected at construction time.
	ErrConfiguration = errors.New("configuration error")

	// ErrMissingAPIKey is returned by New when no API key is configured.
	ErrMissingAPIKey = fmt.Errorf("%w: completion API key is required", ErrConfiguration)

	ErrTimeout   = errors.New("completion request timed out")
	ErrUpstream  = errors.New("completion backend returned an error")
	ErrTransport = errors.New("completion backend unreachable")
)

// Kind classifies a failed completion call.
type Kind string

const (
	KindTimeout   Kind = "timeout"
	KindUpstream  Kind = "upstream"
	KindTransport Kind = "transport"
)

// Error is returned by Client.Complete. It matches ErrTimeout, ErrUpstream or
// ErrTransport with errors.Is according to its Kind.
type Error struct {
	Kind       Kind
	StatusCode int
	Status     string
	Body       string
	Err        error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindTimeout:
		return "completion: request timed out"
	case KindUpstream:
		msg := "completion: upstream error"
		if e.Status != "" {
			msg += " " + e.Status
		}
		if e.Body != "" {
			msg += ": " + e.Body
		}
		return msg
	default:
		if e.Err != nil {
			return "completion: transport error: " + e.Err.Error()
		}
		return "completion: transport error"
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	switch target {
	case ErrTimeout:
		return e.Kind == KindTimeout
	case ErrUpstream:
		return e.Kind == KindUpstream
	case ErrTransport:
		return e.Kind == KindTransport
	}
	return false
}
