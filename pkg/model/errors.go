package model

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrorKind classifies failures for retry and reporting decisions.
type ErrorKind int

const (
	KindOther ErrorKind = iota
	KindValidation
	KindAuthRejected
	KindQuotaOrRateLimited
	KindModelUnavailable
	KindNetworkUnreachable
	KindPartialSegmentFailure
	KindRenderFailure
)

func (k ErrorKind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAuthRejected:
		return "auth_rejected"
	case KindQuotaOrRateLimited:
		return "quota_or_rate_limited"
	case KindModelUnavailable:
		return "model_unavailable"
	case KindNetworkUnreachable:
		return "network_unreachable"
	case KindPartialSegmentFailure:
		return "partial_segment_failure"
	case KindRenderFailure:
		return "render_failure"
	default:
		return "other"
	}
}

// Fatal reports whether retrying or advancing a fallback chain cannot help.
func (k ErrorKind) Fatal() bool {
	return k == KindValidation || k == KindAuthRejected || k == KindRenderFailure
}

// MaxMessageLen bounds every message shown to an end user.
const MaxMessageLen = 280

// ErrAborted marks a cancelled job. It is not a failure.
var ErrAborted = errors.New("aborted")

// Error is a classified failure.
type Error struct {
	Kind       ErrorKind
	Code       string
	Message    string
	RetryAfter time.Duration
	Err        error
}

// NewError builds a classified error.
func NewError(kind ErrorKind, code, msg string, err error) *Error {
	return &Error{Kind: kind, Code: code, Message: msg, Err: err}
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.String())
	if e.Code != "" {
		b.WriteString(" [")
		b.WriteString(e.Code)
		b.WriteString("]")
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the kind of the first classified error in the chain.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindOther
}

// WordLimitExceeded is the preflight error for oversized requests.
func WordLimitExceeded(limit, got int) *Error {
	return NewError(KindValidation, "word_limit_exceeded",
		fmt.Sprintf("script has %d words, the limit is %d words per request", got, limit), nil)
}

// Aborted wraps a context error so callers can match both ErrAborted and the context cause.
func Aborted(cause error) error {
	if cause == nil {
		return ErrAborted
	}
	return fmt.Errorf("%w: %w", ErrAborted, cause)
}

// IsAborted reports whether err is a cancellation rather than a failure.
func IsAborted(err error) bool {
	return errors.Is(err, ErrAborted) || errors.Is(err, context.Canceled)
}

// UserMessage renders err as one bounded, human-readable line.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	if IsAborted(err) {
		return "Generation was cancelled."
	}
	var e *Error
	if !errors.As(err, &e) {
		return Truncate("Generation failed: "+err.Error(), MaxMessageLen)
	}
	var msg string
	switch e.Kind {
	case KindQuotaOrRateLimited:
		msg = "Usage limit reached for the synthesis engine."
		if e.RetryAfter > 0 {
			msg += fmt.Sprintf(" Try again in %s.", e.RetryAfter.Round(time.Second))
		} else {
			msg += " Try again later."
		}
	case KindAuthRejected:
		msg = "The synthesis engine rejected its credentials. " + e.Message
	case KindValidation:
		msg = e.Message
	default:
		msg = e.Message
		if msg == "" && e.Err != nil {
			msg = e.Err.Error()
		}
		if msg == "" {
			msg = e.Kind.String()
		}
	}
	return Truncate(strings.TrimSpace(msg), MaxMessageLen)
}

// Truncate shortens s to at most n runes, marking the cut with an ellipsis.
func Truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 1 {
		return string(r[:n])
	}
	return string(r[:n-1]) + "…"
}
