package transport

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Kind classifies a failed exchange. Exactly one Kind is attached to every
// failure, and classification happens before any retry decision.
type Kind string

const (
	// KindTransientHTTP covers 429/502/503/504: the backend answered but is
	// overloaded or proxying a dead upstream. Retried with backoff.
	KindTransientHTTP Kind = "transient-http"

	// KindTransientConnection covers refused/unreachable/DNS/timeout
	// failures where no HTTP response arrived. Retried with backoff, and
	// triggers supervised reconnection once retries are exhausted.
	KindTransientConnection Kind = "transient-connection"

	KindNotFound    Kind = "not-found"          // 404
	KindAuth        Kind = "auth"               // 401/403
	KindClient      Kind = "client-error"       // other 4xx
	KindServer      Kind = "server-error"       // other 5xx
	KindMalformed   Kind = "malformed-response" // body failed to parse
	KindValidation  Kind = "validation-error"   // bad local input, never sent
	KindSupervision Kind = "supervision-error"  // backend could not be (re)started
)

// Error is the classified failure returned by every transport operation.
type Error struct {
	Kind    Kind
	Status  int // HTTP status when the backend responded, else 0
	Message string
	Err     error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Status != 0 {
		fmt.Fprintf(&b, " (HTTP %d)", e.Status)
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

// Transient reports whether the same request is worth retrying.
func (e *Error) Transient() bool {
	return e.Kind == KindTransientHTTP || e.Kind == KindTransientConnection
}

// ConnectionFailure reports whether the backend could not be reached at all,
// as opposed to answering with an error status.
func (e *Error) ConnectionFailure() bool {
	return e.Kind == KindTransientConnection
}

// AsError extracts the classified error from an error chain.
func AsError(err error) (*Error, bool) {
	var typed *Error
	if errors.As(err, &typed) {
		return typed, true
	}
	return nil, false
}

// classifyStatus maps an HTTP error status to a Kind. The body, when small
// enough to have been captured, becomes the message.
func classifyStatus(status int, body []byte) *Error {
	kind := KindServer
	switch {
	case status == 429 || status == 502 || status == 503 || status == 504:
		kind = KindTransientHTTP
	case status == 404:
		kind = KindNotFound
	case status == 401 || status == 403:
		kind = KindAuth
	case status >= 400 && status < 500:
		kind = KindClient
	}

	msg := strings.TrimSpace(string(body))
	if len(msg) > 512 {
		msg = msg[:512]
	}
	return &Error{Kind: kind, Status: status, Message: msg}
}

// classifyNetError maps a transport-level failure (no HTTP response) to a
// Kind. Connection refusal, unreachable hosts, DNS failures, and timeouts
// all mean the backend is absent or drowning; everything else is reported
// as a connection failure too, since no response ever arrived.
func classifyNetError(op string, err error) *Error {
	// Unwrap the http client's envelope so syscall errors are visible.
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		err = urlErr.Err
	}

	return &Error{
		Kind:    KindTransientConnection,
		Message: op,
		Err:     err,
	}
}
