package transport

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

// ErrStreamEnded marks normal termination of an event stream: the backend
// closed the connection or the subscription was cancelled.
var ErrStreamEnded = errors.New("event stream ended")

// Event is one parsed server-sent event frame.
type Event struct {
	Type string
	Data json.RawMessage
}

// Subscription is a cancellable handle on a long-lived event stream.
// Events are delivered in order via Next; a frame is only ever delivered
// complete, no matter how it was split across network reads.
type Subscription struct {
	id     string
	events chan Event
	done   chan struct{}
	cancel context.CancelFunc

	err error // set before done is closed
}

// Subscribe opens a persistent text/event-stream connection to path and
// starts delivering parsed frames. The stream is infinite and not
// restartable: once it ends, open a new subscription. Cancelling ctx or
// calling Close terminates the connection within one read iteration.
func (c *Client) Subscribe(ctx context.Context, path string) (*Subscription, error) {
	if !strings.HasPrefix(path, "/") {
		return nil, &Error{Kind: KindValidation, Message: fmt.Sprintf("path %q must be backend-relative, starting with /", path)}
	}

	subCtx, cancel := context.WithCancel(ctx)

	httpReq, err := http.NewRequestWithContext(subCtx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		cancel()
		return nil, &Error{Kind: KindValidation, Message: "building request", Err: err}
	}
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("Cache-Control", "no-cache")
	c.applyCommonHeaders(httpReq, "")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		cancel()
		return nil, classifyNetError(fmt.Sprintf("GET %s", path), err)
	}

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		resp.Body.Close()
		cancel()
		return nil, classifyStatus(resp.StatusCode, body)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		resp.Body.Close()
		cancel()
		return nil, &Error{
			Kind:    KindMalformed,
			Status:  resp.StatusCode,
			Message: fmt.Sprintf("expected text/event-stream, got %q", ct),
		}
	}

	s := &Subscription{
		id:     uuid.NewString(),
		events: make(chan Event, 16),
		done:   make(chan struct{}),
		cancel: cancel,
	}
	go s.read(subCtx, resp.Body, c.logf)
	return s, nil
}

// Next blocks until an event arrives, the stream ends, or ctx is done.
// After the stream ends it keeps returning the terminal error.
func (s *Subscription) Next(ctx context.Context) (Event, error) {
	select {
	case ev := <-s.events:
		return ev, nil
	default:
	}

	select {
	case ev := <-s.events:
		return ev, nil
	case <-s.done:
		// Drain frames parsed before the stream ended.
		select {
		case ev := <-s.events:
			return ev, nil
		default:
		}
		return Event{}, s.err
	case <-ctx.Done():
		return Event{}, ctx.Err()
	}
}

// Close cancels the subscription and closes the underlying connection.
// Safe to call multiple times and concurrently with Next.
func (s *Subscription) Close() {
	s.cancel()
}

// read reassembles newline-delimited frames from the wire. A frame is only
// emitted once its blank-line terminator has been buffered; a mid-frame
// disconnect discards the partial remainder.
func (s *Subscription) read(ctx context.Context, body io.ReadCloser, logf func(string, ...any)) {
	defer body.Close()
	defer close(s.done)

	reader := bufio.NewReader(body)
	var eventType string
	var data bytes.Buffer

	for {
		line, err := reader.ReadBytes('\n')
		if err != nil {
			if ctx.Err() != nil {
				s.err = ErrStreamEnded
			} else if errors.Is(err, io.EOF) && len(line) == 0 && eventType == "" && data.Len() == 0 {
				s.err = ErrStreamEnded
			} else {
				s.err = fmt.Errorf("%w: %v", ErrStreamEnded, err)
				logf("subscription %s ended mid-stream: %v", s.id, err)
			}
			return
		}

		line = bytes.TrimRight(line, "\r\n")

		// Blank line terminates the buffered frame.
		if len(line) == 0 {
			if data.Len() > 0 {
				ev := Event{
					Type: eventType,
					Data: json.RawMessage(append([]byte(nil), data.Bytes()...)),
				}
				select {
				case s.events <- ev:
				case <-ctx.Done():
					s.err = ErrStreamEnded
					return
				}
			}
			eventType = ""
			data.Reset()
			continue
		}

		switch {
		case bytes.HasPrefix(line, []byte(":")):
			// Comment / keepalive.
		case bytes.HasPrefix(line, []byte("event:")):
			eventType = string(bytes.TrimSpace(line[len("event:"):]))
		case bytes.HasPrefix(line, []byte("data:")):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.Write(bytes.TrimPrefix(line[len("data:"):], []byte(" ")))
		default:
			// Unknown field (id:, retry:, ...), ignored.
		}
	}
}
