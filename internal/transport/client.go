package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/lydakis/opencode-mcp/internal/httpheaders"
)

// maxErrorBody caps how much of an error response is captured for messages.
const maxErrorBody = 4 << 10

// NoContent is the success sentinel for HTTP 204 responses. It is non-nil
// and empty so callers can tell "no body by design" from "absent result".
var NoContent = json.RawMessage{}

// IsNoContent reports whether a result is the 204 sentinel.
func IsNoContent(raw json.RawMessage) bool {
	return raw != nil && len(raw) == 0
}

// errBudgetExhausted is internal: the reconnect step refused because the
// process-wide budget is spent. The caller then surfaces the original
// connection error unchanged.
var errBudgetExhausted = errors.New("reconnection budget exhausted")

// Supervisor is the slice of the backend supervisor the client needs.
type Supervisor interface {
	EnsureRunning(ctx context.Context) error
}

// Options configures a Client. Zero values fall back to conservative
// defaults; see the config package for the canonical numbers.
type Options struct {
	BaseURL  string
	Username string
	Password string
	Headers  map[string]string

	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration

	RequestTimeout time.Duration
	ConnectTimeout time.Duration

	// AutoStart enables supervised reconnection. Supervisor may be nil when
	// AutoStart is false.
	AutoStart        bool
	Supervisor       Supervisor
	ReconnectCeiling int

	// Logf receives diagnostic lines. Defaults to stderr; stdout belongs to
	// the MCP channel and is never written to.
	Logf func(format string, args ...any)
}

// Client executes logical requests against the backend, hiding retry and
// reconnection mechanics from callers. Safe for concurrent use.
type Client struct {
	baseURL  string
	username string
	password string
	headers  map[string]string

	maxAttempts    int
	baseDelay      time.Duration
	maxDelay       time.Duration
	requestTimeout time.Duration

	autoStart bool
	sup       Supervisor
	budget    *reconnectBudget
	reconnect singleflight.Group

	httpClient *http.Client
	logf       func(format string, args ...any)
}

// NewClient builds a Client from options.
func NewClient(opts Options) *Client {
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 3
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = 250 * time.Millisecond
	}
	if opts.MaxDelay <= 0 {
		opts.MaxDelay = 2 * time.Second
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 30 * time.Second
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 5 * time.Second
	}
	if opts.ReconnectCeiling < 1 {
		opts.ReconnectCeiling = 3
	}
	logf := opts.Logf
	if logf == nil {
		logf = func(format string, args ...any) {
			fmt.Fprintf(os.Stderr, "opencode-mcp: "+format+"\n", args...)
		}
	}

	// No client-level timeout: Do applies a per-attempt deadline and SSE
	// responses must stay open indefinitely. The header timeout still
	// bounds every connection attempt, including SSE, where the backend
	// sends headers immediately; only the open body is unbounded.
	httpClient := &http.Client{
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout: opts.ConnectTimeout,
			}).DialContext,
			ResponseHeaderTimeout: opts.RequestTimeout,
		},
	}

	return &Client{
		baseURL:        opts.BaseURL,
		username:       opts.Username,
		password:       opts.Password,
		headers:        opts.Headers,
		maxAttempts:    opts.MaxAttempts,
		baseDelay:      opts.BaseDelay,
		maxDelay:       opts.MaxDelay,
		requestTimeout: opts.RequestTimeout,
		autoStart:      opts.AutoStart,
		sup:            opts.Supervisor,
		budget:         newReconnectBudget(opts.ReconnectCeiling),
		httpClient:     httpClient,
		logf:           logf,
	}
}

// ReconnectsUsed reports how much of the reconnection budget is spent.
func (c *Client) ReconnectsUsed() int {
	return c.budget.usedCount()
}

// Do executes one logical request to completion: local validation, the
// retry loop, and at most one supervised reconnection cycle. On success it
// returns the response body (NoContent for 204); on failure a classified
// *Error.
func (c *Client) Do(ctx context.Context, req Request) (json.RawMessage, error) {
	req, verr := req.validate()
	if verr != nil {
		return nil, verr
	}

	result, err := c.attemptLoop(ctx, req)
	if err == nil {
		return result, nil
	}

	classified, ok := AsError(err)
	if !ok || !classified.ConnectionFailure() || !c.autoStart || c.sup == nil {
		return nil, err
	}

	if rerr := c.reconnectBackend(ctx); rerr != nil {
		if errors.Is(rerr, errBudgetExhausted) {
			return nil, err
		}
		// Supervision failed: report it together with the connection error,
		// never in place of it.
		return nil, &Error{
			Kind:    KindSupervision,
			Message: fmt.Sprintf("backend restart failed: %v", rerr),
			Err:     err,
		}
	}

	c.logf("backend restarted, retrying %s %s", req.Method, req.Path)
	return c.attemptLoop(ctx, req)
}

// reconnectBackend funnels concurrent callers that hit the same outage into
// a single budget acquisition and a single EnsureRunning call.
func (c *Client) reconnectBackend(ctx context.Context) error {
	_, err, _ := c.reconnect.Do("reconnect", func() (any, error) {
		if !c.budget.tryAcquire() {
			return nil, errBudgetExhausted
		}
		c.logf("backend unreachable, asking supervisor to start it (reconnect %d)", c.budget.usedCount())
		return nil, c.sup.EnsureRunning(ctx)
	})
	return err
}

// attemptLoop runs the bounded retry loop. Transient failures back off and
// retry; anything else short-circuits.
func (c *Client) attemptLoop(ctx context.Context, req Request) (json.RawMessage, error) {
	var lastErr *Error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if attempt > 1 {
			delay := backoffDelay(attempt-1, c.baseDelay, c.maxDelay)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		result, aerr := c.attempt(ctx, req)
		if aerr == nil {
			return result, nil
		}
		lastErr = aerr
		if !aerr.Transient() {
			return nil, aerr
		}
		if attempt < c.maxAttempts {
			c.logf("attempt %d/%d for %s %s failed (%s), retrying", attempt, c.maxAttempts, req.Method, req.Path, aerr.Kind)
		}
	}
	return nil, lastErr
}

// attempt issues a single wire request with its own deadline and classifies
// any failure. Retry state never leaks between attempts.
func (c *Client) attempt(ctx context.Context, req Request) (json.RawMessage, *Error) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	httpReq, aerr := c.newHTTPRequest(attemptCtx, req)
	if aerr != nil {
		return nil, aerr
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, classifyNetError(fmt.Sprintf("%s %s", req.Method, req.Path), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return NoContent, nil
	}

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, classifyStatus(resp.StatusCode, body)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, classifyNetError("reading response body", err)
	}
	if len(body) == 0 {
		return NoContent, nil
	}
	if !json.Valid(body) {
		return nil, &Error{Kind: KindMalformed, Status: resp.StatusCode, Message: "response body is not valid JSON"}
	}
	return json.RawMessage(body), nil
}

func (c *Client) newHTTPRequest(ctx context.Context, req Request) (*http.Request, *Error) {
	target := c.baseURL + req.Path
	if len(req.Query) > 0 {
		target += "?" + req.Query.Encode()
	}

	var bodyReader io.Reader
	if req.Body != nil {
		data, err := json.Marshal(req.Body)
		if err != nil {
			return nil, &Error{Kind: KindValidation, Message: "marshaling request body", Err: err}
		}
		bodyReader = bytes.NewReader(data)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, target, bodyReader)
	if err != nil {
		return nil, &Error{Kind: KindValidation, Message: "building request", Err: err}
	}

	httpReq.Header.Set("Accept", "application/json")
	if req.Body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	c.applyCommonHeaders(httpReq, req.Directory)
	return httpReq, nil
}

// applyCommonHeaders attaches auth, the directory scope, and config-supplied
// extras. Extras can never override headers the transport owns.
func (c *Client) applyCommonHeaders(httpReq *http.Request, directory string) {
	if c.password != "" {
		httpReq.SetBasicAuth(c.username, c.password)
	}
	if directory != "" {
		httpReq.Header.Set(DirectoryHeader, directory)
	}
	httpheaders.Apply(httpReq.Header, c.headers,
		"Authorization", DirectoryHeader, "Content-Type", "Accept")
}
