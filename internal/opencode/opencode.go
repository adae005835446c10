// Package opencode maps the backend's HTTP API onto typed operations.
// Every call funnels through the transport client, so retry, auth,
// directory scoping, and error classification behave identically across
// the catalog.
package opencode

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/lydakis/opencode-mcp/internal/transport"
)

// Caller is the slice of the transport client the catalog needs.
type Caller interface {
	Do(ctx context.Context, req transport.Request) (json.RawMessage, error)
	Subscribe(ctx context.Context, path string) (*transport.Subscription, error)
}

// Service exposes the backend operation catalog.
type Service struct {
	caller Caller
}

func New(caller Caller) *Service {
	return &Service{caller: caller}
}

// AppInfo returns backend identity and version metadata.
func (s *Service) AppInfo(ctx context.Context) (json.RawMessage, error) {
	return s.caller.Do(ctx, transport.Request{
		Method: "GET",
		Path:   "/app",
	})
}

// Sessions lists sessions, scoped to directory when given.
func (s *Service) Sessions(ctx context.Context, directory string) (json.RawMessage, error) {
	return s.caller.Do(ctx, transport.Request{
		Method:    "GET",
		Path:      "/session",
		Directory: directory,
	})
}

// CreateSessionParams configures a new session.
type CreateSessionParams struct {
	Title     string
	Directory string
}

func (s *Service) CreateSession(ctx context.Context, p CreateSessionParams) (json.RawMessage, error) {
	body := map[string]any{}
	if p.Title != "" {
		body["title"] = p.Title
	}
	return s.caller.Do(ctx, transport.Request{
		Method:    "POST",
		Path:      "/session",
		Body:      body,
		Directory: p.Directory,
	})
}

func (s *Service) DeleteSession(ctx context.Context, sessionID, directory string) (json.RawMessage, error) {
	path, err := sessionPath(sessionID, "")
	if err != nil {
		return nil, err
	}
	return s.caller.Do(ctx, transport.Request{
		Method:    "DELETE",
		Path:      path,
		Directory: directory,
	})
}

// PromptParams carries one user turn into a session.
type PromptParams struct {
	SessionID string
	Text      string
	Model     string // "provider/model", optional
	Agent     string // optional agent name
	Directory string
}

// Prompt sends a text message to a session. The backend replies when the
// agent finishes the turn, so callers should budget a generous context
// deadline.
func (s *Service) Prompt(ctx context.Context, p PromptParams) (json.RawMessage, error) {
	path, err := sessionPath(p.SessionID, "message")
	if err != nil {
		return nil, err
	}
	if p.Text == "" {
		return nil, validationErr("prompt text is required")
	}

	body := map[string]any{
		"parts": []map[string]any{
			{"type": "text", "text": p.Text},
		},
	}
	if p.Model != "" {
		providerID, modelID, err := splitModel(p.Model)
		if err != nil {
			return nil, err
		}
		body["model"] = map[string]string{
			"providerID": providerID,
			"modelID":    modelID,
		}
	}
	if p.Agent != "" {
		body["agent"] = p.Agent
	}

	return s.caller.Do(ctx, transport.Request{
		Method:    "POST",
		Path:      path,
		Body:      body,
		Directory: p.Directory,
	})
}

// Abort interrupts a session's in-flight turn.
func (s *Service) Abort(ctx context.Context, sessionID, directory string) (json.RawMessage, error) {
	path, err := sessionPath(sessionID, "abort")
	if err != nil {
		return nil, err
	}
	return s.caller.Do(ctx, transport.Request{
		Method:    "POST",
		Path:      path,
		Directory: directory,
	})
}

// Messages returns a session's message history.
func (s *Service) Messages(ctx context.Context, sessionID, directory string) (json.RawMessage, error) {
	path, err := sessionPath(sessionID, "message")
	if err != nil {
		return nil, err
	}
	return s.caller.Do(ctx, transport.Request{
		Method:    "GET",
		Path:      path,
		Directory: directory,
	})
}

// ReadFile returns the contents of a file inside the backend's project.
func (s *Service) ReadFile(ctx context.Context, filePath, directory string) (json.RawMessage, error) {
	if filePath == "" {
		return nil, validationErr("file path is required")
	}
	return s.caller.Do(ctx, transport.Request{
		Method:    "GET",
		Path:      "/file",
		Query:     url.Values{"path": []string{filePath}},
		Directory: directory,
	})
}

// FileStatus reports the backend project's tracked-file status.
func (s *Service) FileStatus(ctx context.Context, directory string) (json.RawMessage, error) {
	return s.caller.Do(ctx, transport.Request{
		Method:    "GET",
		Path:      "/file/status",
		Directory: directory,
	})
}

// Find runs a text search across the backend project.
func (s *Service) Find(ctx context.Context, pattern, directory string) (json.RawMessage, error) {
	if pattern == "" {
		return nil, validationErr("search pattern is required")
	}
	return s.caller.Do(ctx, transport.Request{
		Method:    "GET",
		Path:      "/find",
		Query:     url.Values{"pattern": []string{pattern}},
		Directory: directory,
	})
}

// Events opens the backend's server-sent event feed.
func (s *Service) Events(ctx context.Context) (*transport.Subscription, error) {
	return s.caller.Subscribe(ctx, "/event")
}

func sessionPath(sessionID, suffix string) (string, error) {
	if sessionID == "" {
		return "", validationErr("session id is required")
	}
	path := "/session/" + url.PathEscape(sessionID)
	if suffix != "" {
		path += "/" + suffix
	}
	return path, nil
}

func splitModel(model string) (providerID, modelID string, err error) {
	for i := 0; i < len(model); i++ {
		if model[i] == '/' {
			if i == 0 || i == len(model)-1 {
				break
			}
			return model[:i], model[i+1:], nil
		}
	}
	return "", "", validationErr(fmt.Sprintf("model %q must be provider/model", model))
}

func validationErr(msg string) *transport.Error {
	return &transport.Error{Kind: transport.KindValidation, Message: msg}
}
