package opencode

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/lydakis/opencode-mcp/internal/transport"
)

type fakeCaller struct {
	last    transport.Request
	calls   int
	result  json.RawMessage
	err     error
	subPath string
}

func (f *fakeCaller) Do(_ context.Context, req transport.Request) (json.RawMessage, error) {
	f.calls++
	f.last = req
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func (f *fakeCaller) Subscribe(_ context.Context, path string) (*transport.Subscription, error) {
	f.subPath = path
	return nil, errors.New("not dialed in tests")
}

func TestCatalogRequestShapes(t *testing.T) {
	tests := []struct {
		name       string
		call       func(s *Service) (json.RawMessage, error)
		wantMethod string
		wantPath   string
		wantQuery  string
		wantDir    string
	}{
		{
			name:       "app info",
			call:       func(s *Service) (json.RawMessage, error) { return s.AppInfo(context.Background()) },
			wantMethod: "GET",
			wantPath:   "/app",
		},
		{
			name: "sessions scoped to directory",
			call: func(s *Service) (json.RawMessage, error) {
				return s.Sessions(context.Background(), "/work/proj")
			},
			wantMethod: "GET",
			wantPath:   "/session",
			wantDir:    "/work/proj",
		},
		{
			name: "create session",
			call: func(s *Service) (json.RawMessage, error) {
				return s.CreateSession(context.Background(), CreateSessionParams{Title: "triage"})
			},
			wantMethod: "POST",
			wantPath:   "/session",
		},
		{
			name: "delete session escapes id",
			call: func(s *Service) (json.RawMessage, error) {
				return s.DeleteSession(context.Background(), "ses/01", "")
			},
			wantMethod: "DELETE",
			wantPath:   "/session/ses%2F01",
		},
		{
			name: "abort",
			call: func(s *Service) (json.RawMessage, error) {
				return s.Abort(context.Background(), "ses_abc", "")
			},
			wantMethod: "POST",
			wantPath:   "/session/ses_abc/abort",
		},
		{
			name: "messages",
			call: func(s *Service) (json.RawMessage, error) {
				return s.Messages(context.Background(), "ses_abc", "")
			},
			wantMethod: "GET",
			wantPath:   "/session/ses_abc/message",
		},
		{
			name: "read file",
			call: func(s *Service) (json.RawMessage, error) {
				return s.ReadFile(context.Background(), "cmd/main.go", "")
			},
			wantMethod: "GET",
			wantPath:   "/file",
			wantQuery:  "path=cmd%2Fmain.go",
		},
		{
			name: "file status",
			call: func(s *Service) (json.RawMessage, error) {
				return s.FileStatus(context.Background(), "")
			},
			wantMethod: "GET",
			wantPath:   "/file/status",
		},
		{
			name: "find",
			call: func(s *Service) (json.RawMessage, error) {
				return s.Find(context.Background(), "func main", "")
			},
			wantMethod: "GET",
			wantPath:   "/find",
			wantQuery:  "pattern=func+main",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := &fakeCaller{result: json.RawMessage(`{}`)}
			if _, err := tt.call(New(fake)); err != nil {
				t.Fatalf("call error = %v", err)
			}
			if fake.last.Method != tt.wantMethod {
				t.Errorf("method = %q, want %q", fake.last.Method, tt.wantMethod)
			}
			if fake.last.Path != tt.wantPath {
				t.Errorf("path = %q, want %q", fake.last.Path, tt.wantPath)
			}
			if got := fake.last.Query.Encode(); got != tt.wantQuery {
				t.Errorf("query = %q, want %q", got, tt.wantQuery)
			}
			if fake.last.Directory != tt.wantDir {
				t.Errorf("directory = %q, want %q", fake.last.Directory, tt.wantDir)
			}
		})
	}
}

func TestPromptBuildsMessageBody(t *testing.T) {
	fake := &fakeCaller{result: json.RawMessage(`{}`)}
	s := New(fake)

	_, err := s.Prompt(context.Background(), PromptParams{
		SessionID: "ses_abc",
		Text:      "add tests",
		Model:     "anthropic/claude-sonnet-4",
		Agent:     "build",
	})
	if err != nil {
		t.Fatalf("Prompt() error = %v", err)
	}
	if fake.last.Path != "/session/ses_abc/message" {
		t.Fatalf("path = %q", fake.last.Path)
	}

	raw, merr := json.Marshal(fake.last.Body)
	if merr != nil {
		t.Fatalf("marshaling body: %v", merr)
	}
	var body struct {
		Parts []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"parts"`
		Model struct {
			ProviderID string `json:"providerID"`
			ModelID    string `json:"modelID"`
		} `json:"model"`
		Agent string `json:"agent"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		t.Fatalf("decoding body: %v", err)
	}
	if len(body.Parts) != 1 || body.Parts[0].Type != "text" || body.Parts[0].Text != "add tests" {
		t.Errorf("parts = %+v", body.Parts)
	}
	if body.Model.ProviderID != "anthropic" || body.Model.ModelID != "claude-sonnet-4" {
		t.Errorf("model = %+v", body.Model)
	}
	if body.Agent != "build" {
		t.Errorf("agent = %q", body.Agent)
	}
}

func TestCatalogLocalValidation(t *testing.T) {
	tests := []struct {
		name string
		call func(s *Service) (json.RawMessage, error)
	}{
		{"empty session id", func(s *Service) (json.RawMessage, error) {
			return s.Messages(context.Background(), "", "")
		}},
		{"empty prompt text", func(s *Service) (json.RawMessage, error) {
			return s.Prompt(context.Background(), PromptParams{SessionID: "ses"})
		}},
		{"bad model shape", func(s *Service) (json.RawMessage, error) {
			return s.Prompt(context.Background(), PromptParams{SessionID: "ses", Text: "x", Model: "claude"})
		}},
		{"empty file path", func(s *Service) (json.RawMessage, error) {
			return s.ReadFile(context.Background(), "", "")
		}},
		{"empty search pattern", func(s *Service) (json.RawMessage, error) {
			return s.Find(context.Background(), "", "")
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := &fakeCaller{}
			_, err := tt.call(New(fake))
			terr, ok := transport.AsError(err)
			if !ok || terr.Kind != transport.KindValidation {
				t.Fatalf("error = %v, want validation kind", err)
			}
			if fake.calls != 0 {
				t.Fatalf("calls = %d, want 0 for local validation failures", fake.calls)
			}
		})
	}
}

func TestTransportErrorsPassThroughUnchanged(t *testing.T) {
	want := &transport.Error{Kind: transport.KindAuth, Status: 401, Message: "no"}
	fake := &fakeCaller{err: want}

	_, err := New(fake).Sessions(context.Background(), "")
	got, ok := transport.AsError(err)
	if !ok || got != want {
		t.Fatalf("error = %v, want the transport error untouched", err)
	}
}

func TestEventsSubscribesToEventFeed(t *testing.T) {
	fake := &fakeCaller{}
	_, _ = New(fake).Events(context.Background())
	if fake.subPath != "/event" {
		t.Fatalf("subscribed path = %q, want /event", fake.subPath)
	}
}
