package transport

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNormalizeDirectoryStripsTrailingSeparator(t *testing.T) {
	dir := t.TempDir()

	got, err := NormalizeDirectory(dir + string(filepath.Separator))
	if err != nil {
		t.Fatalf("NormalizeDirectory() error = %v", err)
	}
	if got != dir {
		t.Fatalf("NormalizeDirectory() = %q, want %q", got, dir)
	}
}

func TestNormalizeDirectoryRejectsRelative(t *testing.T) {
	if _, err := NormalizeDirectory("relative/path"); err == nil {
		t.Fatal("NormalizeDirectory(relative) = nil, want error")
	}
}

func TestNormalizeDirectoryRejectsMissing(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "nope")
	if _, err := NormalizeDirectory(missing); err == nil {
		t.Fatal("NormalizeDirectory(missing) = nil, want error")
	}
}

func TestNormalizeDirectoryRejectsFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), "f")
	if err := os.WriteFile(file, []byte("x"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := NormalizeDirectory(file); err == nil {
		t.Fatal("NormalizeDirectory(file) = nil, want error")
	}
}

func TestRequestValidateRejectsBadMethodAndPath(t *testing.T) {
	tests := []struct {
		name string
		req  Request
		want string
	}{
		{"bad method", Request{Method: "FETCH", Path: "/x"}, "unsupported method"},
		{"relative path", Request{Method: "GET", Path: "session"}, "backend-relative"},
		{"full url", Request{Method: "GET", Path: "http://example.com/x"}, "backend-relative"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, verr := tt.req.validate()
			if verr == nil {
				t.Fatal("validate() = nil, want error")
			}
			if verr.Kind != KindValidation {
				t.Fatalf("Kind = %s, want %s", verr.Kind, KindValidation)
			}
			if !strings.Contains(verr.Message, tt.want) {
				t.Fatalf("Message = %q, want substring %q", verr.Message, tt.want)
			}
		})
	}
}
