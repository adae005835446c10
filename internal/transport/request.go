package transport

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

// DirectoryHeader carries the directory scope so the backend knows which
// project a request concerns.
const DirectoryHeader = "x-opencode-directory"

// Request describes one logical exchange with the backend. It is immutable
// once constructed; the client builds a fresh wire request per attempt.
type Request struct {
	Method string // GET, POST, PATCH, PUT, DELETE
	Path   string // backend-relative route, e.g. "/session"
	Query  url.Values
	Body   any // marshaled to JSON when non-nil

	// Directory optionally scopes the request to a project directory.
	// Must be an absolute path that exists locally; validated before any
	// network activity.
	Directory string
}

var allowedMethods = map[string]bool{
	"GET":    true,
	"POST":   true,
	"PATCH":  true,
	"PUT":    true,
	"DELETE": true,
}

// validate checks the descriptor locally. Failures never reach the network.
func (r Request) validate() (Request, *Error) {
	if !allowedMethods[r.Method] {
		return r, &Error{Kind: KindValidation, Message: fmt.Sprintf("unsupported method %q", r.Method)}
	}
	if !strings.HasPrefix(r.Path, "/") {
		return r, &Error{Kind: KindValidation, Message: fmt.Sprintf("path %q must be backend-relative, starting with /", r.Path)}
	}

	if r.Directory != "" {
		dir, err := NormalizeDirectory(r.Directory)
		if err != nil {
			return r, &Error{Kind: KindValidation, Message: "invalid directory scope", Err: err}
		}
		r.Directory = dir
	}
	return r, nil
}

// NormalizeDirectory validates a directory scope: the path must be absolute
// and exist as a directory. The returned path is cleaned with no trailing
// separator.
func NormalizeDirectory(dir string) (string, error) {
	if !filepath.IsAbs(dir) {
		return "", fmt.Errorf("directory %q is not absolute", dir)
	}

	cleaned := filepath.Clean(dir)
	info, err := os.Stat(cleaned)
	if err != nil {
		return "", fmt.Errorf("directory %q: %w", cleaned, err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("%q is not a directory", cleaned)
	}
	return cleaned, nil
}
