package supervisor

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

var lookPathFn = exec.LookPath

// LocateExecutable resolves the backend binary. Search order: an explicit
// path from configuration, then well-known install locations, then $PATH.
func LocateExecutable(command string) (string, error) {
	command = strings.TrimSpace(command)
	if command == "" {
		command = "opencode"
	}

	// Explicit path: use it or fail, no fallback.
	if strings.ContainsRune(command, os.PathSeparator) {
		if isExecutable(command) {
			return command, nil
		}
		return "", fmt.Errorf("%w: %s is not an executable file", ErrNotFound, command)
	}

	for _, dir := range installDirs() {
		candidate := filepath.Join(dir, command)
		if isExecutable(candidate) {
			return candidate, nil
		}
	}

	if path, err := lookPathFn(command); err == nil {
		return path, nil
	}
	return "", fmt.Errorf("%w: %q not in known install locations or $PATH", ErrNotFound, command)
}

func installDirs() []string {
	home := homeDir()
	if home == "" {
		return []string{"/usr/local/bin"}
	}
	return []string{
		filepath.Join(home, ".opencode", "bin"),
		filepath.Join(home, ".local", "bin"),
		"/usr/local/bin",
	}
}

func isExecutable(path string) bool {
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return false
	}
	return info.Mode().Perm()&0111 != 0
}

func homeDir() string {
	if h := os.Getenv("HOME"); h != "" {
		return h
	}
	h, _ := os.UserHomeDir()
	return h
}
