package tools

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// sensitivePatterns are hard-denied for every caller, manager included.
var sensitivePatterns = []string{
	"**/.env",
	"**/.env.*",
	"**/*secret*",
	"**/*password*",
	"**/*.pem",
	"**/id_rsa*",
	"**/credentials/**",
}

// SensitivePath reports whether a path looks like credential material.
func SensitivePath(path string) bool {
	normalized := strings.ToLower(filepath.ToSlash(path))
	for _, pattern := range sensitivePatterns {
		if ok, _ := doublestar.Match(pattern, normalized); ok {
			return true
		}
		if ok, _ := doublestar.Match(strings.TrimPrefix(pattern, "**/"), filepath.Base(normalized)); ok {
			return true
		}
	}
	return false
}

// Sandbox jails file access to a caller's workspace. Protected holds
// absolute directory prefixes that stay read-only even inside the root
// (the kernel tree for workers).
type Sandbox struct {
	Root      string
	Protected []string
}

// NewSandbox creates a sandbox rooted at the caller workspace.
func NewSandbox(root string, protected ...string) Sandbox {
	return Sandbox{Root: filepath.Clean(root), Protected: protected}
}

// Resolve maps a tool-supplied path to an absolute path inside the root.
// Relative paths resolve against the root; absolute paths must already be
// inside it.
func (s Sandbox) Resolve(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", fmt.Errorf("empty path")
	}

	abs := path
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(s.Root, abs)
	}
	abs = filepath.Clean(abs)

	if abs != s.Root && !strings.HasPrefix(abs, s.Root+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q escapes workspace", path)
	}
	return abs, nil
}

// ResolveRead resolves a path for reading, applying the sensitive-file deny.
func (s Sandbox) ResolveRead(path string) (string, Response) {
	abs, err := s.Resolve(path)
	if err != nil {
		return "", Fail(CodePathDenied, err.Error())
	}
	if SensitivePath(abs) {
		return "", Fail(CodePathDenied, "sensitive file access denied")
	}
	return abs, Response{OK: true}
}

// ResolveWrite resolves a path for writing, additionally enforcing the
// protected prefixes.
func (s Sandbox) ResolveWrite(path string) (string, Response) {
	abs, resp := s.ResolveRead(path)
	if !resp.OK {
		return "", resp
	}
	for _, prefix := range s.Protected {
		prefix = filepath.Clean(prefix)
		if abs == prefix || strings.HasPrefix(abs, prefix+string(filepath.Separator)) {
			return "", Fail(CodePolicyBlocked, "path is write-protected")
		}
	}
	return abs, Response{OK: true}
}
