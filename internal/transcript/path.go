package transcript

import (
	"os"
	"path/filepath"
)

// SanitizeWorkspacePath replaces every non-alphanumeric byte in an absolute
// path with '-'. It is a pure function: applying it twice is a no-op past
// the first pass, and any two inputs differing only in non-alphanumeric
// bytes map to the same output.
func SanitizeWorkspacePath(path string) string {
	out := make([]byte, len(path))
	for i := 0; i < len(path); i++ {
		c := path[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
			out[i] = c
		default:
			out[i] = '-'
		}
	}
	return string(out)
}

// PathFor returns the well-known transcript path for a given workspace and
// internal session id: $HOME/.claude/projects/<sanitized>/<internalId>.jsonl
func PathFor(workspacePath, internalID string) (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	sanitized := SanitizeWorkspacePath(workspacePath)
	return filepath.Join(home, ".claude", "projects", sanitized, internalID+".jsonl"), nil
}
