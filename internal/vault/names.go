package vault

import (
	"fmt"
	"path"
	"strings"
)

// checkName rejects object names that could escape a vault root.
func checkName(name string) error {
	if name == "" || strings.HasPrefix(name, "/") || strings.Contains(name, "\\") {
		return fmt.Errorf("invalid object name %q", name)
	}
	if path.Clean(name) != name {
		return fmt.Errorf("invalid object name %q", name)
	}
	for _, part := range strings.Split(name, "/") {
		if part == ".." || strings.HasPrefix(part, tmpPrefix) {
			return fmt.Errorf("invalid object name %q", name)
		}
	}
	return nil
}
