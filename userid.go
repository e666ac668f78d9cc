package shiplog

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

const userIDFile = "user_id"

// ensureUserID returns the per-install default user identifier,
// generating and persisting one on first use. When the cache directory
// is unusable the identifier is ephemeral for this process.
func ensureUserID(dir string) string {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return ephemeralUserID()
	}

	path := filepath.Join(dir, userIDFile)
	if data, err := os.ReadFile(path); err == nil {
		if id := strings.TrimSpace(string(data)); id != "" {
			return id
		}
	}

	id := uuid.NewString()
	_ = os.WriteFile(path, []byte(id), 0o600)
	return id
}

func ephemeralUserID() string {
	return uuid.NewString()
}
