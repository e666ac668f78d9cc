package shiplog

import (
	"context"
	"errors"
	"testing"
)

func TestEnsureUserIDStableAcrossCalls(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	first := ensureUserID(dir)
	if first == "" {
		t.Fatalf("user id should never be empty")
	}
	second := ensureUserID(dir)
	if second != first {
		t.Fatalf("user id changed: %q vs %q", second, first)
	}
}

func TestEnsureUserIDFallsBackOnUnusableDir(t *testing.T) {
	t.Parallel()

	id := ensureUserID("/proc/definitely/not/writable")
	if id == "" {
		t.Fatalf("fallback user id should not be empty")
	}
}

func TestSendNowOnNilClient(t *testing.T) {
	t.Parallel()

	var c *Client
	if err := c.SendNow(context.Background(), LevelInfo, "x", nil); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("err = %v, want ErrNotConfigured", err)
	}
}

func TestNewRejectsMissingCredentials(t *testing.T) {
	t.Parallel()

	_, err := New(&Config{}, nil)
	if !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("err = %v, want ErrNotConfigured", err)
	}
}
