package secretwatch

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"rembash.dev/rembash/internal/secretstore"
)

func TestWatchReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "secret")
	if err := os.WriteFile(path, []byte("first-secret\n"), 0o600); err != nil {
		t.Fatalf("write initial secret: %v", err)
	}

	verifier := secretstore.NewVerifier("first-secret", "")
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	stop := make(chan struct{})
	defer close(stop)

	Watch(path, verifier, log, stop)

	if !verifier.Verify([]byte("first-secret")) {
		t.Fatal("expected initial secret to verify")
	}

	if err := os.WriteFile(path, []byte("second-secret\n"), 0o600); err != nil {
		t.Fatalf("rewrite secret: %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if verifier.Verify([]byte("second-secret")) {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Error("verifier never picked up the rewritten secret")
}
