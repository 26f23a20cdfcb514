package lockfile

import (
	"os"
	"path/filepath"
	"testing"
)

func TestFlockExclusiveBlockingAndUnlock(t *testing.T) {
	tmpDir := t.TempDir()
	lockPath := filepath.Join(tmpDir, "test.lock")

	if err := os.WriteFile(lockPath, []byte("test"), 0644); err != nil {
		t.Fatalf("failed to create lock file: %v", err)
	}

	f, err := os.OpenFile(lockPath, os.O_RDWR, 0644)
	if err != nil {
		t.Fatalf("failed to open lock file: %v", err)
	}
	defer f.Close()

	if err := FlockExclusiveBlocking(f); err != nil {
		t.Errorf("FlockExclusiveBlocking failed: %v", err)
	}

	if err := FlockUnlock(f); err != nil {
		t.Errorf("FlockUnlock failed: %v", err)
	}
}

func TestFlockExclusiveNonBlockingSucceedsOnUnlockedFile(t *testing.T) {
	tmpDir := t.TempDir()
	lockPath := filepath.Join(tmpDir, "test.lock")

	if err := os.WriteFile(lockPath, []byte("test"), 0644); err != nil {
		t.Fatalf("failed to create lock file: %v", err)
	}

	f, err := os.OpenFile(lockPath, os.O_RDWR, 0644)
	if err != nil {
		t.Fatalf("failed to open lock file: %v", err)
	}
	defer f.Close()

	if err := FlockExclusiveNonBlocking(f); err != nil {
		t.Errorf("FlockExclusiveNonBlocking should succeed on unlocked file: %v", err)
	}
	_ = FlockUnlock(f)
}

func TestFlockExclusiveNonBlockingReturnsErrLockedWhenHeld(t *testing.T) {
	tmpDir := t.TempDir()
	lockPath := filepath.Join(tmpDir, "test.lock")

	if err := os.WriteFile(lockPath, []byte("test"), 0644); err != nil {
		t.Fatalf("failed to create lock file: %v", err)
	}

	f1, err := os.OpenFile(lockPath, os.O_RDWR, 0644)
	if err != nil {
		t.Fatalf("failed to open first lock handle: %v", err)
	}
	defer f1.Close()

	if err := FlockExclusiveBlocking(f1); err != nil {
		t.Fatalf("failed to acquire first lock: %v", err)
	}
	defer FlockUnlock(f1)

	f2, err := os.OpenFile(lockPath, os.O_RDWR, 0644)
	if err != nil {
		t.Fatalf("failed to open second lock handle: %v", err)
	}
	defer f2.Close()

	err = FlockExclusiveNonBlocking(f2)
	if !IsLocked(err) {
		t.Errorf("expected IsLocked(err) to be true, got %v", err)
	}
}

func TestIsProcessRunning(t *testing.T) {
	if !isProcessRunning(os.Getpid()) {
		t.Error("expected current process to be running")
	}

	if isProcessRunning(0) {
		t.Error("expected pid 0 to be reported as not running")
	}

	if isProcessRunning(99999) {
		t.Error("expected non-existent process to not be running")
	}
}
