package lock

import (
	"errors"
	"os"
	"testing"
)

func TestAcquireRelease(t *testing.T) {
	dir := t.TempDir()

	l, err := Acquire(dir)
	if err != nil {
		t.Fatal(err)
	}
	if l == nil {
		t.Fatal("got nil lock")
	}

	if err := l.Release(); err != nil {
		t.Fatal(err)
	}

	// Lock file removed on release.
	if _, err := os.Stat(dir + "/LOCK"); !os.IsNotExist(err) {
		t.Error("lock file still exists after release")
	}
}

func TestReacquireAfterRelease(t *testing.T) {
	dir := t.TempDir()

	l1, err := Acquire(dir)
	if err != nil {
		t.Fatal(err)
	}
	if err := l1.Release(); err != nil {
		t.Fatal(err)
	}

	l2, err := Acquire(dir)
	if err != nil {
		t.Fatalf("reacquire after release failed: %v", err)
	}
	_ = l2.Release()
}

func TestReleaseNil(t *testing.T) {
	var l *Lock
	if err := l.Release(); err != nil {
		t.Errorf("nil release returned %v", err)
	}
}

func TestParsePID(t *testing.T) {
	if got := parsePID("pid=1234\ntime=whenever\n"); got != 1234 {
		t.Errorf("parsePID = %d, want 1234", got)
	}
	if got := parsePID("garbage"); got != 0 {
		t.Errorf("parsePID = %d, want 0", got)
	}
}

func TestLockHeldErrorMessage(t *testing.T) {
	err := error(&LockHeldError{PID: 42, Path: "/tmp/LOCK"})
	var held *LockHeldError
	if !errors.As(err, &held) {
		t.Fatal("errors.As failed")
	}
	if held.PID != 42 {
		t.Errorf("pid = %d, want 42", held.PID)
	}
}
