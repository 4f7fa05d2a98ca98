//go:build !windows

package keepalive

import (
	"os/exec"
	"testing"
)

func TestAcquireRelease(t *testing.T) {
	starts := 0
	l := &Lock{Command: func() *exec.Cmd {
		starts++
		return exec.Command("sleep", "30")
	}}

	l.Acquire()
	l.Acquire()
	if !l.Held() || starts != 1 {
		t.Fatalf("held=%v starts=%d", l.Held(), starts)
	}
	pid := l.cmd.Process.Pid

	l.Release()
	l.Release()
	if l.Held() {
		t.Fatal("still held after release")
	}
	if pid == 0 {
		t.Fatal("inhibitor never started")
	}
}

func TestUnavailableInhibitor(t *testing.T) {
	l := &Lock{Command: func() *exec.Cmd { return exec.Command("/nonexistent/inhibitor") }}
	l.Acquire()
	if l.Held() {
		t.Fatal("lock held without an inhibitor")
	}

	none := &Lock{Command: func() *exec.Cmd { return nil }}
	none.Acquire()
	none.Release()
	if none.Held() {
		t.Fatal("no-op lock reports held")
	}
}
