//go:build !windows

package liveness

import (
	"os"
	"syscall"
)

func resumeSignals() []os.Signal {
	return []os.Signal{syscall.SIGCONT}
}
