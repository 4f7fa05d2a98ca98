//go:build windows

package liveness

import "os"

func resumeSignals() []os.Signal {
	return nil
}
