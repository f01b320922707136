//go:build !linux

package cpu

import "runtime"

// SetupWorkerAffinity locks the goroutine to an OS thread.
// Core pinning is only available on Linux.
func SetupWorkerAffinity(workerID int) (func(), error) {
	runtime.LockOSThread()
	return runtime.UnlockOSThread, nil
}
