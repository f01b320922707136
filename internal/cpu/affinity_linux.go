//go:build linux

package cpu

import (
	"fmt"
	"runtime"

	"golang.org/x/sys/unix"
)

// coreFor maps a worker id onto [0, NumCPU).
func coreFor(workerID int) int {
	n := runtime.NumCPU()
	id := workerID % n
	if id < 0 {
		id += n
	}
	return id
}

// pinToCore pins the calling OS thread to cpuID.
// Must be called after runtime.LockOSThread().
func pinToCore(cpuID int) error {
	var mask unix.CPUSet
	mask.Zero()
	mask.Set(cpuID)

	// pid 0 is the calling thread.
	return unix.SchedSetaffinity(0, &mask)
}

// SetupWorkerAffinity locks the calling goroutine to its OS thread and pins
// that thread to core workerID mod NumCPU. On failure the thread is unlocked
// again and the error is returned. The cleanup undoes the lock.
func SetupWorkerAffinity(workerID int) (func(), error) {
	runtime.LockOSThread()

	core := coreFor(workerID)
	if err := pinToCore(core); err != nil {
		runtime.UnlockOSThread()
		return nil, fmt.Errorf("cpu: pin worker %d to core %d: %w", workerID, core, err)
	}

	return runtime.UnlockOSThread, nil
}
