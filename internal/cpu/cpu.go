// Package cpu holds helpers for binding pool workers to processor cores.
package cpu

import "runtime"

// NumCPU returns the number of logical CPUs available.
func NumCPU() int {
	return runtime.NumCPU()
}
