// Package local provides an in-process transport: P ranks backed by
// goroutines and channels within a single process. It is the transport used
// by the tests and by the CLI when running all ranks on one machine.
package local
