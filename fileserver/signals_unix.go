//go:build !windows

package main

import (
	"os/signal"
	"syscall"
)

// SIGURG is used by the runtime for preemption and would otherwise show up
// as a stream of interrupted syscalls on some serial drivers.
func init() {
	signal.Ignore(syscall.SIGURG)
}
