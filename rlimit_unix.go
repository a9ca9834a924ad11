//go:build unix

package main

import (
	"log"
	"syscall"
)

// raiseFileLimit raises the process's open-file-descriptor soft limit to the
// hard max (spec §5 "Resource caps": the IRC Listener Pool can hold up to
// MaxConnections concurrent sockets plus the Persistence Adapter's pool, and
// the platform default soft limit is routinely too low for that). Best
// effort: a failure here is logged, not fatal, since the process can still
// run within whatever limit it already has.
func raiseFileLimit() {
	var rlimit syscall.Rlimit
	if err := syscall.Getrlimit(syscall.RLIMIT_NOFILE, &rlimit); err != nil {
		log.Printf("raiseFileLimit: getrlimit: %v", err)
		return
	}
	if rlimit.Cur >= rlimit.Max {
		return
	}
	rlimit.Cur = rlimit.Max
	if err := syscall.Setrlimit(syscall.RLIMIT_NOFILE, &rlimit); err != nil {
		log.Printf("raiseFileLimit: setrlimit to %d: %v", rlimit.Max, err)
	}
}
