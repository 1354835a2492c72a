//go:build linux || darwin || freebsd

package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"
)

func init() {
	go sigHandler()
}

// sigHandler dumps the running bus's counters on SIGUSR1, the same
// operator hook client/signal.go gives kcptun's KCP SNMP counters,
// retargeted at internal/stats.Counters.
func sigHandler() {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGUSR1)
	signal.Ignore(syscall.SIGPIPE)

	for range ch {
		if activeBus == nil {
			continue
		}
		log.Printf("bus stats: %+v", activeBus.Stats())
	}
}
