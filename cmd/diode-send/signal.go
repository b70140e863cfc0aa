package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"
)

// waitForShutdown closes the returned channel on SIGINT or SIGTERM, giving
// the pipeline a chance to drain in-flight sessions before the process
// exits (spec.md §5's "shutdown broadcast", §7's "Global fatal" bypass).
// Adapted from client/signal.go's SIGUSR1 handler: here the signal means
// "drain and stop" rather than "dump SNMP counters".
func waitForShutdown() <-chan struct{} {
	shutdown := make(chan struct{})
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-ch
		log.Println("received signal, draining:", sig)
		close(shutdown)
	}()
	return shutdown
}
