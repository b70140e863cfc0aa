package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"
)

// waitForShutdown closes the returned channel on SIGINT or SIGTERM, on which
// the pipeline closes its UDP socket and stops its decoder workers before the
// process exits (spec.md §5's "shutdown broadcast"); sessions still in flight
// are not completed. Adapted from client/signal.go's SIGUSR1 handler, repurposed
// the same way as diode-send's.
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
