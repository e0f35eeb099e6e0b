package app

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"
)

// CreateContextWithShutdown returns a context that is done once SIGINT or SIGTERM is received. The log shipper stops
// reading its input at that point and drains what it has already queued, exactly as it does at the end of input.
func CreateContextWithShutdown() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	c := make(chan os.Signal, 1)
	signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-c:
			log.WithField("signal", sig.String()).Info("Stopping ingestion and draining queued records")
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(c)
	}()
	return ctx
}
