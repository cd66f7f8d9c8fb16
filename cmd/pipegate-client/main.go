package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"pipegate/pgshare"
)

func main() {
	var (
		localURL         = flag.String("local", "http://127.0.0.1:8000", "local origin base URL to replay requests against")
		serverURL        = flag.String("server", "", "PipeGate server WebSocket URL, including the connection id, e.g. ws://example.com:8080/<conn-id>")
		token            = flag.String("token", "", "bearer token presented at handshake")
		maxRetryInterval = flag.Duration("max-retry-interval", 5*time.Minute, "cap on reconnect backoff delay")
		maxRetryCount    = flag.Int("max-retry-count", 0, "give up after this many consecutive reconnect attempts (0 means retry forever)")
		debug            = flag.Bool("debug", false, "enable debug logging")
	)
	flag.Parse()

	if *serverURL == "" {
		log.Fatalf("-server is required")
	}

	relay := pgshare.NewClientRelay(&pgshare.ClientConfig{
		LocalURL:         *localURL,
		ServerURL:        *serverURL,
		Token:            *token,
		MaxRetryInterval: *maxRetryInterval,
		MaxRetryCount:    *maxRetryCount,
		Debug:            *debug,
	})

	ctx, cancel := context.WithCancel(context.Background())
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigc
		cancel()
	}()

	if err := relay.Run(ctx); err != nil && ctx.Err() == nil {
		log.Fatalf("client exited: %s", err)
	}
}
