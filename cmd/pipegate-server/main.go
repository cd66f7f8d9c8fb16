package main

import (
	"context"
	"crypto/tls"
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
		host           = flag.String("host", "0.0.0.0", "public listen address")
		port           = flag.String("port", "8080", "public listen port")
		tokenFile      = flag.String("token-file", "", "path to a shared-secret token file, reloaded on change")
		jwtKey         = flag.String("jwt-key", "", "HMAC key for validating JWT bearer tokens (ignored if -token-file is set)")
		requestTimeout = flag.Duration("request-timeout", 30*time.Second, "how long a public request waits for a tunnel response")
		maxBodyBytes   = flag.Int64("max-body-bytes", 10<<20, "maximum buffered public request body size, in bytes")
		certFile       = flag.String("tls-cert", "", "TLS certificate file; enables TLS if set along with -tls-key")
		keyFile        = flag.String("tls-key", "", "TLS key file")
		debug          = flag.Bool("debug", false, "enable debug logging and access log")
	)
	flag.Parse()

	var validator pgshare.TokenValidator
	switch {
	case *tokenFile != "":
		logger := pgshare.NewLogger("auth", pgshare.LogLevelInfo)
		v, err := pgshare.NewStaticTokenValidator(logger, *tokenFile)
		if err != nil {
			log.Fatalf("failed to load token file: %s", err)
		}
		validator = v
	case *jwtKey != "":
		validator = pgshare.NewJWTTokenValidator([]byte(*jwtKey), []string{"HS256"}, nil)
	default:
		log.Fatalf("one of -token-file or -jwt-key is required")
	}

	var tlsConfig *tls.Config
	if *certFile != "" && *keyFile != "" {
		cert, err := tls.LoadX509KeyPair(*certFile, *keyFile)
		if err != nil {
			log.Fatalf("failed to load TLS certificate: %s", err)
		}
		tlsConfig = &tls.Config{Certificates: []tls.Certificate{cert}}
	}

	server := pgshare.NewServer(&pgshare.ServerConfig{
		Host:           *host,
		Port:           *port,
		Validator:      validator,
		RequestTimeout: *requestTimeout,
		MaxBodyBytes:   *maxBodyBytes,
		TLSConfig:      tlsConfig,
		Debug:          *debug,
	})

	ctx, cancel := context.WithCancel(context.Background())
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigc
		cancel()
	}()

	if err := server.Run(ctx); err != nil && ctx.Err() == nil {
		log.Fatalf("server exited: %s", err)
	}
}
