package main

import (
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

func main() {
	var (
		key   = flag.String("key", "", "HMAC signing key, must match the server's -jwt-key")
		ttl   = flag.Duration("ttl", 21*24*time.Hour, "token lifetime")
		connS = flag.String("conn-id", "", "connection id to bind the token to; a random one is minted if empty")
	)
	flag.Parse()

	if *key == "" {
		log.Fatalf("-key is required")
	}

	connID := uuid.New()
	if *connS != "" {
		parsed, err := uuid.Parse(*connS)
		if err != nil {
			log.Fatalf("invalid -conn-id: %s", err)
		}
		connID = parsed
	}

	claims := jwt.MapClaims{
		"sub": connID.String(),
		"exp": time.Now().Add(*ttl).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(*key))
	if err != nil {
		log.Fatalf("failed to sign token: %s", err)
	}

	fmt.Printf("Connection-id: %s\n", connID)
	fmt.Printf("JWT Bearer:    %s\n", signed)
}
