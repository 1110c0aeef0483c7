// Command devtoken mints a bearer token for local testing against a server
// running with STORE_DRIVER=memory.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"projecttree/backend/internal/auth"
)

func main() {
	username := flag.String("user", "dev", "username claim")
	userID := flag.String("id", "", "user id claim (random when empty)")
	ttl := flag.Duration("ttl", 24*time.Hour, "token lifetime")
	flag.Parse()

	_ = godotenv.Load()

	v, err := auth.NewVerifier(os.Getenv("JWT_SECRET"))
	if err != nil {
		fmt.Fprintln(os.Stderr, "JWT_SECRET:", err)
		os.Exit(1)
	}

	id := *userID
	if id == "" {
		id = uuid.NewString()
	} else if _, err := uuid.Parse(id); err != nil {
		fmt.Fprintln(os.Stderr, "invalid -id:", err)
		os.Exit(1)
	}

	token, err := v.CreateJWT(id, *username, *ttl)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	fmt.Println(token)
}
