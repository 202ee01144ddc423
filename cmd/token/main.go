// Command token mints a signaling token for local testing.
package main

import (
	"flag"
	"fmt"
	"os"

	"voxsfu/internal/core/domain"
	"voxsfu/internal/core/services"
	"voxsfu/pkg/config"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config.yaml")
	userID := flag.String("user", "", "user id (required)")
	username := flag.String("name", "", "display username")
	ttl := flag.Duration("ttl", 0, "token lifetime (defaults to auth.access_token_ttl)")
	flag.Parse()

	if *userID == "" {
		fmt.Fprintln(os.Stderr, "usage: token -user <id> [-name <username>] [-ttl 1h]")
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	lifetime := cfg.Auth.AccessTokenTTL
	if *ttl > 0 {
		lifetime = *ttl
	}

	token, err := services.NewAuthService(cfg.Auth.JWTSecret, lifetime).GenerateToken(domain.UserID(*userID), *username)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to sign token: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(token)
}
