// Command token issues a JWT for the admin or inbox API. There is no login
// flow; operators mint tokens with the shared secret.
package main

import (
	"flag"
	"fmt"
	"os"

	"eventhub/internal/platform/auth"
	"eventhub/internal/platform/config"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "Path to config file")
	userID := flag.String("user", "", "User id to embed in the token")
	role := flag.String("role", auth.RoleAdmin, "Role: admin or operator")
	flag.Parse()

	if *userID == "" {
		fmt.Fprintln(os.Stderr, "--user is required")
		os.Exit(2)
	}
	if *role != auth.RoleAdmin && *role != auth.RoleOperator {
		fmt.Fprintf(os.Stderr, "unknown role %q\n", *role)
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if cfg.JWT.Secret == "" {
		fmt.Fprintln(os.Stderr, "jwt.secret must be set")
		os.Exit(1)
	}

	token, err := auth.NewTokenService(cfg.JWT).GenerateAccessToken(*userID, *role)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to sign token: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(token)
}
