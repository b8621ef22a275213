// Command devtoken prints a bearer token for local testing, signed with the
// same key and issuer the server reads from the environment.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"civicwatch/internal/identity"
	"civicwatch/internal/platform/config"
	id "civicwatch/pkg/domain"
)

var (
	role = flag.String("role", string(id.RoleCitizen), "Role to embed: CITIZEN, OFFICIAL or SUPER_ADMIN.")
	user = flag.String("user", "", "User ID (UUID). A random one is generated when empty.")
	ttl  = flag.Duration("ttl", 24*time.Hour, "Token lifetime.")
)

func main() {
	flag.Parse()

	cfg, err := config.FromEnv()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	actor, err := actorFromFlags(*user, *role)
	if err != nil {
		slog.Error("invalid flags", "error", err)
		os.Exit(2)
	}

	token, err := identity.NewJWTResolver(cfg.Server.JWTSigningKey, cfg.Server.JWTIssuer).Issue(actor, *ttl)
	if err != nil {
		slog.Error("failed to issue token", "error", err)
		os.Exit(1)
	}
	fmt.Fprintf(os.Stderr, "user=%s role=%s expires_in=%s\n", actor.ID, actor.Role, *ttl)
	fmt.Println(token)
}

func actorFromFlags(user, role string) (id.Actor, error) {
	r, err := id.ParseRole(strings.ToUpper(role))
	if err != nil {
		return id.Actor{}, err
	}
	userID := id.NewUserID()
	if user != "" {
		userID, err = id.ParseUserID(user)
		if err != nil {
			return id.Actor{}, err
		}
	}
	return id.Actor{ID: userID, Role: r}, nil
}
