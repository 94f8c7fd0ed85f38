package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"sidescreen/internal/core/services"
	"sidescreen/pkg/config"
)

var (
	tokenOperator string
	tokenScope    string
	tokenTTL      time.Duration

	tokenCmd = &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for the control API",
		RunE:  runToken,
	}
)

func init() {
	tokenCmd.Flags().StringVar(&tokenOperator, "operator", "cli", "name of the operator the token is issued to")
	tokenCmd.Flags().StringVar(&tokenScope, "scope", string(services.ScopeControl), "token scope: control or observe")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 0, "token lifetime (defaults to auth.token_ttl)")
}

func runToken(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if cfg.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is not configured")
	}

	scope, err := services.ParseScope(tokenScope)
	if err != nil {
		return err
	}

	ttl := cfg.Auth.TokenTTL
	if tokenTTL > 0 {
		ttl = tokenTTL
	}
	token, err := services.NewAuthService(cfg.Auth.JWTSecret, ttl).GenerateToken(tokenOperator, scope)
	if err != nil {
		return fmt.Errorf("failed to issue token: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), token)
	return nil
}
