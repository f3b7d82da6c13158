package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/jbweber/gridvm/internal/config"
)

var testConnCmd = &cobra.Command{
	Use:   "test-conn",
	Short: "Test the frontend connection",
	Long: `Connect to the site frontend, through the gateway when configured, and
check that the OAR tools are available.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()

		log, err := newLogger()
		if err != nil {
			return err
		}
		defer func() { _ = log.Sync() }()

		cfg, err := config.Load(settings.GetString(keyConfig), overrides())
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		p := &cfg.Provider

		via := ""
		if p.Gateway != "" {
			via = " via " + p.Gateway
		}
		fmt.Printf("Connecting to %s@%s%s...\n", p.Username, p.Site, via)

		ch, err := dial(ctx, p, log)
		if err != nil {
			return err
		}
		defer func() {
			if closeErr := ch.Close(); closeErr != nil {
				fmt.Fprintf(os.Stderr, "Warning: failed to close connection: %v\n", closeErr)
			}
		}()

		if err := ch.Ping(ctx); err != nil {
			return fmt.Errorf("connection test failed: %w", err)
		}
		fmt.Println("✓ Connected")

		host, err := ch.Execute(ctx, "hostname -f")
		if err != nil {
			return fmt.Errorf("failed to get hostname: %w", err)
		}
		fmt.Printf("✓ Frontend hostname: %s\n", host)

		for _, tool := range []string{"oarsub", "oarstat", "oardel", "g5k-subnets"} {
			path, err := ch.Execute(ctx, "command -v "+tool)
			if err != nil || path == "" {
				fmt.Printf("✗ %s not found\n", tool)
				continue
			}
			fmt.Printf("✓ %s: %s\n", tool, path)
		}
		return nil
	},
}
