package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/stratushq/entitlements/internal/api"
	"github.com/stratushq/entitlements/pkg/entitlement"
	"github.com/stratushq/entitlements/pkg/timeutil"
)

var (
	resolveFile string
	resolveUnit string
	resolveAt   string
)

var resolveCmd = &cobra.Command{
	Use:   "resolve",
	Short: "Resolve a subscription snapshot to its lifecycle state",
	Long:  `Read a subscription snapshot as JSON from a file or stdin and print the derived resolution as JSON.`,
	Example: `  # Resolve a snapshot file
  entitlementd resolve -f snapshot.json

  # Resolve from stdin with remaining time in days
  cat snapshot.json | entitlementd resolve --unit days

  # Resolve against a fixed clock
  entitlementd resolve -f snapshot.json --at 2025-06-15T12:00:00Z`,
	RunE: func(cmd *cobra.Command, args []string) error {
		var reader io.Reader = os.Stdin
		if resolveFile != "" {
			f, err := os.Open(resolveFile)
			if err != nil {
				return fmt.Errorf("open snapshot file: %w", err)
			}
			defer f.Close()
			reader = f
		}

		var sub entitlement.Subscription
		if err := json.NewDecoder(reader).Decode(&sub); err != nil {
			return fmt.Errorf("parse subscription snapshot: %w", err)
		}

		now := time.Now()
		if resolveAt != "" {
			parsed, err := time.Parse(time.RFC3339, resolveAt)
			if err != nil {
				return fmt.Errorf("parse --at timestamp: %w", err)
			}
			now = parsed
		}

		resolver := &entitlement.Resolver{Now: func() time.Time { return now }}
		resolved := resolver.Resolve(entitlement.Normalize(sub))

		resolution := api.NewResolution(resolved, timeutil.ParseUnit(resolveUnit), now)

		out, err := json.MarshalIndent(resolution, "", "  ")
		if err != nil {
			return fmt.Errorf("encode resolution: %w", err)
		}
		fmt.Println(string(out))
		return nil
	},
}

func init() {
	resolveCmd.Flags().StringVarP(&resolveFile, "file", "f", "", "snapshot JSON file (default: stdin)")
	resolveCmd.Flags().StringVar(&resolveUnit, "unit", "seconds", "unit for remaining time (days, hours, minutes, seconds)")
	resolveCmd.Flags().StringVar(&resolveAt, "at", "", "resolve at a fixed RFC3339 instant instead of now")
}
