package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/stratushq/entitlements/pkg/auth"
)

var hashTokenCmd = &cobra.Command{
	Use:   "hash-token TOKEN",
	Short: "Hash an API token for storage in configuration",
	Long:  `Print the bcrypt hash of an API token. The hash can be used as the apiToken config value instead of the plaintext token.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		hash, err := auth.HashToken(args[0])
		if err != nil {
			return fmt.Errorf("hash token: %w", err)
		}
		fmt.Println(hash)
		return nil
	},
}
