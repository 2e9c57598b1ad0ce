package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var providersCmd = &cobra.Command{
	Use:   "providers",
	Short: "Show the provider fleet and credential status",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		fmt.Printf("%-12s %-8s %-32s %-10s %s\n", "PROVIDER", "TIER", "MODEL", "LIMIT", "STATUS")
		for _, p := range env.Registry.List() {
			status := "ready"
			if !env.Keys.HasActive(p.Name) {
				status = "no active keys"
			} else if !env.Limiters.Available(p.Name) {
				status = "rate limited"
			}
			fmt.Printf("%-12s %-8s %-32s %d/%-7s %s\n",
				p.Name, p.Tier, p.Model, p.RequestsPerInterval, p.Interval, status)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(providersCmd)
}
