package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/FranksOps/sift/internal/report"
)

var platformsCmd = &cobra.Command{
	Use:   "platforms",
	Short: "List the enabled platforms",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp(cmd.Context())
		if err != nil {
			return err
		}
		defer closeApp(a)

		for _, name := range a.Service.Platforms() {
			fmt.Fprintf(cmd.OutOrStdout(), "%-12s %s\n", name, report.DisplayName(name))
		}
		return nil
	},
}
