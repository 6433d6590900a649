package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var cdnCmd = &cobra.Command{
	Use:   "cdn",
	Short: "Inspect the CDN/endpoint connector",
}

var cdnStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print the active endpoint and every endpoint's health state",
	Args:  cobra.NoArgs,
	RunE:  runCDNStatus,
}

func init() {
	cdnCmd.AddCommand(cdnStatusCmd)
}

func runCDNStatus(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	app, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer app.Kernel.Stop(ctx)

	if app.CDN == nil {
		return printOutput(cmd.OutOrStdout(), app.Format, nil, func() string {
			return "no cdn endpoints configured"
		})
	}

	snapshot := app.CDN.Status()
	return printOutput(cmd.OutOrStdout(), app.Format, snapshot, func() string {
		out := fmt.Sprintf("active: %s\n", snapshot.ActiveID)
		for id, status := range snapshot.Endpoints {
			out += fmt.Sprintf("  %s: %s\n", id, status)
		}
		return out
	})
}
