package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/filechunkpro/filechunk-pro/store"
)

var storeCmd = &cobra.Command{
	Use:   "store",
	Short: "Inspect and maintain the persistent store",
}

var storeGCCmd = &cobra.Command{
	Use:   "gc",
	Short: "Evict expired and, if over quota, least-valuable items",
	Args:  cobra.NoArgs,
	RunE:  runStoreGC,
}

var storeStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print current store usage",
	Args:  cobra.NoArgs,
	RunE:  runStoreStats,
}

func init() {
	storeCmd.AddCommand(storeGCCmd)
	storeCmd.AddCommand(storeStatsCmd)
}

func runStoreGC(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	app, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer app.Kernel.Stop(ctx)

	expiredResult, err := app.Store.CleanupExpired()
	if err != nil {
		return err
	}

	stats, err := app.Store.Stats()
	if err != nil {
		return err
	}

	var quotaResult *store.CleanupResult
	if stats.UsagePercent >= 80 {
		r, err := app.Store.Cleanup(0.6)
		if err != nil {
			return err
		}
		quotaResult = &r
	}

	return printOutput(cmd.OutOrStdout(), app.Format, map[string]interface{}{
		"expired": expiredResult,
		"quota":   quotaResult,
	}, func() string {
		out := fmt.Sprintf("expired: freed %d bytes across %d key(s)\n", expiredResult.BytesFreed, len(expiredResult.EvictedKeys))
		if quotaResult != nil {
			out += fmt.Sprintf("quota eviction: freed %d bytes across %d key(s), usage now %.1f%%\n",
				quotaResult.BytesFreed, len(quotaResult.EvictedKeys), quotaResult.UsagePercent)
		}
		return out
	})
}

func runStoreStats(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	app, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer app.Kernel.Stop(ctx)

	stats, err := app.Store.Stats()
	if err != nil {
		return err
	}

	return printOutput(cmd.OutOrStdout(), app.Format, stats, func() string {
		return fmt.Sprintf("%d/%d bytes used (%.1f%%), %d item(s), last cleanup %s",
			stats.CurrentBytes, stats.QuotaBytes, stats.UsagePercent, stats.ItemCount, stats.LastCleanupAt)
	})
}
